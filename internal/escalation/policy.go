// Package escalation decides what a subscription's owner should be told when
// a check finds seats, and applies the activation transitions that follow
// from the owner's answer.
package escalation

import "github.com/lookingforticket/ticketwatch/internal/store"

// DefaultPromptEvery is how many notifications go out between deactivation
// prompts.
const DefaultPromptEvery = 2

// Kind is the outcome of a policy decision.
type Kind int

const (
	NoOp Kind = iota
	Notify
	NotifyAndPrompt
)

func (k Kind) String() string {
	switch k {
	case Notify:
		return "notify"
	case NotifyAndPrompt:
		return "notify_and_prompt"
	default:
		return "noop"
	}
}

// Action is what the caller should do. NewCount is the notification count
// after the action is applied.
type Action struct {
	Kind     Kind
	NewCount int
}

// Policy turns a check result into an Action. The zero value prompts every
// DefaultPromptEvery notifications.
type Policy struct {
	PromptEvery int
}

// Decide returns NoOp when nothing was found, otherwise Notify, upgraded to
// NotifyAndPrompt when the incremented count is due for a prompt.
func (p Policy) Decide(sub store.Subscription, found bool) Action {
	if !found {
		return Action{Kind: NoOp, NewCount: sub.NotificationCount}
	}
	next := sub.NotificationCount + 1
	if p.PromptDue(next) {
		return Action{Kind: NotifyAndPrompt, NewCount: next}
	}
	return Action{Kind: Notify, NewCount: next}
}

// PromptDue reports whether count is a positive multiple of the prompt
// interval.
func (p Policy) PromptDue(count int) bool {
	every := p.PromptEvery
	if every <= 0 {
		every = DefaultPromptEvery
	}
	return count > 0 && count%every == 0
}
