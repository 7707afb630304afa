package notifications

import "context"

// Action is an inline button: Label is shown, Ref comes back in the
// callback when it is pressed.
type Action struct {
	Label string
	Ref   string
}

// DeliveryResult reports the outcome of one outbound message.
type DeliveryResult struct {
	Success   bool
	Error     string
	MessageID int
}

// Gateway sends messages to a chat.
type Gateway interface {
	SendText(ctx context.Context, chatID int64, text string) DeliveryResult
	SendTextWithActions(ctx context.Context, chatID int64, text string, rows [][]Action) DeliveryResult
}
