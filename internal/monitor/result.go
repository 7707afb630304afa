package monitor

import (
	"fmt"
	"time"
)

// Outcome is how one subscription fared within a tick.
type Outcome string

const (
	OutcomeExpired  Outcome = "expired"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeNone     Outcome = "no_seats"
	OutcomeNotified Outcome = "notified"
	OutcomePrompted Outcome = "prompted"
	OutcomeFailed   Outcome = "failed"
)

// CheckResult tracks the outcome of checking a single subscription.
type CheckResult struct {
	SubscriptionID int64         `json:"subscription_id"`
	Outcome        Outcome       `json:"outcome"`
	TrainsFound    int           `json:"trains_found"`
	Count          int           `json:"notification_count,omitempty"`
	Error          string        `json:"error,omitempty"`
	Duration       time.Duration `json:"duration_ns"`
}

// Summary returns a human-readable summary.
func (r *CheckResult) Summary() string {
	return fmt.Sprintf("subscription=%d outcome=%s trains=%d count=%d dur=%s",
		r.SubscriptionID, r.Outcome, r.TrainsFound, r.Count, r.Duration.Round(time.Millisecond))
}

// TickResult tracks the outcome of a full scheduler pass.
type TickResult struct {
	TickID    string        `json:"tick_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Active    int           `json:"active"`
	Checked   int           `json:"checked"`
	Expired   int           `json:"expired"`
	Skipped   int           `json:"skipped"`
	Notified  int           `json:"notified"`
	Prompted  int           `json:"prompted"`
	Failed    int           `json:"failed"`
	Errors    []string      `json:"errors,omitempty"`
	Results   []CheckResult `json:"results,omitempty"`
}

// Summary returns a human-readable summary.
func (r *TickResult) Summary() string {
	return fmt.Sprintf(
		"active=%d checked=%d expired=%d skipped=%d notified=%d prompted=%d failed=%d dur=%s",
		r.Active, r.Checked, r.Expired, r.Skipped, r.Notified, r.Prompted, r.Failed,
		r.Duration.Round(time.Millisecond))
}

func (r *TickResult) add(c CheckResult) {
	r.Results = append(r.Results, c)
	switch c.Outcome {
	case OutcomeExpired:
		r.Expired++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeNone:
		r.Checked++
	case OutcomeNotified:
		r.Checked++
		r.Notified++
	case OutcomePrompted:
		r.Checked++
		r.Notified++
		r.Prompted++
	case OutcomeFailed:
		r.Failed++
		r.Errors = append(r.Errors, fmt.Sprintf("subscription %d: %s", c.SubscriptionID, c.Error))
	}
}
