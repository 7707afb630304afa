package escalation

import (
	"context"
	"fmt"
)

// Activator is the slice of the store the transitions need.
type Activator interface {
	SetActive(ctx context.Context, id int64, active bool) error
	ResetNotificationCount(ctx context.Context, id int64) error
}

// Reactivate turns a subscription back on and restarts its notification
// count from zero.
func Reactivate(ctx context.Context, s Activator, id int64) error {
	if err := s.SetActive(ctx, id, true); err != nil {
		return fmt.Errorf("activate subscription %d: %w", id, err)
	}
	if err := s.ResetNotificationCount(ctx, id); err != nil {
		return fmt.Errorf("reset notification count %d: %w", id, err)
	}
	return nil
}

// Deactivate turns a subscription off. Its counters are left as they are.
func Deactivate(ctx context.Context, s Activator, id int64) error {
	if err := s.SetActive(ctx, id, false); err != nil {
		return fmt.Errorf("deactivate subscription %d: %w", id, err)
	}
	return nil
}
