// Package testfixtures provides controllable time for tests.
package testfixtures

import (
	"context"
	"sync"
	"time"
)

// ReferenceTime is the default instant used by fixtures: noon in Tashkent on
// 2025-06-10.
func ReferenceTime() time.Time {
	return time.Date(2025, time.June, 10, 12, 0, 0, 0, time.FixedZone("UZT", 5*60*60))
}

// Clock provides a controllable time source for tests.
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

// NewClock returns a clock initialised to the supplied time. When start is the
// zero value, ReferenceTime is used.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{current: start}
}

// Now returns the current instant tracked by the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by the provided duration and returns the
// updated time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	c.current = c.current.Add(d)
	updated := c.current
	c.mu.Unlock()
	return updated
}

// Sleeper records requested waits and advances an optional Clock instead of
// blocking.
type Sleeper struct {
	mu     sync.Mutex
	clock  *Clock
	sleeps []time.Duration
}

// NewSleeper returns a Sleeper. clock may be nil.
func NewSleeper(clock *Clock) *Sleeper {
	return &Sleeper{clock: clock}
}

// Sleep matches railway.SleepFunc. It honours cancellation so timeout paths
// stay testable.
func (s *Sleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	s.mu.Unlock()
	if s.clock != nil {
		s.clock.Advance(d)
	}
	return nil
}

// Sleeps returns a copy of the recorded durations in call order.
func (s *Sleeper) Sleeps() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}
