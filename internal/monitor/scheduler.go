// Package monitor runs the periodic availability check over all active
// subscriptions.
//
// A tick walks the active subscriptions one at a time, pausing between them
// to stay under the upstream rate limit. For each it expires or clamps the
// date window, queries every remaining day, and hands any matches to the
// escalation policy. Nothing that goes wrong with one subscription stops the
// rest of the tick.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lookingforticket/ticketwatch/internal/escalation"
	"github.com/lookingforticket/ticketwatch/internal/provider/railway"
	"github.com/lookingforticket/ticketwatch/internal/store"
)

// ErrTickInProgress is returned by RunTick when another tick is still running.
var ErrTickInProgress = errors.New("monitor: tick already in progress")

// Store is the slice of persistence the scheduler drives.
type Store interface {
	ListActiveSubscriptions(ctx context.Context) ([]store.Subscription, error)
	UpdateLastChecked(ctx context.Context, id int64, ts time.Time) error
	UpdateLastNotified(ctx context.Context, id int64, ts time.Time) error
	IncrementNotificationCount(ctx context.Context, id int64) (int, error)
	SetActive(ctx context.Context, id int64, active bool) error
	ResetNotificationCount(ctx context.Context, id int64) error
	BrandFilter(ctx context.Context, id int64) ([]string, error)
}

// Aggregator fetches and filters availability over a date range.
type Aggregator interface {
	FetchRange(ctx context.Context, q railway.Query) ([]railway.TrainInfo, error)
}

// Notifier delivers messages to a subscription's owner.
type Notifier interface {
	NotifyAvailability(ctx context.Context, sub store.Subscription, trains []railway.TrainInfo) error
	PromptDeactivation(ctx context.Context, sub store.Subscription, count int) error
}

// Config controls tick pacing.
type Config struct {
	Interval    time.Duration  // period between ticks
	Delay       time.Duration  // pause before each subscription after the first
	Timeout     time.Duration  // budget for one subscription's range fetch
	PromptEvery int            // notifications between deactivation prompts
	Location    *time.Location // zone that defines "today"
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    time.Minute,
		Delay:       2 * time.Second,
		Timeout:     30 * time.Second,
		PromptEvery: escalation.DefaultPromptEvery,
		Location:    time.UTC,
	}
}

// Scheduler owns the tick loop.
type Scheduler struct {
	store    Store
	agg      Aggregator
	notifier Notifier
	policy   escalation.Policy
	cfg      Config
	now      func() time.Time
	sleep    railway.SleepFunc
	logger   *slog.Logger

	running sync.Mutex

	mu   sync.RWMutex
	last *TickResult
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithSleep replaces the pause between subscriptions.
func WithSleep(fn railway.SleepFunc) Option {
	return func(s *Scheduler) { s.sleep = fn }
}

// New creates a scheduler. logger may be nil.
func New(st Store, agg Aggregator, notifier Notifier, cfg Config, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	s := &Scheduler{
		store:    st,
		agg:      agg,
		notifier: notifier,
		policy:   escalation.Policy{PromptEvery: cfg.PromptEvery},
		cfg:      cfg,
		now:      time.Now,
		sleep:    railway.SleepContext,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs a tick every Interval until ctx is cancelled. Ticks run on this
// goroutine, so a slow tick delays the next one instead of overlapping it.
// Intended to be called with `go`.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Monitoring scheduler started",
		"interval", s.cfg.Interval,
		"delay", s.cfg.Delay,
		"timeout", s.cfg.Timeout,
		"timezone", s.cfg.Location.String())

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RunTick(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("Tick failed", "error", err)
			}
		case <-ctx.Done():
			s.logger.Info("Monitoring scheduler stopped")
			return
		}
	}
}

// LastResult returns the most recent completed tick, or nil before the first.
func (s *Scheduler) LastResult() *TickResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// RunTick performs one pass over the active subscriptions. The only errors
// are a failure to list subscriptions, cancellation of ctx, and
// ErrTickInProgress.
func (s *Scheduler) RunTick(ctx context.Context) (TickResult, error) {
	if !s.running.TryLock() {
		return TickResult{}, ErrTickInProgress
	}
	defer s.running.Unlock()

	result := TickResult{TickID: uuid.NewString(), StartedAt: s.now()}
	logger := s.logger.With("tick_id", result.TickID)
	start := time.Now()

	subs, err := s.store.ListActiveSubscriptions(ctx)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		result.Duration = time.Since(start)
		s.remember(result)
		if errors.Is(err, store.ErrUnavailable) {
			return result, err
		}
		return result, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}

	result.Active = len(subs)
	if len(subs) == 0 {
		logger.Debug("No active subscriptions to check")
		result.Duration = time.Since(start)
		s.remember(result)
		return result, nil
	}

	logger.Info("Checking active subscriptions", "count", len(subs), "delay", s.cfg.Delay)

	for i, sub := range subs {
		if i > 0 {
			if err := s.sleep(ctx, s.cfg.Delay); err != nil {
				result.Duration = time.Since(start)
				s.remember(result)
				return result, err
			}
		}
		result.add(s.check(ctx, sub, logger.With("subscription_id", sub.ID)))
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			s.remember(result)
			return result, err
		}
	}

	result.Duration = time.Since(start)
	s.remember(result)
	logger.Info("Tick complete", "summary", result.Summary())
	return result, nil
}

// check runs the per-subscription pipeline. Errors end up in the returned
// CheckResult and never propagate.
func (s *Scheduler) check(ctx context.Context, sub store.Subscription, logger *slog.Logger) CheckResult {
	start := time.Now()
	res := CheckResult{SubscriptionID: sub.ID}
	fail := func(err error) CheckResult {
		logger.Error("Subscription check failed", "error", err)
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
		res.Duration = time.Since(start)
		return res
	}

	now := s.now()
	today := store.DateOnly(now.In(s.cfg.Location))

	if sub.ToDate.Before(today) {
		logger.Info("Subscription expired, deactivating",
			"to_date", sub.ToDate.Format(time.DateOnly),
			"today", today.Format(time.DateOnly))
		if err := escalation.Deactivate(ctx, s.store, sub.ID); err != nil {
			return fail(err)
		}
		res.Outcome = OutcomeExpired
		res.Duration = time.Since(start)
		return res
	}

	from := sub.FromDate
	if from.Before(today) {
		logger.Debug("Clamping start date to today",
			"from_date", sub.FromDate.Format(time.DateOnly),
			"today", today.Format(time.DateOnly))
		from = today
	}

	if err := s.store.UpdateLastChecked(ctx, sub.ID, now); err != nil {
		return fail(fmt.Errorf("update last checked: %w", err))
	}

	if from.After(sub.ToDate) {
		logger.Info("No valid dates left, skipping API call",
			"effective_from", from.Format(time.DateOnly),
			"to_date", sub.ToDate.Format(time.DateOnly))
		res.Outcome = OutcomeSkipped
		res.Duration = time.Since(start)
		return res
	}

	brands, err := s.store.BrandFilter(ctx, sub.ID)
	if err != nil {
		return fail(fmt.Errorf("load brand filter: %w", err))
	}

	logger.Debug("Checking subscription",
		"from", sub.StationFrom, "to", sub.StationTo,
		"from_date", from.Format(time.DateOnly),
		"to_date", sub.ToDate.Format(time.DateOnly),
		"min_seats", sub.MinSeats, "brands", brands)

	trains, err := s.fetch(ctx, railway.Query{
		Origin:      sub.StationFrom,
		Destination: sub.StationTo,
		From:        from,
		To:          sub.ToDate,
		MinSeats:    sub.MinSeats,
		Brands:      railway.NewBrandSet(brands...),
	})
	if err != nil {
		if ctx.Err() != nil {
			return fail(err)
		}
		// Treated as an empty result; the next tick tries again.
		logger.Warn("Availability check did not complete", "error", err)
		trains = nil
	}
	res.TrainsFound = len(trains)

	action := s.policy.Decide(sub, len(trains) > 0)
	if action.Kind == escalation.NoOp {
		logger.Debug("No available trains found")
		res.Outcome = OutcomeNone
		res.Count = sub.NotificationCount
		res.Duration = time.Since(start)
		return res
	}

	logger.Info("Found available trains", "count", len(trains))

	count, err := s.store.IncrementNotificationCount(ctx, sub.ID)
	if err != nil {
		return fail(fmt.Errorf("increment notification count: %w", err))
	}
	if err := s.store.UpdateLastNotified(ctx, sub.ID, now); err != nil {
		return fail(fmt.Errorf("update last notified: %w", err))
	}
	res.Count = count
	sub.NotificationCount = count

	if err := s.notifier.NotifyAvailability(ctx, sub, trains); err != nil {
		return fail(fmt.Errorf("send availability: %w", err))
	}
	res.Outcome = OutcomeNotified

	if s.policy.PromptDue(count) {
		if err := s.notifier.PromptDeactivation(ctx, sub, count); err != nil {
			return fail(fmt.Errorf("send deactivation prompt: %w", err))
		}
		res.Outcome = OutcomePrompted
	}

	res.Duration = time.Since(start)
	return res
}

// fetch runs the range query under the per-subscription timeout.
func (s *Scheduler) fetch(ctx context.Context, q railway.Query) ([]railway.TrainInfo, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	trains, err := s.agg.FetchRange(fetchCtx, q)
	if err != nil {
		return nil, err
	}
	if fetchCtx.Err() != nil {
		return nil, fmt.Errorf("range fetch exceeded %s: %w", s.cfg.Timeout, fetchCtx.Err())
	}
	return trains, nil
}

func (s *Scheduler) remember(r TickResult) {
	s.mu.Lock()
	s.last = &r
	s.mu.Unlock()
}
