// Package maintenance runs periodic background tasks as Go tickers: log
// retention for the audit and message tables and expiry of abandoned wizard
// sessions.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/lookingforticket/ticketwatch/internal/session"
)

// Config controls maintenance task intervals. Zero duration disables a task.
type Config struct {
	CleanupInterval time.Duration // log purge
	LogRetention    time.Duration // api_logs / message_logs age limit
	SessionInterval time.Duration // wizard session sweep
	SessionTTL      time.Duration // idle time before a draft is dropped
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		CleanupInterval: time.Hour,
		LogRetention:    30 * 24 * time.Hour,
		SessionInterval: 10 * time.Minute,
		SessionTTL:      24 * time.Hour,
	}
}

// Start launches all configured maintenance tickers. Blocks until ctx is
// cancelled. Intended to be called with `go`. sessions may be nil when the
// bot is disabled.
func Start(ctx context.Context, purger Purger, sessions *session.Store, cfg Config, logger *slog.Logger) {
	logger.Info("Maintenance tickers started",
		"cleanup", cfg.CleanupInterval,
		"retention", cfg.LogRetention,
		"sessions", cfg.SessionInterval)

	tickers := make([]*time.Ticker, 0, 2)
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	if cfg.CleanupInterval > 0 && cfg.LogRetention > 0 {
		t := time.NewTicker(cfg.CleanupInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func(now time.Time) {
			_, _ = PurgeLogs(ctx, purger, now.Add(-cfg.LogRetention), logger)
		})
	}

	if sessions != nil && cfg.SessionInterval > 0 && cfg.SessionTTL > 0 {
		t := time.NewTicker(cfg.SessionInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func(now time.Time) {
			ExpireSessions(sessions, now.Add(-cfg.SessionTTL), logger)
		})
	}

	<-ctx.Done()
	logger.Info("Maintenance tickers stopped")
}

func runLoop(ctx context.Context, ch <-chan time.Time, fn func(time.Time)) {
	for {
		select {
		case now := <-ch:
			fn(now)
		case <-ctx.Done():
			return
		}
	}
}
