package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lookingforticket/ticketwatch/internal/session"
)

// Purger deletes log rows older than a cutoff. Both store backends
// implement it.
type Purger interface {
	PurgeLogs(ctx context.Context, before time.Time) (int64, error)
}

// PurgeLogs removes api_logs and message_logs rows created before cutoff.
// Also run on demand by `ticketctl purge-logs`.
func PurgeLogs(ctx context.Context, purger Purger, cutoff time.Time, logger *slog.Logger) (int64, error) {
	start := time.Now()
	n, err := purger.PurgeLogs(ctx, cutoff)
	dur := time.Since(start).Round(time.Millisecond)

	if err != nil {
		logger.Warn("Cleanup: failed to purge old logs",
			"cutoff", cutoff, "duration", dur, "error", err)
		return 0, fmt.Errorf("purge logs: %w", err)
	}
	if n > 0 {
		logger.Info("Cleanup: purged old logs", "count", n, "cutoff", cutoff, "duration", dur)
	}
	return n, nil
}

// ExpireSessions drops wizard drafts untouched since cutoff.
func ExpireSessions(sessions *session.Store, cutoff time.Time, logger *slog.Logger) int {
	n := sessions.Expire(cutoff)
	if n > 0 {
		logger.Info("Cleanup: expired idle wizard sessions", "count", n)
	}
	return n
}
