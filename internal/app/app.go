// Package app assembles the components shared by cmd/watcher and
// cmd/ticketctl from a loaded Config.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/lookingforticket/ticketwatch/internal/config"
	"github.com/lookingforticket/ticketwatch/internal/db"
	"github.com/lookingforticket/ticketwatch/internal/monitor"
	"github.com/lookingforticket/ticketwatch/internal/notifications"
	"github.com/lookingforticket/ticketwatch/internal/provider/railway"
	"github.com/lookingforticket/ticketwatch/internal/store"
)

// NewLogger builds the process logger from LOG_LEVEL, LOG_FORMAT and DEBUG.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN", "WARNING":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	}
	if cfg.Debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// OpenStore opens the backend named by STORE_DRIVER. The returned func
// releases it. With AUTO_MIGRATE the Postgres schema is applied first.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDriverBolt:
		st, err := store.OpenBolt(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Bolt store opened", "path", cfg.BoltPath)
		return st, func() { _ = st.Close() }, nil

	case config.StoreDriverPostgres:
		if cfg.AutoMigrate {
			logger.Info("Applying database schema...")
			if err := db.Migrate(ctx, cfg.DatabaseURL); err != nil {
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		logger.Info("Connecting to database...")
		pool, err := db.New(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Database connected",
			"min_conns", cfg.DBPoolMinConns,
			"max_conns", cfg.DBPoolMaxConns)
		return store.NewPgStore(pool.Pool), pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// NewAggregator builds the upstream client and the range aggregator over it.
// Every upstream call is audited to st.
func NewAggregator(cfg *config.Config, st railway.AuditLogger, logger *slog.Logger) *railway.Aggregator {
	client := railway.NewClient(railway.ClientConfig{
		BaseURL:           cfg.RailwayBaseURL,
		XSRFToken:         cfg.RailwayXSRFToken,
		Cookie:            cfg.RailwayCookie,
		RequestsPerMinute: cfg.RailwayRequestsPerMinute,
		HTTPTimeout:       cfg.RailwayHTTPTimeout,
		MaxRetries:        cfg.MaxRetries,
		InitialDelay:      cfg.InitialRetryDelay,
		MaxDelay:          cfg.MaxRetryDelay,
	}, st, logger)
	return railway.NewAggregator(client, cfg.DelayBetweenRequests, nil, logger)
}

// SchedulerConfig maps Config onto the scheduler's pacing.
func SchedulerConfig(cfg *config.Config) monitor.Config {
	return monitor.Config{
		Interval:    cfg.CheckInterval,
		Delay:       cfg.DelayBetweenRequests,
		Timeout:     cfg.SubscriptionTimeout,
		PromptEvery: cfg.PromptEvery,
		Location:    cfg.Location(),
	}
}

// NewScheduler wires the monitoring scheduler to st, the upstream and gw.
// It returns the notifier too so the bot can reuse it for replies.
func NewScheduler(cfg *config.Config, st store.Store, gw notifications.Gateway, logger *slog.Logger) (*monitor.Scheduler, *notifications.Notifier) {
	notifier := notifications.NewNotifier(gw, st, logger)
	agg := NewAggregator(cfg, st, logger)
	return monitor.New(st, agg, notifier, SchedulerConfig(cfg), logger), notifier
}
