// Command watcher runs the availability monitor, the Telegram bot and the
// ops HTTP server in one process.
//
// Usage:
//
//	watcher
//	STORE_DRIVER=bolt TELEGRAM_BOT_TOKEN=... watcher

// @title ticketwatch ops API
// @version 1.0.0
// @description Health, scheduler status and read-only views of subscriptions and reference data for the train seat availability watcher.
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @contact.name ticketwatch
// @license.name MIT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/lookingforticket/ticketwatch/internal/api"
	"github.com/lookingforticket/ticketwatch/internal/app"
	"github.com/lookingforticket/ticketwatch/internal/cache"
	"github.com/lookingforticket/ticketwatch/internal/config"
	"github.com/lookingforticket/ticketwatch/internal/listener"
	"github.com/lookingforticket/ticketwatch/internal/maintenance"
	"github.com/lookingforticket/ticketwatch/internal/notifications"
	"github.com/lookingforticket/ticketwatch/internal/seed"
	"github.com/lookingforticket/ticketwatch/internal/session"

	_ "github.com/lookingforticket/ticketwatch/docs" // swagger docs
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger = app.NewLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Open storage
	st, closeStore, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// Reference data is idempotent; seeding on start keeps a fresh bolt file usable.
	if result := seed.SeedReferenceData(ctx, st, logger); len(result.Errors) > 0 {
		for _, e := range result.Errors {
			logger.Warn("Seed error", "error", e)
		}
	}

	// Telegram (optional)
	pollTimeout := time.Duration(cfg.TelegramPollTimeout) * time.Second
	sender, err := notifications.NewTelegramSender(cfg.TelegramBotToken, pollTimeout, logger)
	if err != nil {
		logger.Error("Failed to connect to Telegram", "error", err)
		os.Exit(1)
	}

	// Monitoring scheduler
	scheduler, notifier := app.NewScheduler(cfg, st, sender, logger)
	go scheduler.Start(ctx)

	// Bot listener (if Telegram is configured)
	var sessions *session.Store
	if sender != nil {
		if err := sender.RemoveWebhook(); err != nil {
			logger.Warn("Failed to remove webhook", "error", err)
		}
		sessions = session.NewStore()
		h := listener.NewHandler(st, sessions, notifier, listener.HandlerConfig{
			Location:    cfg.Location(),
			PromptEvery: cfg.PromptEvery,
		}, logger)
		go listener.Start(ctx, sender, h, pollTimeout, logger)
	} else {
		logger.Info("Telegram listener disabled (no TELEGRAM_BOT_TOKEN); notifications will be logged as failed")
	}

	// Maintenance tickers (log retention, wizard sessions)
	mcfg := maintenance.DefaultConfig()
	mcfg.CleanupInterval = cfg.CleanupInterval
	mcfg.LogRetention = cfg.LogRetention
	mcfg.SessionTTL = cfg.SessionTTL
	go maintenance.Start(ctx, st, sessions, mcfg, logger)

	// Initialize cache
	appCache := cache.New(cfg.CacheEnabled)
	logger.Info("Cache initialized", "enabled", cfg.CacheEnabled)

	// Create router
	router := api.NewRouter(st, scheduler, appCache, cfg, logger)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting ops API",
			"addr", addr,
			"environment", cfg.Environment,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			cancel()
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}
