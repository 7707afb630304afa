// Package listener consumes Telegram updates by long polling and routes
// commands, button presses and wizard input to the Handler.
//
// Updates are processed one at a time in arrival order so a chat's wizard
// steps are never reordered.
package listener

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
)

const (
	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second
)

// Poller is the update source. *notifications.TelegramSender implements it.
type Poller interface {
	Updates(ctx context.Context, offset int, timeout time.Duration) ([]tgbotapi.Update, error)
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Start polls for updates until ctx is cancelled, backing off and retrying
// when polling fails. Intended to be called with `go`.
func Start(ctx context.Context, poller Poller, h *Handler, pollTimeout time.Duration, logger *slog.Logger) {
	backoff := reconnectBackoff
	offset := 0

	logger.Info("Telegram listener started", "poll_timeout", pollTimeout)
	for {
		err := pollLoop(ctx, poller, h, &offset, pollTimeout, &backoff, logger)
		if ctx.Err() != nil {
			logger.Info("Telegram listener stopped (context cancelled)")
			return
		}

		logger.Error("Telegram polling failed, retrying...",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxReconnect)
		case <-ctx.Done():
			return
		}
	}
}

// pollLoop fetches and dispatches batches until a poll fails. offset
// survives across reconnects so no update is handled twice.
func pollLoop(ctx context.Context, poller Poller, h *Handler, offset *int, timeout time.Duration, backoff *time.Duration, logger *slog.Logger) error {
	for {
		updates, err := poller.Updates(ctx, *offset, timeout)
		if err != nil {
			return fmt.Errorf("get updates: %w", err)
		}
		*backoff = reconnectBackoff

		for _, u := range updates {
			if u.UpdateID >= *offset {
				*offset = u.UpdateID + 1
			}
			h.HandleUpdate(ctx, u)
			if u.CallbackQuery != nil {
				if err := poller.AnswerCallback(ctx, u.CallbackQuery.ID, ""); err != nil {
					logger.Warn("Failed to answer callback query", "error", err)
				}
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
