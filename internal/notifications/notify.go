// Package notifications formats and delivers Telegram messages to
// subscription owners and records every send in the message log.
//
// Delivery goes through a Gateway; TelegramSender is the production
// implementation. Message log writes are best effort.
package notifications

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lookingforticket/ticketwatch/internal/provider/railway"
	"github.com/lookingforticket/ticketwatch/internal/store"
)

// ErrDeliveryFailed is returned when the gateway reports a failed send.
var ErrDeliveryFailed = errors.New("notifications: delivery failed")

// MessageLogger persists one row per outbound message.
type MessageLogger interface {
	InsertMessageLog(ctx context.Context, entry store.MessageLog) error
}

// Notifier sends subscription messages and logs them.
type Notifier struct {
	gw     Gateway
	logs   MessageLogger
	now    func() time.Time
	logger *slog.Logger
}

// NewNotifier creates a notifier. logs may be nil.
func NewNotifier(gw Gateway, logs MessageLogger, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{gw: gw, logs: logs, now: time.Now, logger: logger}
}

// NotifyAvailability tells the owner which trains have seats. An empty list
// sends nothing.
func (n *Notifier) NotifyAvailability(ctx context.Context, sub store.Subscription, trains []railway.TrainInfo) error {
	if len(trains) == 0 {
		return nil
	}
	text := FormatAvailability(sub.ID, trains)
	res := n.Send(ctx, sub.ChatID, text, nil, store.MessageTypeAvailability, sub.ID)
	return resultErr(res)
}

// PromptDeactivation asks the owner whether to stop the subscription.
func (n *Notifier) PromptDeactivation(ctx context.Context, sub store.Subscription, count int) error {
	text := FormatPrompt(sub.ID, count)
	res := n.Send(ctx, sub.ChatID, text, PromptActions(sub.ID), store.MessageTypeDeactivate, sub.ID)
	return resultErr(res)
}

// Send delivers text, with buttons when rows is non-empty, and records it
// under msgType. requestID is 0 when the message is not about a
// subscription.
func (n *Notifier) Send(ctx context.Context, chatID int64, text string, rows [][]Action, msgType string, requestID int64) DeliveryResult {
	var res DeliveryResult
	if len(rows) > 0 {
		res = n.gw.SendTextWithActions(ctx, chatID, text, rows)
	} else {
		res = n.gw.SendText(ctx, chatID, text)
	}

	if !res.Success {
		n.logger.Warn("Message delivery failed",
			"chat_id", chatID, "message_type", msgType,
			"request_id", requestID, "error", res.Error)
	}
	n.record(ctx, store.MessageLog{
		ChatID:            chatID,
		MessageText:       text,
		MessageType:       msgType,
		RequestID:         requestID,
		HasButtons:        len(rows) > 0,
		IsSuccess:         res.Success,
		ErrorMessage:      res.Error,
		TelegramMessageID: res.MessageID,
		CreatedAt:         n.now(),
	})
	return res
}

func (n *Notifier) record(ctx context.Context, entry store.MessageLog) {
	if n.logs == nil {
		return
	}
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := n.logs.InsertMessageLog(logCtx, entry); err != nil {
		n.logger.Warn("Failed to write message log", "chat_id", entry.ChatID, "error", err)
	}
}

func resultErr(res DeliveryResult) error {
	if res.Success {
		return nil
	}
	if res.Error == "" {
		return ErrDeliveryFailed
	}
	return errors.Join(ErrDeliveryFailed, errors.New(res.Error))
}
