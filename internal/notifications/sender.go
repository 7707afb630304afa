package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
)

// TelegramSender delivers messages through the Telegram Bot API.
// Nil-safe: when no token is configured, sends fail with a descriptive
// result instead of panicking.
type TelegramSender struct {
	api    *tgbotapi.BotAPI
	logger *slog.Logger
}

// NewTelegramSender connects to the Bot API. Returns nil, nil when token is
// empty (messaging disabled).
func NewTelegramSender(token string, pollTimeout time.Duration, logger *slog.Logger) (*TelegramSender, error) {
	if token == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Long polls hold the connection open for the poll timeout.
	client := &http.Client{Timeout: pollTimeout + 15*time.Second}
	api, err := tgbotapi.NewBotAPIWithClient(token, client)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	logger.Info("Telegram bot authorized", "username", api.Self.UserName)
	return &TelegramSender{api: api, logger: logger}, nil
}

// SendText sends an HTML message.
func (s *TelegramSender) SendText(ctx context.Context, chatID int64, text string) DeliveryResult {
	return s.send(ctx, chatID, text, nil)
}

// SendTextWithActions sends an HTML message with an inline keyboard, one
// keyboard row per element of rows.
func (s *TelegramSender) SendTextWithActions(ctx context.Context, chatID int64, text string, rows [][]Action) DeliveryResult {
	return s.send(ctx, chatID, text, rows)
}

func (s *TelegramSender) send(ctx context.Context, chatID int64, text string, rows [][]Action) DeliveryResult {
	if s == nil {
		return DeliveryResult{Error: "telegram not configured"}
	}
	if err := ctx.Err(); err != nil {
		return DeliveryResult{Error: err.Error()}
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "HTML"
	if len(rows) > 0 {
		msg.ReplyMarkup = inlineKeyboard(rows)
	}

	sent, err := s.api.Send(msg)
	if err != nil {
		s.logger.Warn("Telegram send failed", "chat_id", chatID, "error", err)
		return DeliveryResult{Error: err.Error()}
	}
	return DeliveryResult{Success: true, MessageID: sent.MessageID}
}

// Updates long-polls for updates after offset.
func (s *TelegramSender) Updates(ctx context.Context, offset int, timeout time.Duration) ([]tgbotapi.Update, error) {
	if s == nil {
		return nil, fmt.Errorf("telegram not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := tgbotapi.NewUpdate(offset)
	cfg.Timeout = int(timeout / time.Second)
	return s.api.GetUpdates(cfg)
}

// AnswerCallback acknowledges a button press so the client stops its
// loading indicator.
func (s *TelegramSender) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if s == nil {
		return nil
	}
	_, err := s.api.AnswerCallbackQuery(tgbotapi.NewCallback(callbackID, text))
	return err
}

// RemoveWebhook clears any webhook so long polling receives updates.
func (s *TelegramSender) RemoveWebhook() error {
	if s == nil {
		return nil
	}
	_, err := s.api.RemoveWebhook()
	return err
}

func inlineKeyboard(rows [][]Action) tgbotapi.InlineKeyboardMarkup {
	keyboard := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, a := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(a.Label, a.Ref))
		}
		keyboard = append(keyboard, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(keyboard...)
}
