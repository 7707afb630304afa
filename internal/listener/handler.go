package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"

	"github.com/lookingforticket/ticketwatch/internal/escalation"
	"github.com/lookingforticket/ticketwatch/internal/notifications"
	"github.com/lookingforticket/ticketwatch/internal/session"
	"github.com/lookingforticket/ticketwatch/internal/store"
)

const (
	textNotRegistered = "Iltimos, avval /start buyrug'ini bajaring."
	textNotFound      = "❌ So'rov topilmadi."
	textRestart       = "❌ Xatolik yuz berdi. Iltimos, qaytadan boshlang.\n\n/new_request - Yangi so'rov yaratish"
	textHelp          = "ℹ️ <b>Yordam</b>\n\n" +
		"Bot tanlangan yo'nalish va sanalar bo'yicha bo'sh o'rindiqlarni kuzatadi va topilganda xabar beradi.\n\n" +
		"/new_request - Yangi so'rov yaratish\n" +
		"/my_requests - Mening so'rovlarim\n" +
		"/cancel - Joriy amalni bekor qilish"

	dateLayout     = "02.01.2006"
	dateTimeLayout = "02.01.2006 15:04"
)

// Store is the persistence the bot reads and writes.
type Store interface {
	escalation.Activator
	GetUserByChatID(ctx context.Context, chatID int64) (store.User, error)
	CreateUser(ctx context.Context, u store.User) (store.User, bool, error)
	GetSubscription(ctx context.Context, id int64) (store.Subscription, error)
	ListSubscriptionsByChat(ctx context.Context, chatID int64, activeOnly bool) ([]store.Subscription, error)
	CreateSubscription(ctx context.Context, sub store.NewSubscription) (int64, error)
	BrandDisplayNames(ctx context.Context, id int64) ([]string, error)
	ListStations(ctx context.Context) ([]store.Station, error)
	GetStation(ctx context.Context, id string) (store.Station, error)
	ListBrands(ctx context.Context) ([]store.Brand, error)
}

// Sender delivers and logs replies. *notifications.Notifier implements it.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string, rows [][]notifications.Action, msgType string, requestID int64) notifications.DeliveryResult
}

// HandlerConfig tunes reply content.
type HandlerConfig struct {
	Location    *time.Location // zone for "today" and displayed timestamps
	PromptEvery int            // shown as the notification budget in /my_requests
}

// Handler reacts to individual updates.
type Handler struct {
	store    Store
	sessions *session.Store
	out      Sender
	cfg      HandlerConfig
	now      func() time.Time
	logger   *slog.Logger
}

// NewHandler creates a handler. logger may be nil.
func NewHandler(st Store, sessions *session.Store, out Sender, cfg HandlerConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.PromptEvery <= 0 {
		cfg.PromptEvery = escalation.DefaultPromptEvery
	}
	return &Handler{
		store:    st,
		sessions: sessions,
		out:      out,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
	}
}

// HandleUpdate dispatches one update. Failures are logged and answered with
// a generic message; they never stop the listener.
func (h *Handler) HandleUpdate(ctx context.Context, u tgbotapi.Update) {
	switch {
	case u.Message != nil:
		h.handleMessage(ctx, u.Message)
	case u.CallbackQuery != nil:
		h.handleCallback(ctx, u.CallbackQuery)
	}
}

// --------------------------------------------------------------------------
// Messages
// --------------------------------------------------------------------------

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		h.logger.Info("Command received", "chat_id", chatID, "command", msg.Command())
		switch msg.Command() {
		case "start":
			h.sessions.Clear(chatID)
			h.start(ctx, msg)
		case "new_request":
			h.newRequest(ctx, chatID)
		case "my_requests":
			h.sessions.Clear(chatID)
			h.myRequests(ctx, chatID)
		case "cancel":
			h.sessions.Clear(chatID)
			h.reply(ctx, chatID, "❌ Bekor qilindi.\n\n/new_request - Yangi so'rov yaratish", nil)
		case "help":
			h.reply(ctx, chatID, textHelp, nil)
		default:
			h.reply(ctx, chatID, "Noma'lum buyruq. /help - Yordam olish", nil)
		}
		return
	}

	text := strings.TrimSpace(msg.Text)
	switch draft := h.sessions.Get(chatID); draft.State {
	case session.StateEnteringFromDate:
		h.fromDateInput(ctx, chatID, text)
	case session.StateEnteringToDate:
		h.toDateInput(ctx, chatID, draft, text)
	case session.StateEnteringMinSeats:
		h.minSeatsInput(ctx, chatID, draft, text)
	default:
		h.logger.Debug("Unhandled message", "chat_id", chatID, "state", draft.State.String())
	}
}

func (h *Handler) start(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	_, err := h.store.GetUserByChatID(ctx, chatID)
	if err == nil {
		h.reply(ctx, chatID, "👋 <b>Assalomu alaykum!</b>\n\n"+
			"Siz allaqachon ro'yxatdan o'tgansiz.\n\n"+
			"/new_request - Yangi so'rov yaratish\n"+
			"/my_requests - Mening so'rovlarim", nil)
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		h.fail(ctx, chatID, "look up user", err)
		return
	}

	u := store.User{
		ChatID:    chatID,
		Username:  msg.Chat.UserName,
		FirstName: msg.Chat.FirstName,
		LastName:  msg.Chat.LastName,
		CreatedAt: h.now(),
	}
	if msg.From != nil {
		u.Username, u.FirstName, u.LastName = msg.From.UserName, msg.From.FirstName, msg.From.LastName
	}
	created, _, err := h.store.CreateUser(ctx, u)
	if err != nil {
		h.fail(ctx, chatID, "create user", err)
		return
	}
	h.logger.Info("Registered new user", "user_id", created.ID, "chat_id", chatID)

	h.reply(ctx, chatID, "👋 <b>Assalomu alaykum!</b>\n\n"+
		"Poyezd chiptalarini izlash botiga xush kelibsiz!\n\n"+
		"Botdan foydalanish uchun so'rov yuboring va biz sizga bo'sh o'rindiqlar mavjud bo'lganda xabar beramiz.\n\n"+
		"/new_request - Yangi so'rov yaratish\n"+
		"/help - Yordam olish", nil)
}

func (h *Handler) myRequests(ctx context.Context, chatID int64) {
	if !h.registered(ctx, chatID) {
		return
	}

	subs, err := h.store.ListSubscriptionsByChat(ctx, chatID, true)
	if err != nil {
		h.fail(ctx, chatID, "list subscriptions", err)
		return
	}
	if len(subs) == 0 {
		h.reply(ctx, chatID, "📋 <b>Mening so'rovlarim</b>\n\n"+
			"Hozirda faol so'rovlar mavjud emas.\n\n"+
			"/new_request - Yangi so'rov yaratish", nil)
		return
	}

	var b strings.Builder
	b.WriteString("📋 <b>Mening faol so'rovlarim</b>\n\n")
	fmt.Fprintf(&b, "Jami: <b>%d</b> ta so'rov\n\n", len(subs))
	b.WriteString("━━━━━━━━━━━━━━━━━━━━\n\n")

	for i, sub := range subs {
		brands, err := h.store.BrandDisplayNames(ctx, sub.ID)
		if err != nil {
			h.logger.Warn("Failed to load brands", "subscription_id", sub.ID, "error", err)
		}
		fmt.Fprintf(&b, "📋 <b>So'rov №%d</b>\n", sub.ID)
		fmt.Fprintf(&b, "📍 %s → %s\n", sub.StationFromName, sub.StationToName)
		fmt.Fprintf(&b, "📅 %s - %s\n", sub.FromDate.Format(dateLayout), sub.ToDate.Format(dateLayout))
		fmt.Fprintf(&b, "🚂 Brendlar: %s\n", brandText(brands))
		fmt.Fprintf(&b, "💺 Minimal o'rindiqlar: %d\n", sub.MinSeats)
		fmt.Fprintf(&b, "📊 Xabarlar soni: %d/%d\n", sub.NotificationCount, h.cfg.PromptEvery)
		if sub.LastCheckedAt != nil {
			fmt.Fprintf(&b, "🕐 Oxirgi tekshiruv: %s\n", sub.LastCheckedAt.In(h.cfg.Location).Format(dateTimeLayout))
		}
		if sub.LastNotifiedAt != nil {
			fmt.Fprintf(&b, "📬 Oxirgi xabar: %s\n", sub.LastNotifiedAt.In(h.cfg.Location).Format(dateTimeLayout))
		}
		if sub.IsActive {
			b.WriteString("✅ Holat: Faol\n")
		} else {
			b.WriteString("❌ Holat: Nofaol\n")
		}
		if i < len(subs)-1 {
			b.WriteString("\n━━━━━━━━━━━━━━━━━━━━\n\n")
		}
	}
	h.reply(ctx, chatID, b.String(), nil)
}

// --------------------------------------------------------------------------
// Callbacks
// --------------------------------------------------------------------------

func (h *Handler) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	var chatID int64
	switch {
	case cq.Message != nil && cq.Message.Chat != nil:
		chatID = cq.Message.Chat.ID
	case cq.From != nil:
		chatID = int64(cq.From.ID)
	default:
		return
	}
	data := cq.Data
	h.logger.Info("Callback received", "chat_id", chatID, "data", data)

	if !h.registered(ctx, chatID) {
		return
	}

	switch {
	case strings.HasPrefix(data, notifications.RefDeactivate):
		if id, ok := notifications.ParseIDRef(data, notifications.RefDeactivate); ok {
			h.setActivation(ctx, chatID, id, false)
		}
	case strings.HasPrefix(data, notifications.RefKeep):
		if id, ok := notifications.ParseIDRef(data, notifications.RefKeep); ok {
			h.setActivation(ctx, chatID, id, true)
		}
	case strings.HasPrefix(data, notifications.RefFrom):
		h.chooseFrom(ctx, chatID, strings.TrimPrefix(data, notifications.RefFrom))
	case strings.HasPrefix(data, notifications.RefTo):
		h.chooseTo(ctx, chatID, strings.TrimPrefix(data, notifications.RefTo))
	case data == notifications.RefBrandsAll:
		h.finishBrands(ctx, chatID, true)
	case data == notifications.RefBrandsDone:
		h.finishBrands(ctx, chatID, false)
	case strings.HasPrefix(data, notifications.RefBrand):
		if id, ok := notifications.ParseIDRef(data, notifications.RefBrand); ok {
			h.toggleBrand(ctx, chatID, id)
		}
	default:
		h.logger.Debug("Unhandled callback", "chat_id", chatID, "data", data)
	}
}

// setActivation answers the deactivation prompt. The subscription must
// belong to the chat pressing the button.
func (h *Handler) setActivation(ctx context.Context, chatID, id int64, keep bool) {
	sub, err := h.store.GetSubscription(ctx, id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && sub.ChatID != chatID) {
		h.out.Send(ctx, chatID, textNotFound, nil, store.MessageTypeStatus, id)
		return
	}
	if err != nil {
		h.fail(ctx, chatID, "load subscription", err)
		return
	}

	if keep {
		if err := escalation.Reactivate(ctx, h.store, id); err != nil {
			h.fail(ctx, chatID, "reactivate subscription", err)
			return
		}
		h.logger.Info("Subscription kept active", "subscription_id", id, "chat_id", chatID)
		h.out.Send(ctx, chatID, fmt.Sprintf("✅ So'rov #%d faollashtirildi.\n\nXabarlar qayta yuboriladi.", id),
			nil, store.MessageTypeStatus, id)
		return
	}

	if err := escalation.Deactivate(ctx, h.store, id); err != nil {
		h.fail(ctx, chatID, "deactivate subscription", err)
		return
	}
	h.logger.Info("Subscription deactivated by owner", "subscription_id", id, "chat_id", chatID)
	h.out.Send(ctx, chatID, fmt.Sprintf("✅ So'rov #%d deaktivatsiya qilindi.\n\n/new_request - Yangi so'rov yaratish", id),
		nil, store.MessageTypeStatus, id)
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// registered reports whether chatID has run /start, telling the chat to do
// so when it has not.
func (h *Handler) registered(ctx context.Context, chatID int64) bool {
	_, err := h.store.GetUserByChatID(ctx, chatID)
	if err == nil {
		return true
	}
	if errors.Is(err, store.ErrNotFound) {
		h.reply(ctx, chatID, textNotRegistered, nil)
		return false
	}
	h.fail(ctx, chatID, "look up user", err)
	return false
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string, rows [][]notifications.Action) {
	h.out.Send(ctx, chatID, text, rows, store.MessageTypeReply, 0)
}

// fail logs err and tells the user to start over. Infrastructure details
// stay in the log.
func (h *Handler) fail(ctx context.Context, chatID int64, op string, err error) {
	h.logger.Error("Update handling failed", "chat_id", chatID, "op", op, "error", err)
	h.sessions.Clear(chatID)
	h.reply(ctx, chatID, textRestart, nil)
}

func (h *Handler) today() time.Time {
	return store.DateOnly(h.now().In(h.cfg.Location))
}

func brandText(names []string) string {
	if len(names) == 0 {
		return "Barcha brendlar"
	}
	return strings.Join(names, ", ")
}
