// Package store persists users, subscriptions, reference data and the
// write-only audit and message logs. Postgres (pgx) is the production
// backend; bbolt backs single-node and development deployments.
//
// All lifecycle mutations are single-field updates applied atomically by the
// backend, never read-modify-write on a caller's copy.
package store

import (
	"context"
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrUnavailable marks a failure to reach the backing store.
	ErrUnavailable = errors.New("store: unavailable")
)

// Message log types.
const (
	MessageTypeAvailability = "TRAIN_AVAILABILITY"
	MessageTypeDeactivate   = "DEACTIVATE_REQUEST"
	MessageTypeStatus       = "REQUEST_STATUS"
	MessageTypeReply        = "COMMAND_REPLY"
)

// Store is the full persistence surface used by the service.
type Store interface {
	// Scheduler lifecycle
	ListActiveSubscriptions(ctx context.Context) ([]Subscription, error)
	UpdateLastChecked(ctx context.Context, id int64, ts time.Time) error
	UpdateLastNotified(ctx context.Context, id int64, ts time.Time) error
	IncrementNotificationCount(ctx context.Context, id int64) (int, error)
	SetActive(ctx context.Context, id int64, active bool) error
	ResetNotificationCount(ctx context.Context, id int64) error
	BrandFilter(ctx context.Context, id int64) ([]string, error)

	// Subscriptions and users
	GetSubscription(ctx context.Context, id int64) (Subscription, error)
	ListSubscriptionsByChat(ctx context.Context, chatID int64, activeOnly bool) ([]Subscription, error)
	CreateSubscription(ctx context.Context, sub NewSubscription) (int64, error)
	BrandDisplayNames(ctx context.Context, id int64) ([]string, error)
	GetUserByChatID(ctx context.Context, chatID int64) (User, error)
	CreateUser(ctx context.Context, u User) (User, bool, error)

	// Reference data
	ListStations(ctx context.Context) ([]Station, error)
	GetStation(ctx context.Context, id string) (Station, error)
	UpsertStation(ctx context.Context, st Station) error
	ListBrands(ctx context.Context) ([]Brand, error)
	UpsertBrand(ctx context.Context, b Brand) error

	// Logs
	InsertAPILog(ctx context.Context, entry APILog) error
	InsertMessageLog(ctx context.Context, entry MessageLog) error
	PurgeLogs(ctx context.Context, before time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Subscription is a user's standing request to be notified about free seats
// on a route within a date window. Dates are calendar days at UTC midnight.
type Subscription struct {
	ID                int64      `json:"id"`
	UserID            int64      `json:"user_id"`
	ChatID            int64      `json:"chat_id"`
	StationFrom       string     `json:"station_from"`
	StationFromName   string     `json:"station_from_name"`
	StationTo         string     `json:"station_to"`
	StationToName     string     `json:"station_to_name"`
	FromDate          time.Time  `json:"from_date"`
	ToDate            time.Time  `json:"to_date"`
	MinSeats          int        `json:"min_seats"`
	IsActive          bool       `json:"is_active"`
	LastCheckedAt     *time.Time `json:"last_checked_at,omitempty"`
	LastNotifiedAt    *time.Time `json:"last_notified_at,omitempty"`
	NotificationCount int        `json:"notification_count"`
	CreatedAt         time.Time  `json:"created_at"`
}

// NewSubscription holds the fields collected by the wizard.
type NewSubscription struct {
	UserID      int64
	StationFrom string
	StationTo   string
	FromDate    time.Time
	ToDate      time.Time
	MinSeats    int
	BrandIDs    []int64
	CreatedAt   time.Time
}

// Validate enforces creation-time invariants.
func (n NewSubscription) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.UserID, validation.Required),
		validation.Field(&n.StationFrom, validation.Required),
		validation.Field(&n.StationTo, validation.Required,
			validation.NotIn(n.StationFrom).Error("must differ from the origin station")),
		validation.Field(&n.FromDate, validation.Required),
		validation.Field(&n.ToDate, validation.Required,
			validation.Min(n.FromDate).Error("must not be before the start date")),
		validation.Field(&n.MinSeats, validation.Required, validation.Min(1)),
	)
}

// User is a Telegram chat registered with the bot.
type User struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	Username  string    `json:"username,omitempty"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Station is an upstream station code with its display name.
type Station struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Brand is an upstream train brand. Name is matched against availability
// responses; DisplayName is shown to users.
type Brand struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// APILog is one outbound HTTP call to the upstream provider.
type APILog struct {
	URL             string    `json:"url"`
	Method          string    `json:"method"`
	RequestHeaders  string    `json:"request_headers,omitempty"`
	RequestBody     string    `json:"request_body,omitempty"`
	ResponseStatus  int       `json:"response_status,omitempty"`
	ResponseBody    string    `json:"response_body,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	IsSuccess       bool      `json:"is_success"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	CorrelationID   string    `json:"correlation_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// MessageLog is one outbound Telegram message.
type MessageLog struct {
	ChatID            int64     `json:"chat_id"`
	MessageText       string    `json:"message_text"`
	MessageType       string    `json:"message_type"`
	RequestID         int64     `json:"request_id,omitempty"`
	HasButtons        bool      `json:"has_buttons"`
	IsSuccess         bool      `json:"is_success"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	TelegramMessageID int       `json:"telegram_message_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// DateOnly truncates t to its calendar day in t's location and returns that
// day at UTC midnight.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
