package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore implements Store on a pgx pool whose connections carry the
// prepared statements registered by package db.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore wraps an open pool. The caller keeps ownership of the pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// --------------------------------------------------------------------------
// Scheduler lifecycle
// --------------------------------------------------------------------------

func (s *PgStore) ListActiveSubscriptions(ctx context.Context) ([]Subscription, error) {
	rows, err := s.pool.Query(ctx, "list_active_subscriptions")
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}

func (s *PgStore) UpdateLastChecked(ctx context.Context, id int64, ts time.Time) error {
	return s.execOne(ctx, "update_last_checked", id, ts)
}

func (s *PgStore) UpdateLastNotified(ctx context.Context, id int64, ts time.Time) error {
	return s.execOne(ctx, "update_last_notified", id, ts)
}

func (s *PgStore) IncrementNotificationCount(ctx context.Context, id int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, "increment_notification_count", id).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment notification count: %w", err)
	}
	return n, nil
}

func (s *PgStore) SetActive(ctx context.Context, id int64, active bool) error {
	return s.execOne(ctx, "set_active", id, active)
}

func (s *PgStore) ResetNotificationCount(ctx context.Context, id int64) error {
	return s.execOne(ctx, "reset_notification_count", id)
}

func (s *PgStore) BrandFilter(ctx context.Context, id int64) ([]string, error) {
	return s.strings(ctx, "brand_filter", id)
}

func (s *PgStore) BrandDisplayNames(ctx context.Context, id int64) ([]string, error) {
	return s.strings(ctx, "brand_display_names", id)
}

// --------------------------------------------------------------------------
// Subscriptions and users
// --------------------------------------------------------------------------

func (s *PgStore) GetSubscription(ctx context.Context, id int64) (Subscription, error) {
	rows, err := s.pool.Query(ctx, "subscription_by_id", id)
	if err != nil {
		return Subscription{}, fmt.Errorf("get subscription: %w", err)
	}
	subs, err := collectSubscriptions(rows)
	if err != nil {
		return Subscription{}, err
	}
	if len(subs) == 0 {
		return Subscription{}, ErrNotFound
	}
	return subs[0], nil
}

func (s *PgStore) ListSubscriptionsByChat(ctx context.Context, chatID int64, activeOnly bool) ([]Subscription, error) {
	rows, err := s.pool.Query(ctx, "subscriptions_by_chat", chatID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions by chat: %w", err)
	}
	return collectSubscriptions(rows)
}

// CreateSubscription inserts the subscription and its brand links in one
// transaction.
func (s *PgStore) CreateSubscription(ctx context.Context, sub NewSubscription) (int64, error) {
	if err := sub.Validate(); err != nil {
		return 0, err
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx, "insert_subscription",
		sub.UserID, sub.StationFrom, sub.StationTo,
		DateOnly(sub.FromDate), DateOnly(sub.ToDate), sub.MinSeats, sub.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert subscription: %w", err)
	}

	for _, brandID := range sub.BrandIDs {
		if _, err := tx.Exec(ctx, "insert_subscription_brand", id, brandID); err != nil {
			return 0, fmt.Errorf("insert subscription brand %d: %w", brandID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

func (s *PgStore) GetUserByChatID(ctx context.Context, chatID int64) (User, error) {
	var (
		u                   User
		username, fst, last *string
	)
	err := s.pool.QueryRow(ctx, "user_by_chat_id", chatID).
		Scan(&u.ID, &u.ChatID, &username, &fst, &last, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	u.Username, u.FirstName, u.LastName = deref(username), deref(fst), deref(last)
	return u, nil
}

// CreateUser registers a chat. The bool reports whether a new row was made;
// an existing registration is returned unchanged.
func (s *PgStore) CreateUser(ctx context.Context, u User) (User, bool, error) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	err := s.pool.QueryRow(ctx, "insert_user",
		u.ChatID, nullable(u.Username), nullable(u.FirstName), nullable(u.LastName), u.CreatedAt,
	).Scan(&u.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, getErr := s.GetUserByChatID(ctx, u.ChatID)
		return existing, false, getErr
	}
	if err != nil {
		return User{}, false, fmt.Errorf("insert user: %w", err)
	}
	return u, true, nil
}

// --------------------------------------------------------------------------
// Reference data
// --------------------------------------------------------------------------

func (s *PgStore) ListStations(ctx context.Context) ([]Station, error) {
	rows, err := s.pool.Query(ctx, "list_stations")
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}
	defer rows.Close()

	var stations []Station
	for rows.Next() {
		var st Station
		if err := rows.Scan(&st.ID, &st.Name); err != nil {
			return nil, fmt.Errorf("scan station: %w", err)
		}
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

func (s *PgStore) GetStation(ctx context.Context, id string) (Station, error) {
	var st Station
	err := s.pool.QueryRow(ctx, "station_by_id", id).Scan(&st.ID, &st.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Station{}, ErrNotFound
	}
	if err != nil {
		return Station{}, fmt.Errorf("get station: %w", err)
	}
	return st, nil
}

func (s *PgStore) UpsertStation(ctx context.Context, st Station) error {
	if _, err := s.pool.Exec(ctx, "upsert_station", st.ID, st.Name); err != nil {
		return fmt.Errorf("upsert station %s: %w", st.ID, err)
	}
	return nil
}

func (s *PgStore) ListBrands(ctx context.Context) ([]Brand, error) {
	rows, err := s.pool.Query(ctx, "list_brands")
	if err != nil {
		return nil, fmt.Errorf("list brands: %w", err)
	}
	defer rows.Close()

	var brands []Brand
	for rows.Next() {
		var b Brand
		if err := rows.Scan(&b.ID, &b.Name, &b.DisplayName); err != nil {
			return nil, fmt.Errorf("scan brand: %w", err)
		}
		brands = append(brands, b)
	}
	return brands, rows.Err()
}

func (s *PgStore) UpsertBrand(ctx context.Context, b Brand) error {
	if _, err := s.pool.Exec(ctx, "upsert_brand", b.Name, b.DisplayName); err != nil {
		return fmt.Errorf("upsert brand %s: %w", b.Name, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Logs
// --------------------------------------------------------------------------

func (s *PgStore) InsertAPILog(ctx context.Context, e APILog) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, "insert_api_log",
		e.URL, e.Method, nullable(e.RequestHeaders), nullable(e.RequestBody),
		nullableInt(e.ResponseStatus), nullable(e.ResponseBody), nullable(e.ErrorMessage),
		e.IsSuccess, e.ExecutionTimeMs, nullable(e.CorrelationID), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert api log: %w", err)
	}
	return nil
}

func (s *PgStore) InsertMessageLog(ctx context.Context, e MessageLog) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	var requestID *int64
	if e.RequestID != 0 {
		requestID = &e.RequestID
	}
	_, err := s.pool.Exec(ctx, "insert_message_log",
		e.ChatID, e.MessageText, e.MessageType, requestID,
		e.HasButtons, e.IsSuccess, nullable(e.ErrorMessage), nullableInt(e.TelegramMessageID), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message log: %w", err)
	}
	return nil
}

// PurgeLogs deletes audit and message log rows created before the cutoff.
func (s *PgStore) PurgeLogs(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for _, stmt := range []string{"purge_api_logs", "purge_message_logs"} {
		tag, err := s.pool.Exec(ctx, stmt, before)
		if err != nil {
			return total, fmt.Errorf("%s: %w", stmt, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

func (s *PgStore) Ping(ctx context.Context) error {
	var n int
	return s.pool.QueryRow(ctx, "health_check").Scan(&n)
}

// Close is a no-op: the pool belongs to the caller.
func (s *PgStore) Close() error { return nil }

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// execOne runs an update and maps "no row touched" to ErrNotFound.
func (s *PgStore) execOne(ctx context.Context, stmt string, args ...any) error {
	tag, err := s.pool.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", stmt, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) strings(ctx context.Context, stmt string, args ...any) ([]string, error) {
	rows, err := s.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", stmt, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan %s: %w", stmt, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func collectSubscriptions(rows pgx.Rows) ([]Subscription, error) {
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		err := rows.Scan(
			&sub.ID, &sub.UserID, &sub.ChatID,
			&sub.StationFrom, &sub.StationFromName, &sub.StationTo, &sub.StationToName,
			&sub.FromDate, &sub.ToDate, &sub.MinSeats, &sub.IsActive,
			&sub.LastCheckedAt, &sub.LastNotifiedAt, &sub.NotificationCount, &sub.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		sub.FromDate = DateOnly(sub.FromDate)
		sub.ToDate = DateOnly(sub.ToDate)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableInt(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
