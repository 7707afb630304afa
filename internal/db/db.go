// Package db provides a pgxpool-based connection pool with prepared statement
// registration, schema migration and health checking.
package db

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lookingforticket/ticketwatch/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool. The schema must already
// exist: statements are prepared on every new connection.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Migrate applies schema.sql over a dedicated connection. Every statement is
// idempotent, so it is safe to run on each start.
func Migrate(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

// subscriptionColumns is the select list shared by every subscription query.
const subscriptionColumns = `
	r.id, r.user_id, u.chat_id,
	r.station_from_id, sf.name, r.station_to_id, st.name,
	r.from_date, r.to_date, r.min_seats, r.is_active,
	r.last_checked_at, r.last_notified_at, r.notification_count, r.created_at
	FROM requests r
	JOIN users u ON u.id = r.user_id
	JOIN stations sf ON sf.id = r.station_from_id
	JOIN stations st ON st.id = r.station_to_id`

// registerPreparedStatements registers all statements the scheduler, the
// listener and the ops API use.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		"health_check": "SELECT 1",

		// Scheduler: subscription lifecycle (single-column atomic updates)
		"list_active_subscriptions":    "SELECT" + subscriptionColumns + " WHERE r.is_active = true ORDER BY r.id",
		"update_last_checked":          "UPDATE requests SET last_checked_at = $2 WHERE id = $1",
		"update_last_notified":         "UPDATE requests SET last_notified_at = $2 WHERE id = $1",
		"increment_notification_count": "UPDATE requests SET notification_count = notification_count + 1 WHERE id = $1 RETURNING notification_count",
		"set_active":                   "UPDATE requests SET is_active = $2 WHERE id = $1",
		"reset_notification_count":     "UPDATE requests SET notification_count = 0 WHERE id = $1",
		"brand_filter":                 "SELECT b.name FROM request_brands rb JOIN brands b ON b.id = rb.brand_id WHERE rb.request_id = $1 ORDER BY b.name",
		"brand_display_names":          "SELECT b.display_name FROM request_brands rb JOIN brands b ON b.id = rb.brand_id WHERE rb.request_id = $1 ORDER BY b.display_name",

		// Listener / wizard
		"subscription_by_id":       "SELECT" + subscriptionColumns + " WHERE r.id = $1",
		"subscriptions_by_chat":    "SELECT" + subscriptionColumns + " WHERE u.chat_id = $1 AND (r.is_active OR NOT $2) ORDER BY r.id",
		"user_by_chat_id":          "SELECT id, chat_id, username, first_name, last_name, created_at FROM users WHERE chat_id = $1",
		"insert_user":              "INSERT INTO users (chat_id, username, first_name, last_name, created_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (chat_id) DO NOTHING RETURNING id",
		"insert_subscription":      "INSERT INTO requests (user_id, station_from_id, station_to_id, from_date, to_date, min_seats, is_active, notification_count, created_at) VALUES ($1, $2, $3, $4, $5, $6, true, 0, $7) RETURNING id",
		"insert_subscription_brand": "INSERT INTO request_brands (request_id, brand_id) VALUES ($1, $2)",
		"list_stations":            "SELECT id, name FROM stations ORDER BY name",
		"station_by_id":            "SELECT id, name FROM stations WHERE id = $1",
		"list_brands":              "SELECT id, name, display_name FROM brands ORDER BY display_name",

		// Seeding
		"upsert_station": "INSERT INTO stations (id, name) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name",
		"upsert_brand":   "INSERT INTO brands (name, display_name) VALUES ($1, $2) ON CONFLICT (name) DO UPDATE SET display_name = EXCLUDED.display_name",

		// Audit and message logs
		"insert_api_log": `INSERT INTO api_logs (request_url, request_method, request_headers, request_body,
			response_status, response_body, error_message, is_success, execution_time_ms, correlation_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		"insert_message_log": `INSERT INTO message_logs (chat_id, message_text, message_type, request_id,
			has_buttons, is_success, error_message, telegram_message_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		"purge_api_logs":     "DELETE FROM api_logs WHERE created_at < $1",
		"purge_message_logs": "DELETE FROM message_logs WHERE created_at < $1",
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
