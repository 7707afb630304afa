// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/watcher and cmd/ticketctl.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // default zone must resolve on minimal images

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// --------------------------------------------------------------------------
// Store drivers
// --------------------------------------------------------------------------

const (
	StoreDriverPostgres = "postgres"
	StoreDriverBolt     = "bolt"
)

// --------------------------------------------------------------------------
// Config struct, populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Storage
	StoreDriver    string // postgres | bolt
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration
	BoltPath       string
	AutoMigrate    bool

	// Ops HTTP server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool
	LogLevel    string
	LogFormat   string // text | json

	// CORS
	CORSAllowOrigins []string

	// Rate limiting (ops API)
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Railway upstream
	RailwayBaseURL           string
	RailwayXSRFToken         string
	RailwayCookie            string
	RailwayRequestsPerMinute int
	RailwayHTTPTimeout       time.Duration

	// Scheduler
	CheckInterval        time.Duration
	DelayBetweenRequests time.Duration
	MaxRetries           int
	InitialRetryDelay    time.Duration
	MaxRetryDelay        time.Duration
	SubscriptionTimeout  time.Duration
	PromptEvery          int
	Timezone             string

	// Telegram
	TelegramBotToken    string
	TelegramPollTimeout int // seconds

	// Maintenance
	LogRetention    time.Duration
	CleanupInterval time.Duration
	SessionTTL      time.Duration

	// Cache
	CacheEnabled bool
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		StoreDriver:    strings.ToLower(envOr("STORE_DRIVER", StoreDriverPostgres)),
		DatabaseURL:    envOr("DATABASE_URL", ""),
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 1),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 5),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,
		BoltPath:       envOr("BOLT_PATH", "ticketwatch.db"),
		AutoMigrate:    envBool("AUTO_MIGRATE", false),

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8080)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),
		LogLevel:    strings.ToUpper(envOr("LOG_LEVEL", "INFO")),
		LogFormat:   strings.ToLower(envOr("LOG_FORMAT", "text")),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		RailwayBaseURL:           strings.TrimRight(envOr("RAILWAY_BASE_URL", "https://e-ticket.railway.uz"), "/"),
		RailwayXSRFToken:         envOr("RAILWAY_XSRF_TOKEN", ""),
		RailwayCookie:            envOr("RAILWAY_COOKIE", ""),
		RailwayRequestsPerMinute: envInt("RAILWAY_REQUESTS_PER_MINUTE", 0),
		RailwayHTTPTimeout:       envDuration("RAILWAY_HTTP_TIMEOUT_SECONDS", 20*time.Second, time.Second),

		CheckInterval:        envDuration("SCHEDULER_INTERVAL_SECONDS", time.Minute, time.Second),
		DelayBetweenRequests: envDuration("SCHEDULER_REQUEST_DELAY_MS", 2*time.Second, time.Millisecond),
		MaxRetries:           envInt("RAILWAY_MAX_RETRIES", 3),
		InitialRetryDelay:    envDuration("RAILWAY_INITIAL_RETRY_DELAY_MS", time.Second, time.Millisecond),
		MaxRetryDelay:        envDuration("RAILWAY_MAX_RETRY_DELAY_MS", 10*time.Second, time.Millisecond),
		SubscriptionTimeout:  envDuration("SCHEDULER_SUBSCRIPTION_TIMEOUT_SECONDS", 30*time.Second, time.Second),
		PromptEvery:          envInt("ESCALATION_PROMPT_EVERY", 2),
		Timezone:             envOr("TIMEZONE", "Asia/Tashkent"),

		TelegramBotToken:    envOr("TELEGRAM_BOT_TOKEN", ""),
		TelegramPollTimeout: envInt("TELEGRAM_POLL_TIMEOUT_SECONDS", 10),

		LogRetention:    time.Duration(envInt("LOG_RETENTION_DAYS", 30)) * 24 * time.Hour,
		CleanupInterval: envDuration("MAINTENANCE_CLEANUP_MINUTES", time.Hour, time.Minute),
		SessionTTL:      envDuration("WIZARD_SESSION_TTL_MINUTES", 24*time.Hour, time.Minute),

		CacheEnabled: envBool("CACHE_ENABLED", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints that defaults alone cannot guarantee.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.StoreDriver, validation.Required, validation.In(StoreDriverPostgres, StoreDriverBolt)),
		validation.Field(&c.DatabaseURL, validation.When(c.StoreDriver == StoreDriverPostgres,
			validation.Required.Error("DATABASE_URL must be set when STORE_DRIVER=postgres"))),
		validation.Field(&c.BoltPath, validation.When(c.StoreDriver == StoreDriverBolt, validation.Required)),
		validation.Field(&c.RailwayBaseURL, validation.Required),
		validation.Field(&c.CheckInterval, validation.Min(time.Second)),
		validation.Field(&c.DelayBetweenRequests, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxRetries, validation.Min(0)),
		validation.Field(&c.InitialRetryDelay, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxRetryDelay, validation.Min(c.InitialRetryDelay)),
		validation.Field(&c.SubscriptionTimeout, validation.Min(time.Second)),
		validation.Field(&c.PromptEvery, validation.Min(1)),
		validation.Field(&c.Timezone, validation.Required, validation.By(validLocation)),
		validation.Field(&c.LogFormat, validation.In("text", "json")),
	)
}

// Location resolves the configured time zone used for "today".
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func validLocation(value interface{}) error {
	name, _ := value.(string)
	if _, err := time.LoadLocation(name); err != nil {
		return fmt.Errorf("unknown time zone %q", name)
	}
	return nil
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

// envDuration reads an integer count of unit from key.
func envDuration(key string, fallback, unit time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return time.Duration(n) * unit
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
