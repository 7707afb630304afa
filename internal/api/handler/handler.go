// Package handler provides HTTP handlers for the ops endpoints. Handlers
// read the store directly; there is no service layer.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/lookingforticket/ticketwatch/internal/api/respond"
	"github.com/lookingforticket/ticketwatch/internal/cache"
	"github.com/lookingforticket/ticketwatch/internal/config"
	"github.com/lookingforticket/ticketwatch/internal/monitor"
	"github.com/lookingforticket/ticketwatch/internal/store"
)

// Store is the read-only slice of the store the ops API exposes.
type Store interface {
	Ping(ctx context.Context) error
	ListActiveSubscriptions(ctx context.Context) ([]store.Subscription, error)
	ListStations(ctx context.Context) ([]store.Station, error)
	ListBrands(ctx context.Context) ([]store.Brand, error)
}

// StatusSource reports the last completed scheduler tick.
// *monitor.Scheduler implements it.
type StatusSource interface {
	LastResult() *monitor.TickResult
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	store  Store
	status StatusSource
	cache  *cache.Cache
	cfg    *config.Config
}

// New creates a Handler with shared dependencies. status may be nil when
// the scheduler is not running in this process.
func New(st Store, status StatusSource, c *cache.Cache, cfg *config.Config) *Handler {
	return &Handler{
		store:  st,
		status: status,
		cache:  c,
		cfg:    cfg,
	}
}

// Root serves API info at /.
// @Summary API root info
// @Description Returns service name, version, status and enabled features.
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"name":    "ticketwatch",
		"version": "1.0.0",
		"status":  "running",
		"docs":    "/docs",
		"features": []string{
			"availability_monitoring",
			"telegram_notifications",
			"deactivation_prompts",
			"in_memory_cache",
			"etag_support",
		},
	})
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Description Returns basic health status and timestamp.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB verifies storage connectivity.
// @Summary Database health check
// @Description Verifies the configured store (Postgres or bbolt) answers.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/db [get]
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"database":  "disconnected",
			"driver":    h.cfg.StoreDriver,
			"error":     "Database connection check failed",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"database":  "connected",
		"driver":    h.cfg.StoreDriver,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckCache returns cache statistics.
// @Summary Cache health check
// @Description Returns in-memory cache statistics (active keys, expired keys).
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health/cache [get]
func (h *Handler) HealthCheckCache(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"cache":     h.cache.Stats(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
