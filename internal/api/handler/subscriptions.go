package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/lookingforticket/ticketwatch/internal/api/respond"
	"github.com/lookingforticket/ticketwatch/internal/cache"
)

// GetSubscriptions lists every active subscription.
// @Summary Active subscriptions
// @Description Returns active subscriptions with route, window, seat threshold and notification count.
// @Tags subscriptions
// @Produce json
// @Success 200 {array} store.Subscription
// @Success 304 "Not modified"
// @Failure 503 {object} respond.ErrorResponse
// @Router /subscriptions [get]
func (h *Handler) GetSubscriptions(w http.ResponseWriter, r *http.Request) {
	h.serveCached(w, r, "subscriptions:active", cache.TTLSubscriptions, func() (interface{}, error) {
		return h.store.ListActiveSubscriptions(r.Context())
	})
}

// GetStations lists the stations offered by the wizard.
// @Summary Stations
// @Tags reference
// @Produce json
// @Success 200 {array} store.Station
// @Success 304 "Not modified"
// @Failure 503 {object} respond.ErrorResponse
// @Router /stations [get]
func (h *Handler) GetStations(w http.ResponseWriter, r *http.Request) {
	h.serveCached(w, r, "stations", cache.TTLReference, func() (interface{}, error) {
		return h.store.ListStations(r.Context())
	})
}

// GetBrands lists the train brands a subscription can filter on.
// @Summary Brands
// @Tags reference
// @Produce json
// @Success 200 {array} store.Brand
// @Success 304 "Not modified"
// @Failure 503 {object} respond.ErrorResponse
// @Router /brands [get]
func (h *Handler) GetBrands(w http.ResponseWriter, r *http.Request) {
	h.serveCached(w, r, "brands", cache.TTLReference, func() (interface{}, error) {
		return h.store.ListBrands(r.Context())
	})
}

// serveCached answers from the cache when possible, honouring
// If-None-Match, and otherwise loads, marshals and caches the value.
func (h *Handler) serveCached(w http.ResponseWriter, r *http.Request, key string, ttl time.Duration, load func() (interface{}, error)) {
	if data, etag, ok := h.cache.Get(key); ok {
		if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
			respond.WriteNotModified(w, etag)
			return
		}
		respond.WriteJSON(w, data, etag, ttl, true)
		return
	}

	v, err := load()
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE",
			"Failed to read from the store", err.Error())
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "ENCODE_FAILED", "Failed to encode response")
		return
	}
	if string(data) == "null" {
		data = []byte("[]")
	}

	etag := h.cache.Set(key, data, ttl)
	if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
		respond.WriteNotModified(w, etag)
		return
	}
	respond.WriteJSON(w, data, etag, ttl, false)
}
