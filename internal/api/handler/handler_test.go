package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lookingforticket/ticketwatch/internal/cache"
	"github.com/lookingforticket/ticketwatch/internal/config"
	"github.com/lookingforticket/ticketwatch/internal/monitor"
	"github.com/lookingforticket/ticketwatch/internal/store"
)

type fakeStore struct {
	mu       sync.Mutex
	pingErr  error
	listErr  error
	subs     []store.Subscription
	stations []store.Station
	brands   []store.Brand
	lists    int
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeStore) ListActiveSubscriptions(ctx context.Context) ([]store.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	return f.subs, f.listErr
}

func (f *fakeStore) ListStations(ctx context.Context) ([]store.Station, error) {
	return f.stations, nil
}

func (f *fakeStore) ListBrands(ctx context.Context) ([]store.Brand, error) {
	return f.brands, nil
}

type fakeStatus struct{ last *monitor.TickResult }

func (f fakeStatus) LastResult() *monitor.TickResult { return f.last }

func newTestHandler(st *fakeStore, status StatusSource) *Handler {
	cfg := &config.Config{StoreDriver: config.StoreDriverBolt, CheckInterval: time.Minute}
	return New(st, status, cache.New(true), cfg)
}

func get(t *testing.T, fn http.HandlerFunc, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	fn(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthCheckDB(t *testing.T) {
	st := &fakeStore{}
	h := newTestHandler(st, nil)

	rec := get(t, h.HealthCheckDB, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "connected", decode(t, rec)["database"])

	st.pingErr = errors.New("closed")
	rec = get(t, h.HealthCheckDB, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "disconnected", body["database"])
	assert.Equal(t, "bolt", body["driver"])
}

func TestGetStatus(t *testing.T) {
	h := newTestHandler(&fakeStore{}, nil)
	rec := get(t, h.GetStatus, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h = newTestHandler(&fakeStore{}, fakeStatus{})
	rec = get(t, h.GetStatus, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "waiting", body["status"])
	assert.Nil(t, body["last_tick"])

	tick := &monitor.TickResult{TickID: "t-1", Active: 3, Checked: 2, Expired: 1, Notified: 1}
	h = newTestHandler(&fakeStore{}, fakeStatus{last: tick})
	rec = get(t, h.GetStatus, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, tick.Summary(), body["summary"])
	assert.Equal(t, "1m0s", body["interval"])
	last, ok := body["last_tick"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "t-1", last["tick_id"])
}

func TestGetSubscriptionsCachesWithETag(t *testing.T) {
	st := &fakeStore{subs: []store.Subscription{{
		ID: 7, ChatID: 42, StationFrom: "2900000", StationTo: "2900800",
		FromDate: time.Date(2025, 6, 12, 0, 0, 0, 0, time.UTC),
		ToDate:   time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC),
		MinSeats: 1, IsActive: true,
	}}}
	h := newTestHandler(st, nil)

	first := get(t, h.GetSubscriptions, nil)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	etag := first.Header().Get("ETag")
	require.NotEmpty(t, etag)

	var subs []store.Subscription
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &subs))
	require.Len(t, subs, 1)
	assert.Equal(t, int64(7), subs[0].ID)

	second := get(t, h.GetSubscriptions, nil)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())

	notModified := get(t, h.GetSubscriptions, map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusNotModified, notModified.Code)
	assert.Equal(t, 1, st.lists)
}

func TestGetSubscriptionsStoreFailure(t *testing.T) {
	st := &fakeStore{listErr: store.ErrUnavailable}
	h := newTestHandler(st, nil)

	rec := get(t, h.GetSubscriptions, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	errBody, ok := body["error"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "STORE_UNAVAILABLE", errBody["code"])
}

func TestEmptyListsEncodeAsArrays(t *testing.T) {
	h := newTestHandler(&fakeStore{}, nil)

	for _, fn := range []http.HandlerFunc{h.GetSubscriptions, h.GetStations, h.GetBrands} {
		rec := get(t, fn, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	}
}

func TestGetReferenceData(t *testing.T) {
	h := newTestHandler(&fakeStore{
		stations: []store.Station{{ID: "2900000", Name: "Tashkent"}},
		brands:   []store.Brand{{ID: 1, Name: "Sharq", DisplayName: "Sharq"}},
	}, nil)

	rec := get(t, h.GetStations, nil)
	assert.JSONEq(t, `[{"id":"2900000","name":"Tashkent"}]`, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Cache-Control"), "max-age=3600")

	rec = get(t, h.GetBrands, nil)
	assert.JSONEq(t, `[{"id":1,"name":"Sharq","display_name":"Sharq"}]`, rec.Body.String())
}
