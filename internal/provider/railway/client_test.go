package railway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lookingforticket/ticketwatch/internal/store"
	"github.com/lookingforticket/ticketwatch/internal/testfixtures"
)

const sampleResponse = `{
  "express": {
    "hasError": false,
    "type": "EXPRESS",
    "direction": [{
      "type": "Forward",
      "passRoute": {"from": "TOSHKENT", "codeFrom": "2900000", "to": "BUXORO", "codeTo": "2900800"},
      "trains": [{
        "date": "12.06.2025",
        "train": [{
          "number": "766Ф",
          "number2": "",
          "brand": "Afrosiyob",
          "type": "Скоростной",
          "route": {"station": ["TOSHKENT", "BUXORO"]},
          "places": {"cars": [
            {"type": "2", "typeShow": "Biznes", "freeSeats": "1",
             "tariffs": {"tariff": [{"tariff": "450000"}]}},
            {"type": "3", "typeShow": "Ekonom", "freeSeats": 14,
             "tariffs": {"tariff": [{"tariff": "270000"}, {"tariff": "250000"}, {"tariff": "x"}]}}
          ]},
          "departure": {"time": "07:28", "localTime": "07:28", "date": "12.06.2025", "localDate": "12.06.2025"},
          "arrival": {"time": "11:20", "localTime": "11:20", "date": "12.06.2025", "localDate": "12.06.2025"},
          "timeInWay": "03:52"
        }]
      }]
    }]
  }
}`

type fakeAudit struct {
	mu      sync.Mutex
	entries []store.APILog
	err     error
}

func (f *fakeAudit) InsertAPILog(ctx context.Context, e store.APILog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return f.err
}

func (f *fakeAudit) all() []store.APILog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.APILog(nil), f.entries...)
}

func testConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:      baseURL,
		XSRFToken:    "token-abcdef",
		Cookie:       "SESSION=xyz",
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
	}
}

func fetchDate() time.Time {
	return time.Date(2025, time.June, 12, 0, 0, 0, 0, time.UTC)
}

func TestFetchSendsUpstreamRequest(t *testing.T) {
	var captured struct {
		method, path, xsrf, cookie, referer, deviceType string
		body                                            availabilityRequest
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.method = r.Method
		captured.path = r.URL.Path
		captured.xsrf = r.Header.Get("X-XSRF-TOKEN")
		captured.cookie = r.Header.Get("Cookie")
		captured.referer = r.Header.Get("Referer")
		captured.deviceType = r.Header.Get("device-type")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &captured.body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	audit := &fakeAudit{}
	c := NewClient(testConfig(srv.URL), audit, nil)

	resp, err := c.Fetch(context.Background(), "2900000", "2900800", fetchDate())
	require.NoError(t, err)
	require.NotNil(t, resp.Express)
	assert.Len(t, resp.Express.Direction, 1)

	assert.Equal(t, http.MethodPost, captured.method)
	assert.Equal(t, availabilityPath, captured.path)
	assert.Equal(t, "token-abcdef", captured.xsrf)
	assert.Contains(t, captured.cookie, "SESSION=xyz")
	assert.Contains(t, captured.cookie, "XSRF-TOKEN=token-abcdef")
	assert.Equal(t, srv.URL+"/uz/home", captured.referer)
	assert.Equal(t, "BROWSER", captured.deviceType)

	assert.Equal(t, "2900000", captured.body.StationFrom)
	assert.Equal(t, "2900800", captured.body.StationTo)
	require.Len(t, captured.body.Direction, 1)
	assert.Equal(t, "12.06.2025", captured.body.Direction[0].DepDate)
	assert.True(t, captured.body.Direction[0].FullDay)
	assert.Equal(t, "Forward", captured.body.Direction[0].Type)
	assert.Equal(t, 1, captured.body.DetailNumPlaces)
	assert.Equal(t, 0, captured.body.ShowWithoutPlaces)

	entries := audit.all()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsSuccess)
	assert.Equal(t, http.StatusOK, entries[0].ResponseStatus)
	assert.Equal(t, http.MethodPost, entries[0].Method)
	assert.NotEmpty(t, entries[0].CorrelationID)
	assert.NotContains(t, entries[0].RequestHeaders, "token-abcdef")
}

func TestFetchRetriesRateLimitThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	audit := &fakeAudit{}
	sleeper := testfixtures.NewSleeper(nil)
	c := NewClient(testConfig(srv.URL), audit, nil, WithSleep(sleeper.Sleep))

	resp, err := c.Fetch(context.Background(), "2900000", "2900800", fetchDate())
	require.NoError(t, err)
	require.NotNil(t, resp.Express)

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.Sleeps())

	entries := audit.all()
	require.Len(t, entries, 3)
	assert.False(t, entries[0].IsSuccess)
	assert.Equal(t, http.StatusTooManyRequests, entries[0].ResponseStatus)
	assert.True(t, entries[2].IsSuccess)
	assert.Equal(t, entries[0].CorrelationID, entries[2].CorrelationID)
}

func TestFetchRateLimitExhaustedReturnsEmpty(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	sleeper := testfixtures.NewSleeper(nil)
	cfg := testConfig(srv.URL)
	cfg.MaxDelay = 3 * time.Second
	c := NewClient(cfg, nil, nil, WithSleep(sleeper.Sleep))

	resp, err := c.Fetch(context.Background(), "2900000", "2900800", fetchDate())
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Nil(t, resp.Express)
	assert.Empty(t, ExtractTrains(resp, 1, nil))

	assert.Equal(t, int32(4), calls.Load(), "maxRetries+1 attempts")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, sleeper.Sleeps())
}

func TestFetchDoesNotRetryOtherFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    error
		message string
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				_, _ = w.Write([]byte("bad gateway"))
			},
			want:    ErrUnexpectedStatus,
			message: "bad gateway",
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"express": [`))
			},
			want: ErrMalformedResponse,
		},
		{
			name: "html challenge page",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				_, _ = w.Write([]byte(`<!DOCTYPE html><html><head><title>Just a moment...</title></head><body></body></html>`))
			},
			want:    ErrMalformedResponse,
			message: "Just a moment...",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				tc.handler(w, r)
			}))
			defer srv.Close()

			audit := &fakeAudit{}
			sleeper := testfixtures.NewSleeper(nil)
			c := NewClient(testConfig(srv.URL), audit, nil, WithSleep(sleeper.Sleep))

			resp, err := c.Fetch(context.Background(), "2900000", "2900800", fetchDate())
			assert.Nil(t, resp)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			if tc.message != "" {
				assert.Contains(t, err.Error(), tc.message)
			}
			assert.Equal(t, int32(1), calls.Load())
			assert.Empty(t, sleeper.Sleeps())

			entries := audit.all()
			require.Len(t, entries, 1)
			assert.False(t, entries[0].IsSuccess)
			assert.NotEmpty(t, entries[0].ErrorMessage)
		})
	}
}

func TestFetchNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(testConfig(url), nil, nil)
	_, err := c.Fetch(context.Background(), "2900000", "2900800", fetchDate())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransientNetwork)
	assert.Equal(t, KindTransientNetwork, KindOf(err))
}

func TestFetchAuditFailureDoesNotAffectResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	audit := &fakeAudit{err: errors.New("database is down")}
	c := NewClient(testConfig(srv.URL), audit, nil)

	resp, err := c.Fetch(context.Background(), "2900000", "2900800", fetchDate())
	require.NoError(t, err)
	assert.NotNil(t, resp.Express)
	assert.Len(t, audit.all(), 1)
}

func TestFetchTimeoutDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sleep := func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	c := NewClient(testConfig(srv.URL), nil, nil, WithSleep(sleep))

	_, err := c.Fetch(ctx, "2900000", "2900800", fetchDate())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(0, time.Second, 10*time.Second))
	assert.Equal(t, 2*time.Second, Backoff(1, time.Second, 10*time.Second))
	assert.Equal(t, 8*time.Second, Backoff(3, time.Second, 10*time.Second))
	assert.Equal(t, 10*time.Second, Backoff(4, time.Second, 10*time.Second))
	assert.Equal(t, 10*time.Second, Backoff(60, time.Second, 10*time.Second))
	assert.Equal(t, 4*time.Second, Backoff(2, time.Second, 0))
}

func TestDescribeHeadersMasksSecrets(t *testing.T) {
	c := NewClient(testConfig("https://e-ticket.example"), nil, nil)
	h := c.describeHeaders()
	assert.True(t, strings.Contains(h, "X-XSRF-TOKEN: toke****"))
	assert.NotContains(t, h, "SESSION=xyz")
}
