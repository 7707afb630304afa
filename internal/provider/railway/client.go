// Package railway provides the client for the railway e-ticket availability
// API and the aggregator that fans a date range out into per-day queries.
//
// The upstream rate-limits by client identity and answers 429 when pushed.
// Only 429 is retried, with capped exponential backoff; every HTTP attempt is
// written to the audit log.
package railway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/lookingforticket/ticketwatch/internal/store"
)

const (
	availabilityPath = "/api/v3/trains/availability/space/between/stations"
	userAgent        = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36"

	maxResponseBytes = 4 << 20
	maxAuditBody     = 32 << 10
	auditTimeout     = 5 * time.Second
)

// AuditLogger persists one row per outbound HTTP call.
type AuditLogger interface {
	InsertAPILog(ctx context.Context, entry store.APILog) error
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ClientConfig holds the upstream endpoint, credentials and retry policy.
type ClientConfig struct {
	BaseURL           string
	XSRFToken         string
	Cookie            string // raw Cookie header, optional
	RequestsPerMinute int    // 0 disables the client-side limiter
	HTTPTimeout       time.Duration
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
}

// Client is the HTTP client for the availability endpoint.
type Client struct {
	httpClient *http.Client
	cfg        ClientConfig
	limiter    *rate.Limiter
	audit      AuditLogger
	sleep      SleepFunc
	logger     *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithSleep replaces the backoff sleep, for tests.
func WithSleep(fn SleepFunc) Option {
	return func(c *Client) { c.sleep = fn }
}

// NewClient creates a rate-limited availability client. audit may be nil.
func NewClient(cfg ClientConfig, audit AuditLogger, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 20 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	}

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, 1),
		audit:      audit,
		sleep:      SleepContext,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch queries availability for one calendar date.
//
// A 429 is retried up to MaxRetries times; the wait before retry k (from 0)
// is min(InitialDelay*2^k, MaxDelay). When retries run out the result is an
// empty response and a nil error. Any other failure returns an *Error
// immediately.
func (c *Client) Fetch(ctx context.Context, origin, destination string, date time.Time) (*AvailabilityResponse, error) {
	payload, err := json.Marshal(newAvailabilityRequest(origin, destination, date))
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	correlationID := uuid.NewString()
	day := date.Format(time.DateOnly)

	for attempt := 0; ; attempt++ {
		resp, err := c.post(ctx, payload, correlationID)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrRateLimited) {
			return nil, err
		}
		if attempt >= c.cfg.MaxRetries {
			c.logger.Warn("Rate limited after all retries, skipping date",
				"from", origin, "to", destination, "date", day,
				"max_retries", c.cfg.MaxRetries)
			return &AvailabilityResponse{}, nil
		}

		delay := Backoff(attempt, c.cfg.InitialDelay, c.cfg.MaxDelay)
		c.logger.Warn("Rate limited (429), retrying",
			"attempt", attempt+1, "max_retries", c.cfg.MaxRetries,
			"delay", delay, "from", origin, "to", destination, "date", day)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, &Error{Kind: KindTimeout, Message: "backoff interrupted", Err: err}
		}
	}
}

// Backoff returns min(initial*2^attempt, maxDelay). A non-positive maxDelay
// means no cap.
func Backoff(attempt int, initial, maxDelay time.Duration) time.Duration {
	d := initial
	for i := 0; i < attempt; i++ {
		if maxDelay > 0 && d >= maxDelay {
			break
		}
		d *= 2
	}
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}

// post performs a single HTTP attempt and records it in the audit log.
func (c *Client) post(ctx context.Context, payload []byte, correlationID string) (*AvailabilityResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindTimeout, Message: "rate limit wait", Err: err}
	}

	u := c.cfg.BaseURL + availabilityPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	entry := store.APILog{
		URL:            u,
		Method:         http.MethodPost,
		RequestHeaders: c.describeHeaders(),
		RequestBody:    string(payload),
		CorrelationID:  correlationID,
	}
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := KindTransientNetwork
		if isTimeout(ctx, err) {
			kind = KindTimeout
		}
		upstreamErr := &Error{Kind: kind, Err: err}
		c.record(ctx, entry, start, 0, nil, upstreamErr)
		return nil, upstreamErr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		upstreamErr := &Error{Kind: KindTransientNetwork, Status: resp.StatusCode, Message: "read body", Err: err}
		c.record(ctx, entry, start, resp.StatusCode, nil, upstreamErr)
		return nil, upstreamErr
	}

	result, upstreamErr := decodeResponse(resp.StatusCode, resp.Header.Get("Content-Type"), body)
	c.record(ctx, entry, start, resp.StatusCode, body, upstreamErr)
	if upstreamErr != nil {
		return nil, upstreamErr
	}
	return result, nil
}

// decodeResponse maps a completed HTTP exchange to a response or an *Error.
func decodeResponse(status int, contentType string, body []byte) (*AvailabilityResponse, error) {
	switch {
	case status == http.StatusTooManyRequests:
		return nil, &Error{Kind: KindRateLimited, Status: status}
	case status < 200 || status >= 300:
		return nil, &Error{Kind: KindUnexpectedStatus, Status: status, Message: truncate(body, 200)}
	case looksLikeHTML(contentType, body):
		return nil, &Error{Kind: KindMalformedResponse, Status: status, Message: "html page: " + pageSummary(body)}
	}

	var result AvailabilityResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &Error{Kind: KindMalformedResponse, Status: status, Err: err}
	}
	return &result, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "uz")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", c.cfg.BaseURL)
	req.Header.Set("Referer", c.cfg.BaseURL+"/uz/home")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("device-type", "BROWSER")
	req.Header.Set("X-XSRF-TOKEN", c.cfg.XSRFToken)
	if c.cfg.Cookie != "" {
		req.Header.Set("Cookie", c.cfg.Cookie)
	}
	req.AddCookie(&http.Cookie{Name: "XSRF-TOKEN", Value: c.cfg.XSRFToken})
}

// describeHeaders renders request headers for the audit log with the
// credentials masked.
func (c *Client) describeHeaders() string {
	var b strings.Builder
	b.WriteString("Accept: application/json\n")
	b.WriteString("Accept-Language: uz\n")
	b.WriteString("Content-Type: application/json\n")
	fmt.Fprintf(&b, "Origin: %s\n", c.cfg.BaseURL)
	fmt.Fprintf(&b, "Referer: %s/uz/home\n", c.cfg.BaseURL)
	fmt.Fprintf(&b, "X-XSRF-TOKEN: %s\n", mask(c.cfg.XSRFToken))
	if c.cfg.Cookie != "" {
		fmt.Fprintf(&b, "Cookie: %s\n", mask(c.cfg.Cookie))
	}
	return b.String()
}

// record writes the audit row. Failures are logged and never reach the
// caller; the write outlives a cancelled request context.
func (c *Client) record(ctx context.Context, entry store.APILog, start time.Time, status int, body []byte, callErr error) {
	if c.audit == nil {
		return
	}
	entry.ExecutionTimeMs = time.Since(start).Milliseconds()
	entry.ResponseStatus = status
	entry.ResponseBody = truncate(body, maxAuditBody)
	entry.IsSuccess = callErr == nil
	if callErr != nil {
		entry.ErrorMessage = callErr.Error()
	}
	entry.CreatedAt = time.Now()

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := c.audit.InsertAPILog(auditCtx, entry); err != nil {
		c.logger.Warn("Failed to write API log", "url", entry.URL, "error", err)
	}
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isTimeout(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func mask(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:4] + "****"
}

// truncate returns a truncated string representation for logs and errors.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
