// Package fitbit fetches one day of biometric data from the Fitbit web API,
// one request per category, with cooperative self-throttling against the
// vendor's per-hour rate limit.
package fitbit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// DefaultBaseURL is the Fitbit API origin.
const DefaultBaseURL = "https://api.fitbit.com"

// Categories is the fixed set of per-day datasets, in fetch order.
var Categories = []string{"sleep", "activity", "heart_rate", "steps"}

// endpoints maps each category to its path template, parameterized only by
// the ISO date.
var endpoints = map[string]string{
	"sleep":      "/1.2/user/-/sleep/date/%s.json",
	"activity":   "/1/user/-/activities/date/%s.json",
	"heart_rate": "/1/user/-/activities/heart/date/%s/1d/1min.json",
	"steps":      "/1/user/-/activities/steps/date/%s/1d.json",
}

const (
	// rateLimitHeader carries the remaining request quota for the window.
	rateLimitHeader  = "Fitbit-Rate-Limit-Remaining"
	retryAfterHeader = "Retry-After"

	// Low-water marks for cooperative throttling. Crossing lowQuota sleeps
	// briefly; crossing criticalQuota sleeps long enough to ride out most
	// of the window without tripping a hard 429.
	lowQuota      = 20
	criticalQuota = 10

	lowQuotaSleep      = 5 * time.Second
	criticalQuotaSleep = 30 * time.Second

	// interRequestDelay spreads the category requests within one date.
	interRequestDelay = 500 * time.Millisecond
)

// DayResult holds one date's fetch outcome: the payload per category that
// returned 200, and every category's HTTP status. A transport-level failure
// is recorded as status 0 with no payload.
type DayResult struct {
	Payloads map[string]json.RawMessage
	Statuses map[string]int
}

// AnyStatus reports whether any category finished with the given status.
func (r DayResult) AnyStatus(code int) bool {
	for _, s := range r.Statuses {
		if s == code {
			return true
		}
	}
	return false
}

// AllFailed reports whether no category returned 200.
func (r DayResult) AllFailed() bool {
	for _, s := range r.Statuses {
		if s == http.StatusOK {
			return false
		}
	}
	return true
}

// Client fetches per-day data from the Fitbit API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
	sleep      func(time.Duration)
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API origin (tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithSleep overrides the throttle sleep function (tests).
func WithSleep(fn func(time.Duration)) Option {
	return func(c *Client) { c.sleep = fn }
}

// NewClient creates a Fitbit API client. The HTTP client and logger may be
// nil, in which case defaults are used.
func NewClient(httpClient *http.Client, logger *slog.Logger, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		httpClient: httpClient,
		baseURL:    DefaultBaseURL,
		logger:     logger,
		sleep:      time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchDay issues one GET per category for the given date. A failure in one
// category never aborts the remaining categories; the caller inspects the
// status map to distinguish 401/429/5xx.
func (c *Client) FetchDay(ctx context.Context, accessToken string, date time.Time) DayResult {
	dateStr := date.Format("2006-01-02")
	result := DayResult{
		Payloads: make(map[string]json.RawMessage, len(Categories)),
		Statuses: make(map[string]int, len(Categories)),
	}

	for i, category := range Categories {
		if i > 0 {
			c.sleep(interRequestDelay)
		}

		status, payload, remaining, retryAfter, err := c.fetchCategory(ctx, accessToken, category, dateStr)
		if err != nil {
			c.logger.Error("category fetch failed", "category", category, "date", dateStr, "error", err)
			result.Statuses[category] = 0
			continue
		}

		result.Statuses[category] = status
		switch {
		case status == http.StatusOK:
			result.Payloads[category] = payload
		case status == http.StatusTooManyRequests:
			c.logger.Warn("rate limited by vendor", "category", category, "date", dateStr, "retry_after", retryAfter)
		default:
			c.logger.Warn("category fetch returned non-200", "category", category, "date", dateStr, "status", status)
		}

		c.throttle(remaining)
	}

	return result
}

func (c *Client) fetchCategory(ctx context.Context, accessToken, category, dateStr string) (status int, payload json.RawMessage, remaining int, retryAfter int, err error) {
	url := c.baseURL + fmt.Sprintf(endpoints[category], dateStr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, -1, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, -1, 0, fmt.Errorf("request %s: %w", category, err)
	}
	defer resp.Body.Close()

	remaining = parseHeaderInt(resp.Header.Get(rateLimitHeader), -1)
	retryAfter = parseHeaderInt(resp.Header.Get(retryAfterHeader), 60)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, remaining, retryAfter, fmt.Errorf("read %s response: %w", category, err)
	}

	if resp.StatusCode == http.StatusOK {
		if !json.Valid(body) {
			return 0, nil, remaining, retryAfter, fmt.Errorf("malformed %s payload", category)
		}
		return resp.StatusCode, json.RawMessage(body), remaining, retryAfter, nil
	}
	return resp.StatusCode, nil, remaining, retryAfter, nil
}

// throttle sleeps when the remaining quota drops under the low-water marks.
// remaining < 0 means the header was absent; no throttling then.
func (c *Client) throttle(remaining int) {
	if remaining < 0 || remaining >= lowQuota {
		return
	}
	wait := lowQuotaSleep
	if remaining < criticalQuota {
		wait = criticalQuotaSleep
	}
	c.logger.Warn("approaching rate limit, backing off", "remaining", remaining, "wait", wait)
	c.sleep(wait)
}

func parseHeaderInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}
