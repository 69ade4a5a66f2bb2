// Package records talks to the external document database that holds the
// pipeline's work items. Work-item state lives there; the engine only reads
// candidates and writes results back.
package records

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"reelpipe/internal/services"
)

const (
	defaultHTTPTimeout    = 30 * time.Second
	defaultRetryAttempts  = 4
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
	defaultRateLimit      = 2.5 // requests per second
	defaultPageSize       = 100
)

// Config captures the runtime settings required to talk to the record store.
type Config struct {
	APIKey          string
	BaseURL         string
	Version         string
	RateLimitPerSec float64
	TimeoutSeconds  int
}

// Client wraps the record-store HTTP API. All requests pass through a
// client-side rate limiter so bursts never trip the upstream quota.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rateLimiter

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(ctx context.Context, d time.Duration) error
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryMaxAttempts overrides the default retry count.
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.retryMaxAttempts = attempts
		}
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how rate-limit and retry sleeps are performed (used
// in tests).
func WithSleeper(sleeper func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if sleeper != nil {
			c.sleeper = sleeper
		}
	}
}

// WithClock overrides the rate limiter's time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.limiter.now = now
		}
	}
}

// NewClient constructs a record-store client.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	rate := cfg.RateLimitPerSec
	if rate <= 0 {
		rate = defaultRateLimit
	}
	client := &Client{
		cfg: Config{
			APIKey:          strings.TrimSpace(cfg.APIKey),
			BaseURL:         strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			Version:         strings.TrimSpace(cfg.Version),
			RateLimitPerSec: rate,
			TimeoutSeconds:  cfg.TimeoutSeconds,
		},
		httpClient:       &http.Client{Timeout: timeout},
		limiter:          newRateLimiter(rate),
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
		sleeper:          sleepContext,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Page is one record as the engine sees it: an id plus flattened fields.
type Page struct {
	ID     string
	URL    string
	Fields map[string]string
}

// Sort orders query results by one field.
type Sort struct {
	Field      string `json:"property"`
	Descending bool   `json:"-"`
}

func (s Sort) MarshalJSON() ([]byte, error) {
	direction := "ascending"
	if s.Descending {
		direction = "descending"
	}
	return json.Marshal(map[string]string{"property": s.Field, "direction": direction})
}

// QueryRequest selects records from one database.
type QueryRequest struct {
	DatabaseID string
	Filter     map[string]any
	Sorts      []Sort
	PageSize   int
}

// Query fetches every matching record, following pagination cursors until
// the store reports no more results.
func (c *Client) Query(ctx context.Context, req QueryRequest) ([]Page, error) {
	if req.DatabaseID == "" {
		return nil, services.Wrap(services.ErrValidation, "records", "query", "database id required", nil)
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	var pages []Page
	cursor := ""
	for {
		body := map[string]any{"page_size": pageSize}
		if req.Filter != nil {
			body["filter"] = req.Filter
		}
		if len(req.Sorts) > 0 {
			body["sorts"] = req.Sorts
		}
		if cursor != "" {
			body["start_cursor"] = cursor
		}

		var resp queryResponse
		path := fmt.Sprintf("/databases/%s/query", req.DatabaseID)
		if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
			return nil, err
		}
		for _, result := range resp.Results {
			pages = append(pages, Page{ID: result.ID, URL: result.URL, Fields: flattenProperties(result.Properties)})
		}
		if !resp.HasMore || resp.NextCursor == "" {
			return pages, nil
		}
		cursor = resp.NextCursor
	}
}

// Block is one content block appended to a record body.
type Block struct {
	Type string
	Text string
}

// MutateRequest updates one record: field changes first, appended content
// blocks second.
type MutateRequest struct {
	PageID string
	Fields map[string]any
	Blocks []Block
}

// Mutate applies a record mutation. Field updates and block appends are two
// upstream calls; blocks are only sent after the field update succeeds.
func (c *Client) Mutate(ctx context.Context, req MutateRequest) error {
	if req.PageID == "" {
		return services.Wrap(services.ErrValidation, "records", "mutate", "page id required", nil)
	}
	if len(req.Fields) > 0 {
		body := map[string]any{"properties": req.Fields}
		if err := c.do(ctx, http.MethodPatch, "/pages/"+req.PageID, body, nil); err != nil {
			return err
		}
	}
	if len(req.Blocks) > 0 {
		children := make([]map[string]any, 0, len(req.Blocks))
		for _, block := range req.Blocks {
			blockType := block.Type
			if blockType == "" {
				blockType = "paragraph"
			}
			children = append(children, map[string]any{
				"type": blockType,
				blockType: map[string]any{
					"rich_text": []map[string]any{{
						"type": "text",
						"text": map[string]any{"content": block.Text},
					}},
				},
			})
		}
		body := map[string]any{"children": children}
		if err := c.do(ctx, http.MethodPatch, "/blocks/"+req.PageID+"/children", body, nil); err != nil {
			return err
		}
	}
	return nil
}

// CreateRequest adds a new record to a database.
type CreateRequest struct {
	DatabaseID string
	Fields     map[string]any
	Blocks     []Block
}

// Create inserts a new record and returns its id.
func (c *Client) Create(ctx context.Context, req CreateRequest) (string, error) {
	if req.DatabaseID == "" {
		return "", services.Wrap(services.ErrValidation, "records", "create", "database id required", nil)
	}
	body := map[string]any{
		"parent":     map[string]any{"database_id": req.DatabaseID},
		"properties": req.Fields,
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/pages", body, &resp); err != nil {
		return "", err
	}
	if len(req.Blocks) > 0 {
		if err := c.Mutate(ctx, MutateRequest{PageID: resp.ID, Blocks: req.Blocks}); err != nil {
			return resp.ID, err
		}
	}
	return resp.ID, nil
}

type queryResponse struct {
	Results []struct {
		ID         string         `json:"id"`
		URL        string         `json:"url"`
		Properties map[string]any `json:"properties"`
	} `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

type httpStatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.cfg.APIKey == "" {
		return services.Wrap(services.ErrConfiguration, "records", "request", "api key required", nil)
	}

	var lastErr error
	for attempt := 1; attempt <= c.retryMaxAttempts; attempt++ {
		if err := c.limiter.wait(ctx, c.sleeper); err != nil {
			return services.Wrap(services.ErrTimeout, "records", "rate limit", "", err)
		}

		err := c.doOnce(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err

		var statusErr *httpStatusError
		if errors.As(err, &statusErr) {
			switch {
			case statusErr.StatusCode == http.StatusNotFound:
				return services.Wrap(services.ErrNotFound, "records", method+" "+path, "", err)
			case statusErr.StatusCode == http.StatusTooManyRequests, statusErr.StatusCode >= http.StatusInternalServerError:
				// retryable below
			case statusErr.StatusCode >= http.StatusBadRequest:
				return services.Wrap(services.ErrValidation, "records", method+" "+path, "", err)
			}
			if attempt < c.retryMaxAttempts {
				delay := c.backoffDelay(attempt)
				if statusErr.RetryAfter > 0 {
					delay = c.capDelay(statusErr.RetryAfter)
				}
				if sleepErr := c.sleeper(ctx, delay); sleepErr != nil {
					return services.Wrap(services.ErrTimeout, "records", method+" "+path, "", sleepErr)
				}
				continue
			}
			break
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, "records", method+" "+path, "", err)
		}
		if attempt < c.retryMaxAttempts {
			if sleepErr := c.sleeper(ctx, c.backoffDelay(attempt)); sleepErr != nil {
				return services.Wrap(services.ErrTimeout, "records", method+" "+path, "", sleepErr)
			}
			continue
		}
	}

	return services.Wrap(services.ErrTransient, "records", method+" "+path,
		fmt.Sprintf("failed after %d attempts", c.retryMaxAttempts), lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Version != "" {
		req.Header.Set("Notion-Version", c.cfg.Version)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return &httpStatusError{StatusCode: resp.StatusCode, Body: string(payload), RetryAfter: retryAfter}
	}
	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	if c.retryBaseDelay <= 0 {
		return 0
	}
	delay := c.retryBaseDelay
	for i := 1; i < attempt; i++ {
		if delay > c.retryMaxDelay/2 {
			return c.retryMaxDelay
		}
		delay *= 2
	}
	return c.capDelay(delay)
}

func (c *Client) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if c.retryMaxDelay > 0 && delay > c.retryMaxDelay {
		return c.retryMaxDelay
	}
	return delay
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

// rateLimiter spaces requests at a fixed minimum interval.
type rateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
	now      func() time.Time
}

func newRateLimiter(perSecond float64) *rateLimiter {
	interval := time.Duration(float64(time.Second) / perSecond)
	return &rateLimiter{interval: interval, now: time.Now}
}

func (r *rateLimiter) wait(ctx context.Context, sleep func(ctx context.Context, d time.Duration) error) error {
	r.mu.Lock()
	now := r.now()
	delay := time.Duration(0)
	if r.next.After(now) {
		delay = r.next.Sub(now)
		r.next = r.next.Add(r.interval)
	} else {
		r.next = now.Add(r.interval)
	}
	r.mu.Unlock()

	if delay <= 0 {
		return ctx.Err()
	}
	return sleep(ctx, delay)
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
