// Package inference wraps the AI completion API used by analysis and
// generation steps. Every response reports its token usage converted to USD
// through the configured per-model rate table, so callers can feed the cost
// ledger without guessing.
package inference

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
	"time"

	"reelpipe/internal/config"
	"reelpipe/internal/services"
)

const (
	defaultHTTPTimeout    = 60 * time.Second
	defaultRetryAttempts  = 4
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
	defaultMaxTokens      = 4096
	apiVersion            = "2023-06-01"
	tokensPerMillion      = 1_000_000
)

// Client wraps the messages-style completion API.
type Client struct {
	cfg        config.Inference
	httpClient *http.Client

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

// WithSleeper overrides how retry sleeps are performed (used in tests).
func WithSleeper(sleeper func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if sleeper != nil {
			c.sleeper = sleeper
		}
	}
}

// NewClient constructs an inference client from the configuration section.
func NewClient(cfg config.Inference, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg:              cfg,
		httpClient:       &http.Client{Timeout: timeout},
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

// Request is one completion call. Tier selects the model through the
// configured tier table; an explicit Model wins over Tier.
type Request struct {
	System    string
	Prompt    string
	Tier      string
	Model     string
	MaxTokens int
}

// Response carries the completion text plus its attributed cost.
type Response struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Complete issues one completion request, retrying transient upstream
// failures with exponential backoff.
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	var empty Response
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return empty, services.Wrap(services.ErrConfiguration, "inference", "complete", "api key required", nil)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return empty, services.Wrap(services.ErrValidation, "inference", "complete", "prompt required", nil)
	}
	model, err := c.resolveModel(req)
	if err != nil {
		return empty, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	payload := messageRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    strings.TrimSpace(req.System),
		Messages:  []message{{Role: "user", Content: strings.TrimSpace(req.Prompt)}},
	}

	var lastErr error
	for attempt := 1; attempt <= c.retryMaxAttempts; attempt++ {
		resp, err := c.sendOnce(ctx, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		delay, retry := c.retryDelay(ctx, err, attempt)
		if !retry {
			return empty, classifyStatus(err)
		}
		if sleepErr := c.sleeper(ctx, delay); sleepErr != nil {
			return empty, services.Wrap(services.ErrTimeout, "inference", "complete", "", sleepErr)
		}
	}
	return empty, services.Wrap(services.ErrTransient, "inference", "complete",
		fmt.Sprintf("failed after %d attempts", c.retryMaxAttempts), lastErr)
}

// HealthCheck verifies the API key and the fast-tier model with a minimal
// completion.
func (c *Client) HealthCheck(ctx context.Context) error {
	resp, err := c.Complete(ctx, Request{
		Prompt:    "Respond with the single word: ok",
		Tier:      config.TierFast,
		MaxTokens: 16,
	})
	if err != nil {
		return err
	}
	if !strings.Contains(strings.ToLower(resp.Text), "ok") {
		return services.Wrap(services.ErrTransient, "inference", "health",
			fmt.Sprintf("unexpected response %q", resp.Text), nil)
	}
	return nil
}

func (c *Client) resolveModel(req Request) (string, error) {
	if model := strings.TrimSpace(req.Model); model != "" {
		return model, nil
	}
	tier := strings.TrimSpace(req.Tier)
	if tier == "" {
		tier = config.TierStandard
	}
	model, ok := c.cfg.Models[tier]
	if !ok || strings.TrimSpace(model) == "" {
		return "", services.Wrap(services.ErrConfiguration, "inference", "complete",
			fmt.Sprintf("no model configured for tier %q", tier), nil)
	}
	return model, nil
}

// CostFor converts token usage into USD through the configured rate table.
// Unknown models cost zero; a missing rate is a configuration gap, not an
// execution failure.
func (c *Client) CostFor(model string, inputTokens, outputTokens int) float64 {
	rate, ok := c.cfg.Pricing[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/tokensPerMillion*rate.InputPerMTok +
		float64(outputTokens)/tokensPerMillion*rate.OutputPerMTok
}

type messageRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type httpStatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

func (c *Client) sendOnce(ctx context.Context, payload messageRequest) (Response, error) {
	var empty Response
	encoded, err := json.Marshal(payload)
	if err != nil {
		return empty, fmt.Errorf("encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return empty, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", apiVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return empty, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return empty, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return empty, &httpStatusError{StatusCode: resp.StatusCode, Body: string(body), RetryAfter: retryAfter}
	}

	var decoded messageResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return empty, fmt.Errorf("decode response: %w", err)
	}
	if decoded.Error != nil {
		return empty, fmt.Errorf("api error %s: %s", decoded.Error.Type, decoded.Error.Message)
	}

	var text strings.Builder
	for _, block := range decoded.Content {
		if block.Type == "" || block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return empty, fmt.Errorf("empty content (stop_reason=%q)", decoded.StopReason)
	}

	model := decoded.Model
	if model == "" {
		model = payload.Model
	}
	return Response{
		Text:         strings.TrimSpace(text.String()),
		Model:        model,
		InputTokens:  decoded.Usage.InputTokens,
		OutputTokens: decoded.Usage.OutputTokens,
		CostUSD:      c.CostFor(model, decoded.Usage.InputTokens, decoded.Usage.OutputTokens),
	}, nil
}

func (c *Client) retryDelay(ctx context.Context, err error, attempt int) (time.Duration, bool) {
	if attempt >= c.retryMaxAttempts || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			if statusErr.RetryAfter > 0 {
				return c.capDelay(statusErr.RetryAfter), true
			}
			return c.backoffDelay(attempt), true
		default:
			return 0, false
		}
	}
	// Network-level failures get the retry loop too.
	return c.backoffDelay(attempt), true
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

// Validation failures from the upstream are surfaced with their marker so
// the engine maps them onto the item-skip path; cancellations surface as
// timeouts.
func classifyStatus(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "inference", "complete", "", err)
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode >= http.StatusBadRequest && statusErr.StatusCode < http.StatusInternalServerError {
		return services.Wrap(services.ErrValidation, "inference", "complete", "", err)
	}
	return err
}
