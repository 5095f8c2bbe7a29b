package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/ashita-ai/hakken/internal/ratelimit"
)

// limiterAPI is the rate limit budget all Notion calls draw from.
const limiterAPI = "notion"

// maxResponseBytes bounds response reads. Query pages carry up to 100 full
// page objects, so this is far looser than the other API clients.
const maxResponseBytes = 4 << 20

// backoffJitter is added to every computed backoff so synchronized workers
// do not retry in lockstep.
const backoffJitter = 250 * time.Millisecond

// TransportOptions tune the shared Notion HTTP layer. Zero values fall back
// to the defaults.
type TransportOptions struct {
	BaseURL     string
	Version     string
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// DefaultTransportOptions returns the production settings: the public API,
// a 30s per-request timeout and three retries backing off 1s, 2s, 4s.
func DefaultTransportOptions() TransportOptions {
	return TransportOptions{
		BaseURL:     "https://api.notion.com/v1",
		Version:     "2022-06-28",
		Timeout:     30 * time.Second,
		MaxRetries:  3,
		BackoffBase: time.Second,
		BackoffCap:  10 * time.Second,
	}
}

// Transport is the single HTTP path to Notion: auth headers, rate limiting,
// retries with capped exponential backoff and Retry-After handling. Safe for
// concurrent use.
type Transport struct {
	apiKey  string
	opts    TransportOptions
	client  *http.Client
	limiter ratelimit.Limiter
}

// NewTransport builds a Transport. Unset option fields take their defaults.
func NewTransport(apiKey string, limiter ratelimit.Limiter, opts TransportOptions) *Transport {
	defaults := DefaultTransportOptions()
	if opts.BaseURL == "" {
		opts.BaseURL = defaults.BaseURL
	}
	if opts.Version == "" {
		opts.Version = defaults.Version
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaults.MaxRetries
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaults.BackoffBase
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = defaults.BackoffCap
	}
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	return &Transport{
		apiKey:  apiKey,
		opts:    opts,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: limiter,
	}
}

// APIError is a Notion API error response that will not succeed on retry,
// or a retryable one that exhausted its retries.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("notion: status %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("notion: status %d", e.Status)
}

// Get issues a GET and decodes the JSON response into out (skipped if nil).
func (t *Transport) Get(ctx context.Context, path string, out any) error {
	return t.do(ctx, http.MethodGet, path, nil, out)
}

// Post issues a POST with a JSON body.
func (t *Transport) Post(ctx context.Context, path string, body, out any) error {
	return t.do(ctx, http.MethodPost, path, body, out)
}

// Patch issues a PATCH with a JSON body.
func (t *Transport) Patch(ctx context.Context, path string, body, out any) error {
	return t.do(ctx, http.MethodPatch, path, body, out)
}

func (t *Transport) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("notion: marshal %s %s: %w", method, path, err)
		}
	}

	for attempt := 1; ; attempt++ {
		if err := t.limiter.Acquire(ctx, limiterAPI); err != nil {
			return fmt.Errorf("notion: acquire rate limit: %w", err)
		}

		data, status, retryAfter, err := t.roundTrip(ctx, method, path, payload)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			if attempt > t.opts.MaxRetries {
				return err
			}
			if err := t.backoff(ctx, attempt, 0); err != nil {
				return err
			}
			continue
		}

		if status == http.StatusTooManyRequests || status >= 500 {
			if attempt > t.opts.MaxRetries {
				return apiError(status, data)
			}
			if err := t.backoff(ctx, attempt, retryAfter); err != nil {
				return err
			}
			continue
		}
		if status >= 400 {
			return apiError(status, data)
		}

		if out == nil || len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("notion: decode %s %s: %w", method, path, err)
		}
		return nil
	}
}

// roundTrip performs one attempt. retryAfter is only set for a 429 carrying
// a parseable non-negative Retry-After header.
func (t *Transport) roundTrip(ctx context.Context, method, path string, payload []byte) (data []byte, status int, retryAfter time.Duration, err error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.opts.BaseURL+path, body)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("notion: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Notion-Version", t.opts.Version)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("notion: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("notion: read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	return data, resp.StatusCode, retryAfter, nil
}

// backoff sleeps before the next attempt. A server-provided retryAfter wins;
// otherwise the delay is min(base·2^(attempt−1), cap) plus jitter.
func (t *Transport) backoff(ctx context.Context, attempt int, retryAfter time.Duration) error {
	delay := retryAfter
	if delay <= 0 {
		delay = t.opts.BackoffBase << (attempt - 1)
		if delay > t.opts.BackoffCap {
			delay = t.opts.BackoffCap
		}
		delay += rand.N(backoffJitter)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// parseRetryAfter reads Retry-After as seconds, fractional values included.
// Unparseable or negative headers are ignored.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(header, 64)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

func apiError(status int, data []byte) error {
	apiErr := &APIError{Status: status}
	var parsed struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &parsed) == nil {
		apiErr.Code = parsed.Code
		apiErr.Message = parsed.Message
	}
	return apiErr
}
