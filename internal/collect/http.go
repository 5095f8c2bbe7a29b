package collect

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ashita-ai/hakken/internal/ratelimit"
)

const maxResponseBytes = 10 << 20

// Client is the HTTP side of the collector runtime. Every request to one
// upstream API passes through the shared rate limiter and the retry policy,
// and is counted for the run summary.
type Client struct {
	api        string
	httpClient *http.Client
	limiter    ratelimit.Limiter
	policy     RetryPolicy
	logger     *slog.Logger
	requests   atomic.Int64
}

// ClientOptions tune a Client away from the defaults.
type ClientOptions struct {
	// HTTPClient overrides the underlying transport, mainly for tests.
	HTTPClient *http.Client
	// Policy replaces the default retry policy when non-zero.
	Policy RetryPolicy
}

// NewClient builds a client for one upstream API. The api name keys into
// the rate-limit budget table.
func NewClient(api string, limiter ratelimit.Limiter, logger *slog.Logger, opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	policy := opts.Policy
	if policy == (RetryPolicy{}) {
		policy = DefaultRetryPolicy()
	}
	return &Client{
		api:        api,
		httpClient: httpClient,
		limiter:    limiter,
		policy:     policy,
		logger:     logger,
	}
}

// RequestCount returns how many HTTP responses the client has received,
// across retries.
func (c *Client) RequestCount() int { return int(c.requests.Load()) }

// GetJSON fetches url and decodes the JSON body into v. A nil v discards
// the body.
func (c *Client) GetJSON(ctx context.Context, url string, header http.Header, v any) error {
	return c.request(ctx, http.MethodGet, url, header, nil, jsonDecoder(v))
}

// GetXML fetches url and decodes the XML body into v.
func (c *Client) GetXML(ctx context.Context, url string, header http.Header, v any) error {
	return c.request(ctx, http.MethodGet, url, header, nil, xmlDecoder(v))
}

// PostJSON sends payload as a JSON body and decodes the JSON response into v.
func (c *Client) PostJSON(ctx context.Context, url string, header http.Header, payload, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("collect: encode request body: %w", err)
	}
	h := http.Header{}
	for k, vs := range header {
		for _, val := range vs {
			h.Add(k, val)
		}
	}
	h.Set("Content-Type", "application/json")
	return c.request(ctx, http.MethodPost, url, h, body, jsonDecoder(v))
}

func (c *Client) request(ctx context.Context, method, url string, header http.Header, body []byte, decode func([]byte) error) error {
	return Do(ctx, c.policy, c.logger, func() error {
		if err := c.limiter.Acquire(ctx, c.api); err != nil {
			return fmt.Errorf("collect: acquire %s rate limit: %w", c.api, err)
		}
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return fmt.Errorf("collect: build %s request: %w", c.api, err)
		}
		for k, vs := range header {
			for _, val := range vs {
				req.Header.Add(k, val)
			}
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("collect: %s %s: %w", method, url, err)
		}
		defer resp.Body.Close()
		c.requests.Add(1)

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return fmt.Errorf("collect: read %s response: %w", c.api, err)
		}
		if resp.StatusCode >= 400 {
			return &HTTPError{
				StatusCode: resp.StatusCode,
				URL:        url,
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
				Body:       truncate(strings.TrimSpace(string(data)), 200),
			}
		}
		if decode == nil {
			return nil
		}
		return decode(data)
	})
}

func jsonDecoder(v any) func([]byte) error {
	if v == nil {
		return nil
	}
	return func(data []byte) error {
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("collect: decode json response: %w", err)
		}
		return nil
	}
}

func xmlDecoder(v any) func([]byte) error {
	if v == nil {
		return nil
	}
	return func(data []byte) error {
		if err := xml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("collect: decode xml response: %w", err)
		}
		return nil
	}
}

// parseRetryAfter reads a Retry-After value in seconds. HTTP-date values
// are ignored; no upstream this package talks to sends them.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(value, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
