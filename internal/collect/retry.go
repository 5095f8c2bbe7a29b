package collect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"time"
)

// Default retry policy, matching the budget most upstream APIs tolerate.
const (
	DefaultMaxRetries  = 3
	DefaultBackoffBase = 2.0
	DefaultBackoffCap  = 30 * time.Second
)

// RetryPolicy controls how a failed request is retried. The wait before
// retry n (0-indexed) is BackoffBase^n seconds, capped at BackoffCap, with
// optional jitter in [0.75, 1.25].
type RetryPolicy struct {
	MaxRetries  int
	BackoffBase float64
	BackoffCap  time.Duration
	Jitter      bool
}

// DefaultRetryPolicy returns the policy adapters use unless they override it.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  DefaultMaxRetries,
		BackoffBase: DefaultBackoffBase,
		BackoffCap:  DefaultBackoffCap,
		Jitter:      true,
	}
}

// Wait returns the backoff before retry attempt (0-indexed).
func (p RetryPolicy) Wait(attempt int) time.Duration {
	secs := math.Pow(p.BackoffBase, float64(attempt))
	wait := time.Duration(secs * float64(time.Second))
	if p.BackoffCap > 0 && wait > p.BackoffCap {
		wait = p.BackoffCap
	}
	if p.Jitter {
		wait = time.Duration(float64(wait) * (0.75 + rand.Float64()*0.5)) //nolint:gosec // jitter doesn't need crypto-strength randomness
	}
	return wait
}

// HTTPError is a non-2xx response from an upstream API.
type HTTPError struct {
	StatusCode int
	URL        string
	RetryAfter time.Duration // from the Retry-After header, when present
	Body       string        // truncated response body
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("collect: %s returned %d: %s", e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("collect: %s returned %d", e.URL, e.StatusCode)
}

// Retryable reports whether another attempt can help. Rate limits and
// server errors are transient; other client errors are not.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Retryable classifies an error as transient. Network failures and
// timeouts qualify; a canceled context and non-429 client errors do not.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// RetryAfter extracts the server-requested wait from an error chain, or 0.
func RetryAfter(err error) time.Duration {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.RetryAfter
	}
	return 0
}

// Do runs fn under the retry policy. Only retryable failures are retried;
// a Retry-After value on a rate-limit response overrides the computed
// backoff. The last error is returned once attempts are exhausted.
func Do(ctx context.Context, policy RetryPolicy, logger *slog.Logger, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !Retryable(err) || attempt >= policy.MaxRetries {
			return err
		}
		wait := policy.Wait(attempt)
		if ra := RetryAfter(err); ra > 0 {
			wait = ra
		}
		logger.Warn("request failed, retrying",
			"attempt", attempt+1,
			"max_retries", policy.MaxRetries,
			"wait", wait,
			"error", err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
