// Package ratelimit paces calls to upstream collector APIs.
//
// Each API gets an independent token bucket sized to the provider's
// published budget. Collectors call Acquire before every request; Acquire
// blocks until a token frees up or the context ends. The Limiter interface
// is the contract so a shared (e.g. Redis-backed) implementation can be
// substituted when multiple instances collect against the same budgets.
package ratelimit

import (
	"context"
	"time"
)

// Limiter paces requests to named upstream APIs. Implementations must be
// safe for concurrent use.
type Limiter interface {
	// Acquire blocks until a token is available for api or ctx is done.
	Acquire(ctx context.Context, api string) error

	// Allow consumes a token if one is immediately available.
	Allow(api string) bool

	// Close releases resources.
	Close() error
}

// Budget is one API's sustained request allowance: Requests per Window.
// The bucket's burst capacity equals Requests, so a quiet period lets a
// collector spend the whole window budget up front.
type Budget struct {
	Requests float64
	Window   time.Duration
}

func (b Budget) rate() float64 {
	return b.Requests / b.Window.Seconds()
}

func (b Budget) valid() bool {
	return b.Requests > 0 && b.Window > 0
}

// DefaultBudgets returns the published limits of the upstream APIs the
// collectors talk to.
func DefaultBudgets() map[string]Budget {
	return map[string]Budget{
		"github":          {Requests: 5000, Window: time.Hour},
		"github_activity": {Requests: 5000, Window: time.Hour},
		"sec_edgar":       {Requests: 10, Window: time.Second},
		"companies_house": {Requests: 600, Window: 5 * time.Minute},
		"product_hunt":    {Requests: 100, Window: time.Hour},
		"hacker_news":     {Requests: 100, Window: time.Minute},
		"notion":          {Requests: 3, Window: time.Second},
	}
}

// NoopLimiter permits every request. Used in dry runs and tests.
type NoopLimiter struct{}

// Acquire always succeeds immediately.
func (NoopLimiter) Acquire(context.Context, string) error { return nil }

// Allow always returns true.
func (NoopLimiter) Allow(string) bool { return true }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
