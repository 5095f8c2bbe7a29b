package ratelimit

import (
	"context"
	"sync"
	"time"
)

// fallbackBudget applies to APIs without a configured budget. Deliberately
// conservative; a collector hitting an unbudgeted API should crawl, not
// burst.
var fallbackBudget = Budget{Requests: 60, Window: time.Minute}

// bucket is a single token bucket for one API.
type bucket struct {
	tokens     float64
	rate       float64 // tokens added per second
	burst      float64 // maximum tokens
	lastAccess time.Time
}

// refill adds tokens for the time elapsed since the last access.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastAccess).Seconds()
	b.tokens += elapsed * b.rate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	b.lastAccess = now
}

// MemoryLimiter implements Limiter with an in-memory token bucket per API.
// Buckets start full, so the first request of a run never waits.
type MemoryLimiter struct {
	budgets map[string]Budget

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewMemoryLimiter creates a limiter over the given budgets. Invalid
// budgets and unknown APIs fall back to a conservative default.
func NewMemoryLimiter(budgets map[string]Budget) *MemoryLimiter {
	return &MemoryLimiter{
		budgets: budgets,
		buckets: make(map[string]*bucket),
	}
}

// Allow consumes one token for api if one is immediately available.
func (m *MemoryLimiter) Allow(api string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.bucketFor(api)
	b.refill(time.Now())
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Acquire consumes one token for api, sleeping until one refills when the
// bucket is empty. Returns the context error if ctx ends first.
func (m *MemoryLimiter) Acquire(ctx context.Context, api string) error {
	for {
		m.mu.Lock()
		b := m.bucketFor(api)
		now := time.Now()
		b.refill(now)
		if b.tokens >= 1 {
			b.tokens--
			m.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
		m.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Close implements Limiter. The in-memory limiter holds no background
// resources.
func (m *MemoryLimiter) Close() error { return nil }

// bucketFor returns the bucket for api, creating it full on first use.
// Callers hold m.mu.
func (m *MemoryLimiter) bucketFor(api string) *bucket {
	b, ok := m.buckets[api]
	if ok {
		return b
	}
	budget, ok := m.budgets[api]
	if !ok || !budget.valid() {
		budget = fallbackBudget
	}
	b = &bucket{
		tokens:     budget.Requests,
		rate:       budget.rate(),
		burst:      budget.Requests,
		lastAccess: time.Now(),
	}
	m.buckets[api] = b
	return b
}
