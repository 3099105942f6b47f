// Package ratelimit enforces per-account, per-operation rate limits sourced
// from a venue's advertised model.Capabilities.RateLimits (§2 domain stack:
// "Rate limiting").
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"trading-core/internal/model"
)

// key identifies one (account, operation) rate-limited lane.
type key struct {
	accountID string
	op        string
}

// Limiter owns one token bucket per (account, operation) pair, built lazily
// from the venue's declared RateLimit the first time that pair is seen.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[key]*rate.Limiter
	defaults map[string]model.RateLimit
}

// NewLimiter builds a Limiter seeded with per-operation defaults (typically
// Capabilities.RateLimits from the adapter being wrapped).
func NewLimiter(defaults map[string]model.RateLimit) *Limiter {
	return &Limiter{
		buckets:  make(map[key]*rate.Limiter),
		defaults: defaults,
	}
}

func (l *Limiter) bucketFor(accountID, op string) *rate.Limiter {
	k := key{accountID, op}
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[k]; ok {
		return b
	}
	rl, ok := l.defaults[op]
	if !ok || rl.RPS <= 0 {
		// Unrestricted: a very high but finite bucket so misconfigured
		// operations never silently block forever.
		rl = model.RateLimit{RPS: 1_000_000, Burst: 1_000_000}
	}
	burst := rl.Burst
	if burst <= 0 {
		burst = rl.RPS
	}
	b := rate.NewLimiter(rate.Limit(rl.RPS), burst)
	l.buckets[k] = b
	return b
}

// Wait blocks until a token is available for (accountID, op) or ctx is
// done. The resilient wrapper does not call it; main gates each new
// market-data subscription through it.
func (l *Limiter) Wait(ctx context.Context, accountID, op string) error {
	return l.bucketFor(accountID, op).Wait(ctx)
}

// Allow reports whether a call may proceed right now without blocking,
// consuming a token if so.
func (l *Limiter) Allow(accountID, op string) bool {
	return l.bucketFor(accountID, op).Allow()
}
