// Package resilience wraps a venue.Gateway with a circuit breaker, a bounded
// connection pool, and a retry policy, exposing the composite as another
// venue.Gateway so callers never see the difference (§4.4-§4.6).
package resilience

import (
	"sync"
	"time"

	"trading-core/internal/model"
)

// BreakerConfig mirrors the defaults the original engine ships: five
// failures trip the breaker, three consecutive successes in HalfOpen close
// it again, and a tripped breaker waits 30s before probing.
type BreakerConfig struct {
	FailureThreshold   int
	SuccessThreshold   int
	FailureWindow      time.Duration
	OpenTimeout        time.Duration
	HalfOpenMaxOps     int
}

// DefaultBreakerConfig returns the standard five-failures/three-successes/
// 30s breaker tuning.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		FailureWindow:    time.Minute,
		OpenTimeout:      30 * time.Second,
		HalfOpenMaxOps:   1,
	}
}

// Breaker is a Closed/Open/HalfOpen circuit breaker (§4.4). Failure counting
// honors the error taxonomy's CountsTowardBreaker rule: order-business
// rejections never trip it; every other category (connection, auth,
// throttling, market-data, internal) does.
type Breaker struct {
	cfg BreakerConfig

	mu               sync.Mutex
	state            model.BreakerState
	failureCount     int
	successCount     int
	halfOpenInFlight int
	windowStart      time.Time
	lastFailureTime  time.Time
	lastStateChange  time.Time
	totalOps         int
}

// NewBreaker builds a breaker in the Closed state.
func NewBreaker(cfg BreakerConfig) *Breaker {
	now := time.Now()
	return &Breaker{
		cfg:             cfg,
		state:           model.BreakerClosed,
		windowStart:     now,
		lastStateChange: now,
	}
}

// Allow reports whether a call may proceed, transitioning Open->HalfOpen
// once OpenTimeout has elapsed. Callers that get false must not invoke the
// underlying operation and should return ErrCircuitOpen() instead.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case model.BreakerClosed:
		return true
	case model.BreakerOpen:
		if time.Since(b.lastStateChange) >= b.cfg.OpenTimeout {
			b.transition(model.BreakerHalfOpen)
			b.halfOpenInFlight = 1
			return true
		}
		return false
	case model.BreakerHalfOpen:
		if b.halfOpenInFlight >= b.cfg.HalfOpenMaxOps {
			return false
		}
		b.halfOpenInFlight++
		return true
	default:
		return false
	}
}

// OnSuccess records a successful operation.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalOps++

	switch b.state {
	case model.BreakerHalfOpen:
		b.successCount++
		if b.halfOpenInFlight > 0 {
			b.halfOpenInFlight--
		}
		if b.successCount >= b.cfg.SuccessThreshold {
			b.resetCounts()
			b.transition(model.BreakerClosed)
		}
	case model.BreakerClosed:
		b.rollWindow()
	}
}

// OnFailure records a failed operation. countsTowardBreaker should come from
// the originating VenueError's CountsTowardBreaker(); failures that don't
// count are ignored entirely (no state change, no counter increment).
func (b *Breaker) OnFailure(countsTowardBreaker bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalOps++
	if !countsTowardBreaker {
		return
	}
	b.lastFailureTime = time.Now()

	switch b.state {
	case model.BreakerHalfOpen:
		if b.halfOpenInFlight > 0 {
			b.halfOpenInFlight--
		}
		b.resetCounts()
		b.transition(model.BreakerOpen)
	case model.BreakerClosed:
		b.rollWindow()
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.transition(model.BreakerOpen)
		}
	}
}

// rollWindow clears the failure count once FailureWindow has elapsed since
// it started, so stale failures from long ago don't accumulate forever.
func (b *Breaker) rollWindow() {
	if time.Since(b.windowStart) >= b.cfg.FailureWindow {
		b.failureCount = 0
		b.windowStart = time.Now()
	}
}

func (b *Breaker) resetCounts() {
	b.failureCount = 0
	b.successCount = 0
	b.windowStart = time.Now()
}

func (b *Breaker) transition(to model.BreakerState) {
	b.state = to
	b.lastStateChange = time.Now()
}

// State returns the current breaker state.
func (b *Breaker) State() model.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to Closed with all counters cleared, for
// operator intervention.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetCounts()
	b.halfOpenInFlight = 0
	b.transition(model.BreakerClosed)
}

// ForceOpen trips the breaker immediately, bypassing the failure threshold.
// Used by the risk response engine's emergency-stop action (§4.11).
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(model.BreakerOpen)
}

// FailureRate returns the failures counted in the current failure window
// divided by all operations recorded since the breaker was created (Reset
// does not clear the operation total), used by the performance score (§4.6).
func (b *Breaker) FailureRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.totalOps == 0 {
		return 0
	}
	return float64(b.failureCount) / float64(b.totalOps)
}

// Stats returns a point-in-time snapshot for dashboards.
func (b *Breaker) Stats() model.BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return model.BreakerStats{
		State:                      b.state,
		FailureCount:               b.failureCount,
		SuccessCount:               b.successCount,
		LastFailureTime:            b.lastFailureTime,
		LastStateChange:            b.lastStateChange,
		HalfOpenOperationsInFlight: b.halfOpenInFlight,
	}
}
