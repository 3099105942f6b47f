package resilience

import "trading-core/internal/model"

// Score computes the 0-100 composite performance score (§4.6). The weights
// below are the appendix table the original engine uses and are not
// independently tunable per venue:
//
//	start at 100
//	- failure_rate * 50      (up to 50 points for a failing breaker)
//	- 10 if breaker HalfOpen, 30 if breaker Open
//	- unhealthy_ratio * 20   (up to 20 points for unhealthy pool connections)
//	+ 5 if pool hit rate is at least 0.8
//	clamp to [0, 100]
func Score(breakerState model.BreakerState, failureRate float64, pool PoolStats) float64 {
	score := 100.0
	score -= failureRate * 50

	switch breakerState {
	case model.BreakerHalfOpen:
		score -= 10
	case model.BreakerOpen:
		score -= 30
	}

	score -= pool.UnhealthyRatio() * 20

	if pool.HitRate() >= 0.8 {
		score += 5
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
