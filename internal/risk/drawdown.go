package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trading-core/internal/model"
)

// equityRetention is how long a per-account equity series is kept in
// memory before old points age out (§3: "Equity series is time-bounded
// (retain >= 30 days)").
const equityRetention = 30 * 24 * time.Hour

// drawdownCacheTTL is how long a computed DrawdownReport is reused before
// the next query recomputes it (§4.9: "Results cached for 5 minutes").
const drawdownCacheTTL = 5 * time.Minute

// InfiniteRecoveryFactor is the +Inf sentinel returned when max_drawdown=0
// and the account is profitable (§3, §8).
var InfiniteRecoveryFactor = decimal.New(1, 30)

// DrawdownReport is the single-pass result of Compute (§4.9).
type DrawdownReport struct {
	DailyDrawdown    decimal.Decimal
	DailyDrawdownPct decimal.Decimal
	WeeklyDrawdown   decimal.Decimal
	WeeklyDrawdownPct decimal.Decimal
	MaxDrawdown      decimal.Decimal
	MaxDrawdownPct   decimal.Decimal
	MaxDrawdownSince time.Time
	UnderwaterSince  time.Time
	RecoveryFactor   decimal.Decimal
	ComputedAt       time.Time
}

// IsInfiniteRecoveryFactor reports whether f is the +Inf sentinel.
func IsInfiniteRecoveryFactor(f decimal.Decimal) bool {
	return f.Equal(InfiniteRecoveryFactor)
}

type drawdownCacheEntry struct {
	report    DrawdownReport
	expiresAt time.Time
}

// DrawdownTracker holds a per-account append-only equity history and
// computes daily/weekly/max drawdown, underwater duration, and recovery
// factor in a single pass over the retained window (§4.9).
type DrawdownTracker struct {
	mu      sync.Mutex
	history map[string][]model.EquityPoint
	cache   map[string]drawdownCacheEntry
}

// NewDrawdownTracker builds an empty tracker.
func NewDrawdownTracker() *DrawdownTracker {
	return &DrawdownTracker{
		history: make(map[string][]model.EquityPoint),
		cache:   make(map[string]drawdownCacheEntry),
	}
}

// Record appends an equity sample for account, trimming points older than
// equityRetention.
func (t *DrawdownTracker) Record(accountID string, point model.EquityPoint) {
	t.mu.Lock()
	defer t.mu.Unlock()

	series := append(t.history[accountID], point)
	cutoff := point.Timestamp.Add(-equityRetention)
	trimmed := series[:0:0]
	for _, p := range series {
		if p.Timestamp.After(cutoff) {
			trimmed = append(trimmed, p)
		}
	}
	t.history[accountID] = trimmed
	delete(t.cache, accountID)
}

// Compute returns the drawdown report for account, serving a cached result
// when younger than drawdownCacheTTL.
func (t *DrawdownTracker) Compute(accountID string) DrawdownReport {
	now := time.Now()

	t.mu.Lock()
	if entry, ok := t.cache[accountID]; ok && now.Before(entry.expiresAt) {
		t.mu.Unlock()
		return entry.report
	}
	series := append([]model.EquityPoint(nil), t.history[accountID]...)
	t.mu.Unlock()

	report := computeDrawdown(series, now)

	t.mu.Lock()
	t.cache[accountID] = drawdownCacheEntry{report: report, expiresAt: now.Add(drawdownCacheTTL)}
	t.mu.Unlock()

	return report
}

// computeDrawdown does the actual single-pass math (§4.9). Empty history
// returns all-zero metrics timestamped now, per §8 boundary behavior.
func computeDrawdown(series []model.EquityPoint, now time.Time) DrawdownReport {
	if len(series) == 0 {
		return DrawdownReport{ComputedAt: now, UnderwaterSince: now, RecoveryFactor: decimal.Zero}
	}

	dayCutoff := now.Add(-24 * time.Hour)
	weekCutoff := now.Add(-7 * 24 * time.Hour)

	var dayPeak, dayCurrent decimal.Decimal
	var weekPeak, weekCurrent decimal.Decimal
	dayPeak = series[0].Equity
	weekPeak = series[0].Equity

	globalPeak := series[0].Equity
	peakAt := series[0].Timestamp
	var maxDD decimal.Decimal
	var maxDDSince time.Time
	underwaterSince := series[0].Timestamp

	initial := series[0].Equity
	final := series[len(series)-1].Equity

	for _, p := range series {
		if p.Timestamp.After(dayCutoff) {
			if p.Equity.GreaterThan(dayPeak) {
				dayPeak = p.Equity
			}
			dayCurrent = p.Equity
		}
		if p.Timestamp.After(weekCutoff) {
			if p.Equity.GreaterThan(weekPeak) {
				weekPeak = p.Equity
			}
			weekCurrent = p.Equity
		}

		if p.Equity.GreaterThan(globalPeak) {
			globalPeak = p.Equity
			peakAt = p.Timestamp
			underwaterSince = p.Timestamp
		} else if p.Equity.LessThan(globalPeak) {
			dd := globalPeak.Sub(p.Equity)
			if dd.GreaterThan(maxDD) {
				maxDD = dd
				maxDDSince = peakAt
			}
		}
	}

	dayDD := decimal.Zero
	dayDDPct := decimal.Zero
	if dayPeak.GreaterThan(decimal.Zero) {
		dayDD = dayPeak.Sub(dayCurrent)
		if dayDD.GreaterThan(decimal.Zero) {
			dayDDPct = dayDD.Div(dayPeak).Mul(decimal.NewFromInt(100))
		} else {
			dayDD = decimal.Zero
		}
	}

	weekDD := decimal.Zero
	weekDDPct := decimal.Zero
	if weekPeak.GreaterThan(decimal.Zero) {
		weekDD = weekPeak.Sub(weekCurrent)
		if weekDD.GreaterThan(decimal.Zero) {
			weekDDPct = weekDD.Div(weekPeak).Mul(decimal.NewFromInt(100))
		} else {
			weekDD = decimal.Zero
		}
	}

	maxDDPct := decimal.Zero
	if maxDD.GreaterThan(decimal.Zero) && globalPeak.GreaterThan(decimal.Zero) {
		maxDDPct = maxDD.Div(globalPeak).Mul(decimal.NewFromInt(100))
	}

	var recoveryFactor decimal.Decimal
	switch {
	case maxDD.IsZero():
		if final.GreaterThan(initial) {
			recoveryFactor = InfiniteRecoveryFactor
		} else {
			recoveryFactor = decimal.Zero
		}
	default:
		recoveryFactor = final.Sub(initial).Div(maxDD)
	}

	return DrawdownReport{
		DailyDrawdown:     dayDD,
		DailyDrawdownPct:  dayDDPct,
		WeeklyDrawdown:    weekDD,
		WeeklyDrawdownPct: weekDDPct,
		MaxDrawdown:       maxDD,
		MaxDrawdownPct:    maxDDPct,
		MaxDrawdownSince:  maxDDSince,
		UnderwaterSince:   underwaterSince,
		RecoveryFactor:    recoveryFactor,
		ComputedAt:        now,
	}
}

// sizingTiers maps a max-drawdown percentage band to the risk-sizing
// factor applied to the account's base position size (§4.9
// "Drawdown-based sizing").
var sizingTiers = []struct {
	maxPct decimal.Decimal
	factor decimal.Decimal
}{
	{decimal.NewFromInt(5), decimal.NewFromFloat(1.0)},
	{decimal.NewFromInt(10), decimal.NewFromFloat(0.9)},
	{decimal.NewFromInt(15), decimal.NewFromFloat(0.75)},
}

// CurrentRiskPercentage returns base*factor, where factor steps down as
// the account's current max-drawdown percentage worsens (§4.9).
func (t *DrawdownTracker) CurrentRiskPercentage(accountID string, base decimal.Decimal) decimal.Decimal {
	report := t.Compute(accountID)
	for _, tier := range sizingTiers {
		if report.MaxDrawdownPct.LessThan(tier.maxPct) {
			return base.Mul(tier.factor)
		}
	}
	return base.Mul(decimal.NewFromFloat(0.5))
}
