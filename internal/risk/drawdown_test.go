package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trading-core/internal/model"
)

func point(equity float64, offset time.Duration, base time.Time) model.EquityPoint {
	return model.EquityPoint{Equity: decimal.NewFromFloat(equity), Balance: decimal.NewFromFloat(equity), Timestamp: base.Add(offset)}
}

func TestDrawdownTracker_EmptyHistoryIsAllZero(t *testing.T) {
	tracker := NewDrawdownTracker()
	report := tracker.Compute("acct1")
	if !report.MaxDrawdown.IsZero() || !report.DailyDrawdown.IsZero() {
		t.Fatalf("expected all-zero metrics for empty history, got %+v", report)
	}
}

func TestDrawdownTracker_MaxDrawdownAndRecoveryFactor(t *testing.T) {
	tracker := NewDrawdownTracker()
	base := time.Now().Add(-5 * 24 * time.Hour)

	series := []model.EquityPoint{
		point(10000, 0*time.Hour, base),
		point(11000, 1*time.Hour, base),
		point(9000, 2*time.Hour, base),  // drawdown from peak 11000 -> 2000
		point(9500, 3*time.Hour, base),
		point(11500, 4*time.Hour, base), // new peak, profitable overall
	}
	for _, p := range series {
		tracker.Record("acct1", p)
	}

	report := tracker.Compute("acct1")
	if !report.MaxDrawdown.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("expected max drawdown 2000, got %s", report.MaxDrawdown)
	}
	// final(11500) - initial(10000) = 1500; recovery = 1500/2000 = 0.75
	if !report.RecoveryFactor.Equal(decimal.NewFromFloat(0.75)) {
		t.Fatalf("expected recovery factor 0.75, got %s", report.RecoveryFactor)
	}
}

func TestDrawdownTracker_ZeroMaxDrawdownProfitableIsInfinite(t *testing.T) {
	tracker := NewDrawdownTracker()
	base := time.Now().Add(-2 * time.Hour)
	tracker.Record("acct1", point(10000, 0, base))
	tracker.Record("acct1", point(10500, time.Hour, base))

	report := tracker.Compute("acct1")
	if !IsInfiniteRecoveryFactor(report.RecoveryFactor) {
		t.Fatalf("expected +Inf recovery factor for zero drawdown and profitable account, got %s", report.RecoveryFactor)
	}
}

func TestDrawdownTracker_CurrentRiskPercentageTiers(t *testing.T) {
	tracker := NewDrawdownTracker()
	base := time.Now().Add(-2 * time.Hour)
	tracker.Record("acct1", point(10000, 0, base))
	tracker.Record("acct1", point(8300, time.Hour, base)) // 17% drawdown

	base100 := decimal.NewFromInt(100)
	got := tracker.CurrentRiskPercentage("acct1", base100)
	if !got.Equal(decimal.NewFromFloat(50)) {
		t.Fatalf("expected 50%% sizing factor applied at >15%% drawdown, got %s", got)
	}
}
