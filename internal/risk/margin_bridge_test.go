package risk

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trading-core/internal/model"
	"trading-core/internal/resilience"
	"trading-core/internal/venue"
)

// TestMarginResponseBridge_EmergencyLevelClosesAllPositions verifies the
// bridge turns a margin monitor's Emergency-tier snapshot into a RiskEvent
// that the response engine escalates to Critical and acts on, sharing the
// same executor/audit path a directly-published RiskAlert would use.
func TestMarginResponseBridge_EmergencyLevelClosesAllPositions(t *testing.T) {
	gw := &stubGateway{}
	breaker := resilience.NewBreaker(resilience.DefaultBreakerConfig())
	exposures := &stubExposureSource{exposure: AccountExposure{
		TotalPositions:  1,
		LosingPositions: 1,
		Positions: []model.UnifiedPosition{
			{PositionID: "p1", Symbol: "EURUSD", UnrealizedPnL: decimal.NewFromInt(-500)},
		},
	}}
	executor := NewResponseExecutor(
		func(accountID string) (venue.Gateway, error) { return gw, nil },
		func(accountID string) (*resilience.Breaker, error) { return breaker, nil },
	)
	engine := NewRiskResponseEngine(exposures, executor, nil, nil)
	bridge := NewMarginResponseBridge(engine, DefaultMarginThresholds())

	snapshot := MarginSnapshot{
		AccountID:  "acct1",
		Level:      decimal.NewFromInt(100),
		Alert:      MarginAlertEmergency,
		ComputedAt: time.Now(),
	}
	if err := bridge.EmergencyStopOut(context.Background(), "acct1", snapshot); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gw.closed) != 1 {
		t.Fatalf("expected the losing position closed, got %v", gw.closed)
	}
	if breaker.Allow() {
		t.Fatalf("expected breaker forced open after emergency stop")
	}
}

// TestMarginResponseBridge_ProtectUsesCriticalThresholdAsRatioBase verifies
// Protect feeds the configured Critical threshold, not StopOut or Warning,
// as the RiskEvent's ThresholdValue (so the ratio matches the band
// baseSeverity expects for a level at/under the critical line).
func TestMarginResponseBridge_ProtectUsesCriticalThresholdAsRatioBase(t *testing.T) {
	gw := &stubGateway{}
	breaker := resilience.NewBreaker(resilience.BreakerConfig{})
	exposures := &stubExposureSource{exposure: AccountExposure{
		TotalPositions:  1,
		LosingPositions: 1,
		Positions: []model.UnifiedPosition{
			{PositionID: "p1", Symbol: "EURUSD", UnrealizedPnL: decimal.NewFromInt(-50)},
		},
	}}
	executor := NewResponseExecutor(
		func(accountID string) (venue.Gateway, error) { return gw, nil },
		func(accountID string) (*resilience.Breaker, error) { return breaker, nil },
	)
	engine := NewRiskResponseEngine(exposures, executor, nil, nil)
	thresholds := DefaultMarginThresholds()
	bridge := NewMarginResponseBridge(engine, thresholds)

	snapshot := MarginSnapshot{
		AccountID:  "acct1",
		Level:      decimal.NewFromInt(115), // below Critical(120), ratio < 1.0
		Alert:      MarginAlertCritical,
		ComputedAt: time.Now(),
	}
	if err := bridge.Protect(context.Background(), "acct1", snapshot); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// ratio 115/120 < 0.9 is false but < 1.0 is true -> High base severity;
	// the account multiplier (1 losing of 1 -> 2.0) escalates it two levels,
	// capped at Critical -> EmergencyStop, which closes the one position.
	if len(gw.closed) != 1 {
		t.Fatalf("expected the losing position reduced, got %v", gw.closed)
	}
}
