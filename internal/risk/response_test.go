package risk

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"trading-core/internal/model"
	"trading-core/internal/resilience"
	"trading-core/internal/venue"
)

func TestRiskEvent_RatioZeroThresholdIsInfinite(t *testing.T) {
	e := RiskEvent{MetricValue: decimal.NewFromInt(100), ThresholdValue: decimal.Zero}
	if !model.IsInfiniteMarginLevel(e.Ratio()) {
		t.Fatalf("expected +Inf ratio for zero threshold, got %s", e.Ratio())
	}
}

func TestBaseSeverity_MarginLevelBands(t *testing.T) {
	cases := []struct {
		ratio float64
		want  model.Severity
	}{
		{0.75, model.SeverityCritical},
		{0.85, model.SeverityCritical},
		{0.95, model.SeverityHigh},
		{1.0, model.SeverityMedium},
		{1.5, model.SeverityLow},
	}
	for _, c := range cases {
		got := baseSeverity(RiskMarginLevel, decimal.NewFromFloat(c.ratio))
		if got != c.want {
			t.Fatalf("ratio %.2f: expected %s, got %s", c.ratio, c.want, got)
		}
	}
}

func TestEscalate_CapsAtCriticalAndTwoX(t *testing.T) {
	// multiplier 2.0 (cap) from Medium should push two steps to Critical.
	got := escalate(model.SeverityMedium, decimal.NewFromFloat(2.5)) // clamped to 2.0
	if got != model.SeverityCritical {
		t.Fatalf("expected escalation to cap at Critical, got %s", got)
	}
	// multiplier 1.0 (no losing positions) leaves severity unchanged.
	same := escalate(model.SeverityMedium, decimal.NewFromFloat(1.0))
	if same != model.SeverityMedium {
		t.Fatalf("expected no escalation at multiplier 1.0, got %s", same)
	}
}

func TestAccountMultiplier(t *testing.T) {
	exp := AccountExposure{TotalPositions: 4, LosingPositions: 2}
	got := accountMultiplier(exp)
	if !got.Equal(decimal.NewFromFloat(1.5)) {
		t.Fatalf("expected multiplier 1.5, got %s", got)
	}
}

func TestSelectAction_CriticalMarginLevelIsEmergencyStop(t *testing.T) {
	event := RiskEvent{RiskType: RiskMarginLevel, AccountID: "acct1"}
	action := selectAction(event, model.SeverityCritical)
	if action.Kind != ActionEmergencyStop {
		t.Fatalf("expected EmergencyStop, got %s", action.Kind)
	}
}

func TestSelectAction_HighMarginLevelReducesPositions(t *testing.T) {
	event := RiskEvent{RiskType: RiskMarginLevel}
	action := selectAction(event, model.SeverityHigh)
	if action.Kind != ActionReducePositions {
		t.Fatalf("expected ReducePositions, got %s", action.Kind)
	}
}

type stubExposureSource struct {
	exposure AccountExposure
}

func (s *stubExposureSource) Exposure(ctx context.Context, accountID string) (AccountExposure, error) {
	return s.exposure, nil
}

type stubGateway struct {
	venue.Gateway
	closed []string
}

func (g *stubGateway) ClosePosition(ctx context.Context, symbol string, quantity *decimal.Decimal) error {
	g.closed = append(g.closed, symbol)
	return nil
}

// TestRiskResponseEngine_EmergencyStopTripsBreakerAndClosesAll verifies
// §4.11 step 2/3: a Critical margin_level event trips the account breaker
// and closes every open position.
func TestRiskResponseEngine_EmergencyStopTripsBreakerAndClosesAll(t *testing.T) {
	gw := &stubGateway{}
	breaker := resilience.NewBreaker(resilience.DefaultBreakerConfig())

	exposure := AccountExposure{
		TotalPositions:  2,
		LosingPositions: 2,
		Positions: []model.UnifiedPosition{
			{PositionID: "p1", Symbol: "EURUSD", UnrealizedPnL: decimal.NewFromInt(-100)},
			{PositionID: "p2", Symbol: "GBPUSD", UnrealizedPnL: decimal.NewFromInt(-200)},
		},
	}
	exposures := &stubExposureSource{exposure: exposure}
	executor := NewResponseExecutor(
		func(accountID string) (venue.Gateway, error) { return gw, nil },
		func(accountID string) (*resilience.Breaker, error) { return breaker, nil },
	)
	engine := NewRiskResponseEngine(exposures, executor, nil, nil)

	event := RiskEvent{
		RiskType:       RiskMarginLevel,
		AccountID:      "acct1",
		MetricValue:    decimal.NewFromInt(75),
		ThresholdValue: decimal.NewFromInt(100),
	}
	if err := engine.Handle(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gw.closed) != 2 {
		t.Fatalf("expected both positions closed, got %v", gw.closed)
	}
	if breaker.Allow() {
		t.Fatalf("expected breaker forced open after emergency stop")
	}
}

func TestWorstPerforming_SelectsMostNegativeFirst(t *testing.T) {
	positions := []model.UnifiedPosition{
		{Symbol: "A", UnrealizedPnL: decimal.NewFromInt(-50)},
		{Symbol: "B", UnrealizedPnL: decimal.NewFromInt(-500)},
		{Symbol: "C", UnrealizedPnL: decimal.NewFromInt(10)},
	}
	got := worstPerforming(positions, decimal.NewFromInt(50))
	if len(got) != 1 || got[0].Symbol != "B" {
		t.Fatalf("expected worst performer B first, got %v", got)
	}
}
