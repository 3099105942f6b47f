package exit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trading-core/internal/model"
)

type fakeGateway struct {
	mu    sync.Mutex
	calls []string
}

func (g *fakeGateway) ModifyPositionStop(ctx context.Context, accountID, positionID, symbol string, stopLoss decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, "ModifyStop:"+stopLoss.String())
	return nil
}

func (g *fakeGateway) ModifyPositionTarget(ctx context.Context, accountID, positionID, symbol string, takeProfit decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, "ModifyTarget:"+takeProfit.String())
	return nil
}

func (g *fakeGateway) ClosePosition(ctx context.Context, accountID, positionID, symbol string, quantity *decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if quantity == nil {
		g.calls = append(g.calls, "FullClose")
	} else {
		g.calls = append(g.calls, "PartialClose:"+quantity.String())
	}
	return nil
}

type fakeSource struct {
	positions []model.UnifiedPosition
	ticks     map[string]Tick
}

func (s *fakeSource) OpenPositions(ctx context.Context, accountID string) ([]model.UnifiedPosition, error) {
	return s.positions, nil
}

func (s *fakeSource) LastTick(symbol string) (Tick, bool) {
	tick, ok := s.ticks[symbol]
	return tick, ok
}

type fakeAudit struct {
	mu      sync.Mutex
	records []string
}

func (a *fakeAudit) RecordExitAction(ctx context.Context, positionID, manager, old, new, reason string, ts time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, manager+":"+positionID)
}

// TestEngine_FullCloseSupersedesModifyStopLoss verifies the §4.7 precedence
// rule: a TimeExit FullClose beats a concurrently-proposed TrailingStop
// ModifyStopLoss for the same position in the same tick.
func TestEngine_FullCloseSupersedesModifyStopLoss(t *testing.T) {
	sl := dec("1.0950")
	pos := model.UnifiedPosition{
		PositionID: "p1",
		AccountID:  "acct1",
		Symbol:     "EURUSD",
		Side:       model.PositionLong,
		Quantity:   dec("1.0"),
		EntryPrice: dec("1.1000"),
		StopLoss:   &sl,
		OpenedAt:   time.Now().Add(-48 * time.Hour),
	}

	trailing := NewTrailingStopManager(TrailingStopConfig{ActivationThreshold: dec("0.0001"), TrailingDistance: dec("0.0010")})
	breakEven := NewBreakEvenManager(DefaultBreakEvenConfig())
	partial := NewPartialProfitManager(nil)
	timeExit := NewTimeBasedExitManager(time.Hour, nil) // position opened 48h ago -> fires
	news := NewNewsEventProtection(NewsPolicyWiden, dec("0.0010"))

	gw := &fakeGateway{}
	source := &fakeSource{
		positions: []model.UnifiedPosition{pos},
		ticks:     map[string]Tick{"EURUSD": {Symbol: "EURUSD", Bid: dec("1.1030"), Ask: dec("1.1030")}},
	}
	audit := &fakeAudit{}

	engine := NewEngine(gw, source, audit, trailing, breakEven, partial, timeExit, news)
	engine.EvaluateAccount(context.Background(), "acct1")

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.calls) != 1 || gw.calls[0] != "FullClose" {
		t.Fatalf("expected exactly one FullClose call, got %v", gw.calls)
	}
}

// TestEngine_NoOpenPositionsShortCircuits verifies §4.7 step 1.
func TestEngine_NoOpenPositionsShortCircuits(t *testing.T) {
	gw := &fakeGateway{}
	source := &fakeSource{positions: nil, ticks: map[string]Tick{}}
	engine := NewEngine(gw, source, nil,
		NewTrailingStopManager(TrailingStopConfig{}),
		NewBreakEvenManager(DefaultBreakEvenConfig()),
		NewPartialProfitManager(nil),
		NewTimeBasedExitManager(0, nil),
		NewNewsEventProtection(NewsPolicyWiden, decimal.Zero),
	)
	engine.EvaluateAccount(context.Background(), "acct1")

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.calls) != 0 {
		t.Fatalf("expected no venue calls for empty position list, got %v", gw.calls)
	}
}
