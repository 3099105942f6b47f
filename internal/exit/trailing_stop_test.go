package exit

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trading-core/internal/model"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// TestTrailingStopManager_S1 reproduces spec scenario S1: long EURUSD @
// 1.1000, initial SL 1.0950, trail distance 20 pips, activation 30 pips.
func TestTrailingStopManager_S1(t *testing.T) {
	mgr := NewTrailingStopManager(TrailingStopConfig{
		ActivationThreshold: dec("0.0030"),
		TrailingDistance:    dec("0.0020"),
	})

	sl := dec("1.0950")
	pos := model.UnifiedPosition{
		PositionID: "p1",
		Symbol:     "EURUSD",
		Side:       model.PositionLong,
		Quantity:   dec("1.0"),
		EntryPrice: dec("1.1000"),
		StopLoss:   &sl,
		OpenedAt:   time.Now(),
	}

	ticks := []string{"1.1050", "1.1080", "1.1100", "1.1070"}
	expected := []string{"", "1.1060", "1.1080", ""}

	for i, price := range ticks {
		tick := Tick{Symbol: "EURUSD", Bid: dec(price), Ask: dec(price), Time: time.Now()}
		action := mgr.Evaluate(context.Background(), pos, tick)

		if expected[i] == "" {
			if action.Kind != NoAction {
				t.Fatalf("tick %d (%s): expected NoAction, got %s %s", i, price, action.Kind, action.NewPrice)
			}
			continue
		}
		if action.Kind != ModifyStopLoss {
			t.Fatalf("tick %d (%s): expected ModifyStopLoss, got %s", i, price, action.Kind)
		}
		if !action.NewPrice.Equal(dec(expected[i])) {
			t.Fatalf("tick %d (%s): expected SL %s, got %s", i, price, expected[i], action.NewPrice)
		}
		// Reflect the applied stop back onto the position, as the engine
		// would after a successful ModifyPositionStop call.
		newSL := action.NewPrice
		pos.StopLoss = &newSL
	}
}

// TestTrailingStopManager_NeverMovesAgainstPosition covers §8 invariant 7.
func TestTrailingStopManager_NeverMovesAgainstPosition(t *testing.T) {
	mgr := NewTrailingStopManager(TrailingStopConfig{
		ActivationThreshold: dec("0.0010"),
		TrailingDistance:    dec("0.0020"),
	})

	sl := dec("1.0950")
	pos := model.UnifiedPosition{
		PositionID: "p1",
		Symbol:     "EURUSD",
		Side:       model.PositionLong,
		Quantity:   dec("1.0"),
		EntryPrice: dec("1.1000"),
		StopLoss:   &sl,
		OpenedAt:   time.Now(),
	}

	first := mgr.Evaluate(context.Background(), pos, Tick{Bid: dec("1.1020"), Ask: dec("1.1020")})
	if first.Kind != NoAction {
		t.Fatalf("activating tick should not itself propose a stop, got %s", first.Kind)
	}

	second := mgr.Evaluate(context.Background(), pos, Tick{Bid: dec("1.1050"), Ask: dec("1.1050")})
	if second.Kind != ModifyStopLoss {
		t.Fatalf("expected ModifyStopLoss after activation, got %s", second.Kind)
	}
	newSL := second.NewPrice
	pos.StopLoss = &newSL

	// Adverse move: must never propose a worse stop.
	third := mgr.Evaluate(context.Background(), pos, Tick{Bid: dec("1.1010"), Ask: dec("1.1010")})
	if third.Kind != NoAction {
		t.Fatalf("adverse tick must not move SL, got %s %s", third.Kind, third.NewPrice)
	}
}
