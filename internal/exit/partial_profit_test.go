package exit

import (
	"context"
	"testing"
	"time"

	"trading-core/internal/model"
)

// TestPartialProfitManager_S2 reproduces spec scenario S2: long @ 1.1000,
// SL 1.0980, quantity 3.0, ladder [(1R,1/3),(2R,1/3),(3R,1/3)].
func TestPartialProfitManager_S2(t *testing.T) {
	ladder := []ProfitTarget{
		{RMultiple: dec("1"), CloseFraction: dec("0.3333333333")},
		{RMultiple: dec("2"), CloseFraction: dec("0.3333333333")},
		{RMultiple: dec("3"), CloseFraction: dec("0.3333333333")},
	}
	mgr := NewPartialProfitManager(ladder)

	sl := dec("1.0980")
	pos := model.UnifiedPosition{
		PositionID: "p2",
		Symbol:     "EURUSD",
		Side:       model.PositionLong,
		Quantity:   dec("3.0"),
		EntryPrice: dec("1.1000"),
		StopLoss:   &sl,
		OpenedAt:   time.Now(),
	}

	ticks := []string{"1.1020", "1.1040", "1.1060"}
	for i, price := range ticks {
		tick := Tick{Symbol: "EURUSD", Bid: dec(price), Ask: dec(price)}
		action := mgr.Evaluate(context.Background(), pos, tick)
		if action.Kind != PartialClose {
			t.Fatalf("tick %d (%s): expected PartialClose, got %s", i, price, action.Kind)
		}
		if !action.Quantity.Round(4).Equal(dec("1.0")) {
			t.Fatalf("tick %d (%s): expected quantity ~1.0, got %s", i, price, action.Quantity)
		}
	}

	// A further tick at the same or better price must not re-fire any target.
	again := mgr.Evaluate(context.Background(), pos, Tick{Bid: dec("1.1100"), Ask: dec("1.1100")})
	if again.Kind != NoAction {
		t.Fatalf("expected NoAction once all targets fired, got %s", again.Kind)
	}
}

func TestPartialProfitManager_TargetFiresOnlyOnce(t *testing.T) {
	mgr := NewPartialProfitManager([]ProfitTarget{{RMultiple: dec("1"), CloseFraction: dec("0.5")}})
	sl := dec("1.0980")
	pos := model.UnifiedPosition{
		PositionID: "p3",
		Symbol:     "EURUSD",
		Side:       model.PositionLong,
		Quantity:   dec("2.0"),
		EntryPrice: dec("1.1000"),
		StopLoss:   &sl,
	}

	first := mgr.Evaluate(context.Background(), pos, Tick{Bid: dec("1.1020"), Ask: dec("1.1020")})
	if first.Kind != PartialClose {
		t.Fatalf("expected first tick to trigger target, got %s", first.Kind)
	}
	second := mgr.Evaluate(context.Background(), pos, Tick{Bid: dec("1.1030"), Ask: dec("1.1030")})
	if second.Kind != NoAction {
		t.Fatalf("target must not fire twice for same position, got %s", second.Kind)
	}
}
