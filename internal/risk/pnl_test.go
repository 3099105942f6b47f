package risk

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"trading-core/internal/events"
	"trading-core/internal/model"
	"trading-core/internal/money"
)

// TestPnLCalculator_S6_FXNormalization reproduces spec scenario S6: account
// currency USD, long EURJPY 100000 @ 150.00, current 150.50, USD/JPY 149.5.
// Expected unrealized P&L ~= 0.50 * 100000 / 149.5 ~= 334.45 USD.
func TestPnLCalculator_S6_FXNormalization(t *testing.T) {
	usdJPY := decimal.NewFromFloat(149.5)
	converter := money.NewConverter(func(base, quote string) (decimal.Decimal, error) {
		if base == "JPY" && quote == "USD" {
			return decimal.NewFromInt(1).Div(usdJPY), nil
		}
		return decimal.NewFromInt(1), nil
	})
	pips := money.NewPipTable()

	calc := NewPnLCalculator(events.NewBus(), converter, pips, nil)
	calc.Track(model.UnifiedPosition{
		PositionID: "p1",
		AccountID:  "acct1",
		Symbol:     "EURJPY",
		Side:       model.PositionLong,
		Quantity:   decimal.NewFromInt(100000),
		EntryPrice: decimal.NewFromFloat(150.00),
	}, "USD")

	calc.OnTick("EURJPY", decimal.NewFromFloat(150.50), decimal.NewFromFloat(150.50))

	positions := calc.Positions()
	if len(positions) != 1 {
		t.Fatalf("expected 1 tracked position, got %d", len(positions))
	}

	got := positions[0].UnrealizedPnL
	want := decimal.NewFromFloat(334.448).Round(0)
	if !got.Round(0).Equal(want) {
		t.Fatalf("expected unrealized P&L ~= %s, got %s", want, got)
	}
}

func TestQuoteCurrency_HandlesFourCharStablecoinQuotes(t *testing.T) {
	cases := map[string]string{
		"EURUSD":  "USD",
		"BTCUSDT": "USDT",
		"ETHUSDC": "USDC",
		"BTCBUSD": "BUSD",
	}
	for symbol, want := range cases {
		if got := quoteCurrency(symbol); got != want {
			t.Fatalf("quoteCurrency(%s): expected %s, got %s", symbol, want, got)
		}
	}
}

// TestPnLCalculator_USDTQuotedSymbolConverts reproduces the bug where
// quoteCurrency's 3-char suffix truncated BTCUSDT into "SDT": the rate
// source only knows the real USDT/USD pair, so a wrong base currency would
// error out and silently skip the position instead of converting it.
func TestPnLCalculator_USDTQuotedSymbolConverts(t *testing.T) {
	converter := money.NewConverter(func(base, quote string) (decimal.Decimal, error) {
		if base == "USDT" && quote == "USD" {
			return decimal.NewFromInt(1), nil
		}
		return decimal.Decimal{}, fmt.Errorf("no rate for %s/%s", base, quote)
	})
	calc := NewPnLCalculator(events.NewBus(), converter, money.NewPipTable(), nil)
	calc.Track(model.UnifiedPosition{
		PositionID: "p1",
		AccountID:  "acct1",
		Symbol:     "BTCUSDT",
		Side:       model.PositionLong,
		Quantity:   decimal.NewFromFloat(1),
		EntryPrice: decimal.NewFromFloat(50000),
	}, "USD")

	calc.OnTick("BTCUSDT", decimal.NewFromFloat(51000), decimal.NewFromFloat(51000))

	positions := calc.Positions()
	if len(positions) != 1 {
		t.Fatalf("expected 1 tracked position, got %d", len(positions))
	}
	want := decimal.NewFromFloat(1000)
	if !positions[0].UnrealizedPnL.Equal(want) {
		t.Fatalf("expected unrealized P&L %s, got %s", want, positions[0].UnrealizedPnL)
	}
}

func TestPnLCalculator_SkipsInconsistentPosition(t *testing.T) {
	converter := money.NewConverter(func(base, quote string) (decimal.Decimal, error) {
		return decimal.NewFromInt(1), nil
	})
	calc := NewPnLCalculator(events.NewBus(), converter, money.NewPipTable(), nil)
	calc.Track(model.UnifiedPosition{
		PositionID: "bad",
		AccountID:  "acct1",
		Symbol:     "EURUSD",
		Side:       model.PositionLong,
		Quantity:   decimal.Zero, // invalid: zero quantity
		EntryPrice: decimal.NewFromFloat(1.1000),
	}, "USD")

	calc.OnTick("EURUSD", decimal.NewFromFloat(1.1050), decimal.NewFromFloat(1.1050))

	if got := calc.SymbolPnL("EURUSD"); !got.IsZero() {
		t.Fatalf("expected zero aggregate P&L when the only position is skipped, got %s", got)
	}
}
