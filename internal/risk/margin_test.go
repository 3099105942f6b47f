package risk

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trading-core/internal/events"
	"trading-core/internal/model"
)

type fakeAccountSource struct {
	account   model.AccountInfo
	positions []model.UnifiedPosition
}

func (s *fakeAccountSource) AccountInfo(ctx context.Context, accountID string) (model.AccountInfo, error) {
	return s.account, nil
}

func (s *fakeAccountSource) Positions(ctx context.Context, accountID string) ([]model.UnifiedPosition, error) {
	return s.positions, nil
}

type fakeProtection struct {
	protectedCalls int
	stoppedCalls   int
}

func (p *fakeProtection) Protect(ctx context.Context, accountID string, snapshot MarginSnapshot) error {
	p.protectedCalls++
	return nil
}

func (p *fakeProtection) EmergencyStopOut(ctx context.Context, accountID string, snapshot MarginSnapshot) error {
	p.stoppedCalls++
	return nil
}

// TestMarginMonitor_S3_EmergencyStopOut reproduces spec scenario S3: balance
// 10000, one short with used_margin 9500, unrealized -500. equity=9500,
// level=100%. warning=150, critical=120, stop_out=100. Expect emergency.
func TestMarginMonitor_S3_EmergencyStopOut(t *testing.T) {
	leverage := NewLeverageTable()
	leverage.Set("EURUSD", decimal.NewFromInt(1)) // so notional == required margin

	source := &fakeAccountSource{
		account: model.AccountInfo{AccountID: "acct1", Balance: decimal.NewFromInt(10000)},
		positions: []model.UnifiedPosition{
			{
				PositionID:    "p1",
				AccountID:     "acct1",
				Symbol:        "EURUSD",
				Side:          model.PositionShort,
				Quantity:      decimal.NewFromInt(1),
				CurrentPrice:  decimal.NewFromInt(9500),
				UnrealizedPnL: decimal.NewFromInt(-500),
			},
		},
	}
	protection := &fakeProtection{}
	monitor := NewMarginMonitor(nil, source, leverage, protection, DefaultMarginThresholds())

	snapshot := monitor.evaluate(context.Background(), "acct1")
	if !snapshot.Level.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected margin level 100%%, got %s", snapshot.Level)
	}
	if snapshot.Alert != MarginAlertEmergency {
		t.Fatalf("expected Emergency alert, got %s", snapshot.Alert)
	}
	if protection.stoppedCalls != 1 {
		t.Fatalf("expected emergency_stop_out invoked exactly once, got %d", protection.stoppedCalls)
	}
}

func TestMarginMonitor_ZeroUsedMarginIsInfiniteLevel(t *testing.T) {
	leverage := NewLeverageTable()
	source := &fakeAccountSource{
		account:   model.AccountInfo{AccountID: "acct1", Balance: decimal.NewFromInt(1000)},
		positions: nil,
	}
	monitor := NewMarginMonitor(nil, source, leverage, nil, DefaultMarginThresholds())
	snapshot := monitor.evaluate(context.Background(), "acct1")
	if !model.IsInfiniteMarginLevel(snapshot.Level) {
		t.Fatalf("expected +Inf sentinel for zero used margin, got %s", snapshot.Level)
	}
	if snapshot.Alert != MarginAlertNone {
		t.Fatalf("expected no alert for infinite margin level, got %s", snapshot.Alert)
	}
}

// TestMarginMonitor_PublishesAccountUpdateEveryCycle verifies AccountUpdate
// fires every evaluation, unlike RiskAlert which only fires on tier changes.
func TestMarginMonitor_PublishesAccountUpdateEveryCycle(t *testing.T) {
	bus := events.NewBus()
	ch, unsubscribe := bus.Subscribe(model.EventAccountUpdate, 4)
	defer unsubscribe()

	leverage := NewLeverageTable()
	source := &fakeAccountSource{
		account:   model.AccountInfo{AccountID: "acct1", Balance: decimal.NewFromInt(1000)},
		positions: nil,
	}
	monitor := NewMarginMonitor(bus, source, leverage, nil, DefaultMarginThresholds())

	monitor.evaluate(context.Background(), "acct1")
	monitor.evaluate(context.Background(), "acct1")

	for i := 0; i < 2; i++ {
		select {
		case ev := <-ch:
			if ev.AccountID != "acct1" {
				t.Fatalf("expected account_id acct1, got %s", ev.AccountID)
			}
			if _, ok := ev.Data.(MarginSnapshot); !ok {
				t.Fatalf("expected MarginSnapshot payload, got %T", ev.Data)
			}
		case <-time.After(time.Second):
			t.Fatalf("expected AccountUpdate event %d, got none", i)
		}
	}
}
