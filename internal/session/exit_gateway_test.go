package session

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"trading-core/internal/venue"
)

func TestExitGateway_ModifyPositionStopAddressesByPositionID(t *testing.T) {
	gw := &stubGateway{}
	factory := func(ctx context.Context, accountID string) (venue.Gateway, error) { return gw, nil }
	mgr := NewManager(factory, DefaultConfig(), nil)
	bridge := NewExitGateway(mgr)

	stop := decimal.NewFromFloat(1.0950)
	if err := bridge.ModifyPositionStop(context.Background(), "acct1", "pos1", "EURUSD", stop); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gw.lastModifyOrderID != "pos1" {
		t.Fatalf("expected modify addressed to pos1, got %s", gw.lastModifyOrderID)
	}
	if gw.lastModify.StopLoss == nil || !gw.lastModify.StopLoss.Equal(stop) {
		t.Fatalf("expected stop loss %s, got %v", stop, gw.lastModify.StopLoss)
	}
}

func TestExitGateway_ClosePositionDelegatesToGateway(t *testing.T) {
	gw := &stubGateway{}
	factory := func(ctx context.Context, accountID string) (venue.Gateway, error) { return gw, nil }
	mgr := NewManager(factory, DefaultConfig(), nil)
	bridge := NewExitGateway(mgr)

	qty := decimal.NewFromInt(1)
	if err := bridge.ClosePosition(context.Background(), "acct1", "pos1", "EURUSD", &qty); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gw.lastCloseSymbol != "EURUSD" {
		t.Fatalf("expected close on EURUSD, got %s", gw.lastCloseSymbol)
	}
	if gw.lastCloseQty == nil || !gw.lastCloseQty.Equal(qty) {
		t.Fatalf("expected close quantity %s, got %v", qty, gw.lastCloseQty)
	}
}
