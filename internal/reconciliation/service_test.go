package reconciliation

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trading-core/internal/model"
)

type fakeVenuePositions struct {
	positions []model.UnifiedPosition
	err       error
}

func (f *fakeVenuePositions) Positions(ctx context.Context, accountID string) ([]model.UnifiedPosition, error) {
	return f.positions, f.err
}

type fakeEngineTracker struct {
	positions []model.UnifiedPosition
}

func (f *fakeEngineTracker) Positions() []model.UnifiedPosition {
	return f.positions
}

func TestReconcile_NoDiffWhenVenueAndEngineAgree(t *testing.T) {
	venue := &fakeVenuePositions{positions: []model.UnifiedPosition{
		{AccountID: "acct1", Symbol: "EURUSD", Quantity: decimal.NewFromInt(1)},
	}}
	engine := &fakeEngineTracker{positions: []model.UnifiedPosition{
		{AccountID: "acct1", Symbol: "EURUSD", Quantity: decimal.NewFromInt(1)},
	}}
	svc := NewService(venue, engine, nil, time.Minute)

	report, err := svc.Reconcile(context.Background(), "acct1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.HasDiffs {
		t.Fatalf("expected no diffs, got %+v", report.Diffs)
	}
}

func TestReconcile_FlagsQuantityDrift(t *testing.T) {
	venue := &fakeVenuePositions{positions: []model.UnifiedPosition{
		{AccountID: "acct1", Symbol: "EURUSD", Quantity: decimal.NewFromInt(2)},
	}}
	engine := &fakeEngineTracker{positions: []model.UnifiedPosition{
		{AccountID: "acct1", Symbol: "EURUSD", Quantity: decimal.NewFromInt(1)},
	}}
	svc := NewService(venue, engine, nil, time.Minute)

	report, err := svc.Reconcile(context.Background(), "acct1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.HasDiffs || len(report.Diffs) != 1 {
		t.Fatalf("expected one diff, got %+v", report.Diffs)
	}
	diff := report.Diffs[0]
	if !diff.Difference.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected difference 1, got %s", diff.Difference)
	}
}

func TestReconcile_IgnoresOtherAccountsPositions(t *testing.T) {
	venue := &fakeVenuePositions{positions: []model.UnifiedPosition{
		{AccountID: "acct1", Symbol: "EURUSD", Quantity: decimal.NewFromInt(1)},
	}}
	engine := &fakeEngineTracker{positions: []model.UnifiedPosition{
		{AccountID: "acct1", Symbol: "EURUSD", Quantity: decimal.NewFromInt(1)},
		{AccountID: "acct2", Symbol: "EURUSD", Quantity: decimal.NewFromInt(99)},
	}}
	svc := NewService(venue, engine, nil, time.Minute)

	report, err := svc.Reconcile(context.Background(), "acct1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.HasDiffs {
		t.Fatalf("expected acct2's drift to be ignored, got %+v", report.Diffs)
	}
}
