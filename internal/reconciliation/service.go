// Package reconciliation periodically compares what the venue reports as
// open against what the engine's own P&L tracking believes is open, and
// persists any drift for audit (§4.8's position bookkeeping feeding the
// reconciliation_reports table).
package reconciliation

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trading-core/internal/model"
	"trading-core/pkg/db"
)

// PositionSource is the venue-truth side of a reconciliation pass.
type PositionSource interface {
	Positions(ctx context.Context, accountID string) ([]model.UnifiedPosition, error)
}

// EngineTracker is the engine's own belief about what's open; Positions
// returns every tracked position across all accounts, filtered by caller.
type EngineTracker interface {
	Positions() []model.UnifiedPosition
}

// PositionDiff is one symbol whose venue-reported quantity disagrees with
// what the engine is tracking.
type PositionDiff struct {
	Symbol     string
	VenueQty   decimal.Decimal
	TrackedQty decimal.Decimal
	Difference decimal.Decimal
}

// Report is one reconciliation pass's outcome for a single account.
type Report struct {
	AccountID string
	Timestamp time.Time
	Diffs     []PositionDiff
	HasDiffs  bool
}

// Service runs periodic per-account reconciliation and persists reports.
type Service struct {
	venuePositions PositionSource
	engineTracker  EngineTracker
	queries        *db.ReconciliationQueries
	interval       time.Duration

	mu sync.Mutex
}

// NewService builds a reconciliation service. interval defaults to a minute
// if zero.
func NewService(venuePositions PositionSource, engineTracker EngineTracker, queries *db.ReconciliationQueries, interval time.Duration) *Service {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Service{
		venuePositions: venuePositions,
		engineTracker:  engineTracker,
		queries:        queries,
		interval:       interval,
	}
}

// Start runs Reconcile for every account in accountIDs() each interval
// until ctx is cancelled.
func (s *Service) Start(ctx context.Context, accountIDs func() []string) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, accountID := range accountIDs() {
					report, err := s.Reconcile(ctx, accountID)
					if err != nil {
						log.Printf("⚠️ reconciliation failed for %s: %v", accountID, err)
						continue
					}
					s.handleReport(ctx, report)
				}
			}
		}
	}()
	log.Printf("✓ reconciliation service started (interval: %v)", s.interval)
}

// Reconcile compares the venue's reported positions for accountID against
// the engine's tracked set, symbol by symbol.
func (s *Service) Reconcile(ctx context.Context, accountID string) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	venuePos, err := s.venuePositions.Positions(ctx, accountID)
	if err != nil {
		return Report{}, fmt.Errorf("reconciliation: venue positions for %s: %w", accountID, err)
	}

	venueBySymbol := make(map[string]decimal.Decimal, len(venuePos))
	for _, pos := range venuePos {
		venueBySymbol[pos.Symbol] = venueBySymbol[pos.Symbol].Add(pos.Quantity)
	}

	trackedBySymbol := make(map[string]decimal.Decimal)
	for _, pos := range s.engineTracker.Positions() {
		if pos.AccountID != accountID {
			continue
		}
		trackedBySymbol[pos.Symbol] = trackedBySymbol[pos.Symbol].Add(pos.Quantity)
	}

	report := Report{AccountID: accountID, Timestamp: time.Now()}
	symbols := make(map[string]bool)
	for sym := range venueBySymbol {
		symbols[sym] = true
	}
	for sym := range trackedBySymbol {
		symbols[sym] = true
	}
	for sym := range symbols {
		venueQty := venueBySymbol[sym]
		trackedQty := trackedBySymbol[sym]
		if !venueQty.Equal(trackedQty) {
			report.Diffs = append(report.Diffs, PositionDiff{
				Symbol:     sym,
				VenueQty:   venueQty,
				TrackedQty: trackedQty,
				Difference: venueQty.Sub(trackedQty),
			})
			report.HasDiffs = true
		}
	}
	return report, nil
}

func (s *Service) handleReport(ctx context.Context, report Report) {
	if !report.HasDiffs {
		return
	}
	log.Printf("⚠️ reconciliation drift for %s: %d symbol(s) disagree", report.AccountID, len(report.Diffs))
	for _, diff := range report.Diffs {
		log.Printf("  %s: venue=%s tracked=%s diff=%s", diff.Symbol, diff.VenueQty, diff.TrackedQty, diff.Difference)
	}
	if s.queries == nil {
		return
	}
	if err := s.queries.SaveReport(ctx, report.AccountID, report.HasDiffs, len(report.Diffs), 0, formatDiffs(report.Diffs)); err != nil {
		log.Printf("⚠️ failed to persist reconciliation report for %s: %v", report.AccountID, err)
	}
}

func formatDiffs(diffs []PositionDiff) string {
	out := ""
	for i, d := range diffs {
		if i > 0 {
			out += "; "
		}
		out += fmt.Sprintf("%s venue=%s tracked=%s", d.Symbol, d.VenueQty, d.TrackedQty)
	}
	return out
}
