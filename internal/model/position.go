package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionSide is the unified position direction.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// Sign returns 1 for Long and -1 for Short, matching the P&L sign
// convention used throughout §4.8 (unrealized_pnl = (current-entry)*qty*sign).
func (s PositionSide) Sign() int64 {
	if s == PositionShort {
		return -1
	}
	return 1
}

// UnifiedPosition is the venue-neutral open-exposure snapshot.
//
// Invariants (see spec §3): mfe tracks the best unrealized P&L observed,
// mae the worst; unrealized_pnl is always (current-entry)*quantity*sign(side)
// after FX normalization into the account currency.
type UnifiedPosition struct {
	PositionID   string
	AccountID    string
	Symbol       string
	Side         PositionSide
	Quantity     decimal.Decimal
	EntryPrice   decimal.Decimal
	CurrentPrice decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
	MarginUsed    decimal.Decimal
	StopLoss      *decimal.Decimal
	TakeProfit    *decimal.Decimal
	OpenedAt      time.Time
	UpdatedAt     time.Time

	MaxFavorableExcursion decimal.Decimal
	MaxAdverseExcursion   decimal.Decimal
}

// ApplyExcursion folds a freshly computed unrealized P&L into the running
// MFE/MAE watermarks. Call after every P&L recompute, before persisting.
func (p *UnifiedPosition) ApplyExcursion(unrealized decimal.Decimal) {
	if unrealized.GreaterThan(p.MaxFavorableExcursion) {
		p.MaxFavorableExcursion = unrealized
	}
	if unrealized.LessThan(p.MaxAdverseExcursion) {
		p.MaxAdverseExcursion = unrealized
	}
}

// InitialRisk returns |entry - stopLoss|, the R-unit used by the partial
// profit ladder and break-even promotion. Returns a zero decimal if no
// stop-loss is set.
func (p *UnifiedPosition) InitialRisk() decimal.Decimal {
	if p.StopLoss == nil {
		return decimal.Zero
	}
	return p.EntryPrice.Sub(*p.StopLoss).Abs()
}

// FavorableExtreme returns the price side that favors this position's
// trailing-stop computation: ask for longs, bid for shorts. Callers pass the
// tick's bid/ask; this just picks the right one per side.
func (p *UnifiedPosition) FavorableExtreme(bid, ask decimal.Decimal) decimal.Decimal {
	if p.Side == PositionLong {
		return ask
	}
	return bid
}
