// Package exit implements the periodic exit management loop: five
// independent managers (trailing stop, break-even, partial profit,
// time-based exit, news protection) evaluated per open position in a fixed
// order with defined precedence and idempotence (§4.7).
package exit

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"trading-core/internal/model"
)

// ActionKind is the sum type of manager decisions (§4.7 step 3).
type ActionKind int

const (
	NoAction ActionKind = iota
	ModifyStopLoss
	ModifyTakeProfit
	PartialClose
	FullClose
)

func (k ActionKind) String() string {
	switch k {
	case NoAction:
		return "NO_ACTION"
	case ModifyStopLoss:
		return "MODIFY_STOP_LOSS"
	case ModifyTakeProfit:
		return "MODIFY_TAKE_PROFIT"
	case PartialClose:
		return "PARTIAL_CLOSE"
	case FullClose:
		return "FULL_CLOSE"
	default:
		return "UNKNOWN"
	}
}

// precedence ranks actions for batching: a higher rank wins within a tick
// (§4.7 step 4: FullClose > PartialClose > ModifyStopLoss > ModifyTakeProfit).
func (k ActionKind) precedence() int {
	switch k {
	case FullClose:
		return 4
	case PartialClose:
		return 3
	case ModifyStopLoss:
		return 2
	case ModifyTakeProfit:
		return 1
	default:
		return 0
	}
}

// Action is one manager's per-position decision.
type Action struct {
	Kind       ActionKind
	Manager    string
	NewPrice   decimal.Decimal // ModifyStopLoss / ModifyTakeProfit
	Quantity   decimal.Decimal // PartialClose
	Reason     string          // FullClose
}

// Tick is the market snapshot a manager evaluates a position against.
type Tick struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	Time   time.Time
}

// Manager is one of the five independent per-position evaluators (§4.7).
// Stop-moving and scale-out managers are idempotent: evaluating twice
// against unchanged position/tick state returns NoAction the second time. A
// FullClose proposal (time exit, news close policy) is repeated on every
// evaluation while the position is still open.
type Manager interface {
	Name() string
	Evaluate(ctx context.Context, pos model.UnifiedPosition, tick Tick) Action
}

// Gateway is the venue-facing surface the engine applies batched actions
// through. A position is modified directly (most venues support SL/TP as
// position- or trade-level attributes rather than requiring the original
// entry order's id), which keeps the engine decoupled from order-management
// bookkeeping.
type Gateway interface {
	ModifyPositionStop(ctx context.Context, accountID, positionID, symbol string, stopLoss decimal.Decimal) error
	ModifyPositionTarget(ctx context.Context, accountID, positionID, symbol string, takeProfit decimal.Decimal) error
	ClosePosition(ctx context.Context, accountID, positionID, symbol string, quantity *decimal.Decimal) error
}

// PositionSource supplies the open positions and latest tick per symbol
// each evaluation cycle.
type PositionSource interface {
	OpenPositions(ctx context.Context, accountID string) ([]model.UnifiedPosition, error)
	LastTick(symbol string) (Tick, bool)
}

// AuditLogger records every applied action (§4.7 step 5).
type AuditLogger interface {
	RecordExitAction(ctx context.Context, positionID, manager string, old, new string, reason string, ts time.Time)
}
