package exit

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"trading-core/internal/model"
)

// Engine runs the periodic per-position evaluation loop (§4.7). Managers
// are invoked in the fixed order TrailingStop -> BreakEven -> PartialProfit
// -> TimeExit -> NewsProtection; the highest-precedence non-NoAction result
// is applied, and within the same precedence category the last-running
// manager wins (so NewsProtection's ModifyStopLoss beats TrailingStop's).
type Engine struct {
	managers []Manager
	gateway  Gateway
	source   PositionSource
	audit    AuditLogger
	interval time.Duration
}

// NewEngine builds the engine with the five managers in spec order.
func NewEngine(gateway Gateway, source PositionSource, audit AuditLogger, trailing *TrailingStopManager, breakEven *BreakEvenManager, partial *PartialProfitManager, timeExit *TimeBasedExitManager, news *NewsEventProtection) *Engine {
	return &Engine{
		managers: []Manager{trailing, breakEven, partial, timeExit, news},
		gateway:  gateway,
		source:   source,
		audit:    audit,
		interval: time.Second,
	}
}

// Run blocks, evaluating every account's open positions once per interval
// (default 1s, §4.7) until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, accountIDs func() []string) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, accountID := range accountIDs() {
				e.EvaluateAccount(ctx, accountID)
			}
		}
	}
}

// EvaluateAccount fetches the account's open positions and runs one
// evaluation cycle, short-circuiting if there are none (§4.7 step 1).
func (e *Engine) EvaluateAccount(ctx context.Context, accountID string) {
	positions, err := e.source.OpenPositions(ctx, accountID)
	if err != nil {
		log.Printf("exit: fetch positions for %s: %v", accountID, err)
		return
	}
	if len(positions) == 0 {
		return
	}

	for _, pos := range positions {
		tick, ok := e.source.LastTick(pos.Symbol)
		if !ok {
			continue
		}
		e.evaluatePosition(ctx, pos, tick)
	}
}

// evaluatePosition runs all five managers against one position, selects the
// winning action per the precedence rule, and applies it (§4.7 steps 2-4).
func (e *Engine) evaluatePosition(ctx context.Context, pos model.UnifiedPosition, tick Tick) {
	var winner Action
	for _, manager := range e.managers {
		action := manager.Evaluate(ctx, pos, tick)
		if action.Kind == NoAction {
			continue
		}
		if winner.Kind == NoAction || action.Kind.precedence() >= winner.Kind.precedence() {
			winner = action
		}
	}

	if winner.Kind == NoAction {
		return
	}

	e.apply(ctx, pos, winner)
}

func (e *Engine) apply(ctx context.Context, pos model.UnifiedPosition, action Action) {
	var oldValue, newValue string
	var err error

	switch action.Kind {
	case ModifyStopLoss:
		oldValue = stopLossString(pos.StopLoss)
		newValue = action.NewPrice.String()
		err = e.gateway.ModifyPositionStop(ctx, pos.AccountID, pos.PositionID, pos.Symbol, action.NewPrice)
	case ModifyTakeProfit:
		oldValue = takeProfitString(pos.TakeProfit)
		newValue = action.NewPrice.String()
		err = e.gateway.ModifyPositionTarget(ctx, pos.AccountID, pos.PositionID, pos.Symbol, action.NewPrice)
	case PartialClose:
		oldValue = pos.Quantity.String()
		qty := action.Quantity
		newValue = pos.Quantity.Sub(qty).String()
		err = e.gateway.ClosePosition(ctx, pos.AccountID, pos.PositionID, pos.Symbol, &qty)
	case FullClose:
		oldValue = pos.Quantity.String()
		newValue = "0"
		err = e.gateway.ClosePosition(ctx, pos.AccountID, pos.PositionID, pos.Symbol, nil)
	default:
		return
	}

	if err != nil {
		log.Printf("exit: %s action %s on position %s failed: %v", action.Manager, action.Kind, pos.PositionID, err)
	}

	if e.audit != nil {
		e.audit.RecordExitAction(ctx, pos.PositionID, action.Manager, oldValue, newValue, action.Reason, time.Now())
	}
}

func stopLossString(sl *decimal.Decimal) string {
	if sl == nil {
		return ""
	}
	return sl.String()
}

func takeProfitString(tp *decimal.Decimal) string {
	if tp == nil {
		return ""
	}
	return tp.String()
}
