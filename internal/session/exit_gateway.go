package session

import (
	"context"

	"github.com/shopspring/decimal"

	"trading-core/internal/exit"
	"trading-core/internal/model"
)

var _ exit.Gateway = (*ExitGateway)(nil)

// ExitGateway bridges the per-account Manager onto exit.Gateway. Most FIX
// and REST venues track a position's stop-loss/take-profit as position-level
// attributes rather than requiring the original entry order's id, so
// modifications are addressed by positionID the same way the venue's
// PositionReport does (§6: "AP PositionReport").
type ExitGateway struct {
	manager *Manager
}

// NewExitGateway builds an exit.Gateway backed by manager.
func NewExitGateway(manager *Manager) *ExitGateway {
	return &ExitGateway{manager: manager}
}

func (g *ExitGateway) ModifyPositionStop(ctx context.Context, accountID, positionID, symbol string, stopLoss decimal.Decimal) error {
	gw, err := g.manager.GetOrCreate(ctx, accountID)
	if err != nil {
		return err
	}
	_, err = gw.Modify(ctx, positionID, model.Modification{StopLoss: &stopLoss})
	return err
}

func (g *ExitGateway) ModifyPositionTarget(ctx context.Context, accountID, positionID, symbol string, takeProfit decimal.Decimal) error {
	gw, err := g.manager.GetOrCreate(ctx, accountID)
	if err != nil {
		return err
	}
	_, err = gw.Modify(ctx, positionID, model.Modification{TakeProfit: &takeProfit})
	return err
}

func (g *ExitGateway) ClosePosition(ctx context.Context, accountID, positionID, symbol string, quantity *decimal.Decimal) error {
	gw, err := g.manager.GetOrCreate(ctx, accountID)
	if err != nil {
		return err
	}
	return gw.ClosePosition(ctx, symbol, quantity)
}
