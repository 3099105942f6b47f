package binance

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"trading-core/internal/events"
	"trading-core/internal/model"
	"trading-core/internal/venue"
	marketbinance "trading-core/pkg/market/binance"
	"trading-core/pkg/exchanges/binance/spot"
	"trading-core/pkg/exchanges/common"
)

// Adapter wraps the teacher's spot REST client and market-data stream client
// behind the unified venue.Gateway interface. It embeds BaseAdapter for the
// counters/idempotency/event-emission substrate every adapter shares.
type Adapter struct {
	*venue.BaseAdapter

	rest   *spot.Client
	stream *marketbinance.StreamClient

	accountID string
}

// Config is the minimal connection config this adapter needs; credentials
// and testnet flag come straight from pkg/config's venue block.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	AccountID string
}

// New builds an Adapter. Connect still needs to be called before use.
func New(cfg Config, bus *events.Bus) *Adapter {
	return &Adapter{
		BaseAdapter: venue.NewBaseAdapter("binance-spot", bus),
		rest: spot.New(spot.Config{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			Testnet:   cfg.Testnet,
		}),
		stream:    marketbinance.NewStreamClient(cfg.Testnet),
		accountID: cfg.AccountID,
	}
}

func venueErr(code model.Code, msg string, cause error) error {
	return model.NewVenueError(code, msg, cause)
}

func (a *Adapter) Connect(ctx context.Context) error {
	a.MarkOp()
	if _, err := a.rest.GetServerTime(); err != nil {
		a.MarkError()
		a.SetConnected(false, a.accountID)
		return venueErr(model.ErrConnectionFailed, "binance server time probe failed", err)
	}
	a.SetConnected(true, a.accountID)
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.SetConnected(false, a.accountID)
	return nil
}

func (a *Adapter) Ping(ctx context.Context) (int64, error) {
	a.MarkOp()
	start := time.Now()
	if _, err := a.rest.GetServerTime(); err != nil {
		a.MarkError()
		return 0, venueErr(model.ErrConnectionTimeout, "ping failed", err)
	}
	return time.Since(start).Milliseconds(), nil
}

// Place submits the order, honoring the §4.1 idempotent-place contract: a
// repeated call with a client_order_id already seen this session returns
// the cached response without hitting the venue again.
func (a *Adapter) Place(ctx context.Context, order model.UnifiedOrder) (model.UnifiedOrderResponse, error) {
	if resp, ok := a.Idempotent(order.ClientOrderID); ok {
		return resp, nil
	}
	if !a.Capabilities().Supports(order.Type, order.TIF) {
		return model.UnifiedOrderResponse{}, venueErr(model.ErrFeatureNotSupported, "order type/TIF not supported on binance spot", nil)
	}

	a.MarkOp()
	req := common.OrderRequest{
		Symbol:      order.Symbol,
		Side:        toBinanceSide(order.Side),
		Type:        toBinanceType(order.Type),
		Qty:         order.Quantity.InexactFloat64(),
		TimeInForce: toBinanceTIF(order.TIF),
		ClientID:    order.ClientOrderID,
	}
	if order.Price != nil {
		req.Price = order.Price.InexactFloat64()
	}
	if order.StopPrice != nil {
		req.StopPrice = order.StopPrice.InexactFloat64()
	}

	result, err := a.rest.SubmitOrder(ctx, req)
	if err != nil {
		a.MarkError()
		return model.UnifiedOrderResponse{}, venueErr(model.ErrOrderRejected, "submit order failed", err)
	}

	now := time.Now()
	resp := model.UnifiedOrderResponse{
		UnifiedOrder:    order,
		PlatformOrderID: result.ExchangeOrderID,
		Status:          toUnifiedStatus(result.Status),
		SubmittedAt:     now,
		UpdatedAt:       now,
	}
	if resp.Status == model.StatusFilled {
		resp.FilledQuantity = order.Quantity
	} else {
		resp.RemainingQuantity = order.Quantity
	}
	a.RecordPlaced(resp)
	return resp, nil
}

// Modify returns FeatureNotSupported for every modification: Binance spot
// has no native order-amend endpoint and spot orders carry no attached SL/TP
// legs. No cancel-then-replace emulation is performed.
func (a *Adapter) Modify(ctx context.Context, platformOrderID string, mod model.Modification) (model.UnifiedOrderResponse, error) {
	return model.UnifiedOrderResponse{}, venueErr(model.ErrFeatureNotSupported, "binance spot has no native order amend; cancel and re-place instead", nil)
}

func (a *Adapter) Cancel(ctx context.Context, platformOrderID string) error {
	a.MarkOp()
	if err := a.rest.CancelOrder(ctx, "", platformOrderID); err != nil {
		a.MarkError()
		return venueErr(model.ErrOrderModificationFailed, "cancel failed", err)
	}
	return nil
}

func (a *Adapter) GetOrder(ctx context.Context, platformOrderID string) (model.UnifiedOrderResponse, error) {
	a.MarkOp()
	order, err := a.rest.GetOrder(ctx, "", platformOrderID)
	if err != nil {
		a.MarkError()
		return model.UnifiedOrderResponse{}, venueErr(model.ErrOrderNotFound, "order lookup failed", err)
	}
	return openOrderToUnified(*order), nil
}

func (a *Adapter) ListOrders(ctx context.Context, filter venue.OrderFilter) ([]model.UnifiedOrderResponse, error) {
	a.MarkOp()
	orders, err := a.rest.GetOpenOrders(ctx, filter.Symbol)
	if err != nil {
		a.MarkError()
		return nil, venueErr(model.ErrOrderNotFound, "list orders failed", err)
	}
	out := make([]model.UnifiedOrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, openOrderToUnified(o))
	}
	return out, nil
}

func openOrderToUnified(o spot.OpenOrder) model.UnifiedOrderResponse {
	price, _ := decimal.NewFromString(o.Price)
	qty, _ := decimal.NewFromString(o.OrigQty)
	filled, _ := decimal.NewFromString(o.ExecQty)
	return model.UnifiedOrderResponse{
		UnifiedOrder: model.UnifiedOrder{
			Symbol:   o.Symbol,
			Side:     toVenueSide(common.Side(o.Side)),
			Quantity: qty,
			Price:    &price,
		},
		PlatformOrderID:   fmt.Sprintf("%d", o.OrderID),
		Status:            toUnifiedStatus(common.OrderStatus(o.Status)),
		FilledQuantity:    filled,
		RemainingQuantity: qty.Sub(filled),
	}
}

// ListPositions, GetPosition, and ClosePosition are no-ops on spot: spot
// balances aren't leveraged positions. A futures adapter built against the
// same interface would implement these for real.
func (a *Adapter) ListPositions(ctx context.Context) ([]model.UnifiedPosition, error) {
	return nil, nil
}

func (a *Adapter) GetPosition(ctx context.Context, symbol string) (model.UnifiedPosition, error) {
	return model.UnifiedPosition{}, venueErr(model.ErrPositionNotFound, "spot has no positions", nil)
}

func (a *Adapter) ClosePosition(ctx context.Context, symbol string, quantity *decimal.Decimal) error {
	return venueErr(model.ErrFeatureNotSupported, "spot has no positions to close", nil)
}

func (a *Adapter) AccountInfo(ctx context.Context) (model.AccountInfo, error) {
	a.MarkOp()
	info, err := a.rest.GetAccountInfo(ctx)
	if err != nil {
		a.MarkError()
		return model.AccountInfo{}, venueErr(model.ErrAccountNotFound, "account info failed", err)
	}
	balance := decimal.Zero
	for _, b := range info.Balances {
		if b.Asset != "USDT" {
			continue
		}
		free, _ := decimal.NewFromString(b.Free)
		locked, _ := decimal.NewFromString(b.Locked)
		balance = free.Add(locked)
	}
	return model.AccountInfo{
		AccountID:       a.accountID,
		Currency:        "USDT",
		Balance:         balance,
		Equity:          balance,
		MarginAvailable: balance,
		AccountType:     model.AccountLive,
	}, nil
}

func (a *Adapter) Balance(ctx context.Context) (decimal.Decimal, error) {
	info, err := a.AccountInfo(ctx)
	return info.Balance, err
}

func (a *Adapter) MarginInfo(ctx context.Context) (decimal.Decimal, decimal.Decimal, error) {
	info, err := a.AccountInfo(ctx)
	return decimal.Zero, info.Balance, err
}

func (a *Adapter) GetMarketData(ctx context.Context, symbol string) (venue.Tick, error) {
	ch, unsub, err := a.stream.SubscribeBookTicker(ctx, symbol)
	if err != nil {
		return venue.Tick{}, venueErr(model.ErrMarketDataUnavailable, "book ticker subscribe failed", err)
	}
	defer unsub()
	select {
	case t := <-ch:
		return venue.Tick{
			Symbol:    t.Symbol,
			Bid:       decimal.NewFromFloat(t.BidPrice),
			Ask:       decimal.NewFromFloat(t.AskPrice),
			Timestamp: time.UnixMilli(t.Time),
		}, nil
	case <-ctx.Done():
		return venue.Tick{}, ctx.Err()
	}
}

func (a *Adapter) Subscribe(ctx context.Context, symbols []string) (<-chan venue.Tick, error) {
	out := make(chan venue.Tick, 64)
	for _, sym := range symbols {
		ch, _, err := a.stream.SubscribeBookTicker(ctx, sym)
		if err != nil {
			close(out)
			return nil, venueErr(model.ErrSubscriptionFailed, "subscribe failed for "+sym, err)
		}
		go func(sym string, ch <-chan marketbinance.BookTicker) {
			for t := range ch {
				select {
				case out <- venue.Tick{
					Symbol:    t.Symbol,
					Bid:       decimal.NewFromFloat(t.BidPrice),
					Ask:       decimal.NewFromFloat(t.AskPrice),
					Timestamp: time.UnixMilli(t.Time),
				}:
				case <-ctx.Done():
					return
				}
			}
		}(sym, ch)
	}
	return out, nil
}

func (a *Adapter) Unsubscribe(ctx context.Context, symbols []string) error {
	return nil
}

// adapterEventTypes are the event types this venue adapter itself produces;
// SubscribeEvents fans them into one channel since the bus only supports
// per-type subscriptions.
var adapterEventTypes = []model.EventType{
	model.EventConnectionEstablished,
	model.EventConnectionLost,
	model.EventOrderPlaced,
	model.EventOrderAccepted,
	model.EventOrderFilled,
	model.EventOrderPartiallyFilled,
	model.EventOrderCancelled,
	model.EventOrderRejected,
}

func (a *Adapter) SubscribeEvents(ctx context.Context) (<-chan model.PlatformEvent, error) {
	if a.Bus == nil {
		return nil, venueErr(model.ErrInternalError, "no event bus configured", nil)
	}
	out := make(chan model.PlatformEvent, 256)
	for _, et := range adapterEventTypes {
		ch, _ := a.Bus.Subscribe(et, 64)
		go func(ch <-chan model.PlatformEvent) {
			for ev := range ch {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}(ch)
	}
	return out, nil
}

func (a *Adapter) EventHistory(ctx context.Context, filter venue.EventFilter) ([]model.PlatformEvent, error) {
	return nil, nil
}

func (a *Adapter) HealthCheck(ctx context.Context) (venue.HealthReport, error) {
	latency, err := a.Ping(ctx)
	ops, errs := a.Counts()
	report := venue.HealthReport{
		Healthy:   err == nil,
		LastPing:  time.Now(),
		LatencyMs: latency,
		ErrorRate: a.ErrorRate(),
		UptimeSec: a.UptimeSeconds(),
	}
	if err != nil {
		report.Issues = []string{err.Error()}
	}
	_ = ops
	_ = errs
	return report, nil
}

func (a *Adapter) Diagnostics(ctx context.Context) (venue.Diagnostics, error) {
	report, err := a.HealthCheck(ctx)
	ops, errs := a.Counts()
	return venue.Diagnostics{
		HealthReport: report,
		OpCount:      ops,
		ErrorCount:   errs,
		Connected:    a.IsConnected(),
	}, err
}

func (a *Adapter) Capabilities() model.Capabilities { return capabilities() }

var _ venue.Gateway = (*Adapter)(nil)
