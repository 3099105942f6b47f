package resilience

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"trading-core/internal/events"
	"trading-core/internal/model"
	"trading-core/internal/venue"
)

// ResilientGateway composes a circuit breaker, a bounded connection pool,
// and a retry policy around a concrete venue.Gateway, itself implementing
// venue.Gateway so the rest of the engine never has to special-case
// resilience (§4.6). The pool bounds concurrent in-flight operations against
// the underlying adapter and periodically health-checks it via Ping; the
// breaker trips on connection/auth/throttling/market-data/internal faults per the error
// taxonomy, never on order-business rejections.
type ResilientGateway struct {
	venueName string
	bus       *events.Bus

	inner   venue.Gateway
	breaker *Breaker
	retry   RetryConfig
	pool    *Pool[venue.Gateway]
}

// NewResilientGateway wraps inner with the standard resilience stack.
// PoolConfig.MaxConnections bounds concurrent operations against inner;
// every pooled "connection" is the same inner instance, health-checked via
// its own Ping.
func NewResilientGateway(venueName string, bus *events.Bus, inner venue.Gateway, poolCfg PoolConfig, breakerCfg BreakerConfig, retryCfg RetryConfig) *ResilientGateway {
	pool := NewPool(poolCfg,
		func(ctx context.Context) (venue.Gateway, error) { return inner, nil },
		nil,
		func(ctx context.Context, g venue.Gateway) bool {
			_, err := g.Ping(ctx)
			return err == nil
		},
	)
	return &ResilientGateway{
		venueName: venueName,
		bus:       bus,
		inner:     inner,
		breaker:   NewBreaker(breakerCfg),
		retry:     retryCfg,
		pool:      pool,
	}
}

// Start launches the pool's background cleanup/health loops.
func (r *ResilientGateway) Start(ctx context.Context) { r.pool.Start(ctx) }

// Stop stops the pool's background loops.
func (r *ResilientGateway) Stop() { r.pool.Close() }

// Breaker exposes the underlying breaker for dashboard stats and the risk
// response engine's emergency-stop action.
func (r *ResilientGateway) Breaker() *Breaker { return r.breaker }

// PoolStats exposes the underlying pool stats for dashboards.
func (r *ResilientGateway) PoolStats() PoolStats { return r.pool.Stats() }

// PerformanceScore computes the composite 0-100 score (§4.6).
func (r *ResilientGateway) PerformanceScore() float64 {
	return Score(r.breaker.State(), r.breaker.FailureRate(), r.pool.Stats())
}

func recoverableErr(err error) (*model.VenueError, bool) {
	verr, ok := err.(*model.VenueError)
	if !ok {
		return nil, false
	}
	return verr, true
}

// guarded runs op through the breaker gate, the connection pool, and the
// retry policy, in that order: the breaker decides whether to even attempt
// the call, the pool bounds and health-checks concurrent attempts, and the
// retry policy re-attempts recoverable failures with backoff.
func guarded[T any](ctx context.Context, r *ResilientGateway, op func(g venue.Gateway) (T, error)) (T, error) {
	var zero T
	if !r.breaker.Allow() {
		return zero, model.ErrCircuitOpen()
	}

	handle, err := r.pool.Acquire(ctx)
	if err != nil {
		r.breaker.OnFailure(true)
		return zero, fmt.Errorf("acquire connection: %w", err)
	}

	result, err := WithRetry(ctx, r.retry, func(ctx context.Context) (T, error) {
		return op(handle.Value)
	})

	if err != nil {
		counts := true
		if verr, ok := recoverableErr(err); ok {
			counts = verr.CountsTowardBreaker()
		}
		r.breaker.OnFailure(counts)
		handle.Release(!counts)
		return zero, err
	}

	r.breaker.OnSuccess()
	handle.Release(true)
	return result, nil
}

func (r *ResilientGateway) Connect(ctx context.Context) error {
	_, err := guarded(ctx, r, func(g venue.Gateway) (struct{}, error) { return struct{}{}, g.Connect(ctx) })
	return err
}

func (r *ResilientGateway) Disconnect(ctx context.Context) error {
	return r.inner.Disconnect(ctx)
}

func (r *ResilientGateway) IsConnected() bool { return r.inner.IsConnected() }

func (r *ResilientGateway) Ping(ctx context.Context) (int64, error) {
	return guarded(ctx, r, func(g venue.Gateway) (int64, error) { return g.Ping(ctx) })
}

func (r *ResilientGateway) Place(ctx context.Context, order model.UnifiedOrder) (model.UnifiedOrderResponse, error) {
	return guarded(ctx, r, func(g venue.Gateway) (model.UnifiedOrderResponse, error) { return g.Place(ctx, order) })
}

func (r *ResilientGateway) Modify(ctx context.Context, platformOrderID string, mod model.Modification) (model.UnifiedOrderResponse, error) {
	return guarded(ctx, r, func(g venue.Gateway) (model.UnifiedOrderResponse, error) {
		return g.Modify(ctx, platformOrderID, mod)
	})
}

func (r *ResilientGateway) Cancel(ctx context.Context, platformOrderID string) error {
	_, err := guarded(ctx, r, func(g venue.Gateway) (struct{}, error) { return struct{}{}, g.Cancel(ctx, platformOrderID) })
	return err
}

func (r *ResilientGateway) GetOrder(ctx context.Context, platformOrderID string) (model.UnifiedOrderResponse, error) {
	return guarded(ctx, r, func(g venue.Gateway) (model.UnifiedOrderResponse, error) { return g.GetOrder(ctx, platformOrderID) })
}

func (r *ResilientGateway) ListOrders(ctx context.Context, filter venue.OrderFilter) ([]model.UnifiedOrderResponse, error) {
	return guarded(ctx, r, func(g venue.Gateway) ([]model.UnifiedOrderResponse, error) { return g.ListOrders(ctx, filter) })
}

func (r *ResilientGateway) ListPositions(ctx context.Context) ([]model.UnifiedPosition, error) {
	return guarded(ctx, r, func(g venue.Gateway) ([]model.UnifiedPosition, error) { return g.ListPositions(ctx) })
}

func (r *ResilientGateway) GetPosition(ctx context.Context, symbol string) (model.UnifiedPosition, error) {
	return guarded(ctx, r, func(g venue.Gateway) (model.UnifiedPosition, error) { return g.GetPosition(ctx, symbol) })
}

func (r *ResilientGateway) ClosePosition(ctx context.Context, symbol string, quantity *decimal.Decimal) error {
	_, err := guarded(ctx, r, func(g venue.Gateway) (struct{}, error) {
		return struct{}{}, g.ClosePosition(ctx, symbol, quantity)
	})
	return err
}

func (r *ResilientGateway) AccountInfo(ctx context.Context) (model.AccountInfo, error) {
	return guarded(ctx, r, func(g venue.Gateway) (model.AccountInfo, error) { return g.AccountInfo(ctx) })
}

func (r *ResilientGateway) Balance(ctx context.Context) (decimal.Decimal, error) {
	return guarded(ctx, r, func(g venue.Gateway) (decimal.Decimal, error) { return g.Balance(ctx) })
}

type marginInfo struct {
	used, available decimal.Decimal
}

func (r *ResilientGateway) MarginInfo(ctx context.Context) (decimal.Decimal, decimal.Decimal, error) {
	mi, err := guarded(ctx, r, func(g venue.Gateway) (marginInfo, error) {
		used, available, err := g.MarginInfo(ctx)
		return marginInfo{used, available}, err
	})
	return mi.used, mi.available, err
}

func (r *ResilientGateway) GetMarketData(ctx context.Context, symbol string) (venue.Tick, error) {
	return guarded(ctx, r, func(g venue.Gateway) (venue.Tick, error) { return g.GetMarketData(ctx, symbol) })
}

// Subscribe and Unsubscribe bypass the breaker/retry wrapping: a streaming
// subscription isn't a single bounded operation the retry policy can
// meaningfully re-attempt, and rejecting it on a tripped breaker would kill
// market-data flow the risk engine still needs while an order venue recovers.
func (r *ResilientGateway) Subscribe(ctx context.Context, symbols []string) (<-chan venue.Tick, error) {
	return r.inner.Subscribe(ctx, symbols)
}

func (r *ResilientGateway) Unsubscribe(ctx context.Context, symbols []string) error {
	return r.inner.Unsubscribe(ctx, symbols)
}

func (r *ResilientGateway) SubscribeEvents(ctx context.Context) (<-chan model.PlatformEvent, error) {
	return r.inner.SubscribeEvents(ctx)
}

func (r *ResilientGateway) EventHistory(ctx context.Context, filter venue.EventFilter) ([]model.PlatformEvent, error) {
	return r.inner.EventHistory(ctx, filter)
}

func (r *ResilientGateway) HealthCheck(ctx context.Context) (venue.HealthReport, error) {
	return r.inner.HealthCheck(ctx)
}

func (r *ResilientGateway) Diagnostics(ctx context.Context) (venue.Diagnostics, error) {
	return r.inner.Diagnostics(ctx)
}

func (r *ResilientGateway) Capabilities() model.Capabilities { return r.inner.Capabilities() }

var _ venue.Gateway = (*ResilientGateway)(nil)
