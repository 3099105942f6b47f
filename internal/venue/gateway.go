// Package venue defines the uniform trading-venue capability interface
// consumed by the resilient wrapper, the exit engine, and the risk engine,
// plus the BaseAdapter substrate shared by every concrete adapter.
package venue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"trading-core/internal/model"
)

// OrderFilter narrows a list/history query. Zero values mean "no filter".
type OrderFilter struct {
	Symbol string
	Status model.OrderStatus
	Since  time.Time
}

// HealthReport is the result of a health_check call (§4.1).
type HealthReport struct {
	Healthy   bool
	LastPing  time.Time
	LatencyMs int64
	ErrorRate float64
	UptimeSec int64
	Issues    []string
}

// Diagnostics is a superset of HealthReport for operator/debug surfaces.
type Diagnostics struct {
	HealthReport
	OpCount    uint64
	ErrorCount uint64
	Connected  bool
}

// EventFilter narrows an event history query.
type EventFilter struct {
	Since     time.Time
	EventType model.EventType
}

// Gateway is the uniform interface every venue adapter (and the resilient
// wrapper around it) implements. All operations are asynchronous and accept
// a context carrying the per-operation deadline (§5: place 100ms, modify
// 50ms, cancel 30ms, market-data 20ms, account-info 200ms).
type Gateway interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	Ping(ctx context.Context) (latencyMs int64, err error)

	Place(ctx context.Context, order model.UnifiedOrder) (model.UnifiedOrderResponse, error)
	Modify(ctx context.Context, platformOrderID string, mod model.Modification) (model.UnifiedOrderResponse, error)
	Cancel(ctx context.Context, platformOrderID string) error
	GetOrder(ctx context.Context, platformOrderID string) (model.UnifiedOrderResponse, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]model.UnifiedOrderResponse, error)

	ListPositions(ctx context.Context) ([]model.UnifiedPosition, error)
	GetPosition(ctx context.Context, symbol string) (model.UnifiedPosition, error)
	ClosePosition(ctx context.Context, symbol string, quantity *decimal.Decimal) error

	AccountInfo(ctx context.Context) (model.AccountInfo, error)
	Balance(ctx context.Context) (decimal.Decimal, error)
	MarginInfo(ctx context.Context) (marginUsed, marginAvailable decimal.Decimal, err error)

	GetMarketData(ctx context.Context, symbol string) (Tick, error)
	Subscribe(ctx context.Context, symbols []string) (<-chan Tick, error)
	Unsubscribe(ctx context.Context, symbols []string) error

	SubscribeEvents(ctx context.Context) (<-chan model.PlatformEvent, error)
	EventHistory(ctx context.Context, filter EventFilter) ([]model.PlatformEvent, error)

	HealthCheck(ctx context.Context) (HealthReport, error)
	Diagnostics(ctx context.Context) (Diagnostics, error)
	Capabilities() model.Capabilities
}

// Tick is a unified market-data snapshot.
type Tick struct {
	Symbol    string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Timestamp time.Time
}
