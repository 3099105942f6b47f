package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trading-core/internal/model"
	"trading-core/internal/venue"
)

// stubGateway implements venue.Gateway minimally for session-lifecycle tests.
type stubGateway struct {
	connected   bool
	connectErr  error
	pingErr     error
	pingCalls   int
	positions   []model.UnifiedPosition
	account     model.AccountInfo

	lastModifyOrderID string
	lastModify        model.Modification
	lastCloseSymbol   string
	lastCloseQty      *decimal.Decimal
}

func (g *stubGateway) Connect(ctx context.Context) error {
	if g.connectErr != nil {
		return g.connectErr
	}
	g.connected = true
	return nil
}
func (g *stubGateway) Disconnect(ctx context.Context) error { g.connected = false; return nil }
func (g *stubGateway) IsConnected() bool                    { return g.connected }
func (g *stubGateway) Ping(ctx context.Context) (int64, error) {
	g.pingCalls++
	if g.pingErr != nil {
		return 0, g.pingErr
	}
	return 5, nil
}
func (g *stubGateway) Place(ctx context.Context, order model.UnifiedOrder) (model.UnifiedOrderResponse, error) {
	return model.UnifiedOrderResponse{}, nil
}
func (g *stubGateway) Modify(ctx context.Context, platformOrderID string, mod model.Modification) (model.UnifiedOrderResponse, error) {
	g.lastModifyOrderID = platformOrderID
	g.lastModify = mod
	return model.UnifiedOrderResponse{}, nil
}
func (g *stubGateway) Cancel(ctx context.Context, platformOrderID string) error { return nil }
func (g *stubGateway) GetOrder(ctx context.Context, platformOrderID string) (model.UnifiedOrderResponse, error) {
	return model.UnifiedOrderResponse{}, nil
}
func (g *stubGateway) ListOrders(ctx context.Context, filter venue.OrderFilter) ([]model.UnifiedOrderResponse, error) {
	return nil, nil
}
func (g *stubGateway) ListPositions(ctx context.Context) ([]model.UnifiedPosition, error) {
	return g.positions, nil
}
func (g *stubGateway) GetPosition(ctx context.Context, symbol string) (model.UnifiedPosition, error) {
	return model.UnifiedPosition{}, nil
}
func (g *stubGateway) ClosePosition(ctx context.Context, symbol string, quantity *decimal.Decimal) error {
	g.lastCloseSymbol = symbol
	g.lastCloseQty = quantity
	return nil
}
func (g *stubGateway) AccountInfo(ctx context.Context) (model.AccountInfo, error) {
	return g.account, nil
}
func (g *stubGateway) Balance(ctx context.Context) (decimal.Decimal, error) { return decimal.Zero, nil }
func (g *stubGateway) MarginInfo(ctx context.Context) (decimal.Decimal, decimal.Decimal, error) {
	return decimal.Zero, decimal.Zero, nil
}
func (g *stubGateway) GetMarketData(ctx context.Context, symbol string) (venue.Tick, error) {
	return venue.Tick{}, nil
}
func (g *stubGateway) Subscribe(ctx context.Context, symbols []string) (<-chan venue.Tick, error) {
	return nil, nil
}
func (g *stubGateway) Unsubscribe(ctx context.Context, symbols []string) error { return nil }
func (g *stubGateway) SubscribeEvents(ctx context.Context) (<-chan model.PlatformEvent, error) {
	return nil, nil
}
func (g *stubGateway) EventHistory(ctx context.Context, filter venue.EventFilter) ([]model.PlatformEvent, error) {
	return nil, nil
}
func (g *stubGateway) HealthCheck(ctx context.Context) (venue.HealthReport, error) {
	return venue.HealthReport{Healthy: g.pingErr == nil}, nil
}
func (g *stubGateway) Diagnostics(ctx context.Context) (venue.Diagnostics, error) {
	return venue.Diagnostics{}, nil
}
func (g *stubGateway) Capabilities() model.Capabilities { return model.Capabilities{} }

var _ venue.Gateway = (*stubGateway)(nil)

func TestManager_GetOrCreateConnectsOnce(t *testing.T) {
	calls := 0
	gw := &stubGateway{account: model.AccountInfo{AccountID: "acct1", Balance: decimal.NewFromInt(1000)}}
	factory := func(ctx context.Context, accountID string) (venue.Gateway, error) {
		calls++
		return gw, nil
	}
	mgr := NewManager(factory, DefaultConfig(), nil)

	first, err := mgr.GetOrCreate(context.Background(), "acct1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := mgr.GetOrCreate(context.Background(), "acct1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatal("expected the same gateway instance to be reused")
	}
	if calls != 1 {
		t.Fatalf("expected factory called exactly once, got %d", calls)
	}
	if !gw.connected {
		t.Fatal("expected gateway to be connected")
	}
}

func TestManager_UnhealthyAfterFailureThreshold(t *testing.T) {
	gw := &stubGateway{}
	factory := func(ctx context.Context, accountID string) (venue.Gateway, error) { return gw, nil }
	cfg := DefaultConfig()
	cfg.FailureThreshold = 2
	cfg.CircuitTimeout = time.Hour
	mgr := NewManager(factory, cfg, nil)

	if _, err := mgr.GetOrCreate(context.Background(), "acct1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mgr.RecordFailure("acct1")
	mgr.RecordFailure("acct1")

	if _, err := mgr.GetOrCreate(context.Background(), "acct1"); !errors.Is(err, ErrSessionUnhealthy) {
		t.Fatalf("expected ErrSessionUnhealthy, got %v", err)
	}
}

func TestManager_ExposureCountsLosingPositions(t *testing.T) {
	gw := &stubGateway{positions: []model.UnifiedPosition{
		{Symbol: "A", UnrealizedPnL: decimal.NewFromInt(-10)},
		{Symbol: "B", UnrealizedPnL: decimal.NewFromInt(5)},
	}}
	factory := func(ctx context.Context, accountID string) (venue.Gateway, error) { return gw, nil }
	mgr := NewManager(factory, DefaultConfig(), nil)

	exposure, err := mgr.Exposure(context.Background(), "acct1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exposure.TotalPositions != 2 || exposure.LosingPositions != 1 {
		t.Fatalf("expected 2 total / 1 losing, got %+v", exposure)
	}
}

func TestManager_EvictsLRUSessionWhenMaxSizeReached(t *testing.T) {
	factory := func(ctx context.Context, accountID string) (venue.Gateway, error) { return &stubGateway{}, nil }
	cfg := DefaultConfig()
	cfg.MaxSize = 1
	mgr := NewManager(factory, cfg, nil)

	if _, err := mgr.GetOrCreate(context.Background(), "acct1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// acct2 should evict acct1's session (LRU), not error.
	if _, err := mgr.GetOrCreate(context.Background(), "acct2"); err != nil {
		t.Fatalf("unexpected error on eviction path: %v", err)
	}
	if len(mgr.Accounts()) != 1 {
		t.Fatalf("expected exactly 1 retained session after eviction, got %d", len(mgr.Accounts()))
	}
}

func TestTickCache_SetAndGet(t *testing.T) {
	cache := NewTickCache()
	now := time.Now()
	cache.Set("EURUSD", decimal.NewFromFloat(1.1000), decimal.NewFromFloat(1.1002), now)

	tick, ok := cache.LastTick("EURUSD")
	if !ok {
		t.Fatal("expected tick to be present")
	}
	if !tick.Bid.Equal(decimal.NewFromFloat(1.1000)) {
		t.Fatalf("expected bid 1.1000, got %s", tick.Bid)
	}
}
