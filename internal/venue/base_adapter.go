package venue

import (
	"sync"
	"sync/atomic"
	"time"

	"trading-core/internal/events"
	"trading-core/internal/model"
)

// BaseAdapter is the substrate every concrete venue adapter embeds (§4.2).
// It owns the connection flag, uptime counter, atomic op/error counters,
// the client_order_id idempotency cache, and emits PlatformEvents on state
// transitions. Concrete adapters call Mark* around every venue call; they
// never touch the counters directly.
type BaseAdapter struct {
	Venue string
	Bus   *events.Bus

	connected   atomic.Bool
	connectedAt time.Time

	opCount    atomic.Uint64
	errorCount atomic.Uint64

	mu          sync.Mutex
	idempotency map[string]model.UnifiedOrderResponse
}

// NewBaseAdapter builds a BaseAdapter for venue, publishing transition
// events onto bus (bus may be nil in tests).
func NewBaseAdapter(venueName string, bus *events.Bus) *BaseAdapter {
	return &BaseAdapter{
		Venue:       venueName,
		Bus:         bus,
		idempotency: make(map[string]model.UnifiedOrderResponse),
	}
}

// SetConnected updates the connection flag and emits a transition event iff
// the flag actually changed.
func (b *BaseAdapter) SetConnected(connected bool, accountID string) {
	was := b.connected.Swap(connected)
	if was == connected {
		return
	}
	if connected {
		b.connectedAt = time.Now()
		b.publish(model.EventConnectionEstablished, accountID, nil)
	} else {
		b.publish(model.EventConnectionLost, accountID, nil)
	}
}

// IsConnected reports the current connection flag.
func (b *BaseAdapter) IsConnected() bool { return b.connected.Load() }

// UptimeSeconds reports seconds since the last successful connect; zero if
// currently disconnected.
func (b *BaseAdapter) UptimeSeconds() int64 {
	if !b.IsConnected() || b.connectedAt.IsZero() {
		return 0
	}
	return int64(time.Since(b.connectedAt).Seconds())
}

// MarkOp increments the operation counter; call once per attempted call.
func (b *BaseAdapter) MarkOp() { b.opCount.Add(1) }

// MarkError increments the error counter; call once per terminal failure.
func (b *BaseAdapter) MarkError() { b.errorCount.Add(1) }

// Counts returns the raw op/error counters.
func (b *BaseAdapter) Counts() (ops, errs uint64) {
	return b.opCount.Load(), b.errorCount.Load()
}

// ErrorRate returns errors/ops, or 0 if no operations have run yet.
func (b *BaseAdapter) ErrorRate() float64 {
	ops := b.opCount.Load()
	if ops == 0 {
		return 0
	}
	return float64(b.errorCount.Load()) / float64(ops)
}

// Idempotent returns the prior response for clientOrderID if Place already
// ran for it this session, implementing the §4.1 place idempotency
// contract. The second return is false on first submission.
func (b *BaseAdapter) Idempotent(clientOrderID string) (model.UnifiedOrderResponse, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	resp, ok := b.idempotency[clientOrderID]
	return resp, ok
}

// RecordPlaced caches resp under its client_order_id for later idempotent
// lookups and emits an OrderPlaced event.
func (b *BaseAdapter) RecordPlaced(resp model.UnifiedOrderResponse) {
	b.mu.Lock()
	b.idempotency[resp.ClientOrderID] = resp
	b.mu.Unlock()
	b.publish(model.EventOrderPlaced, resp.AccountID, resp)
}

// publish is a no-op when Bus is nil, so adapters can be unit-tested
// without standing up an event bus.
func (b *BaseAdapter) publish(t model.EventType, accountID string, data any) {
	if b.Bus == nil {
		return
	}
	b.Bus.Publish(model.PlatformEvent{
		EventType: t,
		Venue:     b.Venue,
		AccountID: accountID,
		Timestamp: time.Now(),
		Data:      data,
	})
}
