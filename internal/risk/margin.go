package risk

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trading-core/internal/events"
	"trading-core/internal/model"
)

// defaultLeverage is used for any symbol with no entry in the per-symbol
// leverage map (§4.10 step 1: "fallback default").
var defaultLeverage = decimal.NewFromInt(100)

// MarginAlertLevel is the tiered escalation severity (§4.10 step 3).
type MarginAlertLevel string

const (
	MarginAlertNone      MarginAlertLevel = "NONE"
	MarginAlertWarning   MarginAlertLevel = "WARNING"
	MarginAlertCritical  MarginAlertLevel = "CRITICAL"
	MarginAlertEmergency MarginAlertLevel = "EMERGENCY"
)

// MarginThresholds are the per-account tier boundaries, expressed as
// margin-level percentages. Warning > Critical > StopOut per §4.10.
type MarginThresholds struct {
	Warning decimal.Decimal
	Critical decimal.Decimal
	StopOut decimal.Decimal
}

// DefaultMarginThresholds matches scenario S3 (§8): warning 150%, critical
// 120%, stop-out 100%.
func DefaultMarginThresholds() MarginThresholds {
	return MarginThresholds{
		Warning:  decimal.NewFromInt(150),
		Critical: decimal.NewFromInt(120),
		StopOut:  decimal.NewFromInt(100),
	}
}

// MarginProtection is the de-risking collaborator a monitor invokes when an
// account crosses into Critical or Emergency territory (§4.10 step 3). The
// snapshot that triggered the call is passed through so the collaborator can
// report the metric that crossed the line without re-deriving it.
type MarginProtection interface {
	Protect(ctx context.Context, accountID string, snapshot MarginSnapshot) error
	EmergencyStopOut(ctx context.Context, accountID string, snapshot MarginSnapshot) error
}

// MarginSnapshot is one account's computed margin picture.
type MarginSnapshot struct {
	AccountID string
	Used      decimal.Decimal
	Equity    decimal.Decimal
	Free      decimal.Decimal
	Level     decimal.Decimal
	Alert     MarginAlertLevel
	ComputedAt time.Time
}

// AccountSource supplies the live account + position data the monitor needs
// each cycle; the concrete implementation is a resilient gateway per
// account (owned by the session manager).
type AccountSource interface {
	AccountInfo(ctx context.Context, accountID string) (model.AccountInfo, error)
	Positions(ctx context.Context, accountID string) ([]model.UnifiedPosition, error)
}

// LeverageTable maps symbol -> leverage multiple, with a fallback default.
type LeverageTable struct {
	mu     sync.RWMutex
	values map[string]decimal.Decimal
}

// NewLeverageTable builds an empty table; Set entries to override the
// default leverage per symbol.
func NewLeverageTable() *LeverageTable {
	return &LeverageTable{values: make(map[string]decimal.Decimal)}
}

func (t *LeverageTable) Set(symbol string, leverage decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values[symbol] = leverage
}

func (t *LeverageTable) Leverage(symbol string) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if l, ok := t.values[symbol]; ok {
		return l
	}
	return defaultLeverage
}

// PositionMargin returns the required margin for one position: notional /
// leverage, where notional = current_price * quantity.
func (t *LeverageTable) PositionMargin(pos model.UnifiedPosition) decimal.Decimal {
	leverage := t.Leverage(pos.Symbol)
	if leverage.LessThanOrEqual(decimal.Zero) {
		leverage = defaultLeverage
	}
	notional := pos.CurrentPrice.Mul(pos.Quantity)
	return notional.Div(leverage)
}

// MarginMonitor runs the periodic per-account margin loop (§4.10).
type MarginMonitor struct {
	bus        *events.Bus
	source     AccountSource
	leverage   *LeverageTable
	protection MarginProtection
	thresholds MarginThresholds
	interval   time.Duration

	mu        sync.RWMutex
	lastAlert map[string]MarginAlertLevel
}

// NewMarginMonitor builds a monitor. protection may be nil, in which case
// Critical/Emergency alerts are published but not auto-acted on.
func NewMarginMonitor(bus *events.Bus, source AccountSource, leverage *LeverageTable, protection MarginProtection, thresholds MarginThresholds) *MarginMonitor {
	return &MarginMonitor{
		bus:        bus,
		source:     source,
		leverage:   leverage,
		protection: protection,
		thresholds: thresholds,
		interval:   5 * time.Second,
		lastAlert:  make(map[string]MarginAlertLevel),
	}
}

// Run blocks, evaluating every account in accountIDs() each interval until
// ctx is cancelled (default tick: 5s per §4.10).
func (m *MarginMonitor) Run(ctx context.Context, accountIDs func() []string) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, accountID := range accountIDs() {
				m.evaluate(ctx, accountID)
			}
		}
	}
}

// Evaluate runs one margin evaluation cycle for accountID on demand (used by
// the dashboard risk endpoint, outside the periodic Run loop).
func (m *MarginMonitor) Evaluate(ctx context.Context, accountID string) MarginSnapshot {
	return m.evaluate(ctx, accountID)
}

func (m *MarginMonitor) evaluate(ctx context.Context, accountID string) MarginSnapshot {
	account, err := m.source.AccountInfo(ctx, accountID)
	if err != nil {
		log.Printf("risk: margin monitor: account info for %s: %v", accountID, err)
		return MarginSnapshot{}
	}
	positions, err := m.source.Positions(ctx, accountID)
	if err != nil {
		log.Printf("risk: margin monitor: positions for %s: %v", accountID, err)
		return MarginSnapshot{}
	}

	snapshot := m.compute(accountID, account, positions)
	m.publishAccountUpdate(snapshot)
	m.publish(snapshot)
	m.respond(ctx, snapshot)
	return snapshot
}

// publishAccountUpdate emits the per-cycle account snapshot consumed by the
// dashboard WS fan-out (§6: "AccountUpdate"), independent of whether the
// cycle also crosses an alert tier.
func (m *MarginMonitor) publishAccountUpdate(snapshot MarginSnapshot) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(model.PlatformEvent{
		EventType: model.EventAccountUpdate,
		AccountID: snapshot.AccountID,
		Data:      snapshot,
	})
}

func (m *MarginMonitor) compute(accountID string, account model.AccountInfo, positions []model.UnifiedPosition) MarginSnapshot {
	used := decimal.Zero
	unrealized := decimal.Zero
	for _, p := range positions {
		used = used.Add(m.leverage.PositionMargin(p))
		unrealized = unrealized.Add(p.UnrealizedPnL)
	}
	equity := account.Balance.Add(unrealized)
	free := equity.Sub(used)
	level := model.MarginLevel(equity, used)
	alert := m.classify(level)

	return MarginSnapshot{
		AccountID:  accountID,
		Used:       used,
		Equity:     equity,
		Free:       free,
		Level:      level,
		Alert:      alert,
		ComputedAt: time.Now(),
	}
}

func (m *MarginMonitor) classify(level decimal.Decimal) MarginAlertLevel {
	if model.IsInfiniteMarginLevel(level) {
		return MarginAlertNone
	}
	switch {
	case level.LessThanOrEqual(m.thresholds.StopOut):
		return MarginAlertEmergency
	case level.LessThanOrEqual(m.thresholds.Critical):
		return MarginAlertCritical
	case level.LessThanOrEqual(m.thresholds.Warning):
		return MarginAlertWarning
	default:
		return MarginAlertNone
	}
}

func (m *MarginMonitor) publish(snapshot MarginSnapshot) {
	if m.bus == nil {
		return
	}
	m.mu.Lock()
	prior := m.lastAlert[snapshot.AccountID]
	m.lastAlert[snapshot.AccountID] = snapshot.Alert
	m.mu.Unlock()

	if snapshot.Alert == MarginAlertNone && prior == MarginAlertNone {
		return
	}
	m.bus.Publish(model.PlatformEvent{
		EventType: model.EventRiskAlert,
		AccountID: snapshot.AccountID,
		Data:      snapshot,
	})
}

// respond invokes the configured protection hooks for Critical/Emergency
// tiers (§4.10 step 3).
func (m *MarginMonitor) respond(ctx context.Context, snapshot MarginSnapshot) {
	if m.protection == nil {
		return
	}
	switch snapshot.Alert {
	case MarginAlertEmergency:
		if err := m.protection.EmergencyStopOut(ctx, snapshot.AccountID, snapshot); err != nil {
			log.Printf("risk: emergency stop-out failed for %s: %v", snapshot.AccountID, err)
		}
	case MarginAlertCritical:
		if err := m.protection.Protect(ctx, snapshot.AccountID, snapshot); err != nil {
			log.Printf("risk: margin protect failed for %s: %v", snapshot.AccountID, err)
		}
	}
}

// SimulateMarginImpact projects the margin level after adding proposed to
// the account's current positions, without mutating any state (§4.10,
// "simulate_margin_impact"). acceptable is true iff the projected level
// would still be at or above the warning threshold.
func (m *MarginMonitor) SimulateMarginImpact(ctx context.Context, accountID string, proposed model.UnifiedPosition) (projected decimal.Decimal, delta decimal.Decimal, acceptable bool, err error) {
	account, err := m.source.AccountInfo(ctx, accountID)
	if err != nil {
		return decimal.Zero, decimal.Zero, false, err
	}
	positions, err := m.source.Positions(ctx, accountID)
	if err != nil {
		return decimal.Zero, decimal.Zero, false, err
	}

	before := m.compute(accountID, account, positions)
	after := m.compute(accountID, account, append(append([]model.UnifiedPosition(nil), positions...), proposed))

	if model.IsInfiniteMarginLevel(before.Level) {
		delta = decimal.Zero
	} else if model.IsInfiniteMarginLevel(after.Level) {
		delta = after.Level
	} else {
		delta = after.Level.Sub(before.Level)
	}

	acceptable = model.IsInfiniteMarginLevel(after.Level) || after.Level.GreaterThanOrEqual(m.thresholds.Warning)
	return after.Level, delta, acceptable, nil
}
