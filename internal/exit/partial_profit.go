package exit

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"trading-core/internal/model"
)

// ProfitTarget is one rung of the ladder: close closeFraction of the
// *remaining* quantity once price reaches rMultiple * initial_risk beyond
// entry (§4.7 PartialProfitManager).
type ProfitTarget struct {
	RMultiple     decimal.Decimal
	CloseFraction decimal.Decimal
}

// PartialProfitManager scales out of a position at an ordered ladder of
// R-multiple targets, each firing at most once per (position, target index)
// (§4.7, §8 invariant 6).
type PartialProfitManager struct {
	mu      sync.Mutex
	ladders map[string][]ProfitTarget // position_id -> ladder (falls back to defaultLadder)
	triggered map[string]map[int]bool // position_id -> target index -> fired
	defaultLadder []ProfitTarget
}

func NewPartialProfitManager(defaultLadder []ProfitTarget) *PartialProfitManager {
	return &PartialProfitManager{
		ladders:       make(map[string][]ProfitTarget),
		triggered:     make(map[string]map[int]bool),
		defaultLadder: defaultLadder,
	}
}

func (m *PartialProfitManager) Configure(positionID string, ladder []ProfitTarget) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ladders[positionID] = ladder
}

func (m *PartialProfitManager) Name() string { return "PartialProfit" }

func (m *PartialProfitManager) ladderFor(positionID string) []ProfitTarget {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.ladders[positionID]; ok {
		return l
	}
	return m.defaultLadder
}

// Evaluate walks the ladder in order and emits the first untriggered target
// that the current favorable price has reached. Only one target fires per
// tick; the remaining ones are picked up on subsequent ticks since
// remaining_quantity shrinks after each partial close.
func (m *PartialProfitManager) Evaluate(ctx context.Context, pos model.UnifiedPosition, tick Tick) Action {
	initialRisk := pos.InitialRisk()
	if initialRisk.LessThanOrEqual(decimal.Zero) {
		return Action{Kind: NoAction, Manager: m.Name()}
	}

	ladder := m.ladderFor(pos.PositionID)
	favorable := pos.FavorableExtreme(tick.Bid, tick.Ask)
	profit := favorable.Sub(pos.EntryPrice).Abs()

	m.mu.Lock()
	fired, ok := m.triggered[pos.PositionID]
	if !ok {
		fired = make(map[int]bool)
		m.triggered[pos.PositionID] = fired
	}

	for idx, target := range ladder {
		if fired[idx] {
			continue
		}
		required := initialRisk.Mul(target.RMultiple)
		if profit.LessThan(required) {
			m.mu.Unlock()
			return Action{Kind: NoAction, Manager: m.Name()}
		}
		fired[idx] = true
		m.mu.Unlock()

		qty := pos.Quantity.Mul(target.CloseFraction)
		return Action{Kind: PartialClose, Manager: m.Name(), Quantity: qty}
	}
	m.mu.Unlock()
	return Action{Kind: NoAction, Manager: m.Name()}
}

// Untrack drops a closed position's triggered-targets record.
func (m *PartialProfitManager) Untrack(positionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.triggered, positionID)
	delete(m.ladders, positionID)
}
