package exit

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"trading-core/internal/model"
)

// BreakEvenConfig parameterizes when and where the stop is promoted.
// RiskRewardRatio is the unrealized-profit-to-initial-risk multiple that
// triggers the promotion (default 1:1, §4.7); Buffer is added beyond entry
// in the favorable direction so the position still nets a small gain if
// stopped out.
type BreakEvenConfig struct {
	RiskRewardRatio decimal.Decimal
	Buffer          decimal.Decimal
}

// DefaultBreakEvenConfig matches §4.7's "default risk-reward ratio of 1:1".
func DefaultBreakEvenConfig() BreakEvenConfig {
	return BreakEvenConfig{RiskRewardRatio: decimal.NewFromInt(1), Buffer: decimal.Zero}
}

// BreakEvenManager promotes a position's stop-loss to entry (+/- buffer)
// once unrealized profit reaches riskRewardRatio * initial_risk, firing at
// most once per position (§4.7).
type BreakEvenManager struct {
	mu      sync.Mutex
	configs map[string]BreakEvenConfig
	fired   map[string]bool
	defaultConfig BreakEvenConfig
}

func NewBreakEvenManager(defaultConfig BreakEvenConfig) *BreakEvenManager {
	return &BreakEvenManager{
		configs:       make(map[string]BreakEvenConfig),
		fired:         make(map[string]bool),
		defaultConfig: defaultConfig,
	}
}

func (m *BreakEvenManager) Configure(positionID string, cfg BreakEvenConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[positionID] = cfg
}

func (m *BreakEvenManager) Name() string { return "BreakEven" }

func (m *BreakEvenManager) configFor(positionID string) BreakEvenConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg, ok := m.configs[positionID]; ok {
		return cfg
	}
	return m.defaultConfig
}

func (m *BreakEvenManager) Evaluate(ctx context.Context, pos model.UnifiedPosition, tick Tick) Action {
	m.mu.Lock()
	if m.fired[pos.PositionID] {
		m.mu.Unlock()
		return Action{Kind: NoAction, Manager: m.Name()}
	}
	m.mu.Unlock()

	initialRisk := pos.InitialRisk()
	if initialRisk.LessThanOrEqual(decimal.Zero) {
		return Action{Kind: NoAction, Manager: m.Name()}
	}

	cfg := m.configFor(pos.PositionID)
	favorable := pos.FavorableExtreme(tick.Bid, tick.Ask)
	profit := favorable.Sub(pos.EntryPrice).Abs()
	required := initialRisk.Mul(cfg.RiskRewardRatio)
	if profit.LessThan(required) {
		return Action{Kind: NoAction, Manager: m.Name()}
	}

	var newStop decimal.Decimal
	if pos.Side == model.PositionLong {
		newStop = pos.EntryPrice.Add(cfg.Buffer)
	} else {
		newStop = pos.EntryPrice.Sub(cfg.Buffer)
	}

	// Never move the stop against the position even at break-even if a
	// tighter, already-favorable stop exists (e.g. the trailing manager got
	// there first in an earlier tick).
	if pos.StopLoss != nil {
		alreadyBetter := (pos.Side == model.PositionLong && pos.StopLoss.GreaterThanOrEqual(newStop)) ||
			(pos.Side == model.PositionShort && pos.StopLoss.LessThanOrEqual(newStop))
		if alreadyBetter {
			m.mu.Lock()
			m.fired[pos.PositionID] = true
			m.mu.Unlock()
			return Action{Kind: NoAction, Manager: m.Name()}
		}
	}

	m.mu.Lock()
	m.fired[pos.PositionID] = true
	m.mu.Unlock()

	return Action{Kind: ModifyStopLoss, Manager: m.Name(), NewPrice: newStop}
}

// Untrack drops a closed position's fired-once record.
func (m *BreakEvenManager) Untrack(positionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fired, positionID)
	delete(m.configs, positionID)
}
