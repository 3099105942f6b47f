package exit

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"trading-core/internal/model"
)

// trailState is the per-position high-water-mark record (§4.7
// TrailingStopManager).
type trailState struct {
	highestFavorablePrice decimal.Decimal
	activated             bool
	lastProposedStop      decimal.Decimal
}

// TrailingStopConfig parameterizes one position's trail. ActivationThreshold
// is the unrealized-profit (in price terms, i.e. |favorable-entry|) the
// position must reach before the trail starts ratcheting; TrailingDistance
// is the fixed offset from the high-water mark.
type TrailingStopConfig struct {
	ActivationThreshold decimal.Decimal
	TrailingDistance    decimal.Decimal
}

// TrailingStopManager ratchets a position's stop-loss in the favorable
// direction only, activating once unrealized profit clears a threshold
// (§4.7, §8 invariant 7).
type TrailingStopManager struct {
	mu      sync.Mutex
	configs map[string]TrailingStopConfig // position_id -> config
	state   map[string]*trailState
	defaultConfig TrailingStopConfig
}

// NewTrailingStopManager builds a manager. defaultConfig applies to any
// position without an explicit per-position config.
func NewTrailingStopManager(defaultConfig TrailingStopConfig) *TrailingStopManager {
	return &TrailingStopManager{
		configs:       make(map[string]TrailingStopConfig),
		state:         make(map[string]*trailState),
		defaultConfig: defaultConfig,
	}
}

// Configure sets a per-position trail override.
func (m *TrailingStopManager) Configure(positionID string, cfg TrailingStopConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[positionID] = cfg
}

func (m *TrailingStopManager) Name() string { return "TrailingStop" }

func (m *TrailingStopManager) configFor(positionID string) TrailingStopConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg, ok := m.configs[positionID]; ok {
		return cfg
	}
	return m.defaultConfig
}

// Evaluate implements §4.7's TrailingStopManager contract: activates once
// unrealized profit >= activation_threshold; proposes
// highest_favorable_price -+ trailing_distance; only emits ModifyStopLoss
// if strictly better than the current stop in the direction of profit.
func (m *TrailingStopManager) Evaluate(ctx context.Context, pos model.UnifiedPosition, tick Tick) Action {
	cfg := m.configFor(pos.PositionID)
	if cfg.TrailingDistance.LessThanOrEqual(decimal.Zero) {
		return Action{Kind: NoAction, Manager: m.Name()}
	}

	favorable := pos.FavorableExtreme(tick.Bid, tick.Ask)

	m.mu.Lock()
	st, ok := m.state[pos.PositionID]
	if !ok {
		st = &trailState{highestFavorablePrice: pos.EntryPrice}
		m.state[pos.PositionID] = st
	}

	// Activation is assessed against the watermark as it stood before this
	// tick's update: the tick that first clears the threshold only raises
	// the watermark, and the resulting stop proposal follows starting next
	// tick (matches S1: no SL move on the activating tick itself).
	if !st.activated {
		profitBefore := st.highestFavorablePrice.Sub(pos.EntryPrice).Abs()
		if profitBefore.GreaterThanOrEqual(cfg.ActivationThreshold) {
			st.activated = true
		}
	}

	improved := (pos.Side == model.PositionLong && favorable.GreaterThan(st.highestFavorablePrice)) ||
		(pos.Side == model.PositionShort && favorable.LessThan(st.highestFavorablePrice))
	if improved {
		st.highestFavorablePrice = favorable
	}

	if !st.activated {
		m.mu.Unlock()
		return Action{Kind: NoAction, Manager: m.Name()}
	}

	var proposed decimal.Decimal
	if pos.Side == model.PositionLong {
		proposed = st.highestFavorablePrice.Sub(cfg.TrailingDistance)
	} else {
		proposed = st.highestFavorablePrice.Add(cfg.TrailingDistance)
	}

	currentStop := pos.StopLoss
	betterThanCurrent := currentStop == nil ||
		(pos.Side == model.PositionLong && proposed.GreaterThan(*currentStop)) ||
		(pos.Side == model.PositionShort && proposed.LessThan(*currentStop))
	betterThanLastProposal := st.lastProposedStop.IsZero() ||
		(pos.Side == model.PositionLong && proposed.GreaterThan(st.lastProposedStop)) ||
		(pos.Side == model.PositionShort && proposed.LessThan(st.lastProposedStop))

	if !betterThanCurrent || !betterThanLastProposal {
		m.mu.Unlock()
		return Action{Kind: NoAction, Manager: m.Name()}
	}
	st.lastProposedStop = proposed
	m.mu.Unlock()

	return Action{Kind: ModifyStopLoss, Manager: m.Name(), NewPrice: proposed}
}

// Untrack drops a closed position's trail state.
func (m *TrailingStopManager) Untrack(positionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, positionID)
	delete(m.configs, positionID)
}
