package risk

import (
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trading-core/internal/events"
	"trading-core/internal/model"
	"trading-core/internal/money"
	"trading-core/pkg/cache"
)

// alertThresholdPct is the percentage move from the last published snapshot
// that additionally fans a position's P&L update out to the alert sink
// (§4.8 step 4: "if percentage change >= 5% ... also publish a Kafka
// alert").
var alertThresholdPct = decimal.NewFromInt(5)

// AlertSink is the out-of-process fan-out for significant P&L swings. The
// engine core only depends on this thin interface; the concrete broker
// client (Kafka, SNS, ...) is an external collaborator per spec.md §1.
type AlertSink interface {
	PublishPnLAlert(position model.UnifiedPosition, changePct decimal.Decimal)
}

// pnlSnapshot is the last value a position's unrealized P&L was published
// at, used to decide whether the next tick crosses the alert threshold.
type pnlSnapshot struct {
	unrealized decimal.Decimal
}

// PnLCalculator recomputes unrealized P&L per tick with FX normalization
// into each position's account currency, tracks MFE/MAE, and fans the
// result out over the event bus and (above a move threshold) the alert
// sink (§4.8). Positions are indexed by symbol for O(1) per-tick lookup;
// the per-symbol last-tick cache is the teacher's ShardedPriceCache so the
// hot tick path never takes a single global lock (§5).
type PnLCalculator struct {
	bus       *events.Bus
	converter *money.Converter
	pips      *money.PipTable
	alerts    AlertSink
	lastTick  *cache.ShardedPriceCache

	mu        sync.RWMutex
	positions map[string]*model.UnifiedPosition // position_id -> position
	bySymbol  map[string][]string                // symbol -> position_ids
	accountCcy map[string]string                 // account_id -> currency
	snapshots map[string]pnlSnapshot             // position_id -> last published
	symbolPnL map[string]decimal.Decimal         // per-symbol aggregate unrealized P&L
}

// NewPnLCalculator builds a calculator. alerts may be nil (no fan-out).
func NewPnLCalculator(bus *events.Bus, converter *money.Converter, pips *money.PipTable, alerts AlertSink) *PnLCalculator {
	return &PnLCalculator{
		bus:        bus,
		converter:  converter,
		pips:       pips,
		alerts:     alerts,
		lastTick:   cache.NewShardedPriceCache(),
		positions:  make(map[string]*model.UnifiedPosition),
		bySymbol:   make(map[string][]string),
		accountCcy: make(map[string]string),
		snapshots:  make(map[string]pnlSnapshot),
		symbolPnL:  make(map[string]decimal.Decimal),
	}
}

// Track registers or replaces a position under calculator management, and
// records the account's settlement currency so future ticks know what to
// FX-normalize into.
func (c *PnLCalculator) Track(pos model.UnifiedPosition, accountCurrency string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.positions[pos.PositionID]; !exists {
		c.bySymbol[pos.Symbol] = append(c.bySymbol[pos.Symbol], pos.PositionID)
	}
	p := pos
	c.positions[pos.PositionID] = &p
	c.accountCcy[pos.AccountID] = accountCurrency
}

// Untrack removes a position (closed, quantity=0).
func (c *PnLCalculator) Untrack(positionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pos, ok := c.positions[positionID]
	if !ok {
		return
	}
	delete(c.positions, positionID)
	delete(c.snapshots, positionID)
	ids := c.bySymbol[pos.Symbol]
	for i, id := range ids {
		if id == positionID {
			c.bySymbol[pos.Symbol] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}

// Positions returns a snapshot copy of every tracked position.
func (c *PnLCalculator) Positions() []model.UnifiedPosition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.UnifiedPosition, 0, len(c.positions))
	for _, p := range c.positions {
		out = append(out, *p)
	}
	return out
}

// SymbolPnL returns the current per-symbol aggregate unrealized P&L.
func (c *PnLCalculator) SymbolPnL(symbol string) decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.symbolPnL[symbol]
}

// OnTick recomputes every position open on symbol against the new bid/ask
// (§4.8 steps 1-5). Per-symbol processing is naturally serialized here: the
// caller partitions ticks by symbol onto this method, which only touches
// that symbol's position ids under the shared lock for the lookup, then
// mutates each position's own struct.
func (c *PnLCalculator) OnTick(symbol string, bid, ask decimal.Decimal) {
	mid := bid.Add(ask).Div(decimal.NewFromInt(2))
	midF, _ := mid.Float64()
	c.lastTick.Set(symbol, midF)

	c.mu.RLock()
	ids := append([]string(nil), c.bySymbol[symbol]...)
	c.mu.RUnlock()

	var symbolTotal decimal.Decimal
	for _, id := range ids {
		if pnl, ok := c.recompute(id, bid, ask); ok {
			symbolTotal = symbolTotal.Add(pnl)
		}
	}

	c.mu.Lock()
	c.symbolPnL[symbol] = symbolTotal
	c.mu.Unlock()
}

// recompute updates a single position's unrealized P&L, MFE/MAE, and fans
// the result out. Returns the new unrealized P&L and whether the position
// was still present (it may have been closed concurrently).
func (c *PnLCalculator) recompute(positionID string, bid, ask decimal.Decimal) (decimal.Decimal, bool) {
	c.mu.Lock()
	pos, ok := c.positions[positionID]
	if !ok {
		c.mu.Unlock()
		return decimal.Zero, false
	}

	if pos.EntryPrice.LessThanOrEqual(decimal.Zero) || pos.Quantity.LessThanOrEqual(decimal.Zero) {
		c.mu.Unlock()
		log.Printf("risk: skipping P&L: %s", model.NewInconsistentPositionData(positionID, "zero/negative entry price or quantity"))
		return decimal.Zero, false
	}

	current := pos.FavorableExtreme(bid, ask)
	pos.CurrentPrice = current

	delta := current.Sub(pos.EntryPrice)
	sign := decimal.NewFromInt(pos.Side.Sign())
	raw := delta.Mul(sign).Mul(pos.Quantity)

	accountCcy := c.accountCcy[pos.AccountID]
	unrealized := raw
	if accountCcy != "" {
		normalized, err := c.converter.Convert(raw, quoteCurrency(pos.Symbol), accountCcy)
		if err != nil {
			c.mu.Unlock()
			log.Printf("risk: FX normalize failed for %s: %v", positionID, err)
			return decimal.Zero, false
		}
		unrealized = normalized
	}

	pos.UnrealizedPnL = unrealized
	pos.ApplyExcursion(unrealized)
	pos.UpdatedAt = time.Now()

	prior, hadSnapshot := c.snapshots[positionID]
	c.snapshots[positionID] = pnlSnapshot{unrealized: unrealized}
	snapshot := *pos
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Publish(model.PlatformEvent{
			EventType: model.EventPnLUpdate,
			AccountID: snapshot.AccountID,
			Data:      snapshot,
		})
	}

	if c.alerts != nil && hadSnapshot && !prior.unrealized.IsZero() {
		changePct := unrealized.Sub(prior.unrealized).Abs().Div(prior.unrealized.Abs()).Mul(decimal.NewFromInt(100))
		if changePct.GreaterThanOrEqual(alertThresholdPct) {
			c.alerts.PublishPnLAlert(snapshot, changePct)
		}
	}

	return unrealized, true
}

// PipPnL reports a position's price move in pips rather than account
// currency, using the configured pip table (§9 Open Question 3: JPY/non-JPY
// default with a per-symbol override) — useful for dashboards that show
// risk in pip terms alongside the account-currency unrealized P&L.
func (c *PnLCalculator) PipPnL(pos model.UnifiedPosition) decimal.Decimal {
	pip := c.pips.PipValue(pos.Symbol)
	if pip.IsZero() {
		return decimal.Zero
	}
	return pos.CurrentPrice.Sub(pos.EntryPrice).Abs().Div(pip)
}

// fourCharQuotes lists stablecoin quote currencies longer than the standard
// 3-letter ISO/crypto suffix, checked before falling back to the 3-char
// suffix so BTCUSDT doesn't get truncated into the non-existent "SDT".
var fourCharQuotes = []string{"USDT", "USDC", "BUSD"}

// quoteCurrency derives the quote-side currency of a symbol for FX
// conversion, assuming the conventional CCY1CCY2 forex/crypto pair naming
// the teacher's adapters already use (e.g. EURUSD -> USD, BTCUSDT -> USDT).
func quoteCurrency(symbol string) string {
	for _, q := range fourCharQuotes {
		if len(symbol) > len(q) && symbol[len(symbol)-len(q):] == q {
			return q
		}
	}
	if len(symbol) <= 3 {
		return symbol
	}
	return symbol[len(symbol)-3:]
}
