// Package money centralizes decimal arithmetic for the engine. Per spec,
// floats are forbidden in economic calculations; they may appear only at
// venue-boundary encoding (the adapters convert at the edge). This package
// provides the FX conversion cache and pip-value table every P&L and margin
// computation goes through.
package money

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// fxTTL is the cache lifetime for a converted rate (§4.8: "cached rates with
// 1-minute TTL").
const fxTTL = time.Minute

type rateEntry struct {
	rate      decimal.Decimal
	updatedAt time.Time
}

// RateSource fetches a spot FX rate base->quote from wherever the deployment
// gets quotes (venue REST, a pricing feed). The converter never calls this
// more than once per pair per TTL window.
type RateSource func(base, quote string) (decimal.Decimal, error)

// Converter normalizes amounts denominated in one currency into another,
// caching rates for fxTTL. Grounded in the teacher's ShardedPriceCache
// age-tracked entry pattern, specialized to a single FX rate table since the
// key space (currency pairs) is small enough that sharding isn't warranted.
type Converter struct {
	mu     sync.RWMutex
	rates  map[string]rateEntry
	source RateSource
}

// NewConverter builds a Converter backed by source.
func NewConverter(source RateSource) *Converter {
	return &Converter{rates: make(map[string]rateEntry), source: source}
}

func pairKey(base, quote string) string { return base + "/" + quote }

// rate returns the cached or freshly fetched base->quote rate.
func (c *Converter) rate(base, quote string) (decimal.Decimal, error) {
	if base == quote {
		return decimal.NewFromInt(1), nil
	}
	key := pairKey(base, quote)

	c.mu.RLock()
	entry, ok := c.rates[key]
	c.mu.RUnlock()
	if ok && time.Since(entry.updatedAt) < fxTTL {
		return entry.rate, nil
	}

	fresh, err := c.source(base, quote)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("fetch fx rate %s: %w", key, err)
	}

	c.mu.Lock()
	c.rates[key] = rateEntry{rate: fresh, updatedAt: time.Now()}
	c.mu.Unlock()
	return fresh, nil
}

// Convert normalizes amount (denominated in from) into the to currency.
func (c *Converter) Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	r, err := c.rate(from, to)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return amount.Mul(r), nil
}

// Invalidate drops a cached pair, forcing the next Convert to refetch.
func (c *Converter) Invalidate(base, quote string) {
	c.mu.Lock()
	delete(c.rates, pairKey(base, quote))
	c.mu.Unlock()
}
