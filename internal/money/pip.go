package money

import (
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	pipJPY    = decimal.NewFromFloat(0.01)
	pipStd    = decimal.NewFromFloat(0.0001)
)

// PipTable resolves a symbol's pip size. The default heuristic (JPY quote
// pairs use 0.01, everything else 0.0001) is kept per the source's
// behavior, with an explicit per-symbol override table for exotics where
// the heuristic is wrong (see spec §9 Open Question 3).
type PipTable struct {
	mu        sync.RWMutex
	overrides map[string]decimal.Decimal
}

// NewPipTable builds an empty override table.
func NewPipTable() *PipTable {
	return &PipTable{overrides: make(map[string]decimal.Decimal)}
}

// SetOverride registers an explicit pip size for symbol, bypassing the
// JPY/non-JPY heuristic.
func (t *PipTable) SetOverride(symbol string, pip decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.overrides[symbol] = pip
}

// PipValue returns the pip size for symbol.
func (t *PipTable) PipValue(symbol string) decimal.Decimal {
	t.mu.RLock()
	if v, ok := t.overrides[symbol]; ok {
		t.mu.RUnlock()
		return v
	}
	t.mu.RUnlock()

	if strings.HasSuffix(symbol, "JPY") {
		return pipJPY
	}
	return pipStd
}
