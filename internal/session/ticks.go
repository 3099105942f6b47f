package session

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trading-core/internal/exit"
)

const tickShards = 16

// TickCache is a sharded last-tick cache shared across accounts: market
// data is venue/symbol scoped, not account scoped, so every AccountSession
// subscribed to a symbol feeds the same entry.
type TickCache struct {
	shards [tickShards]*tickShard
}

type tickShard struct {
	mu    sync.RWMutex
	items map[string]exit.Tick
}

// NewTickCache builds an empty cache.
func NewTickCache() *TickCache {
	c := &TickCache{}
	for i := range c.shards {
		c.shards[i] = &tickShard{items: make(map[string]exit.Tick)}
	}
	return c
}

func (c *TickCache) shardFor(symbol string) *tickShard {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return c.shards[h.Sum32()%tickShards]
}

// Set records the latest bid/ask for a symbol.
func (c *TickCache) Set(symbol string, bid, ask decimal.Decimal, ts time.Time) {
	shard := c.shardFor(symbol)
	shard.mu.Lock()
	shard.items[symbol] = exit.Tick{Symbol: symbol, Bid: bid, Ask: ask, Time: ts}
	shard.mu.Unlock()
}

// LastTick implements exit.PositionSource's market-data half.
func (c *TickCache) LastTick(symbol string) (exit.Tick, bool) {
	shard := c.shardFor(symbol)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	tick, ok := shard.items[symbol]
	return tick, ok
}
