// Package events is the uniform event fan-out every subsystem publishes
// PlatformEvents onto: connection transitions, order lifecycle, position
// changes, risk alerts, exit actions. Extends the teacher's lightweight
// channel-based pub/sub with the sequencing and dedup-window behavior the
// engine's invariants require (§3, §5, §8).
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"trading-core/internal/model"
)

// dedupWindow bounds how many recent event ids the bus remembers for
// duplicate suppression (§2: "event bus / dedup / filters").
const dedupWindow = 4096

// Bus is a lightweight pub/sub broker using channels, keyed by event type,
// that additionally assigns a single monotonically increasing sequence
// number per publish (§3, §5, §8) and drops events whose id was already
// seen within the dedup window.
type Bus struct {
	mu   sync.RWMutex
	subs map[model.EventType][]chan model.PlatformEvent

	seq atomic.Uint64

	dedupMu   sync.Mutex
	dedupSeen map[string]struct{}
	dedupRing []string
	dedupNext int
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		subs:      make(map[model.EventType][]chan model.PlatformEvent),
		dedupSeen: make(map[string]struct{}, dedupWindow),
		dedupRing: make([]string, dedupWindow),
	}
}

// Subscribe registers a listener for an event type and returns the channel
// and an unsubscribe function.
func (b *Bus) Subscribe(e model.EventType, buffer int) (<-chan model.PlatformEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan model.PlatformEvent, buffer)
	b.subs[e] = append(b.subs[e], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[e]
		for i, c := range subs {
			if c == ch {
				close(c)
				b.subs[e] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}

	return ch, unsub
}

// Publish assigns ev a sequence number and fans it out to subscribers of
// ev.EventType, non-blocking so a slow subscriber never stalls the
// publisher. If ev.EventID is empty one is generated; if a non-empty id was
// already published within the dedup window, Publish is a no-op (no
// sequence number is consumed by a dropped duplicate).
func (b *Bus) Publish(ev model.PlatformEvent) model.PlatformEvent {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	} else if b.isDuplicate(ev.EventID) {
		return ev
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ev.SequenceNumber = b.seq.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[ev.EventType] {
		select {
		case ch <- ev:
		default:
			// drop if subscriber is slow; keep broker non-blocking
		}
	}
	return ev
}

// isDuplicate reports whether id was seen in the last dedupWindow publishes,
// recording it if not.
func (b *Bus) isDuplicate(id string) bool {
	b.dedupMu.Lock()
	defer b.dedupMu.Unlock()

	if _, seen := b.dedupSeen[id]; seen {
		return true
	}

	evicted := b.dedupRing[b.dedupNext]
	if evicted != "" {
		delete(b.dedupSeen, evicted)
	}
	b.dedupRing[b.dedupNext] = id
	b.dedupSeen[id] = struct{}{}
	b.dedupNext = (b.dedupNext + 1) % dedupWindow

	return false
}
