// Package events fans round changes out to whoever is watching.
package events

import (
	"fmt"
	"slices"
	"sync"

	"github.com/asaskevich/EventBus"

	"github.com/lox/pokersplit/internal/round"
)

// TopicRoundUpdated carries a RoundUpdated after every committed mutation.
const TopicRoundUpdated = "round:updated"

// RoundUpdated describes one committed change to a round.
type RoundUpdated struct {
	Code     string
	Change   string
	Snapshot round.Snapshot
}

// Bus is an in-process publish/subscribe channel for round changes.
//
// EventBus removes handlers by function pointer, which cannot tell two
// subscriptions of the same method apart. The bus therefore registers a
// single dispatcher with EventBus and keeps its own subscriber list, keyed
// by id.
type Bus struct {
	bus EventBus.Bus

	mu       sync.RWMutex
	nextID   uint64
	handlers []subscription
}

type subscription struct {
	id uint64
	fn func(RoundUpdated)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	b := &Bus{bus: EventBus.New()}
	// Transactional: one event at a time, in publish order.
	if err := b.bus.SubscribeAsync(TopicRoundUpdated, b.dispatch, true); err != nil {
		panic(fmt.Sprintf("events: subscribe dispatcher: %v", err))
	}
	return b
}

// Publish delivers ev to every subscriber.
func (b *Bus) Publish(ev RoundUpdated) {
	b.bus.Publish(TopicRoundUpdated, ev)
}

// OnRoundUpdated registers fn for every published change. Handlers run on a
// separate goroutine one at a time, so they observe changes in publish order.
// The returned function removes this handler and no other.
func (b *Bus) OnRoundUpdated(fn func(RoundUpdated)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, subscription{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.handlers = slices.DeleteFunc(b.handlers, func(s subscription) bool { return s.id == id })
	}
}

func (b *Bus) dispatch(ev RoundUpdated) {
	b.mu.RLock()
	handlers := slices.Clone(b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h.fn(ev)
	}
}

// Wait blocks until every published change has been handled.
func (b *Bus) Wait() {
	b.bus.WaitAsync()
}
