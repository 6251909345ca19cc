package streaming

import (
	"context"
	"sync"
)

// subscriptionBuffer is how far a subscriber may lag behind before the hub
// starts dropping its events.
const subscriptionBuffer = 64

type subscription struct {
	events chan StreamEvent
	filter EventFilter
}

// MemoryHub fans execution events out to in-process subscribers. Delivery is
// best effort: a subscriber that stops draining loses events rather than
// stalling the instance that published them.
type MemoryHub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscription
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[uint64]*subscription)}
}

// Publish delivers the event to every subscription whose filter matches.
// It never blocks on a slow subscriber.
func (h *MemoryHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs {
		if !sub.filter.Matches(event) {
			continue
		}
		select {
		case sub.events <- event:
		default:
			// subscriber lagging, event dropped
		}
	}
	return nil
}

// Subscribe registers a filtered subscription. The returned cancel removes
// the subscription and closes its channel, so consumers can range over it.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	sub := &subscription{
		events: make(chan StreamEvent, subscriptionBuffer),
		filter: filter,
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(sub.events)
		})
	}
	return sub.events, cancel, nil
}
