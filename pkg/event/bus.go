package event

import (
	"context"
	"sync"
)

const busBuffer = 64

// Bus fans events out to live subscribers, e.g. websocket watchers.
// Delivery is best effort: a subscriber that stops draining its
// channel loses events rather than blocking the emitter.
type Bus struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: map[chan Event]struct{}{}}
}

// Subscribe registers a new subscriber. The returned cancel func must
// be called when the subscriber goes away.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, busBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
}

// LogEvent broadcasts; it never fails and never blocks.
func (b *Bus) LogEvent(_ context.Context, e Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
	return nil
}
