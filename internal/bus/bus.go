package bus

import (
	"sync"

	"sentinel_go/internal/event"
)

// Bus is the event fan-out: a subscribe/unsubscribe registry that lets
// independent consumers observe the same event stream without coupling to the
// transport. Delivery is synchronous and in registration order, inside the
// same sequential dispatch as the read loop — a slow subscriber delays the
// loop, so callbacks must enqueue and return, never block on I/O.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   []subscriber
}

type subscriber struct {
	id int
	fn func(event.Event)
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers fn for all event kinds and returns its unsubscribe
// function. Unsubscribing twice is a no-op.
func (b *Bus) Subscribe(fn func(event.Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers ev to every subscriber, synchronously, in registration
// order.
func (b *Bus) Publish(ev event.Event) {
	b.mu.Lock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		s.fn(ev)
	}
}

// Len returns the current subscriber count.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
