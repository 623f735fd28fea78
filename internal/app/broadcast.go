package app

import (
	"sync"

	"github.com/earshot-ai/earshot/internal/pipeline"
)

// Broadcaster fans pipeline events out to any number of subscribers.
// Delivery is best effort: a subscriber whose buffer is full misses the
// event rather than stalling the pipeline's event loop.
// All exported methods are safe for concurrent use.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan pipeline.Event
	nextID int
	closed bool
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan pipeline.Event)}
}

// Subscribe registers a new subscriber and returns its event channel plus a
// cancel function. The channel is closed when cancel is called or the
// Broadcaster itself is closed. buffer <= 0 defaults to 16.
func (b *Broadcaster) Subscribe(buffer int) (<-chan pipeline.Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan pipeline.Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber without blocking.
func (b *Broadcaster) Publish(ev pipeline.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close closes every subscriber channel. Publish after Close is a no-op.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	return nil
}
