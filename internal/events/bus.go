package events

import (
	"context"
	"sync"
	"sync/atomic"

	"paperTrader/internal/domain"
	"paperTrader/internal/ports"
)

const defaultBuffer = 256

// Bus fans engine events out to registered consumers. Publish never blocks:
// when a subscriber's buffer is full the event is dropped for that subscriber.
// Events reach each subscriber in publish order.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan domain.Event
	nextID  uint64
	closed  bool
	dropped atomic.Uint64
	logger  ports.Logger
}

// NewBus creates an event bus. logger may be nil.
func NewBus(logger ports.Logger) *Bus {
	return &Bus{
		subs:   make(map[uint64]chan domain.Event),
		logger: logger,
	}
}

// Subscribe registers a consumer with the given buffer size and returns its
// channel and an unsubscribe func. The channel is closed on unsubscribe or
// when the bus is closed. Unsubscribing twice is a no-op.
func (b *Bus) Subscribe(buffer int) (<-chan domain.Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan domain.Event, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Publish delivers evt to every subscriber without blocking.
func (b *Bus) Publish(evt domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			n := b.dropped.Add(1)
			if b.logger != nil {
				b.logger.Warn(context.Background(), "events: dropping event for slow subscriber", map[string]interface{}{
					"type":         evt.Type,
					"droppedTotal": n,
				})
			}
		}
	}
}

// Dropped returns how many deliveries were dropped because a buffer was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Further publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
