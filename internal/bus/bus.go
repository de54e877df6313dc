package bus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Bus fans engine events out to in-process subscribers by kind prefix.
// Publish never blocks. A subscriber whose buffer is full misses the event,
// and the next event it does receive reports how many it missed.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscriber
	next int
}

type subscriber struct {
	prefix string
	ch     chan Event
	missed atomic.Int64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Publish delivers evt to every subscriber whose prefix matches evt.Kind.
// A zero Timestamp is set to now.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.prefix) {
			sub.offer(evt)
		}
	}
}

func (s *subscriber) offer(evt Event) {
	evt.Missed = s.missed.Swap(0)
	select {
	case s.ch <- evt:
	default:
		s.missed.Add(evt.Missed + 1)
	}
}

// Emit publishes an event of the given kind stamped with the current time.
func (b *Bus) Emit(kind string, payload any) {
	b.Publish(Event{Kind: kind, Payload: payload})
}

// Subscribe returns a channel of events whose kind starts with prefix, and
// a function that ends the subscription. An empty prefix matches everything.
// The channel is never closed; the cancel function may be called repeatedly.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	sub := &subscriber{prefix: prefix, ch: make(chan Event, bufSize)}
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	return sub.ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
