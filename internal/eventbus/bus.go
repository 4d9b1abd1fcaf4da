package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is one in-process signal. Data carries a small value owned by the
// publisher (a URL, an error string, a notifier.NotificationEvent).
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus fans events out to subscribers without ever blocking the publisher.
// A subscriber whose buffer is full misses the event and the miss is counted.
type Bus interface {
	Publish(e Event)
	// Subscribe registers a buffered listener. With types set, only events of
	// those types are delivered. unsubscribe closes the channel and is idempotent.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
	// Dropped is the number of deliveries skipped because a buffer was full.
	Dropped() uint64
}

const defaultBuffer = 8

type subscriber struct {
	ch     chan Event
	types  []string
	closed bool
}

type memBus struct {
	mu      sync.RWMutex
	subs    []*subscriber
	dropped atomic.Uint64
}

// New returns an in-memory bus. It starts no goroutines.
func New() Bus { return &memBus{} }

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// The read lock is held across the non-blocking sends so unsubscribe
	// cannot close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.closed || !Matches(e, s.types...) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	s := &subscriber{ch: make(chan Event, buffer), types: append([]string(nil), types...)}

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	return s.ch, func() { b.remove(s) }
}

func (b *memBus) remove(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	for i, cur := range b.subs {
		if cur == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
