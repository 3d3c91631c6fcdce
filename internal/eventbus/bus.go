package eventbus

import (
	"sync"
	"time"
)

// Kind values published on the bus.
const (
	KindAlert             = "alert"
	KindProviderDegraded  = "provider.degraded"
	KindProviderRecovered = "provider.recovered"
	KindConfigReloaded    = "config.reloaded"
	KindDigest            = "digest"
)

// Event is an in-memory signal decoupling producers from observers. Data
// should stay small and JSON-serializable; subscribers may log it.
//
// Publish never blocks. A subscriber that falls behind its buffer loses
// events rather than slowing anyone else down.
type Event struct {
	Kind string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines; delivery
// happens on the publisher's stack.
func New() Bus {
	return &fanout{subs: make(map[uint64]chan Event)}
}

type fanout struct {
	mu   sync.RWMutex
	seq  uint64
	subs map[uint64]chan Event
}

// Publish stamps a missing time and offers e to every subscriber. Sends are
// non-blocking, so holding the read lock across the loop is cheap and keeps
// unsubscribe (which closes the channel) strictly ordered after any send
// that could still see it.
func (b *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a buffered channel on the bus. The returned func
// removes and closes it; calling it more than once is safe.
func (b *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.seq++
	id := b.seq
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
