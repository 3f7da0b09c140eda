package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event carries an in-process notification between components. Data is
// small and informational; subscribers must never block on it.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Event types published by the scheduling core.
const (
	TypeDayPlanned    = "schedule.day_planned"
	TypeCommitFired   = "schedule.commit_fired"
	TypeCommitFailed  = "schedule.commit_failed"
	TypeStoreCleared  = "schedule.store_cleared"
	TypeRestoreFailed = "schedule.restore_failed"
)

// Bus fans events out to subscribers. Publish never blocks; a subscriber
// whose buffer is full misses the event.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

// New returns an in-memory bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu    sync.RWMutex
	subs  map[uint64]chan Event
	seq   atomic.Uint64
	drops atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	// Deliver from a snapshot so no lock is held across sends.
	b.mu.RLock()
	targets := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		b.send(ch, e)
	}
}

// send attempts one non-blocking delivery. Unsubscribe closes the channel
// without coordinating with in-flight publishes, so the send panic from a
// just-closed channel is absorbed here and counted as a drop.
func (b *memBus) send(ch chan Event, e Event) {
	defer func() {
		if recover() != nil {
			b.drops.Add(1)
		}
	}()
	select {
	case ch <- e:
	default:
		b.drops.Add(1)
	}
}

// Dropped reports how many events were not delivered to some subscriber.
func (b *memBus) Dropped() uint64 { return b.drops.Load() }

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
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
