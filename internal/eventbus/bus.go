package eventbus

import (
	"sync"

	"droidfleet/internal/logging"
)

var log = logging.Component("eventbus")

// Handler processes one event. Handlers run on the bus's single dispatch
// goroutine and must not block for long.
type Handler func(Event)

// Bus is a buffered, asynchronous publish-subscribe bus shared by every
// stateful component in the engine. It is safe for concurrent use.
//
// A single dispatch goroutine drains a buffered channel and fans each
// event out to a snapshot of the current subscriber set, so Publish never
// blocks on a slow subscriber and subscriber mutation never races
// dispatch.
type Bus struct {
	mu       sync.RWMutex
	subs     map[int]Handler
	nextID   int
	eventCh  chan Event
	done     chan struct{}
	stopOnce sync.Once
}

// NewBus creates a bus with the given internal buffer size (0 uses a
// sensible default).
func NewBus(bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 256
	}
	b := &Bus{
		subs:    make(map[int]Handler),
		eventCh: make(chan Event, bufSize),
		done:    make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// Subscribe registers a handler and returns an unsubscribe function.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish enqueues an event for asynchronous delivery. If the internal
// buffer is full the event is dropped and a debug line is logged — a
// back-pressured UI must never be able to stall the engine.
func (b *Bus) Publish(e Event) {
	select {
	case b.eventCh <- e:
	default:
		log.Debug().Str("kind", e.Kind()).Msg("event dropped: bus buffer full")
	}
}

// Close shuts down the dispatch goroutine. Safe to call more than once.
func (b *Bus) Close() {
	b.stopOnce.Do(func() { close(b.done) })
}

func (b *Bus) dispatch() {
	for {
		select {
		case <-b.done:
			return
		case e := <-b.eventCh:
			b.mu.RLock()
			handlers := make([]Handler, 0, len(b.subs))
			for _, h := range b.subs {
				handlers = append(handlers, h)
			}
			b.mu.RUnlock()

			for _, h := range handlers {
				h(e)
			}
		}
	}
}
