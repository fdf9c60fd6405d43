package fetcher

import (
	"sync"

	"uk.co.dudmesh.tgingest/internal/model"
)

type listener struct {
	id uint64
	fn func(model.FetcherEvent)
}

// emitter delivers events to listeners synchronously, in registration order.
// Emission and (un)registration share one lock, so a listener never observes
// events out of order and is never called after its unsubscribe returns.
// Listeners must not block and must not call back into the emitter.
type emitter struct {
	mu        sync.Mutex
	listeners []listener
	nextID    uint64
}

// subscribe registers fn after handing it the event returned by initial, with
// no other event able to slip in between.
func (e *emitter) subscribe(fn func(model.FetcherEvent), initial func() model.FetcherEvent) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if initial != nil {
		fn(initial())
	}

	e.nextID++
	id := e.nextID
	e.listeners = append(e.listeners, listener{id: id, fn: fn})
	streamSubscribers.Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.unsubscribe(id)
		})
	}
}

func (e *emitter) unsubscribe(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, l := range e.listeners {
		if l.id == id {
			e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
			streamSubscribers.Dec()
			return
		}
	}
}

func (e *emitter) emit(events ...model.FetcherEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, event := range events {
		for _, l := range e.listeners {
			l.fn(event)
		}
	}
}

func (e *emitter) size() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}
