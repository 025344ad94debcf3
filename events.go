package di

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Lifecycle event topics emitted by the container.
const (
	// TopicCreated fires after a holder reaches Created.
	TopicCreated = "holder.created"
	// TopicDestroyed fires after a holder is destroyed, before its cascade.
	TopicDestroyed = "holder.destroyed"
	// TopicScopeEnded fires after a ScopedContainer finishes EndRequest.
	TopicScopeEnded = "scope.ended"
)

// Event is the payload delivered to bus listeners.
type Event struct {
	Topic    string
	Instance string
	Scope    Scope
	Value    any
}

// Listener receives bus events. A listener returning an error does not stop
// delivery to the remaining listeners; emit collects every failure.
type Listener func(Event) error

// Bus is a minimal in-process event bus. Listeners are captured in a
// snapshot before invocation, so subscribing or unsubscribing during emit is
// safe and concurrent emission never races listener bookkeeping.
type Bus struct {
	mu        sync.Mutex
	seq       int
	listeners map[string]map[int]Listener
	closed    bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{listeners: make(map[string]map[int]Listener)}
}

// Subscribe registers a listener for a topic and returns its unsubscribe
// function.
func (b *Bus) Subscribe(topic string, fn Listener) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	b.seq++
	id := b.seq
	if b.listeners[topic] == nil {
		b.listeners[topic] = make(map[int]Listener)
	}
	b.listeners[topic][id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.listeners[topic]; ok {
			delete(set, id)
		}
	}
}

// Emit delivers the event to every listener subscribed to its topic. Every
// listener runs even when earlier ones fail; the joined failures are
// returned. A listener panic is converted into an error instead of unwinding
// through the emitter.
func (b *Bus) Emit(ev Event) error {
	b.mu.Lock()
	set := b.listeners[ev.Topic]
	snapshot := make([]Listener, 0, len(set))
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	// Deterministic delivery in subscription order.
	sort.Ints(ids)
	for _, id := range ids {
		snapshot = append(snapshot, set[id])
	}
	b.mu.Unlock()

	var errs []error
	for _, fn := range snapshot {
		if err := safeInvoke(fn, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close drops every listener. Further subscriptions are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.listeners = make(map[string]map[int]Listener)
}

func safeInvoke(fn Listener, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic on %s for %s: %v", ev.Topic, ev.Instance, r)
		}
	}()
	return fn(ev)
}
