// Package events implements the typed publish/subscribe bus the lifecycle
// core emits through. Event names form a closed set; dispatch is synchronous
// and a panicking handler never takes down the emitter.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"chitragupta/internal/logging"
)

// Name identifies an event type. Only the constants below are emitted.
type Name string

const (
	AutonomyRetry            Name = "autonomy:retry"
	AutonomyErrorClassified  Name = "autonomy:error_classified"
	AutonomyCompaction       Name = "autonomy:compaction"
	AutonomyToolDisabled     Name = "autonomy:tool_disabled"
	AutonomyToolReenabled    Name = "autonomy:tool_reenabled"
	AutonomyHealthWarning    Name = "autonomy:health_warning"
	AutonomyContextRecovered Name = "autonomy:context_recovered"
	AutonomyDegraded         Name = "autonomy:degraded"
)

// Event is a single emission. Data holds event-specific fields.
type Event struct {
	Name      Name
	AgentID   string
	Data      map[string]interface{}
	Timestamp time.Time
	Seq       uint64
}

// Handler receives events synchronously on the emitter's goroutine.
type Handler func(Event)

// Subscription identifies a registered handler for removal.
type Subscription struct {
	id   uint64
	name Name
}

type subscriber struct {
	id      uint64
	handler Handler
	once    bool
}

// Bus fans events out to subscribers. Handlers for one Emit run in
// registration order; there is no ordering guarantee across events.
type Bus struct {
	mu       sync.RWMutex
	subs     map[Name][]subscriber
	nextID   uint64
	sequence atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Name][]subscriber)}
}

// On registers a handler for an event name.
func (b *Bus) On(name Name, h Handler) *Subscription {
	return b.register(name, h, false)
}

// Once registers a handler that is removed after its first invocation.
func (b *Bus) Once(name Name, h Handler) *Subscription {
	return b.register(name, h, true)
}

func (b *Bus) register(name Name, h Handler, once bool) *Subscription {
	if h == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[name] = append(b.subs[name], subscriber{id: b.nextID, handler: h, once: once})
	return &Subscription{id: b.nextID, name: name}
}

// Off removes a previously registered handler. Nil or stale subscriptions
// are ignored.
func (b *Bus) Off(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sub.name]
	for i, s := range list {
		if s.id == sub.id {
			b.subs[sub.name] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// RemoveAll drops every handler for name; with the empty name it drops all
// handlers on the bus.
func (b *Bus) RemoveAll(name Name) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if name == "" {
		b.subs = make(map[Name][]subscriber)
		return
	}
	delete(b.subs, name)
}

// Emit dispatches synchronously to all handlers for the event's name, in
// registration order. Handler panics are recovered and logged.
func (b *Bus) Emit(name Name, agentID string, data map[string]interface{}) {
	b.mu.Lock()
	list := b.subs[name]
	if len(list) == 0 {
		b.mu.Unlock()
		return
	}
	// Snapshot so handlers can (un)subscribe during dispatch.
	snapshot := make([]subscriber, len(list))
	copy(snapshot, list)
	// Drop once-handlers before releasing the lock so a second Emit
	// cannot run them again.
	kept := list[:0]
	for _, s := range list {
		if !s.once {
			kept = append(kept, s)
		}
	}
	b.subs[name] = kept
	b.mu.Unlock()

	ev := Event{
		Name:      name,
		AgentID:   agentID,
		Data:      data,
		Timestamp: time.Now(),
		Seq:       b.sequence.Add(1),
	}

	for _, s := range snapshot {
		b.dispatch(s.handler, ev)
	}
}

// dispatch isolates a single handler call.
func (b *Bus) dispatch(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryEvents).Error("handler panic on %s: %v", ev.Name, r)
		}
	}()
	h(ev)
}

// SubscriberCount returns the number of handlers registered for name.
func (b *Bus) SubscriberCount(name Name) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}
