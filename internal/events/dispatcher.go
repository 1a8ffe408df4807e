// Package events implements typed publish/subscribe fan-out for the chat core.
package events

import (
	"fmt"
	"sync"

	"github.com/chatclient/internal/logger"
)

// Event is what handlers receive. Payload is one of the *Payload types for
// lifecycle events and the raw frame data (json.RawMessage) for inbound types.
type Event struct {
	Type    Type
	Payload any
}

// Handler processes one event. A returned error is logged; it does not stop
// the remaining handlers.
type Handler func(Event) error

// Subscription identifies a registered handler for Off.
type Subscription struct {
	Type Type
	id   uint64
}

type entry struct {
	id uint64
	h  Handler
}

// Dispatcher fans events out to handlers in registration order.
// Handlers run on the dispatching goroutine; registration may happen from
// inside a handler and only affects later dispatches.
type Dispatcher struct {
	mu       sync.Mutex
	handlers [typeCount][]entry
	nextID   uint64
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// On registers h for t.
func (d *Dispatcher) On(t Type, h Handler) Subscription {
	if !t.Valid() || h == nil {
		return Subscription{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	// Copy-on-write keeps snapshots held by in-flight dispatches intact.
	cur := d.handlers[t]
	next := make([]entry, len(cur), len(cur)+1)
	copy(next, cur)
	d.handlers[t] = append(next, entry{id: d.nextID, h: h})
	return Subscription{Type: t, id: d.nextID}
}

// Off removes a handler registered with On. It reports whether one was removed.
func (d *Dispatcher) Off(s Subscription) bool {
	if !s.Type.Valid() || s.id == 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	cur := d.handlers[s.Type]
	for i, e := range cur {
		if e.id != s.id {
			continue
		}
		next := make([]entry, 0, len(cur)-1)
		next = append(next, cur[:i]...)
		next = append(next, cur[i+1:]...)
		d.handlers[s.Type] = next
		return true
	}
	return false
}

// Count returns the number of handlers registered for t.
func (d *Dispatcher) Count(t Type) int {
	if !t.Valid() {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers[t])
}

// Dispatch invokes a snapshot of the handlers registered for t.
func (d *Dispatcher) Dispatch(t Type, payload any) {
	if !t.Valid() {
		return
	}
	d.mu.Lock()
	snapshot := d.handlers[t]
	d.mu.Unlock()

	ev := Event{Type: t, Payload: payload}
	for _, e := range snapshot {
		if err := invoke(e.h, ev); err != nil {
			logger.Errorf("events: handler for %s: %v", t, err)
		}
	}
}

func invoke(h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ev)
}
