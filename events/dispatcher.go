// Package events implements the in-process publish/subscribe registry
// that fans the session adapter's state changes out to its consumers.
package events

import (
	"sync"

	"github.com/rs/zerolog"
)

// Name identifies an event channel on a Dispatcher.
type Name string

// Listener wraps a callback so registrations have a stable identity.
// Registering the same *Listener under the same event twice is a
// no-op, which gives the registry set semantics.
type Listener struct {
	fn func(payload any)
}

// NewListener wraps fn into a registrable listener.
func NewListener(fn func(payload any)) *Listener {
	return &Listener{fn: fn}
}

// Dispatcher is a synchronous, in-process fan-out registry. Listeners
// for an event run in registration order and a failing listener never
// prevents the remaining ones from running.
type Dispatcher struct {
	mu        sync.Mutex
	listeners map[Name][]*Listener

	Logger zerolog.Logger
}

// NewDispatcher returns an empty registry with a no-op logger.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		listeners: make(map[Name][]*Listener),
		Logger:    zerolog.Nop(),
	}
}

// Subscribe registers l under name. Duplicate registrations of the
// same listener are ignored.
func (d *Dispatcher) Subscribe(name Name, l *Listener) {
	if l == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, cur := range d.listeners[name] {
		if cur == l {
			return
		}
	}
	d.listeners[name] = append(d.listeners[name], l)
}

// Unsubscribe removes l from name. No-op when l was never registered.
// After Unsubscribe returns, l is guaranteed to receive no further
// events for name, including from a publish already in flight.
func (d *Dispatcher) Unsubscribe(name Name, l *Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur := d.listeners[name]
	for i, reg := range cur {
		if reg == l {
			d.listeners[name] = append(cur[:i:i], cur[i+1:]...)
			return
		}
	}
}

// Publish synchronously invokes every listener currently registered
// for name, in registration order, passing payload as-is. A listener
// that panics is recovered and logged so the rest still run.
func (d *Dispatcher) Publish(name Name, payload any) {
	d.mu.Lock()
	snapshot := make([]*Listener, len(d.listeners[name]))
	copy(snapshot, d.listeners[name])
	d.mu.Unlock()

	for _, l := range snapshot {
		// Re-check membership so a listener unsubscribed by an
		// earlier one in the same publish is skipped.
		if !d.registered(name, l) {
			continue
		}
		d.invoke(name, l, payload)
	}
}

func (d *Dispatcher) registered(name Name, l *Listener) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, reg := range d.listeners[name] {
		if reg == l {
			return true
		}
	}
	return false
}

func (d *Dispatcher) invoke(name Name, l *Listener, payload any) {
	defer func() {
		if r := recover(); r != nil {
			d.Logger.Error().Str("Event", string(name)).Interface("Panic", r).Msg("event listener panicked")
		}
	}()

	l.fn(payload)
}

// Clear drops every listener for the named events, or for all events
// when called with no arguments.
func (d *Dispatcher) Clear(names ...Name) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(names) == 0 {
		d.listeners = make(map[Name][]*Listener)
		return
	}

	for _, name := range names {
		delete(d.listeners, name)
	}
}
