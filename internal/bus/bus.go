// Package bus is the in-process fan-out point for everything a live
// subscriber can observe: membership changes, moderation actions, messages,
// typing snapshots and session lifecycle. One Bus instance is constructed at
// startup and injected wherever events are published or consumed.
package bus

import (
	"sync"
	"time"
)

// Category is one logical event stream. Subscribers register per category.
type Category string

const (
	CategoryMembership Category = "membership"
	CategoryModeration Category = "moderation"
	CategoryMessage    Category = "message"
	CategoryPresence   Category = "presence"
	CategorySession    Category = "session"
)

// Categories lists every stream, for consumers that bridge all of them.
func Categories() []Category {
	return []Category{
		CategoryMembership,
		CategoryModeration,
		CategoryMessage,
		CategoryPresence,
		CategorySession,
	}
}

// Event is one immutable published value. SessionID routes it to session
// subscribers; a presence event with an empty SessionID is a sweep pass
// notification addressed to every presence subscriber.
type Event struct {
	Type       string
	SessionID  string
	Payload    any
	OccurredAt time.Time
}

// HandlerFunc consumes one event. Publish calls handlers synchronously on
// the publisher's goroutine; handlers that bridge to transports must hand
// off to their own channel instead of blocking.
type HandlerFunc func(Event)

type listener struct {
	id uint64
	fn HandlerFunc
}

// Bus delivers published events to the listeners of one category, in
// listener-registration order. There is no persistence and no replay: a
// listener registered after a publish never sees that event.
type Bus struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[Category][]listener
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{listeners: make(map[Category][]listener)}
}

// Subscribe registers fn for one category and returns its cancel func.
// Cancel removes the registration synchronously; it is safe to call more
// than once and must run on every disconnect path.
func (b *Bus) Subscribe(cat Category, fn HandlerFunc) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners[cat] = append(b.listeners[cat], listener{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		regs := b.listeners[cat]
		for i := range regs {
			if regs[i].id == id {
				b.listeners[cat] = append(regs[:i:i], regs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers evt to every currently-registered listener of cat, in
// registration order, on the caller's goroutine. Fire-and-forget: there is
// no error path and no retry.
func (b *Bus) Publish(cat Category, evt Event) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	b.mu.RLock()
	regs := b.listeners[cat]
	snapshot := make([]listener, len(regs))
	copy(snapshot, regs)
	b.mu.RUnlock()

	for _, l := range snapshot {
		l.fn(evt)
	}
}

// ListenerCount reports the registrations of one category.
func (b *Bus) ListenerCount(cat Category) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[cat])
}
