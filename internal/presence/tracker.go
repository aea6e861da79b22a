// Package presence tracks who is currently typing in each session. State
// is transient and process-local: entries expire on a TTL and are never
// persisted.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/BuddyCodez/SpeakSpace/internal/bus"
	"github.com/BuddyCodez/SpeakSpace/internal/domain"
	"github.com/BuddyCodez/SpeakSpace/pkg/log"
)

const (
	// DefaultTTL is how long a typing entry lives without a refresh.
	DefaultTTL = 3 * time.Second
	// DefaultSweepInterval is how often expired entries are collected.
	DefaultSweepInterval = 3 * time.Second
)

type entry struct {
	lastTypedAt time.Time
	displayName string
}

// Tracker holds the typing state of every session behind one mutex. It is
// constructed at startup and injected; tests build isolated instances with
// their own clock.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]map[string]entry

	ttl      time.Duration
	interval time.Duration
	bus      *bus.Bus
	now      func() time.Time
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithTTL overrides the entry TTL.
func WithTTL(ttl time.Duration) Option {
	return func(t *Tracker) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

// WithSweepInterval overrides the sweep period.
func WithSweepInterval(interval time.Duration) Option {
	return func(t *Tracker) {
		if interval > 0 {
			t.interval = interval
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker creates a Tracker publishing typing changes to b.
func NewTracker(b *bus.Bus, opts ...Option) *Tracker {
	t := &Tracker{
		sessions: make(map[string]map[string]entry),
		ttl:      DefaultTTL,
		interval: DefaultSweepInterval,
		bus:      b,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetTyping upserts or removes a user's typing entry and always publishes a
// typing change for the session, even when the removal was a no-op, so
// subscribers stay synchronized. Duplicate notifications are harmless.
func (t *Tracker) SetTyping(sessionID, userID, displayName string, isTyping bool) {
	t.mu.Lock()
	if isTyping {
		users, ok := t.sessions[sessionID]
		if !ok {
			users = make(map[string]entry)
			t.sessions[sessionID] = users
		}
		users[userID] = entry{lastTypedAt: t.now(), displayName: displayName}
	} else {
		t.removeLocked(sessionID, userID)
	}
	t.mu.Unlock()

	t.notify(sessionID)
}

// Clear removes a user's typing entry and notifies the session. The message
// pipeline calls it after persisting a message so the sender never shows as
// still typing.
func (t *Tracker) Clear(sessionID, userID string) {
	t.mu.Lock()
	t.removeLocked(sessionID, userID)
	t.mu.Unlock()

	t.notify(sessionID)
}

func (t *Tracker) removeLocked(sessionID, userID string) {
	users, ok := t.sessions[sessionID]
	if !ok {
		return
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(t.sessions, sessionID)
	}
}

// Snapshot returns who is typing in a session right now. Entry ages are
// internal; only user id and display name leave the tracker.
func (t *Tracker) Snapshot(sessionID string) []domain.TypingUser {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := t.sessions[sessionID]
	snapshot := make([]domain.TypingUser, 0, len(users))
	cutoff := t.now().Add(-t.ttl)
	for userID, e := range users {
		if e.lastTypedAt.Before(cutoff) || e.lastTypedAt.Equal(cutoff) {
			continue
		}
		snapshot = append(snapshot, domain.TypingUser{UserID: userID, DisplayName: e.displayName})
	}
	return snapshot
}

// Run drives the sweep until ctx is cancelled. One recurring timer covers
// every session.
func (t *Tracker) Run(ctx context.Context) {
	l := log.L().With().Str("component", "presence").Logger()
	l.Info().Dur("interval", t.interval).Dur("ttl", t.ttl).Msg("presence sweep started")

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.Info().Msg("presence sweep stopped")
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

// sweep drops entries older than the TTL. When anything was removed it
// publishes a single coarse notification for the whole pass; subscribers
// re-derive their own session's view from Snapshot, so per-session fan-out
// would buy nothing.
func (t *Tracker) sweep() {
	cutoff := t.now().Add(-t.ttl)

	t.mu.Lock()
	removed := false
	for sessionID, users := range t.sessions {
		for userID, e := range users {
			if e.lastTypedAt.Before(cutoff) || e.lastTypedAt.Equal(cutoff) {
				delete(users, userID)
				removed = true
			}
		}
		if len(users) == 0 {
			delete(t.sessions, sessionID)
		}
	}
	t.mu.Unlock()

	if removed {
		t.notify("")
	}
}

func (t *Tracker) notify(sessionID string) {
	t.bus.Publish(bus.CategoryPresence, bus.Event{
		Type:      domain.EventTypingChanged,
		SessionID: sessionID,
		Payload:   domain.TypingEvent{SessionID: sessionID},
	})
}
