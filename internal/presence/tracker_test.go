package presence

import (
	"testing"
	"time"

	"github.com/BuddyCodez/SpeakSpace/internal/bus"
	"github.com/BuddyCodez/SpeakSpace/internal/domain"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestTracker(ttl time.Duration) (*Tracker, *fakeClock, *[]bus.Event) {
	clock := &fakeClock{now: time.Date(2026, 2, 10, 15, 0, 0, 0, time.UTC)}
	b := bus.New()
	var events []bus.Event
	b.Subscribe(bus.CategoryPresence, func(evt bus.Event) {
		events = append(events, evt)
	})
	tracker := NewTracker(b, WithTTL(ttl), WithClock(clock.Now))
	return tracker, clock, &events
}

func TestSetTypingAppearsInSnapshot(t *testing.T) {
	tracker, _, _ := newTestTracker(3 * time.Second)

	tracker.SetTyping("s1", "u1", "Alice", true)

	snapshot := tracker.Snapshot("s1")
	if len(snapshot) != 1 {
		t.Fatalf("expected 1 typing user, got %d", len(snapshot))
	}
	if snapshot[0].UserID != "u1" || snapshot[0].DisplayName != "Alice" {
		t.Fatalf("expected u1/Alice, got %+v", snapshot[0])
	}
}

func TestSnapshotExpiresEntriesAtTTL(t *testing.T) {
	tracker, clock, _ := newTestTracker(3 * time.Second)

	tracker.SetTyping("s1", "u1", "Alice", true)

	clock.Advance(2999 * time.Millisecond)
	if got := tracker.Snapshot("s1"); len(got) != 1 {
		t.Fatalf("expected entry alive just before TTL, got %d entries", len(got))
	}

	clock.Advance(1 * time.Millisecond)
	if got := tracker.Snapshot("s1"); len(got) != 0 {
		t.Fatalf("expected entry expired at TTL, got %d entries", len(got))
	}
}

func TestSetTypingRefreshExtendsEntry(t *testing.T) {
	tracker, clock, _ := newTestTracker(3 * time.Second)

	tracker.SetTyping("s1", "u1", "Alice", true)
	clock.Advance(2 * time.Second)
	tracker.SetTyping("s1", "u1", "Alice", true)
	clock.Advance(2 * time.Second)

	if got := tracker.Snapshot("s1"); len(got) != 1 {
		t.Fatalf("expected refreshed entry to survive, got %d entries", len(got))
	}
}

func TestSetTypingLastWriteWins(t *testing.T) {
	tracker, _, _ := newTestTracker(3 * time.Second)

	tracker.SetTyping("s1", "u1", "Alice", true)
	tracker.SetTyping("s1", "u1", "Alice B", true)

	snapshot := tracker.Snapshot("s1")
	if len(snapshot) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(snapshot))
	}
	if snapshot[0].DisplayName != "Alice B" {
		t.Fatalf("expected latest display name, got %q", snapshot[0].DisplayName)
	}
}

func TestSetTypingFalseRemovesAndNotifies(t *testing.T) {
	tracker, _, events := newTestTracker(3 * time.Second)

	tracker.SetTyping("s1", "u1", "Alice", true)
	tracker.SetTyping("s1", "u1", "Alice", false)

	if got := tracker.Snapshot("s1"); len(got) != 0 {
		t.Fatalf("expected empty snapshot, got %d entries", len(got))
	}
	if len(*events) != 2 {
		t.Fatalf("expected 2 typing notifications, got %d", len(*events))
	}
	for _, evt := range *events {
		if evt.Type != domain.EventTypingChanged {
			t.Fatalf("expected %q, got %q", domain.EventTypingChanged, evt.Type)
		}
		if evt.SessionID != "s1" {
			t.Fatalf("expected session s1, got %q", evt.SessionID)
		}
	}
}

func TestSetTypingFalseOnAbsentEntryStillNotifies(t *testing.T) {
	tracker, _, events := newTestTracker(3 * time.Second)

	tracker.SetTyping("s1", "u1", "Alice", false)

	if len(*events) != 1 {
		t.Fatalf("expected notification for no-op removal, got %d", len(*events))
	}
}

func TestClearRemovesEntry(t *testing.T) {
	tracker, _, events := newTestTracker(3 * time.Second)

	tracker.SetTyping("s1", "u1", "Alice", true)
	tracker.SetTyping("s1", "u2", "Bob", true)
	tracker.Clear("s1", "u1")

	snapshot := tracker.Snapshot("s1")
	if len(snapshot) != 1 {
		t.Fatalf("expected 1 entry after clear, got %d", len(snapshot))
	}
	if snapshot[0].UserID != "u2" {
		t.Fatalf("expected u2 to remain, got %q", snapshot[0].UserID)
	}
	if len(*events) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(*events))
	}
}

func TestSweepRemovesExpiredAndNotifiesOnce(t *testing.T) {
	tracker, clock, events := newTestTracker(3 * time.Second)

	tracker.SetTyping("s1", "u1", "Alice", true)
	tracker.SetTyping("s2", "u2", "Bob", true)
	*events = (*events)[:0]

	clock.Advance(4 * time.Second)
	tracker.sweep()

	if got := tracker.Snapshot("s1"); len(got) != 0 {
		t.Fatalf("expected s1 swept, got %d entries", len(got))
	}
	if got := tracker.Snapshot("s2"); len(got) != 0 {
		t.Fatalf("expected s2 swept, got %d entries", len(got))
	}
	if len(*events) != 1 {
		t.Fatalf("expected one sweep notification, got %d", len(*events))
	}
	if (*events)[0].SessionID != "" {
		t.Fatalf("expected sweep notification without session id, got %q", (*events)[0].SessionID)
	}
}

func TestSweepSilentWhenNothingExpired(t *testing.T) {
	tracker, clock, events := newTestTracker(3 * time.Second)

	tracker.SetTyping("s1", "u1", "Alice", true)
	*events = (*events)[:0]

	clock.Advance(1 * time.Second)
	tracker.sweep()

	if got := tracker.Snapshot("s1"); len(got) != 1 {
		t.Fatalf("expected entry to survive sweep, got %d entries", len(got))
	}
	if len(*events) != 0 {
		t.Fatalf("expected no sweep notification, got %d", len(*events))
	}
}

func TestSweepKeepsFreshEntries(t *testing.T) {
	tracker, clock, _ := newTestTracker(3 * time.Second)

	tracker.SetTyping("s1", "u1", "Alice", true)
	clock.Advance(2 * time.Second)
	tracker.SetTyping("s1", "u2", "Bob", true)
	clock.Advance(2 * time.Second)

	tracker.sweep()

	snapshot := tracker.Snapshot("s1")
	if len(snapshot) != 1 {
		t.Fatalf("expected only the fresh entry, got %d entries", len(snapshot))
	}
	if snapshot[0].UserID != "u2" {
		t.Fatalf("expected u2 to survive, got %q", snapshot[0].UserID)
	}
}

func TestSnapshotUnknownSessionIsEmpty(t *testing.T) {
	tracker, _, _ := newTestTracker(3 * time.Second)

	snapshot := tracker.Snapshot("missing")
	if snapshot == nil {
		t.Fatal("expected non-nil snapshot")
	}
	if len(snapshot) != 0 {
		t.Fatalf("expected empty snapshot, got %d entries", len(snapshot))
	}
}
