package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/BuddyCodez/SpeakSpace/internal/bus"
	"github.com/BuddyCodez/SpeakSpace/internal/cache"
	"github.com/BuddyCodez/SpeakSpace/internal/domain"
	"github.com/BuddyCodez/SpeakSpace/internal/presence"
	"github.com/BuddyCodez/SpeakSpace/internal/repository"
)

// fakeStorage is an in-memory media store for tests.
type fakeStorage struct {
	mu         sync.Mutex
	objects    map[string][]byte
	failWrites bool
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte)}
}

func (f *fakeStorage) Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if f.failWrites {
		return fmt.Errorf("write %s: storage unavailable", key)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeStorage) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("key %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeStorage) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeStorage) GetURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	return "https://media.test/" + key, nil
}

func (f *fakeStorage) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

// eventRecorder captures every event published on the bus.
type eventRecorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func recordAll(b *bus.Bus) *eventRecorder {
	r := &eventRecorder{}
	for _, cat := range bus.Categories() {
		b.Subscribe(cat, func(evt bus.Event) {
			r.mu.Lock()
			r.events = append(r.events, evt)
			r.mu.Unlock()
		})
	}
	return r
}

func (r *eventRecorder) ofType(eventType string) []bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []bus.Event
	for _, evt := range r.events {
		if evt.Type == eventType {
			matched = append(matched, evt)
		}
	}
	return matched
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		types = append(types, evt.Type)
	}
	return types
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type fixture struct {
	store       *repository.MemoryStore
	bus         *bus.Bus
	tracker     *presence.Tracker
	media       *fakeStorage
	events      *eventRecorder
	sessions    SessionService
	memberships MembershipService
	messages    MessageService
	moderation  ModerationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := repository.NewMemoryStore()
	b := bus.New()
	recorder := recordAll(b)
	tracker := presence.NewTracker(b)
	media := newFakeStorage()

	memberships := NewMembershipService(store, b)
	messages := NewMessageService(store, b, tracker, cache.NewNoopHistoryCache(), 0, media, memberships)
	moderation := NewModerationService(store, b, memberships, messages)
	sessions := NewSessionService(store, b, memberships)

	return &fixture{
		store:       store,
		bus:         b,
		tracker:     tracker,
		media:       media,
		events:      recorder,
		sessions:    sessions,
		memberships: memberships,
		messages:    messages,
		moderation:  moderation,
	}
}

func (f *fixture) mustCreateSession(t *testing.T, creatorID, creatorName string) *domain.Session {
	t.Helper()
	session, err := f.sessions.Create(context.Background(), creatorID, creatorName, &domain.CreateSessionRequest{
		Title: "Mock Interview",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func (f *fixture) mustJoin(t *testing.T, sessionID, userID, displayName, role string) *domain.Membership {
	t.Helper()
	m, err := f.memberships.Join(context.Background(), sessionID, userID, displayName, role)
	if err != nil {
		t.Fatalf("join %s: %v", userID, err)
	}
	return m
}

func (f *fixture) membership(t *testing.T, sessionID, userID string) *domain.Membership {
	t.Helper()
	m, err := f.store.Memberships().Get(context.Background(), sessionID, userID)
	if err != nil {
		t.Fatalf("load membership %s: %v", userID, err)
	}
	return m
}
