package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/BuddyCodez/SpeakSpace/internal/bus"
	"github.com/BuddyCodez/SpeakSpace/internal/cache"
	"github.com/BuddyCodez/SpeakSpace/internal/domain"
	"github.com/BuddyCodez/SpeakSpace/internal/presence"
	"github.com/BuddyCodez/SpeakSpace/internal/repository"
)

func TestSendPersistsAndPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.mustCreateSession(t, "creator", "Alice")
	f.mustJoin(t, session.ID, "bob", "Bob", "")

	msg, err := f.messages.Send(ctx, SendInput{
		SessionID: session.ID,
		SenderID:  "bob",
		Content:   "  hello everyone  ",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Content != "hello everyone" {
		t.Fatalf("expected trimmed content, got %q", msg.Content)
	}
	if msg.SenderName != "Bob" {
		t.Fatalf("expected sender name resolved, got %q", msg.SenderName)
	}
	if msg.Type != domain.MessageTypeText {
		t.Fatalf("expected text message, got %s", msg.Type)
	}

	stored, err := f.store.Messages().GetByID(ctx, session.ID, msg.ID)
	if err != nil {
		t.Fatalf("load stored message: %v", err)
	}
	if stored.Content != "hello everyone" {
		t.Fatalf("expected stored content, got %q", stored.Content)
	}

	events := f.events.ofType(domain.EventMessageNew)
	if len(events) != 1 {
		t.Fatalf("expected 1 message.new event, got %d", len(events))
	}
	payload, ok := events[0].Payload.(domain.MessageEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", events[0].Payload)
	}
	if payload.Message.ID != msg.ID {
		t.Fatalf("expected event to carry the message, got %+v", payload.Message)
	}
}

func TestSendClearsTypingState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.mustCreateSession(t, "creator", "Alice")
	f.mustJoin(t, session.ID, "bob", "Bob", "")

	f.tracker.SetTyping(session.ID, "bob", "Bob", true)
	if got := f.tracker.Snapshot(session.ID); len(got) != 1 {
		t.Fatalf("expected bob typing, got %d entries", len(got))
	}

	if _, err := f.messages.Send(ctx, SendInput{SessionID: session.ID, SenderID: "bob", Content: "done"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := f.tracker.Snapshot(session.ID); len(got) != 0 {
		t.Fatalf("expected typing cleared after send, got %d entries", len(got))
	}
}

func TestSendRejectsMutedSender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.mustCreateSession(t, "creator", "Alice")
	f.mustJoin(t, session.ID, "bob", "Bob", "")
	if _, err := f.moderation.Mute(ctx, session.ID, "creator", "bob", "", 30); err != nil {
		t.Fatalf("mute: %v", err)
	}

	_, err := f.messages.Send(ctx, SendInput{SessionID: session.ID, SenderID: "bob", Content: "hi"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for muted sender, got %v", err)
	}
}

func TestSendRequiresMembership(t *testing.T) {
	f := newFixture(t)
	session := f.mustCreateSession(t, "creator", "Alice")

	_, err := f.messages.Send(context.Background(), SendInput{SessionID: session.ID, SenderID: "ghost", Content: "hi"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestSendValidatesContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.mustCreateSession(t, "creator", "Alice")
	f.mustJoin(t, session.ID, "bob", "Bob", "")

	if _, err := f.messages.Send(ctx, SendInput{SessionID: session.ID, SenderID: "bob", Content: "   "}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest for blank content, got %v", err)
	}

	long := strings.Repeat("a", 4001)
	if _, err := f.messages.Send(ctx, SendInput{SessionID: session.ID, SenderID: "bob", Content: long}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest for oversized content, got %v", err)
	}

	exact := strings.Repeat("a", 4000)
	if _, err := f.messages.Send(ctx, SendInput{SessionID: session.ID, SenderID: "bob", Content: exact}); err != nil {
		t.Fatalf("expected 4000 runes accepted: %v", err)
	}
}

func TestSendDeduplicatesOnClientMessageID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.mustCreateSession(t, "creator", "Alice")
	f.mustJoin(t, session.ID, "bob", "Bob", "")

	first, err := f.messages.Send(ctx, SendInput{
		SessionID:       session.ID,
		SenderID:        "bob",
		Content:         "hello",
		ClientMessageID: "client-1",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	second, err := f.messages.Send(ctx, SendInput{
		SessionID:       session.ID,
		SenderID:        "bob",
		Content:         "hello",
		ClientMessageID: "client-1",
	})
	if err != nil {
		t.Fatalf("replayed send: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected replay to return the original message, got %q and %q", first.ID, second.ID)
	}

	messages, _, err := f.store.Messages().ListPage(ctx, session.ID, "", 10)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 stored message, got %d", len(messages))
	}
	if n := len(f.events.ofType(domain.EventMessageNew)); n != 1 {
		t.Fatalf("expected 1 message.new event, got %d", n)
	}
}

// raceMessageStore fires a one-shot hook after the client message id
// pre-lookup, opening the window in which a concurrent retry can insert
// the same correlation id first.
type raceMessageStore struct {
	repository.Store
	onClientLookup func()
}

func (s *raceMessageStore) Messages() repository.MessageRepository {
	return &raceMessageRepo{MessageRepository: s.Store.Messages(), store: s}
}

type raceMessageRepo struct {
	repository.MessageRepository
	store *raceMessageStore
}

func (r *raceMessageRepo) GetByClientMessageID(ctx context.Context, sessionID, senderID, clientMessageID string) (*domain.Message, error) {
	m, err := r.MessageRepository.GetByClientMessageID(ctx, sessionID, senderID, clientMessageID)
	if hook := r.store.onClientLookup; hook != nil {
		r.store.onClientLookup = nil
		hook()
	}
	return m, err
}

func TestSendRecoversWhenRetryWinsTheInsertRace(t *testing.T) {
	inner := repository.NewMemoryStore()
	store := &raceMessageStore{Store: inner}
	b := bus.New()
	tracker := presence.NewTracker(b)

	memberships := NewMembershipService(store, b)
	messages := NewMessageService(store, b, tracker, cache.NewNoopHistoryCache(), 0, newFakeStorage(), memberships)
	sessions := NewSessionService(store, b, memberships)

	ctx := context.Background()
	session, err := sessions.Create(ctx, "creator", "Alice", &domain.CreateSessionRequest{Title: "Mock Interview"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := memberships.Join(ctx, session.ID, "bob", "Bob", ""); err != nil {
		t.Fatalf("join: %v", err)
	}

	// The competing retry lands between the pre-lookup and the insert.
	store.onClientLookup = func() {
		winner := &domain.Message{
			ID:              "m-winner",
			SessionID:       session.ID,
			SenderID:        "bob",
			SenderName:      "Bob",
			Type:            domain.MessageTypeText,
			Content:         "hello",
			ClientMessageID: "client-1",
			CreatedAt:       time.Now().UTC(),
		}
		if err := inner.Messages().Create(ctx, winner); err != nil {
			t.Errorf("seed winning message: %v", err)
		}
	}

	msg, err := messages.Send(ctx, SendInput{
		SessionID:       session.ID,
		SenderID:        "bob",
		Content:         "hello",
		ClientMessageID: "client-1",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ID != "m-winner" {
		t.Fatalf("expected the winning insert returned, got %q", msg.ID)
	}

	page, _, err := inner.Messages().ListPage(ctx, session.ID, "", 10)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("expected a single stored message, got %d", len(page))
	}
}

func TestSendSystemSkipsMembershipChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.mustCreateSession(t, "creator", "Alice")

	msg, err := f.messages.SendSystem(ctx, session.ID, "session is being recorded")
	if err != nil {
		t.Fatalf("send system: %v", err)
	}
	if msg.SenderID != domain.SystemSenderID || msg.Type != domain.MessageTypeSystem {
		t.Fatalf("expected system message, got %+v", msg)
	}

	if _, err := f.messages.SendSystem(ctx, session.ID, "  "); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest for blank content, got %v", err)
	}
}

func TestDeleteOwnMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.mustCreateSession(t, "creator", "Alice")
	f.mustJoin(t, session.ID, "bob", "Bob", "")

	msg, err := f.messages.Send(ctx, SendInput{SessionID: session.ID, SenderID: "bob", Content: "oops"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := f.messages.Delete(ctx, session.ID, msg.ID, "bob"); err != nil {
		t.Fatalf("delete own message: %v", err)
	}
	if _, err := f.store.Messages().GetByID(ctx, session.ID, msg.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected message removed, got %v", err)
	}

	events := f.events.ofType(domain.EventMessageDeleted)
	if len(events) != 1 {
		t.Fatalf("expected 1 deleted event, got %d", len(events))
	}
	payload, ok := events[0].Payload.(domain.MessageDeletedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", events[0].Payload)
	}
	if payload.MessageID != msg.ID || payload.ActorUserID != "bob" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestDeleteOthersMessageRequiresModerator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.mustCreateSession(t, "creator", "Alice")
	f.mustJoin(t, session.ID, "bob", "Bob", "")
	f.mustJoin(t, session.ID, "carol", "Carol", "")

	msg, err := f.messages.Send(ctx, SendInput{SessionID: session.ID, SenderID: "bob", Content: "mine"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := f.messages.Delete(ctx, session.ID, msg.ID, "carol"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for participant, got %v", err)
	}
	if err := f.messages.Delete(ctx, session.ID, msg.ID, "creator"); err != nil {
		t.Fatalf("moderator delete: %v", err)
	}
}

func TestDeleteUnknownMessage(t *testing.T) {
	f := newFixture(t)
	session := f.mustCreateSession(t, "creator", "Alice")

	err := f.messages.Delete(context.Background(), session.ID, "missing", "creator")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHistoryPaginatesNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.mustCreateSession(t, "creator", "Alice")
	f.mustJoin(t, session.ID, "bob", "Bob", "")

	var ids []string
	for i := 1; i <= 5; i++ {
		msg, err := f.messages.Send(ctx, SendInput{SessionID: session.ID, SenderID: "bob", Content: fmt.Sprintf("msg %d", i)})
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		ids = append(ids, msg.ID)
	}

	page, err := f.messages.History(ctx, session.ID, "bob", "", 2)
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(page.Messages) != 2 || page.Messages[0].ID != ids[4] || page.Messages[1].ID != ids[3] {
		t.Fatalf("expected newest two messages, got %+v", page.Messages)
	}
	if !page.HasMore || page.NextCursor != ids[3] {
		t.Fatalf("expected cursor %q, got %q hasMore=%v", ids[3], page.NextCursor, page.HasMore)
	}

	page, err = f.messages.History(ctx, session.ID, "bob", page.NextCursor, 2)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(page.Messages) != 2 || page.Messages[0].ID != ids[2] || page.Messages[1].ID != ids[1] {
		t.Fatalf("expected middle two messages, got %+v", page.Messages)
	}

	page, err = f.messages.History(ctx, session.ID, "bob", page.NextCursor, 2)
	if err != nil {
		t.Fatalf("last page: %v", err)
	}
	if len(page.Messages) != 1 || page.Messages[0].ID != ids[0] {
		t.Fatalf("expected oldest message, got %+v", page.Messages)
	}
	if page.HasMore {
		t.Fatal("expected no more pages")
	}
}

func TestHistoryClampsLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.mustCreateSession(t, "creator", "Alice")
	f.mustJoin(t, session.ID, "bob", "Bob", "")

	for i := 0; i < 120; i++ {
		if _, err := f.messages.SendSystem(ctx, session.ID, fmt.Sprintf("note %d", i)); err != nil {
			t.Fatalf("seed message %d: %v", i, err)
		}
	}

	page, err := f.messages.History(ctx, session.ID, "bob", "", 1000)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page.Messages) != 100 {
		t.Fatalf("expected limit clamped to 100, got %d", len(page.Messages))
	}
	if !page.HasMore {
		t.Fatal("expected more messages past the clamp")
	}
}

func TestHistoryRequiresMembership(t *testing.T) {
	f := newFixture(t)
	session := f.mustCreateSession(t, "creator", "Alice")

	_, err := f.messages.History(context.Background(), session.ID, "ghost", "", 10)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

// recordingCache is a map-backed HistoryCache for observing cache behavior.
type recordingCache struct {
	entries map[string]*cache.HistoryCacheResult
	sets    int
	deletes int
}

func newRecordingCache() *recordingCache {
	return &recordingCache{entries: make(map[string]*cache.HistoryCacheResult)}
}

func (c *recordingCache) Get(ctx context.Context, key string) (*cache.HistoryCacheResult, error) {
	if result, ok := c.entries[key]; ok {
		cp := *result
		return &cp, nil
	}
	return nil, cache.ErrCacheMiss
}

func (c *recordingCache) Set(ctx context.Context, key string, result *cache.HistoryCacheResult, ttl time.Duration) error {
	cp := *result
	c.entries[key] = &cp
	c.sets++
	return nil
}

func (c *recordingCache) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(c.entries, key)
	}
	c.deletes++
	return nil
}

func (c *recordingCache) BuildKey(sessionID string) string { return "history:" + sessionID }

func (c *recordingCache) Close() error { return nil }

func TestHistoryFirstPageServedFromCache(t *testing.T) {
	store := repository.NewMemoryStore()
	b := bus.New()
	tracker := presence.NewTracker(b)
	historyCache := newRecordingCache()

	memberships := NewMembershipService(store, b)
	messages := NewMessageService(store, b, tracker, historyCache, time.Minute, newFakeStorage(), memberships)
	sessions := NewSessionService(store, b, memberships)

	ctx := context.Background()
	session, err := sessions.Create(ctx, "creator", "Alice", &domain.CreateSessionRequest{Title: "Mock Interview"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := messages.SendSystem(ctx, session.ID, fmt.Sprintf("note %d", i)); err != nil {
			t.Fatalf("seed message %d: %v", i, err)
		}
	}

	first, err := messages.History(ctx, session.ID, "creator", "", 50)
	if err != nil {
		t.Fatalf("first history: %v", err)
	}
	if len(first.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(first.Messages))
	}
	if historyCache.sets != 1 {
		t.Fatalf("expected first page cached, got %d sets", historyCache.sets)
	}

	// Writing behind the service's back proves the next read is a cache hit.
	stale := &domain.Message{ID: "zz-direct", SessionID: session.ID, SenderID: "x", Type: domain.MessageTypeText, Content: "hidden"}
	if err := store.Messages().Create(ctx, stale); err != nil {
		t.Fatalf("direct create: %v", err)
	}

	second, err := messages.History(ctx, session.ID, "creator", "", 50)
	if err != nil {
		t.Fatalf("second history: %v", err)
	}
	if len(second.Messages) != 3 {
		t.Fatalf("expected cached page of 3, got %d", len(second.Messages))
	}

	// A send through the service invalidates, so the next read sees everything.
	if _, err := messages.SendSystem(ctx, session.ID, "fresh"); err != nil {
		t.Fatalf("send: %v", err)
	}
	third, err := messages.History(ctx, session.ID, "creator", "", 50)
	if err != nil {
		t.Fatalf("third history: %v", err)
	}
	if len(third.Messages) != 5 {
		t.Fatalf("expected 5 messages after invalidation, got %d", len(third.Messages))
	}
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestSendWithImageGeneratesThumbnail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.mustCreateSession(t, "creator", "Alice")
	f.mustJoin(t, session.ID, "bob", "Bob", "")

	msg, err := f.messages.Send(ctx, SendInput{
		SessionID: session.ID,
		SenderID:  "bob",
		Content:   "whiteboard photo",
		Media: &MediaUpload{
			Data:        pngBytes(t, 640, 480),
			Filename:    "board.png",
			ContentType: "image/png",
		},
	})
	if err != nil {
		t.Fatalf("send with media: %v", err)
	}
	if msg.MediaURL == "" || msg.MediaType != "image/png" {
		t.Fatalf("expected media url and type, got %+v", msg)
	}
	if msg.ThumbnailURL == "" {
		t.Fatal("expected thumbnail url for image")
	}
	if f.media.count() != 2 {
		t.Fatalf("expected original and thumbnail stored, got %d objects", f.media.count())
	}
}

func TestSendWithCorruptImageSkipsThumbnail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.mustCreateSession(t, "creator", "Alice")
	f.mustJoin(t, session.ID, "bob", "Bob", "")

	msg, err := f.messages.Send(ctx, SendInput{
		SessionID: session.ID,
		SenderID:  "bob",
		Media: &MediaUpload{
			Data:        []byte("not an image"),
			Filename:    "broken.png",
			ContentType: "image/png",
		},
	})
	if err != nil {
		t.Fatalf("send with corrupt media: %v", err)
	}
	if msg.MediaURL == "" {
		t.Fatal("expected media url despite thumbnail failure")
	}
	if msg.ThumbnailURL != "" {
		t.Fatalf("expected no thumbnail, got %q", msg.ThumbnailURL)
	}
	if f.media.count() != 1 {
		t.Fatalf("expected only the original stored, got %d objects", f.media.count())
	}
}

func TestSendMediaValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.mustCreateSession(t, "creator", "Alice")
	f.mustJoin(t, session.ID, "bob", "Bob", "")

	cases := []struct {
		name  string
		media *MediaUpload
	}{
		{"empty data", &MediaUpload{Data: nil, Filename: "a.png", ContentType: "image/png"}},
		{"oversized", &MediaUpload{Data: make([]byte, MaxMediaBytes+1), Filename: "a.png", ContentType: "image/png"}},
		{"disallowed type", &MediaUpload{Data: []byte("PK"), Filename: "a.zip", ContentType: "application/zip"}},
	}
	for _, tc := range cases {
		_, err := f.messages.Send(ctx, SendInput{SessionID: session.ID, SenderID: "bob", Media: tc.media})
		if !errors.Is(err, ErrBadRequest) {
			t.Fatalf("%s: expected ErrBadRequest, got %v", tc.name, err)
		}
	}
	if f.media.count() != 0 {
		t.Fatalf("expected nothing stored, got %d objects", f.media.count())
	}
}

func TestSendMediaStorageFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.mustCreateSession(t, "creator", "Alice")
	f.mustJoin(t, session.ID, "bob", "Bob", "")
	f.media.failWrites = true

	_, err := f.messages.Send(ctx, SendInput{
		SessionID: session.ID,
		SenderID:  "bob",
		Media:     &MediaUpload{Data: []byte("data"), Filename: "a.pdf", ContentType: "application/pdf"},
	})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}

	messages, _, listErr := f.store.Messages().ListPage(ctx, session.ID, "", 10)
	if listErr != nil {
		t.Fatalf("list messages: %v", listErr)
	}
	if len(messages) != 0 {
		t.Fatalf("expected no message persisted on upload failure, got %d", len(messages))
	}
}
