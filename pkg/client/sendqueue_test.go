package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"
)

type queueClock struct {
	mu  sync.Mutex
	now time.Time
}

func newQueueClock() *queueClock {
	return &queueClock{now: time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *queueClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *queueClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// scriptedSender fakes the pipeline. script decides the outcome of each
// call by its 1-based number; nil means every call succeeds.
type scriptedSender struct {
	mu     sync.Mutex
	script func(call int, p SendMessageParams) (*Message, error)
	calls  []SendMessageParams
}

func (s *scriptedSender) SendMessage(_ context.Context, sessionID string, p SendMessageParams) (*Message, error) {
	s.mu.Lock()
	s.calls = append(s.calls, p)
	call := len(s.calls)
	s.mu.Unlock()

	if s.script != nil {
		return s.script(call, p)
	}
	return &Message{
		ID:              fmt.Sprintf("m-%d", call),
		SessionID:       sessionID,
		Content:         p.Content,
		ClientMessageID: p.ClientMessageID,
	}, nil
}

func (s *scriptedSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *scriptedSender) callParams(i int) SendMessageParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[i]
}

func awaitResult(t *testing.T, q *SendQueue) SendResult {
	t.Helper()
	select {
	case r, ok := <-q.Results():
		if !ok {
			t.Fatal("results channel closed early")
		}
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for send result")
	}
	return SendResult{}
}

func TestSendQueueDeliversInOrder(t *testing.T) {
	sender := &scriptedSender{}
	q, err := NewSendQueue(sender, "sess-1")
	if err != nil {
		t.Fatalf("new send queue: %v", err)
	}
	defer q.Close()

	contents := []string{"first", "second", "third"}
	ids := make([]string, 0, len(contents))
	for _, content := range contents {
		id, err := q.Enqueue(SendMessageParams{Content: content})
		if err != nil {
			t.Fatalf("enqueue %q: %v", content, err)
		}
		ids = append(ids, id)
	}

	for i, content := range contents {
		r := awaitResult(t, q)
		if r.Err != nil {
			t.Fatalf("result %d: unexpected error %v", i, r.Err)
		}
		if r.ClientMessageID != ids[i] {
			t.Fatalf("result %d: expected id %q, got %q", i, ids[i], r.ClientMessageID)
		}
		if r.Attempts != 1 {
			t.Fatalf("result %d: expected 1 attempt, got %d", i, r.Attempts)
		}
		if r.Message == nil || r.Message.Content != content {
			t.Fatalf("result %d: expected message %q, got %+v", i, content, r.Message)
		}
	}

	for i, content := range contents {
		if got := sender.callParams(i).Content; got != content {
			t.Fatalf("call %d: expected %q, got %q", i, content, got)
		}
	}
}

func TestSendQueueAssignsCorrelationID(t *testing.T) {
	q, err := NewSendQueue(&scriptedSender{}, "sess-1")
	if err != nil {
		t.Fatalf("new send queue: %v", err)
	}
	defer q.Close()

	assigned, err := q.Enqueue(SendMessageParams{Content: "hi"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(assigned) != 24 {
		t.Fatalf("expected a 24-char generated id, got %q", assigned)
	}

	explicit, err := q.Enqueue(SendMessageParams{Content: "hi again", ClientMessageID: "mine-1"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if explicit != "mine-1" {
		t.Fatalf("expected caller id kept, got %q", explicit)
	}
}

func TestSendQueueCooldownAfterBurst(t *testing.T) {
	clock := newQueueClock()
	sender := &scriptedSender{}
	q, err := NewSendQueue(sender, "sess-1",
		WithRateLimit(5, 10*time.Second),
		WithCooldown(5*time.Second),
		WithQueueClock(clock.Now))
	if err != nil {
		t.Fatalf("new send queue: %v", err)
	}
	defer q.Close()

	for i := 0; i < 5; i++ {
		if _, err := q.Enqueue(SendMessageParams{Content: fmt.Sprintf("burst-%d", i)}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	if _, err := q.Enqueue(SendMessageParams{Content: "over"}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited when window fills, got %v", err)
	}

	clock.Advance(4999 * time.Millisecond)
	if _, err := q.Enqueue(SendMessageParams{Content: "still cooling"}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited during cooldown, got %v", err)
	}

	clock.Advance(time.Millisecond)
	if _, err := q.Enqueue(SendMessageParams{Content: "recovered"}); err != nil {
		t.Fatalf("expected enqueue once the cooldown elapsed, got %v", err)
	}

	for i := 0; i < 6; i++ {
		if r := awaitResult(t, q); r.Err != nil {
			t.Fatalf("result %d: unexpected error %v", i, r.Err)
		}
	}
	if got := q.Len(); got != 0 {
		t.Fatalf("expected drained queue, got %d waiting", got)
	}
}

func TestSendQueueWindowSlides(t *testing.T) {
	clock := newQueueClock()
	q, err := NewSendQueue(&scriptedSender{}, "sess-1",
		WithRateLimit(3, 10*time.Second),
		WithQueueClock(clock.Now))
	if err != nil {
		t.Fatalf("new send queue: %v", err)
	}
	defer q.Close()

	for i := 0; i < 3; i++ {
		if _, err := q.Enqueue(SendMessageParams{Content: "early"}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	clock.Advance(10 * time.Second)
	for i := 0; i < 3; i++ {
		if _, err := q.Enqueue(SendMessageParams{Content: "late"}); err != nil {
			t.Fatalf("expected old sends pruned from the window, got %v", err)
		}
	}
}

func TestSendQueueRetriesTransientFailure(t *testing.T) {
	sender := &scriptedSender{
		script: func(call int, p SendMessageParams) (*Message, error) {
			if call <= 2 {
				return nil, &HTTPError{StatusCode: http.StatusServiceUnavailable, Code: "UNAVAILABLE"}
			}
			return &Message{ID: "m-ok", ClientMessageID: p.ClientMessageID}, nil
		},
	}
	q, err := NewSendQueue(sender, "sess-1", WithBackoff(time.Millisecond))
	if err != nil {
		t.Fatalf("new send queue: %v", err)
	}
	defer q.Close()

	id, err := q.Enqueue(SendMessageParams{Content: "flaky", ClientMessageID: "retry-1"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	r := awaitResult(t, q)
	if r.Err != nil {
		t.Fatalf("expected eventual success, got %v", r.Err)
	}
	if r.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", r.Attempts)
	}
	if r.Message == nil || r.Message.ID != "m-ok" {
		t.Fatalf("expected delivered message, got %+v", r.Message)
	}

	if got := sender.callCount(); got != 3 {
		t.Fatalf("expected 3 pipeline calls, got %d", got)
	}
	for i := 0; i < 3; i++ {
		if got := sender.callParams(i).ClientMessageID; got != id {
			t.Fatalf("call %d: expected correlation id %q, got %q", i, id, got)
		}
	}
	if got := q.Len(); got != 0 {
		t.Fatalf("expected drained queue, got %d waiting", got)
	}
}

func TestSendQueueTerminalFailureNotRetried(t *testing.T) {
	sender := &scriptedSender{
		script: func(int, SendMessageParams) (*Message, error) {
			return nil, &HTTPError{StatusCode: http.StatusForbidden, Code: "FORBIDDEN", Message: "muted"}
		},
	}
	q, err := NewSendQueue(sender, "sess-1", WithBackoff(time.Millisecond))
	if err != nil {
		t.Fatalf("new send queue: %v", err)
	}
	defer q.Close()

	if _, err := q.Enqueue(SendMessageParams{Content: "blocked"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	r := awaitResult(t, q)
	if r.Err == nil {
		t.Fatal("expected a terminal failure")
	}
	if !IsForbidden(r.Err) {
		t.Fatalf("expected the pipeline error surfaced, got %v", r.Err)
	}
	if r.Attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", r.Attempts)
	}
	if got := sender.callCount(); got != 1 {
		t.Fatalf("expected 1 pipeline call, got %d", got)
	}
}

func TestSendQueueGivesUpAfterMaxRetries(t *testing.T) {
	sender := &scriptedSender{
		script: func(int, SendMessageParams) (*Message, error) {
			return nil, &HTTPError{StatusCode: http.StatusInternalServerError, Code: "INTERNAL"}
		},
	}
	q, err := NewSendQueue(sender, "sess-1",
		WithMaxRetries(2),
		WithBackoff(time.Millisecond))
	if err != nil {
		t.Fatalf("new send queue: %v", err)
	}
	defer q.Close()

	if _, err := q.Enqueue(SendMessageParams{Content: "doomed"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	r := awaitResult(t, q)
	if r.Err == nil {
		t.Fatal("expected a permanent failure")
	}
	if !IsTransient(r.Err) {
		t.Fatalf("expected the last transient error surfaced, got %v", r.Err)
	}
	if r.Attempts != 3 {
		t.Fatalf("expected 3 attempts with 2 retries, got %d", r.Attempts)
	}
	if r.Message != nil {
		t.Fatalf("expected no message, got %+v", r.Message)
	}
	if got := sender.callCount(); got != 3 {
		t.Fatalf("expected 3 pipeline calls, got %d", got)
	}
}

func TestSendQueueClose(t *testing.T) {
	q, err := NewSendQueue(&scriptedSender{}, "sess-1")
	if err != nil {
		t.Fatalf("new send queue: %v", err)
	}

	if _, err := q.Enqueue(SendMessageParams{Content: "last"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if r := awaitResult(t, q); r.Err != nil {
		t.Fatalf("unexpected error %v", r.Err)
	}

	q.Close()
	q.Close()

	if _, err := q.Enqueue(SendMessageParams{Content: "late"}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	if _, ok := <-q.Results(); ok {
		t.Fatal("expected results channel closed")
	}
}
