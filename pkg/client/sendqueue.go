package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nrednav/cuid2"

	pkglog "github.com/BuddyCodez/SpeakSpace/pkg/log"
)

const (
	defaultWindowLimit  = 5
	defaultWindow       = 10 * time.Second
	defaultCooldown     = 5 * time.Second
	defaultBackoff      = 2 * time.Second
	defaultMaxRetries   = 3
	correlationIDLength = 24
	resultsBuffer       = 32
)

var (
	// ErrRateLimited rejects an Enqueue during a cooldown or when the
	// sliding window is full. The pipeline is never contacted.
	ErrRateLimited = errors.New("rate limited")

	// ErrQueueClosed rejects an Enqueue after Close.
	ErrQueueClosed = errors.New("send queue closed")
)

// MessageSender is the pipeline entry point the queue feeds. *Client
// implements it.
type MessageSender interface {
	SendMessage(ctx context.Context, sessionID string, p SendMessageParams) (*Message, error)
}

// SendResult reports the final disposition of one enqueued message.
type SendResult struct {
	Message         *Message
	ClientMessageID string
	Attempts        int
	Err             error
}

type pendingSend struct {
	params  SendMessageParams
	retries int
}

// SendQueue shields the send pipeline from bursty or unreliable callers.
// Accepted messages are processed strictly FIFO by one worker, one message
// in flight at a time. Transient failures move the message to the tail and
// pause the worker for a fixed backoff; terminal failures and exhausted
// retries are reported immediately. A sliding-window rate limiter rejects
// bursts locally before the pipeline is ever contacted. One queue serves
// one session on behalf of one client.
type SendQueue struct {
	sender     MessageSender
	sessionID  string
	limit      int
	window     time.Duration
	cooldown   time.Duration
	backoff    time.Duration
	maxRetries int
	now        func() time.Time
	newID      func() string

	mu            sync.Mutex
	sends         []time.Time
	cooldownUntil time.Time
	queue         []*pendingSend
	closed        bool

	wake    chan struct{}
	done    chan struct{}
	results chan SendResult
	wg      sync.WaitGroup
}

// QueueOption customizes a SendQueue.
type QueueOption func(*SendQueue)

// WithRateLimit sets the sliding window to limit sends per window.
func WithRateLimit(limit int, window time.Duration) QueueOption {
	return func(q *SendQueue) {
		q.limit = limit
		q.window = window
	}
}

// WithCooldown sets the rejection period entered when the window fills.
func WithCooldown(d time.Duration) QueueOption {
	return func(q *SendQueue) {
		q.cooldown = d
	}
}

// WithBackoff sets the pause after a transient failure.
func WithBackoff(d time.Duration) QueueOption {
	return func(q *SendQueue) {
		q.backoff = d
	}
}

// WithMaxRetries sets how many times a message is retried before it is
// dropped and reported permanently failed.
func WithMaxRetries(n int) QueueOption {
	return func(q *SendQueue) {
		q.maxRetries = n
	}
}

// WithQueueClock overrides the rate limiter's time source.
func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *SendQueue) {
		q.now = now
	}
}

// NewSendQueue creates a SendQueue for one session and starts its worker.
func NewSendQueue(sender MessageSender, sessionID string, opts ...QueueOption) (*SendQueue, error) {
	gen, err := cuid2.Init(cuid2.WithLength(correlationIDLength))
	if err != nil {
		return nil, err
	}

	q := &SendQueue{
		sender:     sender,
		sessionID:  sessionID,
		limit:      defaultWindowLimit,
		window:     defaultWindow,
		cooldown:   defaultCooldown,
		backoff:    defaultBackoff,
		maxRetries: defaultMaxRetries,
		now:        time.Now,
		newID:      gen,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		results:    make(chan SendResult, resultsBuffer),
	}
	for _, opt := range opts {
		opt(q)
	}

	q.wg.Add(1)
	go q.run()
	return q, nil
}

// Enqueue accepts a message for delivery and returns its correlation id,
// assigning one when the caller didn't. Rejections are local: ErrRateLimited
// during cooldown or when the window is full, ErrQueueClosed after Close.
// Enqueue never blocks on the network.
func (q *SendQueue) Enqueue(p SendMessageParams) (string, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrQueueClosed
	}

	now := q.now()
	if now.Before(q.cooldownUntil) {
		q.mu.Unlock()
		return "", ErrRateLimited
	}

	cutoff := now.Add(-q.window)
	kept := q.sends[:0]
	for _, ts := range q.sends {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	q.sends = kept

	if len(q.sends) >= q.limit {
		// Entering cooldown resets the window, so sends resume cleanly
		// once the cooldown elapses.
		q.cooldownUntil = now.Add(q.cooldown)
		q.sends = q.sends[:0]
		q.mu.Unlock()
		return "", ErrRateLimited
	}
	q.sends = append(q.sends, now)

	if p.ClientMessageID == "" {
		p.ClientMessageID = q.newID()
	}
	q.queue = append(q.queue, &pendingSend{params: p})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return p.ClientMessageID, nil
}

// Results delivers one SendResult per enqueued message: success, terminal
// failure, or permanent failure after exhausted retries. The channel closes
// after Close. Results are dropped if the buffer is full and nobody reads.
func (q *SendQueue) Results() <-chan SendResult {
	return q.results
}

// Len reports how many messages are waiting, excluding any in flight.
func (q *SendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Close stops the worker after any in-flight attempt completes and closes
// the results channel. Messages still queued are abandoned unreported.
func (q *SendQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.done)
	q.wg.Wait()
	close(q.results)
}

func (q *SendQueue) run() {
	defer q.wg.Done()

	for {
		select {
		case <-q.done:
			return
		default:
		}

		q.mu.Lock()
		if len(q.queue) == 0 {
			q.mu.Unlock()
			select {
			case <-q.wake:
				continue
			case <-q.done:
				return
			}
		}
		p := q.queue[0]
		q.queue = q.queue[1:]
		q.mu.Unlock()

		msg, err := q.sender.SendMessage(context.Background(), q.sessionID, p.params)
		attempts := p.retries + 1

		switch {
		case err == nil:
			q.report(SendResult{Message: msg, ClientMessageID: p.params.ClientMessageID, Attempts: attempts})

		case !IsTransient(err):
			q.report(SendResult{ClientMessageID: p.params.ClientMessageID, Attempts: attempts, Err: err})

		default:
			p.retries++
			if p.retries > q.maxRetries {
				q.report(SendResult{ClientMessageID: p.params.ClientMessageID, Attempts: attempts, Err: err})
				continue
			}
			q.mu.Lock()
			q.queue = append(q.queue, p)
			q.mu.Unlock()
			select {
			case <-time.After(q.backoff):
			case <-q.done:
				return
			}
		}
	}
}

func (q *SendQueue) report(r SendResult) {
	select {
	case q.results <- r:
	default:
		logger := pkglog.L()
		logger.Warn().
			Str("component", "send_queue").
			Str("client_message_id", r.ClientMessageID).
			Msg("results buffer full, dropping send result")
	}
}
