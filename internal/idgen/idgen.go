// Package idgen generates the service's identifiers. Each entity kind has
// a deliberate format: uuid for plain identity, ULID where id order must be
// creation order (messages), KSUID for the time-sortable audit trail, and
// nanoid for short human-shareable join codes.
package idgen

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/oklog/ulid/v2"
	"github.com/segmentio/ksuid"
)

// Join codes avoid lookalike characters so they survive being read aloud.
const (
	joinCodeAlphabet = "23456789abcdefghjkmnpqrstuvwxyz"
	joinCodeLength   = 10
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a random UUIDv4 string for users, sessions and memberships.
func NewID() string {
	return uuid.New().String()
}

// NewMessageID returns a ULID. Ids generated by one process are strictly
// monotonic, so message id order is creation order even within one
// millisecond.
func NewMessageID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewActionID returns a KSUID for moderation audit records.
func NewActionID() string {
	return ksuid.New().String()
}

// NewJoinCode returns a short opaque session join code.
func NewJoinCode() (string, error) {
	code, err := gonanoid.Generate(joinCodeAlphabet, joinCodeLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate join code: %w", err)
	}
	return code, nil
}
