package repository

import (
	"context"
	"errors"

	"github.com/BuddyCodez/SpeakSpace/internal/domain"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

// UserRepository persists profile mirrors of upstream identities.
type UserRepository interface {
	Upsert(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]*domain.User, error)
}

// SessionRepository persists sessions.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	GetByJoinCode(ctx context.Context, code string) (*domain.Session, error)
	Update(ctx context.Context, session *domain.Session) error
}

// MembershipRepository persists the per-session roster. At most one row
// exists per (session, user) pair; Create fails with ErrDuplicate on a
// second row for the same pair.
type MembershipRepository interface {
	Create(ctx context.Context, m *domain.Membership) error
	Update(ctx context.Context, m *domain.Membership) error
	Get(ctx context.Context, sessionID, userID string) (*domain.Membership, error)
	ListActive(ctx context.Context, sessionID string) ([]domain.Membership, error)
	ListAll(ctx context.Context, sessionID string) ([]domain.Membership, error)
}

// MessageRepository persists session messages. ListPage returns
// newest-first pages; cursor is the id of the last message of the previous
// page, empty for the newest page.
type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, sessionID, id string) (*domain.Message, error)
	GetByClientMessageID(ctx context.Context, sessionID, senderID, clientMessageID string) (*domain.Message, error)
	Delete(ctx context.Context, sessionID, id string) error
	ListPage(ctx context.Context, sessionID, cursor string, limit int) ([]domain.Message, bool, error)
}

// ModerationRepository persists the append-only audit trail.
type ModerationRepository interface {
	Create(ctx context.Context, action *domain.ModerationAction) error
	ListBySession(ctx context.Context, sessionID string) ([]domain.ModerationAction, error)
}

// Store bundles the repositories behind one unit-of-work boundary.
// Transaction runs fn against a transactional view of the store; any error
// rolls the whole unit back, so multi-row invariants (a membership
// mutation plus its audit record) commit atomically or not at all.
type Store interface {
	Users() UserRepository
	Sessions() SessionRepository
	Memberships() MembershipRepository
	Messages() MessageRepository
	Moderations() ModerationRepository

	Transaction(ctx context.Context, fn func(Store) error) error
	Ping(ctx context.Context) error
	Close() error
}
