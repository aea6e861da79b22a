package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/BuddyCodez/SpeakSpace/internal/domain"
)

// GormStore implements Store on a GORM connection. The message repository
// can be swapped out (Cassandra deployments keep every other aggregate in
// the relational store).
type GormStore struct {
	db          *gorm.DB
	users       UserRepository
	sessions    SessionRepository
	memberships MembershipRepository
	messages    MessageRepository
	moderations ModerationRepository
}

// GormStoreOption customizes a GormStore.
type GormStoreOption func(*GormStore)

// WithMessageRepository overrides the message repository, e.g. with the
// Cassandra implementation. Message writes then happen outside relational
// transactions, which is fine: no unit of work spans messages and other
// aggregates.
func WithMessageRepository(repo MessageRepository) GormStoreOption {
	return func(s *GormStore) {
		s.messages = repo
	}
}

// NewGormStore creates a Store backed by db.
func NewGormStore(db *gorm.DB, opts ...GormStoreOption) *GormStore {
	s := &GormStore{
		db:          db,
		users:       NewGormUserRepository(db),
		sessions:    NewGormSessionRepository(db),
		memberships: NewGormMembershipRepository(db),
		messages:    NewGormMessageRepository(db),
		moderations: NewGormModerationRepository(db),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AutoMigrate creates or updates the relational schema.
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(
		&domain.UserModel{},
		&domain.SessionModel{},
		&domain.MembershipModel{},
		&domain.MessageModel{},
		&domain.ModerationActionModel{},
	)
}

// Users returns the user repository.
func (s *GormStore) Users() UserRepository { return s.users }

// Sessions returns the session repository.
func (s *GormStore) Sessions() SessionRepository { return s.sessions }

// Memberships returns the membership repository.
func (s *GormStore) Memberships() MembershipRepository { return s.memberships }

// Messages returns the message repository.
func (s *GormStore) Messages() MessageRepository { return s.messages }

// Moderations returns the moderation repository.
func (s *GormStore) Moderations() ModerationRepository { return s.moderations }

// Transaction runs fn inside one database transaction. The store passed to
// fn routes every repository through the transaction; returning an error
// rolls everything back.
func (s *GormStore) Transaction(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txStore := NewGormStore(tx)
		if _, relational := s.messages.(*GormMessageRepository); !relational {
			// A swapped-in message repository stays as-is inside the unit
			// of work; no transaction spans messages and other aggregates.
			txStore.messages = s.messages
		}
		return fn(txStore)
	})
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool and, when the message
// repository was swapped in, that repository's own connection.
func (s *GormStore) Close() error {
	if closer, ok := s.messages.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			return err
		}
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ Store = (*GormStore)(nil)
