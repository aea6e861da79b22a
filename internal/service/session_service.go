package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BuddyCodez/SpeakSpace/internal/audit"
	"github.com/BuddyCodez/SpeakSpace/internal/bus"
	"github.com/BuddyCodez/SpeakSpace/internal/domain"
	"github.com/BuddyCodez/SpeakSpace/internal/idgen"
	"github.com/BuddyCodez/SpeakSpace/internal/repository"
	"github.com/BuddyCodez/SpeakSpace/pkg/log"
)

// joinCodeAttempts bounds retries when a freshly generated join code
// collides with an existing session.
const joinCodeAttempts = 3

type sessionServiceImpl struct {
	store       repository.Store
	bus         *bus.Bus
	memberships MembershipService
}

// NewSessionService creates a new session service.
func NewSessionService(store repository.Store, b *bus.Bus, memberships MembershipService) SessionService {
	return &sessionServiceImpl{store: store, bus: b, memberships: memberships}
}

// Create opens a new session and seats the creator as its first MODERATOR
// in the same unit of work, so a session is never observable without its
// creator on the roster.
func (s *sessionServiceImpl) Create(ctx context.Context, creatorID, creatorName string, req *domain.CreateSessionRequest) (*domain.Session, error) {
	modes := req.Modes
	if len(modes) == 0 {
		modes = []string{domain.ModeChat}
	}
	for _, m := range modes {
		if !domain.ValidMode(m) {
			return nil, fmt.Errorf("invalid mode %q: %w", m, ErrBadRequest)
		}
	}

	now := time.Now().UTC()
	session := &domain.Session{
		ID:          idgen.NewID(),
		Title:       req.Title,
		Description: req.Description,
		Modes:       modes,
		Active:      true,
		CreatorID:   creatorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	membership := &domain.Membership{
		ID:          idgen.NewID(),
		SessionID:   session.ID,
		UserID:      creatorID,
		DisplayName: creatorName,
		Role:        domain.RoleModerator,
		JoinedAt:    now,
	}

	var err error
	for attempt := 0; attempt < joinCodeAttempts; attempt++ {
		session.JoinCode, err = idgen.NewJoinCode()
		if err != nil {
			return nil, fmt.Errorf("generate join code: %w", ErrTransient)
		}
		err = s.store.Transaction(ctx, func(tx repository.Store) error {
			if err := tx.Sessions().Create(ctx, session); err != nil {
				return err
			}
			return tx.Memberships().Create(ctx, membership)
		})
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("create session: %w", ErrTransient)
		}
		log.Ctx(ctx).Warn().Str("join_code", session.JoinCode).Msg("join code collision, regenerating")
	}
	if err != nil {
		return nil, fmt.Errorf("create session: %w", ErrTransient)
	}

	audit.Log(ctx, audit.ActionSessionCreate, session.ID, creatorID, "session created")
	return session, nil
}

// Get returns a session by id.
func (s *sessionServiceImpl) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.store.Sessions().GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("session not found: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("load session: %w", ErrTransient)
	}
	return session, nil
}

// Update changes the mutable session attributes. Only moderators of an
// active session may update it.
func (s *sessionServiceImpl) Update(ctx context.Context, sessionID, actorID string, req *domain.UpdateSessionRequest) (*domain.Session, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.memberships.RequireRole(ctx, sessionID, actorID, domain.RoleModerator); err != nil {
		return nil, err
	}
	if !session.Active {
		return nil, fmt.Errorf("session has ended: %w", ErrConflict)
	}

	if req.Title != nil {
		if *req.Title == "" {
			return nil, fmt.Errorf("title must not be empty: %w", ErrBadRequest)
		}
		session.Title = *req.Title
	}
	if req.Description != nil {
		session.Description = *req.Description
	}
	if len(req.Modes) > 0 {
		for _, m := range req.Modes {
			if !domain.ValidMode(m) {
				return nil, fmt.Errorf("invalid mode %q: %w", m, ErrBadRequest)
			}
		}
		session.Modes = req.Modes
	}
	session.UpdatedAt = time.Now().UTC()

	if err := s.store.Sessions().Update(ctx, session); err != nil {
		return nil, fmt.Errorf("update session: %w", ErrTransient)
	}

	audit.Log(ctx, audit.ActionSessionUpdate, sessionID, actorID, "session updated")
	s.bus.Publish(bus.CategorySession, bus.Event{
		Type:      domain.EventSessionUpdated,
		SessionID: sessionID,
		Payload:   domain.SessionEvent{SessionID: sessionID, Session: session, ActorID: actorID},
	})
	return session, nil
}

// End deactivates a session. Idempotence is rejected: ending an already
// ended session is a conflict, so callers learn they raced someone.
func (s *sessionServiceImpl) End(ctx context.Context, sessionID, actorID string) error {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if _, err := s.memberships.RequireRole(ctx, sessionID, actorID, domain.RoleModerator); err != nil {
		return err
	}
	if !session.Active {
		return fmt.Errorf("session already ended: %w", ErrConflict)
	}

	now := time.Now().UTC()
	session.Active = false
	session.EndedAt = &now
	session.UpdatedAt = now
	if err := s.store.Sessions().Update(ctx, session); err != nil {
		return fmt.Errorf("update session: %w", ErrTransient)
	}

	audit.Log(ctx, audit.ActionSessionEnd, sessionID, actorID, "session ended")
	s.bus.Publish(bus.CategorySession, bus.Event{
		Type:      domain.EventSessionEnded,
		SessionID: sessionID,
		Payload:   domain.SessionEvent{SessionID: sessionID, Session: session, ActorID: actorID},
	})
	return nil
}
