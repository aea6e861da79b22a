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

// membershipServiceImpl implements MembershipService. State per (session,
// user) pair moves Absent -> Active <-> Left, with Banned absorbing: a
// banned row never becomes active again, enforced here rather than by the
// store. Mutations serialize on the membership row and re-validate against
// a fresh copy inside the transaction, on the same per-membership locks
// the moderation service uses.
type membershipServiceImpl struct {
	store repository.Store
	bus   *bus.Bus
	locks *keyedMutex
}

// NewMembershipService creates a new membership service.
func NewMembershipService(store repository.Store, b *bus.Bus) MembershipService {
	return &membershipServiceImpl{store: store, bus: b, locks: newKeyedMutex()}
}

// lockMembership acquires the per-membership mutex. The moderation service
// locks through this so bans and rejoins of the same row exclude each other.
func (s *membershipServiceImpl) lockMembership(membershipID string) func() {
	return s.locks.Lock(membershipID)
}

// Join admits a user into a session. Absent creates a membership with the
// requested role (default PARTICIPANT), Left reactivates the same row
// keeping its prior role, Banned fails, and Active is an idempotent no-op.
// A join or rejoin event is emitted only on a transition into Active.
func (s *membershipServiceImpl) Join(ctx context.Context, sessionID, userID, displayName, requestedRole string) (*domain.Membership, error) {
	session, err := s.store.Sessions().GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("session not found: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("load session: %w", ErrTransient)
	}
	return s.join(ctx, session, userID, displayName, requestedRole)
}

// JoinByCode resolves the session by its join code, then joins it.
func (s *membershipServiceImpl) JoinByCode(ctx context.Context, joinCode, userID, displayName, requestedRole string) (*domain.Membership, error) {
	session, err := s.store.Sessions().GetByJoinCode(ctx, joinCode)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("session not found: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("load session: %w", ErrTransient)
	}
	return s.join(ctx, session, userID, displayName, requestedRole)
}

func (s *membershipServiceImpl) join(ctx context.Context, session *domain.Session, userID, displayName, requestedRole string) (*domain.Membership, error) {
	if !session.Active {
		return nil, fmt.Errorf("session has ended: %w", ErrConflict)
	}

	role := domain.RoleParticipant
	if requestedRole != "" {
		role = domain.Role(requestedRole)
		if !role.Valid() {
			return nil, fmt.Errorf("invalid role %q: %w", requestedRole, ErrBadRequest)
		}
	}

	m, err := s.store.Memberships().Get(ctx, session.ID, userID)
	switch {
	case err == nil:
		return s.rejoin(ctx, session, m)
	case errors.Is(err, repository.ErrNotFound):
		// fall through to first join
	default:
		return nil, fmt.Errorf("load membership: %w", ErrTransient)
	}

	m = &domain.Membership{
		ID:          idgen.NewID(),
		SessionID:   session.ID,
		UserID:      userID,
		DisplayName: displayName,
		Role:        role,
		JoinedAt:    time.Now().UTC(),
	}
	if err := s.store.Memberships().Create(ctx, m); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// Lost a race with a concurrent join of the same pair; the
			// winner's row is authoritative.
			existing, getErr := s.store.Memberships().Get(ctx, session.ID, userID)
			if getErr != nil {
				return nil, fmt.Errorf("load membership: %w", ErrTransient)
			}
			return s.rejoin(ctx, session, existing)
		}
		return nil, fmt.Errorf("create membership: %w", ErrTransient)
	}

	audit.Log(ctx, audit.ActionMemberJoin, session.ID, userID, "member joined")
	s.publishMember(domain.EventMemberJoined, m)
	return m, nil
}

// rejoin applies the join operation to an existing row. The banned and
// already-active checks run again on a fresh row inside the transaction: a
// ban that commits after the caller's read must not be overwritten by the
// full-row update.
func (s *membershipServiceImpl) rejoin(ctx context.Context, session *domain.Session, m *domain.Membership) (*domain.Membership, error) {
	if m.IsBanned {
		return nil, fmt.Errorf("banned from session: %w", ErrForbidden)
	}
	if m.LeftAt == nil {
		// Already active: idempotent success, no event.
		return m, nil
	}

	unlock := s.locks.Lock(m.ID)
	defer unlock()

	var fresh *domain.Membership
	reactivated := false
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		var err error
		fresh, err = tx.Memberships().Get(ctx, session.ID, m.UserID)
		if err != nil {
			return err
		}
		if fresh.IsBanned {
			return fmt.Errorf("banned from session: %w", ErrForbidden)
		}
		if fresh.LeftAt == nil {
			// A concurrent rejoin won; idempotent success.
			return nil
		}
		fresh.LeftAt = nil
		reactivated = true
		return tx.Memberships().Update(ctx, fresh)
	})
	if err != nil {
		if errors.Is(err, ErrForbidden) {
			return nil, err
		}
		return nil, fmt.Errorf("update membership: %w", ErrTransient)
	}
	if !reactivated {
		return fresh, nil
	}

	audit.Log(ctx, audit.ActionMemberJoin, session.ID, fresh.UserID, "member rejoined")
	s.publishMember(domain.EventMemberRejoined, fresh)
	return fresh, nil
}

// Leave marks an active member as left. When the leaving user created the
// session, the session deactivates in the same unit of work and a
// session-ended event follows the leave event.
func (s *membershipServiceImpl) Leave(ctx context.Context, sessionID, userID string) error {
	session, err := s.store.Sessions().GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("session not found: %w", ErrNotFound)
		}
		return fmt.Errorf("load session: %w", ErrTransient)
	}

	m, err := s.store.Memberships().Get(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("membership not found: %w", ErrNotFound)
		}
		return fmt.Errorf("load membership: %w", ErrTransient)
	}
	if !m.IsActive() {
		return fmt.Errorf("no active membership: %w", ErrNotFound)
	}

	unlock := s.locks.Lock(m.ID)
	defer unlock()

	now := time.Now().UTC()
	creatorLeft := session.CreatorID == userID
	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		fresh, err := tx.Memberships().Get(ctx, sessionID, userID)
		if err != nil {
			return err
		}
		if !fresh.IsActive() {
			return fmt.Errorf("no active membership: %w", ErrNotFound)
		}
		fresh.LeftAt = &now
		if err := tx.Memberships().Update(ctx, fresh); err != nil {
			return err
		}
		m = fresh
		if creatorLeft && session.Active {
			session.Active = false
			session.EndedAt = &now
			if err := tx.Sessions().Update(ctx, session); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("leave session: %w", ErrTransient)
	}

	audit.Log(ctx, audit.ActionMemberLeave, sessionID, userID, "member left")
	s.publishMember(domain.EventMemberLeft, m)

	if creatorLeft {
		log.Ctx(ctx).Info().Str(log.FieldSessionID, sessionID).Msg("creator left, session deactivated")
		s.bus.Publish(bus.CategorySession, bus.Event{
			Type:      domain.EventSessionEnded,
			SessionID: sessionID,
			Payload:   domain.SessionEvent{SessionID: sessionID, Session: session, ActorID: userID},
		})
	}
	return nil
}

// RequireRole is the authorization primitive for every mutating operation:
// the user must hold an active, non-banned membership with a role in the
// allowed set, otherwise ErrForbidden.
func (s *membershipServiceImpl) RequireRole(ctx context.Context, sessionID, userID string, allowed ...domain.Role) (*domain.Membership, error) {
	m, err := s.store.Memberships().Get(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("not a session member: %w", ErrForbidden)
		}
		return nil, fmt.Errorf("load membership: %w", ErrTransient)
	}
	if !m.IsActive() {
		return nil, fmt.Errorf("no active membership: %w", ErrForbidden)
	}
	for _, role := range allowed {
		if m.Role == role {
			return m, nil
		}
	}
	return nil, fmt.Errorf("insufficient role %s: %w", m.Role, ErrForbidden)
}

// Roster returns the active members of a session with profile info. Any
// active member may read it; muted members included.
func (s *membershipServiceImpl) Roster(ctx context.Context, sessionID, callerID string) ([]domain.MemberView, error) {
	if _, err := s.RequireRole(ctx, sessionID, callerID,
		domain.RoleModerator, domain.RoleEvaluator, domain.RoleParticipant); err != nil {
		return nil, err
	}

	memberships, err := s.store.Memberships().ListActive(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", ErrTransient)
	}

	ids := make([]string, 0, len(memberships))
	for i := range memberships {
		ids = append(ids, memberships[i].UserID)
	}
	users, err := s.store.Users().GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", ErrTransient)
	}

	views := make([]domain.MemberView, 0, len(memberships))
	for i := range memberships {
		m := &memberships[i]
		view := domain.MemberView{
			UserID:      m.UserID,
			DisplayName: m.DisplayName,
			Role:        m.Role,
			IsMuted:     m.IsMuted,
			JoinedAt:    m.JoinedAt,
		}
		if u, ok := users[m.UserID]; ok {
			view.AvatarURL = u.AvatarURL
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *membershipServiceImpl) publishMember(eventType string, m *domain.Membership) {
	s.bus.Publish(bus.CategoryMembership, bus.Event{
		Type:      eventType,
		SessionID: m.SessionID,
		Payload: domain.MemberEvent{
			SessionID:   m.SessionID,
			UserID:      m.UserID,
			DisplayName: m.DisplayName,
			Role:        m.Role,
		},
	})
}
