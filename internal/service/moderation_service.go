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

const (
	minMuteMinutes = 1
	maxMuteMinutes = 1440
)

// moderationServiceImpl implements ModerationService. Every accepted
// operation serializes on the target membership, re-checks state against a
// fresh row inside the transaction, and commits the membership mutation
// together with exactly one audit record.
type moderationServiceImpl struct {
	store       repository.Store
	bus         *bus.Bus
	memberships MembershipService
	messages    MessageService
	lock        func(membershipID string) func()
}

// membershipLocker is satisfied by the membership service so disciplinary
// mutations and rejoin/leave of the same row serialize on one lock.
type membershipLocker interface {
	lockMembership(membershipID string) func()
}

// NewModerationService creates a new moderation service.
func NewModerationService(store repository.Store, b *bus.Bus, memberships MembershipService, messages MessageService) ModerationService {
	s := &moderationServiceImpl{
		store:       store,
		bus:         b,
		memberships: memberships,
		messages:    messages,
	}
	if ml, ok := memberships.(membershipLocker); ok {
		s.lock = ml.lockMembership
	} else {
		locks := newKeyedMutex()
		s.lock = locks.Lock
	}
	return s
}

// Ban ejects the target and marks the membership permanently unusable. A
// target that already left can still be banned, closing the rejoin door.
func (s *moderationServiceImpl) Ban(ctx context.Context, sessionID, actorID, targetID, reason string, durationMinutes *int) (*domain.ModerationAction, error) {
	if durationMinutes != nil && *durationMinutes < 1 {
		return nil, fmt.Errorf("duration must be at least 1 minute: %w", ErrBadRequest)
	}

	actor, target, err := s.authorize(ctx, sessionID, actorID, targetID,
		domain.RoleModerator, domain.RoleEvaluator)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	action := s.newAction(domain.ActionBan, target, actorID, reason, now)
	action.DurationMinutes = durationMinutes
	if durationMinutes != nil {
		expiresAt := now.Add(time.Duration(*durationMinutes) * time.Minute)
		action.ExpiresAt = &expiresAt
	}

	target, err = s.apply(ctx, action, func(fresh *domain.Membership) (bool, error) {
		if fresh.IsBanned {
			return false, fmt.Errorf("target is already banned: %w", ErrConflict)
		}
		fresh.IsBanned = true
		if fresh.LeftAt == nil {
			fresh.LeftAt = &now
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	audit.LogModeration(ctx, audit.ActionBan, sessionID, actorID, targetID, reason)
	s.publishModeration(domain.EventMemberBanned, actor, target, action)
	s.announce(ctx, sessionID, target.DisplayName+" was banned from the session")
	return action, nil
}

// Kick ejects the target without banning; they may rejoin freely.
func (s *moderationServiceImpl) Kick(ctx context.Context, sessionID, actorID, targetID, reason string) (*domain.ModerationAction, error) {
	actor, target, err := s.authorize(ctx, sessionID, actorID, targetID,
		domain.RoleModerator, domain.RoleEvaluator)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	action := s.newAction(domain.ActionKick, target, actorID, reason, now)

	target, err = s.apply(ctx, action, func(fresh *domain.Membership) (bool, error) {
		if !fresh.IsActive() {
			return false, fmt.Errorf("target has no active membership: %w", ErrNotFound)
		}
		fresh.LeftAt = &now
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	audit.LogModeration(ctx, audit.ActionKick, sessionID, actorID, targetID, reason)
	s.publishModeration(domain.EventMemberKicked, actor, target, action)
	s.announce(ctx, sessionID, target.DisplayName+" was removed from the session")
	return action, nil
}

// Mute blocks the target from sending messages. Duration is required and
// bounded; the engine records the expiry but does not schedule the lift.
func (s *moderationServiceImpl) Mute(ctx context.Context, sessionID, actorID, targetID, reason string, durationMinutes int) (*domain.ModerationAction, error) {
	if durationMinutes < minMuteMinutes || durationMinutes > maxMuteMinutes {
		return nil, fmt.Errorf("duration must be between %d and %d minutes: %w", minMuteMinutes, maxMuteMinutes, ErrBadRequest)
	}

	actor, target, err := s.authorize(ctx, sessionID, actorID, targetID,
		domain.RoleModerator, domain.RoleEvaluator)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	expiresAt := now.Add(time.Duration(durationMinutes) * time.Minute)
	action := s.newAction(domain.ActionMute, target, actorID, reason, now)
	action.DurationMinutes = &durationMinutes
	action.ExpiresAt = &expiresAt

	target, err = s.apply(ctx, action, func(fresh *domain.Membership) (bool, error) {
		if !fresh.IsActive() {
			return false, fmt.Errorf("target has no active membership: %w", ErrNotFound)
		}
		if fresh.IsMuted {
			return false, fmt.Errorf("target is already muted: %w", ErrConflict)
		}
		fresh.IsMuted = true
		fresh.MuteExpires = &expiresAt
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	audit.LogModeration(ctx, audit.ActionMute, sessionID, actorID, targetID, reason)
	s.publishModeration(domain.EventMemberMuted, actor, target, action)
	s.announce(ctx, sessionID, target.DisplayName+" was muted")
	return action, nil
}

// Unmute restores the target's ability to send messages.
func (s *moderationServiceImpl) Unmute(ctx context.Context, sessionID, actorID, targetID string) (*domain.ModerationAction, error) {
	actor, target, err := s.authorize(ctx, sessionID, actorID, targetID,
		domain.RoleModerator, domain.RoleEvaluator)
	if err != nil {
		return nil, err
	}

	action := s.newAction(domain.ActionUnmute, target, actorID, "", time.Now().UTC())

	target, err = s.apply(ctx, action, func(fresh *domain.Membership) (bool, error) {
		if !fresh.IsActive() {
			return false, fmt.Errorf("target has no active membership: %w", ErrNotFound)
		}
		if !fresh.IsMuted {
			return false, fmt.Errorf("target is not muted: %w", ErrConflict)
		}
		fresh.IsMuted = false
		fresh.MuteExpires = nil
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	audit.LogModeration(ctx, audit.ActionUnmute, sessionID, actorID, targetID, "")
	s.publishModeration(domain.EventMemberUnmuted, actor, target, action)
	return action, nil
}

// ChangeRole reassigns the target's role. Unlike the other operations this
// one is moderator-only; evaluators cannot grant or revoke roles. The old
// and new roles ride on the emitted event.
func (s *moderationServiceImpl) ChangeRole(ctx context.Context, sessionID, actorID, targetID string, newRole string) (*domain.ModerationAction, error) {
	role := domain.Role(newRole)
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q: %w", newRole, ErrBadRequest)
	}

	actor, target, err := s.authorize(ctx, sessionID, actorID, targetID, domain.RoleModerator)
	if err != nil {
		return nil, err
	}

	var oldRole domain.Role
	action := s.newAction(domain.ActionRoleChange, target, actorID, "", time.Now().UTC())

	target, err = s.apply(ctx, action, func(fresh *domain.Membership) (bool, error) {
		if !fresh.IsActive() {
			return false, fmt.Errorf("target has no active membership: %w", ErrNotFound)
		}
		if fresh.Role == role {
			return false, fmt.Errorf("target already has role %s: %w", role, ErrConflict)
		}
		oldRole = fresh.Role
		fresh.Role = role
		// Record the transition before the action row is persisted.
		action.Reason = fmt.Sprintf("%s -> %s", oldRole, role)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	audit.LogModeration(ctx, audit.ActionRoleChange, sessionID, actorID, targetID, action.Reason)
	s.bus.Publish(bus.CategoryModeration, bus.Event{
		Type:      domain.EventMemberRoleChanged,
		SessionID: sessionID,
		Payload: domain.RoleChangeEvent{
			SessionID:         sessionID,
			TargetUserID:      target.UserID,
			TargetDisplayName: target.DisplayName,
			ActorUserID:       actor.UserID,
			OldRole:           oldRole,
			NewRole:           role,
		},
	})
	s.announce(ctx, sessionID, fmt.Sprintf("%s is now a %s", target.DisplayName, role))
	return action, nil
}

// Warn records a disciplinary note and notifies subscribers without
// touching membership state.
func (s *moderationServiceImpl) Warn(ctx context.Context, sessionID, actorID, targetID, reason string) (*domain.ModerationAction, error) {
	if reason == "" {
		return nil, fmt.Errorf("warn requires a reason: %w", ErrBadRequest)
	}

	actor, target, err := s.authorize(ctx, sessionID, actorID, targetID,
		domain.RoleModerator, domain.RoleEvaluator)
	if err != nil {
		return nil, err
	}

	action := s.newAction(domain.ActionWarn, target, actorID, reason, time.Now().UTC())

	target, err = s.apply(ctx, action, func(fresh *domain.Membership) (bool, error) {
		if !fresh.IsActive() {
			return false, fmt.Errorf("target has no active membership: %w", ErrNotFound)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	audit.LogModeration(ctx, audit.ActionWarn, sessionID, actorID, targetID, reason)
	s.publishModeration(domain.EventMemberWarned, actor, target, action)
	return action, nil
}

// Actions lists a session's audit trail, newest first. Restricted to
// moderators and evaluators.
func (s *moderationServiceImpl) Actions(ctx context.Context, sessionID, callerID string) ([]domain.ModerationAction, error) {
	if _, err := s.store.Sessions().GetByID(ctx, sessionID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("session not found: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("load session: %w", ErrTransient)
	}
	if _, err := s.memberships.RequireRole(ctx, sessionID, callerID,
		domain.RoleModerator, domain.RoleEvaluator); err != nil {
		return nil, err
	}

	actions, err := s.store.Moderations().ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list moderation actions: %w", ErrTransient)
	}
	return actions, nil
}

// authorize runs the checks shared by every operation: the session exists,
// the actor holds an allowed role, the actor is not the target, the target
// is a member, and creator supremacy holds. Nothing here writes state, so a
// failure leaves no trace.
func (s *moderationServiceImpl) authorize(ctx context.Context, sessionID, actorID, targetID string, allowed ...domain.Role) (*domain.Membership, *domain.Membership, error) {
	session, err := s.store.Sessions().GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, fmt.Errorf("session not found: %w", ErrNotFound)
		}
		return nil, nil, fmt.Errorf("load session: %w", ErrTransient)
	}

	actor, err := s.memberships.RequireRole(ctx, sessionID, actorID, allowed...)
	if err != nil {
		return nil, nil, err
	}
	if targetID == actorID {
		return nil, nil, fmt.Errorf("cannot moderate yourself: %w", ErrBadRequest)
	}

	target, err := s.store.Memberships().Get(ctx, sessionID, targetID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, fmt.Errorf("target is not a session member: %w", ErrNotFound)
		}
		return nil, nil, fmt.Errorf("load target membership: %w", ErrTransient)
	}

	// Holding MODERATOR is not enough to discipline another moderator; the
	// actor's user id must match the session creator's.
	if target.Role == domain.RoleModerator && actorID != session.CreatorID {
		return nil, nil, fmt.Errorf("only the session creator can moderate a moderator: %w", ErrForbidden)
	}
	return actor, target, nil
}

// apply serializes on the target membership and commits the state mutation
// plus its audit record as one unit. mutate re-validates against a fresh
// row inside the transaction; it returns false when the operation records
// an action without changing membership state.
func (s *moderationServiceImpl) apply(ctx context.Context, action *domain.ModerationAction, mutate func(fresh *domain.Membership) (bool, error)) (*domain.Membership, error) {
	unlock := s.lock(action.MembershipID)
	defer unlock()

	var fresh *domain.Membership
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		var err error
		fresh, err = tx.Memberships().Get(ctx, action.SessionID, action.TargetUserID)
		if err != nil {
			return err
		}
		changed, err := mutate(fresh)
		if err != nil {
			return err
		}
		if changed {
			if err := tx.Memberships().Update(ctx, fresh); err != nil {
				return err
			}
		}
		return tx.Moderations().Create(ctx, action)
	})
	if err != nil {
		return nil, s.classify(err)
	}
	return fresh, nil
}

// classify maps a transaction error onto the taxonomy. Errors already
// carrying a taxonomy sentinel pass through unchanged.
func (s *moderationServiceImpl) classify(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden),
		errors.Is(err, ErrBadRequest), errors.Is(err, ErrConflict):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("target is not a session member: %w", ErrNotFound)
	default:
		return fmt.Errorf("apply moderation: %w", ErrTransient)
	}
}

func (s *moderationServiceImpl) newAction(t domain.ActionType, target *domain.Membership, actorID, reason string, now time.Time) *domain.ModerationAction {
	return &domain.ModerationAction{
		ID:           idgen.NewActionID(),
		SessionID:    target.SessionID,
		MembershipID: target.ID,
		TargetUserID: target.UserID,
		ActorUserID:  actorID,
		Type:         t,
		Reason:       reason,
		CreatedAt:    now,
	}
}

func (s *moderationServiceImpl) publishModeration(eventType string, actor, target *domain.Membership, action *domain.ModerationAction) {
	s.bus.Publish(bus.CategoryModeration, bus.Event{
		Type:      eventType,
		SessionID: action.SessionID,
		Payload: domain.ModerationEvent{
			SessionID:         action.SessionID,
			TargetUserID:      target.UserID,
			TargetDisplayName: target.DisplayName,
			ActorUserID:       actor.UserID,
			ActorDisplayName:  actor.DisplayName,
			Action:            action.Type,
			Reason:            action.Reason,
			DurationMinutes:   action.DurationMinutes,
			ExpiresAt:         action.ExpiresAt,
		},
	})
}

// announce posts a system message describing an accepted operation. Best
// effort: the operation already committed, so a failed announcement only
// logs.
func (s *moderationServiceImpl) announce(ctx context.Context, sessionID, text string) {
	if _, err := s.messages.SendSystem(ctx, sessionID, text); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str(log.FieldSessionID, sessionID).Msg("moderation announcement failed")
	}
}
