package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BuddyCodez/SpeakSpace/internal/bus"
	"github.com/BuddyCodez/SpeakSpace/internal/domain"
	"github.com/BuddyCodez/SpeakSpace/internal/repository"
)

func TestJoinDefaultsToParticipant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.mustCreateSession(t, "creator", "Alice")

	m, err := f.memberships.Join(ctx, session.ID, "bob", "Bob", "")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if m.Role != domain.RoleParticipant {
		t.Fatalf("expected PARTICIPANT, got %s", m.Role)
	}
	if m.LeftAt != nil || m.IsBanned || m.IsMuted {
		t.Fatalf("expected clean membership, got %+v", m)
	}

	events := f.events.ofType(domain.EventMemberJoined)
	if len(events) != 2 {
		t.Fatalf("expected joined events for creator and bob, got %d", len(events))
	}
	payload, ok := events[1].Payload.(domain.MemberEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", events[1].Payload)
	}
	if payload.UserID != "bob" || payload.Role != domain.RoleParticipant {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestJoinHonorsRequestedRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.mustCreateSession(t, "creator", "Alice")

	m, err := f.memberships.Join(ctx, session.ID, "eve", "Eve", string(domain.RoleEvaluator))
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if m.Role != domain.RoleEvaluator {
		t.Fatalf("expected EVALUATOR, got %s", m.Role)
	}
}

func TestJoinRejectsInvalidRole(t *testing.T) {
	f := newFixture(t)
	session := f.mustCreateSession(t, "creator", "Alice")

	_, err := f.memberships.Join(context.Background(), session.ID, "bob", "Bob", "OVERLORD")
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}

func TestJoinUnknownSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.memberships.Join(context.Background(), "missing", "bob", "Bob", "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJoinEndedSessionConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.mustCreateSession(t, "creator", "Alice")
	if err := f.sessions.End(ctx, session.ID, "creator"); err != nil {
		t.Fatalf("end session: %v", err)
	}

	_, err := f.memberships.Join(ctx, session.ID, "bob", "Bob", "")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestJoinWhileActiveIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.mustCreateSession(t, "creator", "Alice")

	first, err := f.memberships.Join(ctx, session.ID, "bob", "Bob", "")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	f.events.reset()

	second, err := f.memberships.Join(ctx, session.ID, "bob", "Bob", "")
	if err != nil {
		t.Fatalf("second join: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same membership row, got %q and %q", first.ID, second.ID)
	}
	if n := len(f.events.types()); n != 0 {
		t.Fatalf("expected no events on idempotent join, got %d", n)
	}
}

func TestRejoinAfterLeaveKeepsRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.mustCreateSession(t, "creator", "Alice")

	first, err := f.memberships.Join(ctx, session.ID, "eve", "Eve", string(domain.RoleEvaluator))
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := f.memberships.Leave(ctx, session.ID, "eve"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	f.events.reset()

	rejoined, err := f.memberships.Join(ctx, session.ID, "eve", "Eve", string(domain.RoleParticipant))
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if rejoined.ID != first.ID {
		t.Fatalf("expected same membership row, got %q and %q", first.ID, rejoined.ID)
	}
	if rejoined.Role != domain.RoleEvaluator {
		t.Fatalf("expected prior role kept on rejoin, got %s", rejoined.Role)
	}
	if rejoined.LeftAt != nil {
		t.Fatal("expected LeftAt cleared")
	}

	events := f.events.ofType(domain.EventMemberRejoined)
	if len(events) != 1 {
		t.Fatalf("expected 1 rejoined event, got %d", len(events))
	}
}

func TestBannedUserCannotRejoin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.mustCreateSession(t, "creator", "Alice")
	f.mustJoin(t, session.ID, "bob", "Bob", "")

	if _, err := f.moderation.Ban(ctx, session.ID, "creator", "bob", "spam", nil); err != nil {
		t.Fatalf("ban: %v", err)
	}

	_, err := f.memberships.Join(ctx, session.ID, "bob", "Bob", "")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for banned user, got %v", err)
	}
}

func TestJoinByCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.mustCreateSession(t, "creator", "Alice")

	m, err := f.memberships.JoinByCode(ctx, session.JoinCode, "bob", "Bob", "")
	if err != nil {
		t.Fatalf("join by code: %v", err)
	}
	if m.SessionID != session.ID {
		t.Fatalf("expected membership in %s, got %s", session.ID, m.SessionID)
	}

	if _, err := f.memberships.JoinByCode(ctx, "nope", "carol", "Carol", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown code, got %v", err)
	}
}

func TestLeaveMarksMembershipLeft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.mustCreateSession(t, "creator", "Alice")
	f.mustJoin(t, session.ID, "bob", "Bob", "")

	if err := f.memberships.Leave(ctx, session.ID, "bob"); err != nil {
		t.Fatalf("leave: %v", err)
	}

	m := f.membership(t, session.ID, "bob")
	if m.LeftAt == nil {
		t.Fatal("expected LeftAt set")
	}

	events := f.events.ofType(domain.EventMemberLeft)
	if len(events) != 1 {
		t.Fatalf("expected 1 left event, got %d", len(events))
	}

	if err := f.memberships.Leave(ctx, session.ID, "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second leave, got %v", err)
	}
}

func TestLeaveWithoutMembership(t *testing.T) {
	f := newFixture(t)
	session := f.mustCreateSession(t, "creator", "Alice")

	err := f.memberships.Leave(context.Background(), session.ID, "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreatorLeaveEndsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.mustCreateSession(t, "creator", "Alice")
	f.mustJoin(t, session.ID, "bob", "Bob", "")
	f.events.reset()

	if err := f.memberships.Leave(ctx, session.ID, "creator"); err != nil {
		t.Fatalf("creator leave: %v", err)
	}

	got, err := f.sessions.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Active {
		t.Fatal("expected session deactivated when creator leaves")
	}
	if got.EndedAt == nil {
		t.Fatal("expected EndedAt set")
	}

	types := f.events.types()
	if len(types) != 2 || types[0] != domain.EventMemberLeft || types[1] != domain.EventSessionEnded {
		t.Fatalf("expected [member.left session.ended], got %v", types)
	}
}

func TestRequireRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.mustCreateSession(t, "creator", "Alice")
	f.mustJoin(t, session.ID, "bob", "Bob", "")

	if _, err := f.memberships.RequireRole(ctx, session.ID, "bob", domain.RoleParticipant); err != nil {
		t.Fatalf("expected participant allowed, got %v", err)
	}
	if _, err := f.memberships.RequireRole(ctx, session.ID, "bob", domain.RoleModerator); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for insufficient role, got %v", err)
	}
	if _, err := f.memberships.RequireRole(ctx, session.ID, "ghost", domain.RoleParticipant); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-member, got %v", err)
	}

	if err := f.memberships.Leave(ctx, session.ID, "bob"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if _, err := f.memberships.RequireRole(ctx, session.ID, "bob", domain.RoleParticipant); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden after leave, got %v", err)
	}
}

func TestRosterListsActiveMembersWithProfiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.store.Users().Upsert(ctx, &domain.User{ID: "bob", DisplayName: "Bob", AvatarURL: "https://cdn.test/bob.png"}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}

	session := f.mustCreateSession(t, "creator", "Alice")
	f.mustJoin(t, session.ID, "bob", "Bob", "")
	f.mustJoin(t, session.ID, "carol", "Carol", "")
	if err := f.memberships.Leave(ctx, session.ID, "carol"); err != nil {
		t.Fatalf("leave: %v", err)
	}

	roster, err := f.memberships.Roster(ctx, session.ID, "bob")
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	if len(roster) != 2 {
		t.Fatalf("expected 2 active members, got %d", len(roster))
	}
	if roster[0].UserID != "creator" || roster[1].UserID != "bob" {
		t.Fatalf("expected join order creator,bob, got %s,%s", roster[0].UserID, roster[1].UserID)
	}
	if roster[1].AvatarURL != "https://cdn.test/bob.png" {
		t.Fatalf("expected avatar resolved, got %q", roster[1].AvatarURL)
	}
}

// interceptStore wraps a Store and fires a one-shot hook after a membership
// read, opening the window between a service's read and its transaction.
type interceptStore struct {
	repository.Store
	onMembershipGet func()
}

func (s *interceptStore) Memberships() repository.MembershipRepository {
	return &interceptMembershipRepo{MembershipRepository: s.Store.Memberships(), store: s}
}

type interceptMembershipRepo struct {
	repository.MembershipRepository
	store *interceptStore
}

func (r *interceptMembershipRepo) Get(ctx context.Context, sessionID, userID string) (*domain.Membership, error) {
	m, err := r.MembershipRepository.Get(ctx, sessionID, userID)
	if hook := r.store.onMembershipGet; hook != nil {
		r.store.onMembershipGet = nil
		hook()
	}
	return m, err
}

func banDirect(t *testing.T, store repository.Store, sessionID, userID string) {
	t.Helper()
	ctx := context.Background()
	m, err := store.Memberships().Get(ctx, sessionID, userID)
	if err != nil {
		t.Fatalf("load membership for ban: %v", err)
	}
	now := time.Now().UTC()
	m.IsBanned = true
	if m.LeftAt == nil {
		m.LeftAt = &now
	}
	if err := store.Memberships().Update(ctx, m); err != nil {
		t.Fatalf("apply ban: %v", err)
	}
}

func TestRejoinDoesNotOverwriteBanCommittedAfterRead(t *testing.T) {
	inner := repository.NewMemoryStore()
	store := &interceptStore{Store: inner}
	b := bus.New()
	memberships := NewMembershipService(store, b)
	sessions := NewSessionService(store, b, memberships)

	ctx := context.Background()
	session, err := sessions.Create(ctx, "creator", "Alice", &domain.CreateSessionRequest{Title: "Mock Interview"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := memberships.Join(ctx, session.ID, "bob", "Bob", ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := memberships.Leave(ctx, session.ID, "bob"); err != nil {
		t.Fatalf("leave: %v", err)
	}

	// The ban lands after the rejoin path has read the row but before it
	// reactivates it.
	store.onMembershipGet = func() { banDirect(t, inner, session.ID, "bob") }

	if _, err := memberships.Join(ctx, session.ID, "bob", "Bob", ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for banned user, got %v", err)
	}

	m, err := inner.Memberships().Get(ctx, session.ID, "bob")
	if err != nil {
		t.Fatalf("load membership: %v", err)
	}
	if !m.IsBanned {
		t.Fatal("expected ban to survive the rejoin attempt")
	}
	if m.LeftAt == nil {
		t.Fatal("expected membership to stay inactive")
	}
}

func TestLeaveDoesNotOverwriteBanCommittedAfterRead(t *testing.T) {
	inner := repository.NewMemoryStore()
	store := &interceptStore{Store: inner}
	b := bus.New()
	memberships := NewMembershipService(store, b)
	sessions := NewSessionService(store, b, memberships)

	ctx := context.Background()
	session, err := sessions.Create(ctx, "creator", "Alice", &domain.CreateSessionRequest{Title: "Mock Interview"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := memberships.Join(ctx, session.ID, "bob", "Bob", ""); err != nil {
		t.Fatalf("join: %v", err)
	}

	store.onMembershipGet = func() { banDirect(t, inner, session.ID, "bob") }

	if err := memberships.Leave(ctx, session.ID, "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound once the ban landed, got %v", err)
	}

	m, err := inner.Memberships().Get(ctx, session.ID, "bob")
	if err != nil {
		t.Fatalf("load membership: %v", err)
	}
	if !m.IsBanned {
		t.Fatal("expected ban to survive the leave attempt")
	}
}

func TestRosterRequiresActiveMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.mustCreateSession(t, "creator", "Alice")

	_, err := f.memberships.Roster(ctx, session.ID, "ghost")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}
