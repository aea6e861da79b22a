package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BuddyCodez/SpeakSpace/internal/domain"
)

// MemoryStore is an in-memory Store used by the memory database driver and
// by unit tests. Reads return copies; writes replace map entries with fresh
// copies and never mutate stored rows in place, so a cloned state shares
// row pointers safely and Transaction can roll back by restoring the clone.
type MemoryStore struct {
	mu    sync.RWMutex
	now   func() time.Time
	state memoryState
}

type memoryState struct {
	users          map[string]*domain.User
	sessions       map[string]*domain.Session
	sessionsByCode map[string]string
	memberships    map[string]*domain.Membership
	membershipKeys map[string]string
	messages       map[string]*domain.Message
	messageOrder   map[string][]string
	actions        []*domain.ModerationAction
}

func newMemoryState() memoryState {
	return memoryState{
		users:          make(map[string]*domain.User),
		sessions:       make(map[string]*domain.Session),
		sessionsByCode: make(map[string]string),
		memberships:    make(map[string]*domain.Membership),
		membershipKeys: make(map[string]string),
		messages:       make(map[string]*domain.Message),
		messageOrder:   make(map[string][]string),
	}
}

func (st memoryState) clone() memoryState {
	c := newMemoryState()
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.sessions {
		c.sessions[k] = v
	}
	for k, v := range st.sessionsByCode {
		c.sessionsByCode[k] = v
	}
	for k, v := range st.memberships {
		c.memberships[k] = v
	}
	for k, v := range st.membershipKeys {
		c.membershipKeys[k] = v
	}
	for k, v := range st.messages {
		c.messages[k] = v
	}
	for k, v := range st.messageOrder {
		c.messageOrder[k] = append([]string(nil), v...)
	}
	c.actions = append([]*domain.ModerationAction(nil), st.actions...)
	return c
}

func membershipKey(sessionID, userID string) string {
	return sessionID + "/" + userID
}

// NewMemoryStore creates a MemoryStore using time.Now().UTC().
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(nil)
}

// NewMemoryStoreWithClock creates a MemoryStore with a custom clock.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{now: now, state: newMemoryState()}
}

// Users returns the user repository.
func (s *MemoryStore) Users() UserRepository { return &memUserRepo{s} }

// Sessions returns the session repository.
func (s *MemoryStore) Sessions() SessionRepository { return &memSessionRepo{s} }

// Memberships returns the membership repository.
func (s *MemoryStore) Memberships() MembershipRepository { return &memMembershipRepo{s} }

// Messages returns the message repository.
func (s *MemoryStore) Messages() MessageRepository { return &memMessageRepo{s} }

// Moderations returns the moderation repository.
func (s *MemoryStore) Moderations() ModerationRepository { return &memModerationRepo{s} }

// Transaction runs fn against the live state while holding the write lock,
// restoring a pre-transaction clone when fn fails. Transactions serialize
// fully; this store is for development and tests, not load.
func (s *MemoryStore) Transaction(ctx context.Context, fn func(Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	tx := &MemoryStore{now: s.now, state: s.state}
	if err := fn(tx); err != nil {
		s.state = snapshot
		return err
	}
	s.state = tx.state
	return nil
}

// Ping is a no-op for MemoryStore.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error { return nil }

type memUserRepo struct{ s *MemoryStore }

func (r *memUserRepo) Upsert(ctx context.Context, user *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored := *user
	if existing, ok := r.s.state.users[user.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.s.now()
	}
	stored.UpdatedAt = r.s.now()
	r.s.state.users[user.ID] = &stored
	return nil
}

func (r *memUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	user, ok := r.s.state.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *user
	return &cp, nil
}

func (r *memUserRepo) GetByIDs(ctx context.Context, ids []string) (map[string]*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	users := make(map[string]*domain.User, len(ids))
	for _, id := range ids {
		if user, ok := r.s.state.users[id]; ok {
			cp := *user
			users[id] = &cp
		}
	}
	return users, nil
}

type memSessionRepo struct{ s *MemoryStore }

func (r *memSessionRepo) Create(ctx context.Context, session *domain.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.state.sessions[session.ID]; ok {
		return ErrDuplicate
	}
	if _, ok := r.s.state.sessionsByCode[session.JoinCode]; ok {
		return ErrDuplicate
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = r.s.now()
	}
	session.UpdatedAt = r.s.now()

	stored := *session
	stored.Modes = append([]string(nil), session.Modes...)
	r.s.state.sessions[session.ID] = &stored
	r.s.state.sessionsByCode[session.JoinCode] = session.ID
	return nil
}

func (r *memSessionRepo) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.getLocked(id)
}

func (r *memSessionRepo) GetByJoinCode(ctx context.Context, code string) (*domain.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	id, ok := r.s.state.sessionsByCode[code]
	if !ok {
		return nil, ErrNotFound
	}
	return r.getLocked(id)
}

func (r *memSessionRepo) getLocked(id string) (*domain.Session, error) {
	session, ok := r.s.state.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *session
	cp.Modes = append([]string(nil), session.Modes...)
	return &cp, nil
}

func (r *memSessionRepo) Update(ctx context.Context, session *domain.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.state.sessions[session.ID]
	if !ok {
		return ErrNotFound
	}
	stored := *existing
	stored.Title = session.Title
	stored.Description = session.Description
	stored.Modes = append([]string(nil), session.Modes...)
	stored.Active = session.Active
	stored.EndedAt = session.EndedAt
	stored.UpdatedAt = r.s.now()
	r.s.state.sessions[session.ID] = &stored
	return nil
}

type memMembershipRepo struct{ s *MemoryStore }

func (r *memMembershipRepo) Create(ctx context.Context, m *domain.Membership) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := membershipKey(m.SessionID, m.UserID)
	if _, ok := r.s.state.membershipKeys[key]; ok {
		return ErrDuplicate
	}
	m.UpdatedAt = r.s.now()

	stored := *m
	r.s.state.memberships[m.ID] = &stored
	r.s.state.membershipKeys[key] = m.ID
	return nil
}

func (r *memMembershipRepo) Update(ctx context.Context, m *domain.Membership) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.state.memberships[m.ID]
	if !ok {
		return ErrNotFound
	}
	stored := *existing
	stored.DisplayName = m.DisplayName
	stored.Role = m.Role
	stored.LeftAt = m.LeftAt
	stored.IsBanned = m.IsBanned
	stored.IsMuted = m.IsMuted
	stored.MuteExpires = m.MuteExpires
	stored.UpdatedAt = r.s.now()
	r.s.state.memberships[m.ID] = &stored
	return nil
}

func (r *memMembershipRepo) Get(ctx context.Context, sessionID, userID string) (*domain.Membership, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	id, ok := r.s.state.membershipKeys[membershipKey(sessionID, userID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r.s.state.memberships[id]
	return &cp, nil
}

func (r *memMembershipRepo) ListActive(ctx context.Context, sessionID string) ([]domain.Membership, error) {
	return r.list(sessionID, true)
}

func (r *memMembershipRepo) ListAll(ctx context.Context, sessionID string) ([]domain.Membership, error) {
	return r.list(sessionID, false)
}

func (r *memMembershipRepo) list(sessionID string, activeOnly bool) ([]domain.Membership, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var memberships []domain.Membership
	for _, m := range r.s.state.memberships {
		if m.SessionID != sessionID {
			continue
		}
		if activeOnly && !m.IsActive() {
			continue
		}
		memberships = append(memberships, *m)
	}
	sort.Slice(memberships, func(i, j int) bool {
		return memberships[i].JoinedAt.Before(memberships[j].JoinedAt)
	})
	return memberships, nil
}

type memMessageRepo struct{ s *MemoryStore }

func (r *memMessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.state.messages[msg.ID]; ok {
		return ErrDuplicate
	}
	// Mirror of the composite unique index on (session, sender, client id).
	if msg.ClientMessageID != "" {
		for _, id := range r.s.state.messageOrder[msg.SessionID] {
			existing := r.s.state.messages[id]
			if existing.SenderID == msg.SenderID && existing.ClientMessageID == msg.ClientMessageID {
				return ErrDuplicate
			}
		}
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = r.s.now()
	}

	stored := *msg
	r.s.state.messages[msg.ID] = &stored
	r.s.state.messageOrder[msg.SessionID] = append(r.s.state.messageOrder[msg.SessionID], msg.ID)
	return nil
}

func (r *memMessageRepo) GetByID(ctx context.Context, sessionID, id string) (*domain.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	msg, ok := r.s.state.messages[id]
	if !ok || msg.SessionID != sessionID {
		return nil, ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (r *memMessageRepo) GetByClientMessageID(ctx context.Context, sessionID, senderID, clientMessageID string) (*domain.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, id := range r.s.state.messageOrder[sessionID] {
		msg := r.s.state.messages[id]
		if msg.SenderID == senderID && msg.ClientMessageID == clientMessageID {
			cp := *msg
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memMessageRepo) Delete(ctx context.Context, sessionID, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	msg, ok := r.s.state.messages[id]
	if !ok || msg.SessionID != sessionID {
		return ErrNotFound
	}
	delete(r.s.state.messages, id)

	order := r.s.state.messageOrder[sessionID]
	for i, mid := range order {
		if mid == id {
			r.s.state.messageOrder[sessionID] = append(append([]string(nil), order[:i]...), order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *memMessageRepo) ListPage(ctx context.Context, sessionID, cursor string, limit int) ([]domain.Message, bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	// Ids are ULIDs appended in creation order, so the slice is ascending
	// and a newest-first page walks it backwards.
	order := r.s.state.messageOrder[sessionID]
	var messages []domain.Message
	hasMore := false
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		if cursor != "" && id >= cursor {
			continue
		}
		if len(messages) == limit {
			hasMore = true
			break
		}
		messages = append(messages, *r.s.state.messages[id])
	}
	return messages, hasMore, nil
}

type memModerationRepo struct{ s *MemoryStore }

func (r *memModerationRepo) Create(ctx context.Context, action *domain.ModerationAction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if action.CreatedAt.IsZero() {
		action.CreatedAt = r.s.now()
	}
	stored := *action
	r.s.state.actions = append(r.s.state.actions, &stored)
	return nil
}

func (r *memModerationRepo) ListBySession(ctx context.Context, sessionID string) ([]domain.ModerationAction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var actions []domain.ModerationAction
	for i := len(r.s.state.actions) - 1; i >= 0; i-- {
		if r.s.state.actions[i].SessionID == sessionID {
			actions = append(actions, *r.s.state.actions[i])
		}
	}
	return actions, nil
}

var _ Store = (*MemoryStore)(nil)
