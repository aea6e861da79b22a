package domain

import (
	"time"
)

// Role is a member's role within one session.
type Role string

const (
	RoleModerator   Role = "MODERATOR"
	RoleEvaluator   Role = "EVALUATOR"
	RoleParticipant Role = "PARTICIPANT"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleModerator, RoleEvaluator, RoleParticipant:
		return true
	}
	return false
}

// Membership records one user's participation state in one session.
// There is at most one row per (session, user) pair for the life of the
// session: leaving and rejoining toggles LeftAt on the same row, and a
// banned row can never become active again.
type Membership struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	UserID      string     `json:"user_id"`
	DisplayName string     `json:"display_name"`
	Role        Role       `json:"role"`
	JoinedAt    time.Time  `json:"joined_at"`
	LeftAt      *time.Time `json:"left_at,omitempty"`
	IsBanned    bool       `json:"is_banned"`
	IsMuted     bool       `json:"is_muted"`
	MuteExpires *time.Time `json:"mute_expires_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsActive reports whether the member is currently in the session:
// not banned and not left.
func (m *Membership) IsActive() bool {
	return m != nil && !m.IsBanned && m.LeftAt == nil
}

// MemberView is a roster entry with profile info resolved.
type MemberView struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Role        Role      `json:"role"`
	IsMuted     bool      `json:"is_muted"`
	JoinedAt    time.Time `json:"joined_at"`
}
