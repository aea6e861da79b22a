package domain

import (
	"time"
)

// Event types fanned out to live subscribers.
const (
	EventMemberJoined      = "member.joined"
	EventMemberRejoined    = "member.rejoined"
	EventMemberLeft        = "member.left"
	EventMemberBanned      = "member.banned"
	EventMemberKicked      = "member.kicked"
	EventMemberMuted       = "member.muted"
	EventMemberUnmuted     = "member.unmuted"
	EventMemberRoleChanged = "member.role_changed"
	EventMemberWarned      = "member.warned"
	EventMessageNew        = "message.new"
	EventMessageDeleted    = "message.deleted"
	EventTypingChanged     = "typing.changed"
	EventSessionEnded      = "session.ended"
	EventSessionUpdated    = "session.updated"
)

// MemberEvent accompanies join/rejoin/leave.
type MemberEvent struct {
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}

// ModerationEvent accompanies ban/kick/mute/unmute/warn.
type ModerationEvent struct {
	SessionID         string     `json:"session_id"`
	TargetUserID      string     `json:"target_user_id"`
	TargetDisplayName string     `json:"target_display_name"`
	ActorUserID       string     `json:"actor_user_id"`
	ActorDisplayName  string     `json:"actor_display_name"`
	Action            ActionType `json:"action"`
	Reason            string     `json:"reason,omitempty"`
	DurationMinutes   *int       `json:"duration_minutes,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
}

// RoleChangeEvent accompanies role changes; old and new roles are part of
// the subscriber contract.
type RoleChangeEvent struct {
	SessionID         string `json:"session_id"`
	TargetUserID      string `json:"target_user_id"`
	TargetDisplayName string `json:"target_display_name"`
	ActorUserID       string `json:"actor_user_id"`
	OldRole           Role   `json:"old_role"`
	NewRole           Role   `json:"new_role"`
}

// MessageEvent carries a newly persisted message.
type MessageEvent struct {
	Message Message `json:"message"`
}

// MessageDeletedEvent announces a hard-removed message.
type MessageDeletedEvent struct {
	SessionID   string `json:"session_id"`
	MessageID   string `json:"message_id"`
	ActorUserID string `json:"actor_user_id"`
}

// TypingEvent signals that a session's typing snapshot changed. An empty
// SessionID marks a sweep pass covering all sessions; subscribers re-derive
// their own session's view from the tracker.
type TypingEvent struct {
	SessionID string `json:"session_id"`
}

// TypingUser is one entry of a typing snapshot.
type TypingUser struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// SessionEvent accompanies session.updated and session.ended.
type SessionEvent struct {
	SessionID string   `json:"session_id"`
	Session   *Session `json:"session,omitempty"`
	ActorID   string   `json:"actor_id,omitempty"`
}
