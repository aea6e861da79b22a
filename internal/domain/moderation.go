package domain

import (
	"time"
)

// ActionType classifies a moderation audit record.
type ActionType string

const (
	ActionBan        ActionType = "BAN"
	ActionKick       ActionType = "KICK"
	ActionMute       ActionType = "MUTE"
	ActionUnmute     ActionType = "UNMUTE"
	ActionRoleChange ActionType = "ROLE_CHANGE"
	ActionWarn       ActionType = "WARN"
)

// ModerationAction is an immutable audit record: exactly one per accepted
// moderation operation, written in the same transaction as the membership
// mutation it describes.
type ModerationAction struct {
	ID              string     `json:"id"`
	SessionID       string     `json:"session_id"`
	MembershipID    string     `json:"membership_id"`
	TargetUserID    string     `json:"target_user_id"`
	ActorUserID     string     `json:"actor_user_id"`
	Type            ActionType `json:"type"`
	Reason          string     `json:"reason,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// BanRequest represents a ban request.
type BanRequest struct {
	TargetUserID    string `json:"target_user_id" binding:"required"`
	Reason          string `json:"reason" binding:"max=500"`
	DurationMinutes *int   `json:"duration_minutes"`
}

// KickRequest represents a kick request.
type KickRequest struct {
	TargetUserID string `json:"target_user_id" binding:"required"`
	Reason       string `json:"reason" binding:"max=500"`
}

// MuteRequest represents a mute request. DurationMinutes is required.
type MuteRequest struct {
	TargetUserID    string `json:"target_user_id" binding:"required"`
	Reason          string `json:"reason" binding:"max=500"`
	DurationMinutes int    `json:"duration_minutes" binding:"required"`
}

// UnmuteRequest represents an unmute request.
type UnmuteRequest struct {
	TargetUserID string `json:"target_user_id" binding:"required"`
}

// ChangeRoleRequest represents a role change request.
type ChangeRoleRequest struct {
	TargetUserID string `json:"target_user_id" binding:"required"`
	Role         string `json:"role" binding:"required"`
}

// WarnRequest represents a warn request.
type WarnRequest struct {
	TargetUserID string `json:"target_user_id" binding:"required"`
	Reason       string `json:"reason" binding:"required,max=500"`
}
