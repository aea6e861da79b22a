package domain

import (
	"time"
)

// Communication modes a session can enable. Only ModeChat has in-service
// behavior; voice/video provisioning belongs to other collaborators.
const (
	ModeChat  = "chat"
	ModeVoice = "voice"
	ModeVideo = "video"
)

// Session is a live group-discussion or interview room. Sessions are
// discovered by join code, deactivated when the creator leaves or a
// moderator ends them, and never physically deleted.
type Session struct {
	ID          string     `json:"id"`
	JoinCode    string     `json:"join_code"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Modes       []string   `json:"modes"`
	Active      bool       `json:"active"`
	CreatorID   string     `json:"creator_id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// CreateSessionRequest represents a create session request.
type CreateSessionRequest struct {
	Title       string   `json:"title" binding:"required,min=1,max=200"`
	Description string   `json:"description" binding:"max=2000"`
	Modes       []string `json:"modes"`
}

// UpdateSessionRequest represents a session update request.
type UpdateSessionRequest struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	Modes       []string `json:"modes"`
}

// JoinSessionRequest represents a join request, by id or by code.
type JoinSessionRequest struct {
	JoinCode string `json:"join_code"`
	Role     string `json:"role"`
}

// ValidMode reports whether m is a known communication mode.
func ValidMode(m string) bool {
	switch m {
	case ModeChat, ModeVoice, ModeVideo:
		return true
	}
	return false
}
