package service

import (
	"context"

	"github.com/BuddyCodez/SpeakSpace/internal/domain"
)

// SessionService owns session lifecycle: creation (the creator becomes the
// first moderator), metadata updates, and ending.
type SessionService interface {
	Create(ctx context.Context, creatorID, creatorName string, req *domain.CreateSessionRequest) (*domain.Session, error)
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	Update(ctx context.Context, sessionID, actorID string, req *domain.UpdateSessionRequest) (*domain.Session, error)
	End(ctx context.Context, sessionID, actorID string) error
}

// MembershipService owns the per-session roster state machine and is the
// authorization gate for every mutating operation.
type MembershipService interface {
	Join(ctx context.Context, sessionID, userID, displayName, requestedRole string) (*domain.Membership, error)
	JoinByCode(ctx context.Context, joinCode, userID, displayName, requestedRole string) (*domain.Membership, error)
	Leave(ctx context.Context, sessionID, userID string) error
	// RequireRole fails with ErrForbidden unless the user holds an active,
	// non-banned membership whose role is in the allowed set.
	RequireRole(ctx context.Context, sessionID, userID string, allowed ...domain.Role) (*domain.Membership, error)
	Roster(ctx context.Context, sessionID, callerID string) ([]domain.MemberView, error)
}

// ModerationService executes disciplinary operations. Each accepted
// operation commits its membership mutation and exactly one audit record
// atomically, then emits one event.
type ModerationService interface {
	Ban(ctx context.Context, sessionID, actorID, targetID, reason string, durationMinutes *int) (*domain.ModerationAction, error)
	Kick(ctx context.Context, sessionID, actorID, targetID, reason string) (*domain.ModerationAction, error)
	Mute(ctx context.Context, sessionID, actorID, targetID, reason string, durationMinutes int) (*domain.ModerationAction, error)
	Unmute(ctx context.Context, sessionID, actorID, targetID string) (*domain.ModerationAction, error)
	ChangeRole(ctx context.Context, sessionID, actorID, targetID string, newRole string) (*domain.ModerationAction, error)
	Warn(ctx context.Context, sessionID, actorID, targetID, reason string) (*domain.ModerationAction, error)
	Actions(ctx context.Context, sessionID, callerID string) ([]domain.ModerationAction, error)
}

// MaxMediaBytes caps one media attachment.
const MaxMediaBytes = 8 << 20

// MediaUpload is an in-memory media attachment handed to Send.
type MediaUpload struct {
	Data        []byte
	Filename    string
	ContentType string
}

// SendInput carries one outgoing message.
type SendInput struct {
	SessionID       string
	SenderID        string
	Content         string
	Media           *MediaUpload
	ClientMessageID string
}

// MessageService is the message pipeline: authorize, validate, upload,
// persist, clear typing, publish.
type MessageService interface {
	Send(ctx context.Context, in SendInput) (*domain.Message, error)
	// SendSystem persists and publishes a service announcement, skipping
	// the membership and mute checks.
	SendSystem(ctx context.Context, sessionID, content string) (*domain.Message, error)
	Delete(ctx context.Context, sessionID, messageID, actorID string) error
	History(ctx context.Context, sessionID, callerID, cursor string, limit int) (*domain.HistoryPage, error)
}
