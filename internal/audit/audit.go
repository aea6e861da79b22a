package audit

import (
	"context"

	"github.com/BuddyCodez/SpeakSpace/pkg/log"
)

// Audit actions for the live session service.
const (
	ActionSessionCreate = "session.create"
	ActionSessionUpdate = "session.update"
	ActionSessionEnd    = "session.end"
	ActionMemberJoin    = "member.join"
	ActionMemberLeave   = "member.leave"
	ActionBan           = "moderation.ban"
	ActionKick          = "moderation.kick"
	ActionMute          = "moderation.mute"
	ActionUnmute        = "moderation.unmute"
	ActionRoleChange    = "moderation.role_change"
	ActionWarn          = "moderation.warn"
	ActionMessageDelete = "message.delete"
)

// Field constants for audit entries.
const (
	FieldAction = "action"
	FieldTarget = "target_user_id"
	FieldDetail = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action, sessionID, actorID, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldSessionID, sessionID).
		Str(log.FieldUserID, actorID).
		Msg(msg)
}

// LogModeration emits an audit log for a disciplinary action against a
// target member.
func LogModeration(ctx context.Context, action, sessionID, actorID, targetID, detail string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldSessionID, sessionID).
		Str(log.FieldUserID, actorID).
		Str(FieldTarget, targetID).
		Str(FieldDetail, detail).
		Msg("moderation action")
}
