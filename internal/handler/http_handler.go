package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/BuddyCodez/SpeakSpace/internal/domain"
	"github.com/BuddyCodez/SpeakSpace/internal/presence"
	"github.com/BuddyCodez/SpeakSpace/internal/service"
	"github.com/BuddyCodez/SpeakSpace/pkg/log"
	"github.com/BuddyCodez/SpeakSpace/pkg/middleware"
	"github.com/BuddyCodez/SpeakSpace/pkg/response"
	"github.com/BuddyCodez/SpeakSpace/pkg/storage"
)

// Handler handles HTTP requests for the session API.
type Handler struct {
	sessions       service.SessionService
	memberships    service.MembershipService
	moderation     service.ModerationService
	messages       service.MessageService
	tracker        *presence.Tracker
	media          storage.Storage
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler creates a new HTTP handler.
func NewHandler(
	sessions service.SessionService,
	memberships service.MembershipService,
	moderation service.ModerationService,
	messages service.MessageService,
	tracker *presence.Tracker,
	media storage.Storage,
	authMiddleware *middleware.AuthMiddleware,
) *Handler {
	return &Handler{
		sessions:       sessions,
		memberships:    memberships,
		moderation:     moderation,
		messages:       messages,
		tracker:        tracker,
		media:          media,
		authMiddleware: authMiddleware,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/media/*key", h.ServeMedia)

	api := r.Group("/api/v1")
	{
		sessions := api.Group("/sessions", h.authMiddleware.RequireAuth())
		{
			sessions.POST("", h.CreateSession)
			sessions.POST("/join", h.JoinByCode)
			sessions.GET("/:id", h.GetSession)
			sessions.PATCH("/:id", h.UpdateSession)
			sessions.POST("/:id/end", h.EndSession)

			sessions.POST("/:id/join", h.JoinSession)
			sessions.POST("/:id/leave", h.LeaveSession)
			sessions.GET("/:id/members", h.ListMembers)

			sessions.GET("/:id/typing", h.GetTyping)
			sessions.PUT("/:id/typing", h.SetTyping)

			sessions.POST("/:id/messages", h.SendMessage)
			sessions.GET("/:id/messages", h.GetHistory)
			sessions.DELETE("/:id/messages/:messageID", h.DeleteMessage)

			mod := sessions.Group("/:id/moderation")
			{
				mod.GET("", h.ListModerationActions)
				mod.POST("/ban", h.Ban)
				mod.POST("/kick", h.Kick)
				mod.POST("/mute", h.Mute)
				mod.POST("/unmute", h.Unmute)
				mod.POST("/role", h.ChangeRole)
				mod.POST("/warn", h.Warn)
			}
		}
	}
}

// respondError maps a service error onto the response envelope.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrForbidden):
		response.Forbidden(c, err.Error())
	case errors.Is(err, service.ErrBadRequest):
		response.BadRequest(c, err.Error())
	case errors.Is(err, service.ErrConflict):
		response.Conflict(c, err.Error())
	case errors.Is(err, service.ErrTransient):
		log.Ctx(c.Request.Context()).Error().Err(err).Msg("transient failure")
		response.ServiceUnavailable(c, err.Error())
	default:
		log.Ctx(c.Request.Context()).Error().Err(err).Msg("unhandled error")
		response.InternalError(c, "internal error")
	}
}

// CreateSession creates a new session with the caller as moderator.
func (h *Handler) CreateSession(c *gin.Context) {
	ctx := c.Request.Context()

	var req domain.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	session, err := h.sessions.Create(ctx, middleware.GetUserID(c), middleware.GetDisplayName(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Created(c, session)
}

// GetSession retrieves a session by ID.
func (h *Handler) GetSession(c *gin.Context) {
	session, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, session)
}

// UpdateSession changes session metadata.
func (h *Handler) UpdateSession(c *gin.Context) {
	var req domain.UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	session, err := h.sessions.Update(c.Request.Context(), c.Param("id"), middleware.GetUserID(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, session)
}

// EndSession deactivates a session.
func (h *Handler) EndSession(c *gin.Context) {
	if err := h.sessions.End(c.Request.Context(), c.Param("id"), middleware.GetUserID(c)); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"ended": true})
}

// JoinSession joins a session by id.
func (h *Handler) JoinSession(c *gin.Context) {
	var req domain.JoinSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	m, err := h.memberships.Join(c.Request.Context(), c.Param("id"),
		middleware.GetUserID(c), middleware.GetDisplayName(c), req.Role)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, m)
}

// JoinByCode joins a session located by its join code.
func (h *Handler) JoinByCode(c *gin.Context) {
	var req domain.JoinSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.JoinCode == "" {
		response.BadRequest(c, "join_code is required")
		return
	}

	m, err := h.memberships.JoinByCode(c.Request.Context(), req.JoinCode,
		middleware.GetUserID(c), middleware.GetDisplayName(c), req.Role)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, m)
}

// LeaveSession marks the caller as left.
func (h *Handler) LeaveSession(c *gin.Context) {
	if err := h.memberships.Leave(c.Request.Context(), c.Param("id"), middleware.GetUserID(c)); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"left": true})
}

// ListMembers returns the active roster.
func (h *Handler) ListMembers(c *gin.Context) {
	members, err := h.memberships.Roster(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, members)
}

// GetTyping returns the current typing snapshot.
func (h *Handler) GetTyping(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := h.memberships.RequireRole(c.Request.Context(), sessionID, middleware.GetUserID(c),
		domain.RoleModerator, domain.RoleEvaluator, domain.RoleParticipant); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, h.tracker.Snapshot(sessionID))
}

type setTypingRequest struct {
	IsTyping bool `json:"is_typing"`
}

// SetTyping records or clears the caller's typing state.
func (h *Handler) SetTyping(c *gin.Context) {
	sessionID := c.Param("id")
	userID := middleware.GetUserID(c)

	var req setTypingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if _, err := h.memberships.RequireRole(c.Request.Context(), sessionID, userID,
		domain.RoleModerator, domain.RoleEvaluator, domain.RoleParticipant); err != nil {
		respondError(c, err)
		return
	}

	h.tracker.SetTyping(sessionID, userID, middleware.GetDisplayName(c), req.IsTyping)
	response.Success(c, gin.H{"typing": req.IsTyping})
}

// SendMessage accepts a JSON body for text messages or a multipart form
// with an optional "media" file part.
func (h *Handler) SendMessage(c *gin.Context) {
	in := service.SendInput{
		SessionID: c.Param("id"),
		SenderID:  middleware.GetUserID(c),
	}

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		in.Content = c.PostForm("content")
		in.ClientMessageID = c.PostForm("client_message_id")

		fileHeader, err := c.FormFile("media")
		if err == nil {
			f, err := fileHeader.Open()
			if err != nil {
				response.BadRequest(c, "unreadable media part")
				return
			}
			defer f.Close()

			data, err := io.ReadAll(io.LimitReader(f, service.MaxMediaBytes+1))
			if err != nil {
				response.BadRequest(c, "unreadable media part")
				return
			}
			contentType := fileHeader.Header.Get("Content-Type")
			if contentType == "" {
				contentType = http.DetectContentType(data)
			}
			in.Media = &service.MediaUpload{
				Data:        data,
				Filename:    fileHeader.Filename,
				ContentType: contentType,
			}
		}
	} else {
		var req domain.SendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		in.Content = req.Content
		in.ClientMessageID = req.ClientMessageID
	}

	msg, err := h.messages.Send(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Created(c, msg)
}

// GetHistory returns one newest-first page of messages.
func (h *Handler) GetHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			response.BadRequest(c, "limit must be an integer")
			return
		}
		limit = n
	}

	page, err := h.messages.History(c.Request.Context(), c.Param("id"),
		middleware.GetUserID(c), c.Query("cursor"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, page)
}

// DeleteMessage removes a message.
func (h *Handler) DeleteMessage(c *gin.Context) {
	err := h.messages.Delete(c.Request.Context(), c.Param("id"),
		c.Param("messageID"), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": true})
}

// Ban bans a member.
func (h *Handler) Ban(c *gin.Context) {
	var req domain.BanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	action, err := h.moderation.Ban(c.Request.Context(), c.Param("id"),
		middleware.GetUserID(c), req.TargetUserID, req.Reason, req.DurationMinutes)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, action)
}

// Kick removes a member without banning.
func (h *Handler) Kick(c *gin.Context) {
	var req domain.KickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	action, err := h.moderation.Kick(c.Request.Context(), c.Param("id"),
		middleware.GetUserID(c), req.TargetUserID, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, action)
}

// Mute blocks a member from sending messages.
func (h *Handler) Mute(c *gin.Context) {
	var req domain.MuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	action, err := h.moderation.Mute(c.Request.Context(), c.Param("id"),
		middleware.GetUserID(c), req.TargetUserID, req.Reason, req.DurationMinutes)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, action)
}

// Unmute lifts a mute.
func (h *Handler) Unmute(c *gin.Context) {
	var req domain.UnmuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	action, err := h.moderation.Unmute(c.Request.Context(), c.Param("id"),
		middleware.GetUserID(c), req.TargetUserID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, action)
}

// ChangeRole reassigns a member's role.
func (h *Handler) ChangeRole(c *gin.Context) {
	var req domain.ChangeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	action, err := h.moderation.ChangeRole(c.Request.Context(), c.Param("id"),
		middleware.GetUserID(c), req.TargetUserID, req.Role)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, action)
}

// Warn records a warning against a member.
func (h *Handler) Warn(c *gin.Context) {
	var req domain.WarnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	action, err := h.moderation.Warn(c.Request.Context(), c.Param("id"),
		middleware.GetUserID(c), req.TargetUserID, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, action)
}

// ListModerationActions returns the session's audit trail.
func (h *Handler) ListModerationActions(c *gin.Context) {
	actions, err := h.moderation.Actions(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, actions)
}

// ServeMedia streams a stored media object. Used by the local storage
// backend; S3-backed deployments hand out presigned URLs instead.
func (h *Handler) ServeMedia(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		response.NotFound(c, "media not found")
		return
	}

	rc, err := h.media.Read(c.Request.Context(), key)
	if err != nil {
		response.NotFound(c, "media not found")
		return
	}
	defer rc.Close()

	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		log.Ctx(c.Request.Context()).Warn().Err(err).Str("key", key).Msg("media stream interrupted")
	}
}
