package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/BuddyCodez/SpeakSpace/internal/bus"
	"github.com/BuddyCodez/SpeakSpace/internal/config"
	"github.com/BuddyCodez/SpeakSpace/internal/domain"
	"github.com/BuddyCodez/SpeakSpace/internal/idgen"
	"github.com/BuddyCodez/SpeakSpace/internal/presence"
	"github.com/BuddyCodez/SpeakSpace/internal/service"
	"github.com/BuddyCodez/SpeakSpace/pkg/jwt"
	"github.com/BuddyCodez/SpeakSpace/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Inbound frame types.
const (
	frameAuth      = "auth"
	frameSubscribe = "subscribe"
	frameTyping    = "typing"
	frameMessage   = "message"
	framePing      = "ping"
)

type authFrame struct {
	Token string `json:"token"`
}

type subscribeFrame struct {
	SessionID string `json:"session_id"`
}

type typingFrame struct {
	IsTyping bool `json:"is_typing"`
}

type messageFrame struct {
	Content         string `json:"content"`
	ClientMessageID string `json:"client_message_id"`
}

// WSHandler upgrades live feed connections and bridges them to the bus.
// Clients authenticate in-band: the first frame carries a token, then a
// subscribe frame picks the session. The typing stream replays a snapshot
// on subscribe; all other streams start live.
type WSHandler struct {
	bus         *bus.Bus
	tracker     *presence.Tracker
	memberships service.MembershipService
	messages    service.MessageService
	jwtManager  *jwt.Manager
	wsCfg       config.WebSocketConfig
}

// NewWSHandler creates a new websocket handler.
func NewWSHandler(b *bus.Bus, tracker *presence.Tracker, memberships service.MembershipService, messages service.MessageService, jwtManager *jwt.Manager, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		bus:         b,
		tracker:     tracker,
		memberships: memberships,
		messages:    messages,
		jwtManager:  jwtManager,
		wsCfg:       wsCfg,
	}
}

// RegisterRoutes registers the websocket route.
func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades the connection and starts the pumps.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Ctx(c.Request.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := newWSClient(idgen.NewID(), conn, h.wsCfg)

	go client.writePump()
	go client.readPump(h.handleFrame, h.onClose)
}

// onClose drops the client's typing entry so other members do not see a
// ghost composer after a disconnect.
func (h *WSHandler) onClose(client *wsClient) {
	if client.sessionID != "" && client.userID != "" {
		h.tracker.Clear(client.sessionID, client.userID)
	}
}

func (h *WSHandler) handleFrame(client *wsClient, message []byte) {
	var frame wsFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		client.sendError("BAD_REQUEST", "invalid frame format")
		return
	}

	switch frame.Type {
	case frameAuth:
		var f authFrame
		if err := json.Unmarshal(frame.Payload, &f); err != nil {
			client.sendError("BAD_REQUEST", "invalid auth frame")
			return
		}
		h.handleAuth(client, f.Token)

	case frameSubscribe:
		var f subscribeFrame
		if err := json.Unmarshal(frame.Payload, &f); err != nil {
			client.sendError("BAD_REQUEST", "invalid subscribe frame")
			return
		}
		h.handleSubscribe(client, f.SessionID)

	case frameTyping:
		var f typingFrame
		if err := json.Unmarshal(frame.Payload, &f); err != nil {
			client.sendError("BAD_REQUEST", "invalid typing frame")
			return
		}
		h.handleTyping(client, f.IsTyping)

	case frameMessage:
		var f messageFrame
		if err := json.Unmarshal(frame.Payload, &f); err != nil {
			client.sendError("BAD_REQUEST", "invalid message frame")
			return
		}
		h.handleMessage(client, f)

	case framePing:
		client.sendFrame("pong", nil)

	default:
		client.sendError("BAD_REQUEST", "unknown frame type")
	}
}

func (h *WSHandler) handleAuth(client *wsClient, token string) {
	claims, err := h.jwtManager.ValidateToken(token)
	if err != nil {
		client.sendError("UNAUTHORIZED", err.Error())
		return
	}

	client.userID = claims.UserID
	client.displayName = claims.DisplayName
	client.sendFrame("ready", nil)
}

// handleSubscribe verifies membership, registers the bus listeners, and
// replays the typing snapshot as the first frame of the stream.
func (h *WSHandler) handleSubscribe(client *wsClient, sessionID string) {
	if client.userID == "" {
		client.sendError("UNAUTHORIZED", "authenticate first")
		return
	}
	if client.sessionID != "" {
		client.sendError("CONFLICT", "already subscribed")
		return
	}
	if sessionID == "" {
		client.sendError("BAD_REQUEST", "session_id is required")
		return
	}

	ctx := h.clientCtx(client)
	if _, err := h.memberships.RequireRole(ctx, sessionID, client.userID,
		domain.RoleModerator, domain.RoleEvaluator, domain.RoleParticipant); err != nil {
		client.sendError(errorCode(err), err.Error())
		return
	}

	client.sessionID = sessionID
	h.attach(client, sessionID)

	client.sendFrame("typing.snapshot", h.tracker.Snapshot(sessionID))
	client.sendFrame("subscribed", gin.H{"session_id": sessionID})
}

// attach registers one listener per category, filtered to the client's
// session. Presence listeners also match the sweep's empty session id and
// re-derive the snapshot rather than forwarding the raw notification.
func (h *WSHandler) attach(client *wsClient, sessionID string) {
	client.cancels = append(client.cancels,
		h.bus.Subscribe(bus.CategoryMessage, func(evt bus.Event) {
			if evt.SessionID != sessionID {
				return
			}
			client.sendFrame(evt.Type, evt.Payload)
		}),
		h.bus.Subscribe(bus.CategoryMembership, func(evt bus.Event) {
			if evt.SessionID != sessionID {
				return
			}
			client.sendFrame(evt.Type, evt.Payload)
		}),
		h.bus.Subscribe(bus.CategoryModeration, func(evt bus.Event) {
			if evt.SessionID != sessionID {
				return
			}
			if ejected(evt, client.userID) {
				// The ejection frame must reach the target before the
				// connection drops; closeWith flushes it.
				client.closeWith(evt.Type, evt.Payload)
				return
			}
			client.sendFrame(evt.Type, evt.Payload)
		}),
		h.bus.Subscribe(bus.CategorySession, func(evt bus.Event) {
			if evt.SessionID != sessionID {
				return
			}
			client.sendFrame(evt.Type, evt.Payload)
		}),
		h.bus.Subscribe(bus.CategoryPresence, func(evt bus.Event) {
			if evt.SessionID != "" && evt.SessionID != sessionID {
				return
			}
			client.sendFrame("typing.snapshot", h.tracker.Snapshot(sessionID))
		}),
	)
}

// ejected reports whether a moderation event removes the given user from
// the session.
func ejected(evt bus.Event, userID string) bool {
	if evt.Type != domain.EventMemberBanned && evt.Type != domain.EventMemberKicked {
		return false
	}
	payload, ok := evt.Payload.(domain.ModerationEvent)
	return ok && payload.TargetUserID == userID
}

func (h *WSHandler) handleTyping(client *wsClient, isTyping bool) {
	if client.sessionID == "" {
		client.sendError("BAD_REQUEST", "subscribe first")
		return
	}
	h.tracker.SetTyping(client.sessionID, client.userID, client.displayName, isTyping)
}

func (h *WSHandler) handleMessage(client *wsClient, f messageFrame) {
	if client.sessionID == "" {
		client.sendError("BAD_REQUEST", "subscribe first")
		return
	}

	msg, err := h.messages.Send(h.clientCtx(client), service.SendInput{
		SessionID:       client.sessionID,
		SenderID:        client.userID,
		Content:         f.Content,
		ClientMessageID: f.ClientMessageID,
	})
	if err != nil {
		client.sendError(errorCode(err), err.Error())
		return
	}

	client.sendFrame("message.ack", gin.H{
		"id":                msg.ID,
		"client_message_id": msg.ClientMessageID,
	})
}

// clientCtx builds a context carrying a logger tagged with the client's
// identity. Frames arrive outside any HTTP request, so there is no request
// context to inherit.
func (h *WSHandler) clientCtx(client *wsClient) context.Context {
	l := log.L().With().
		Str("ws_client_id", client.id).
		Str(log.FieldUserID, client.userID).
		Logger()
	return log.WithLogger(context.Background(), &l)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, service.ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, service.ErrBadRequest):
		return "BAD_REQUEST"
	case errors.Is(err, service.ErrConflict):
		return "CONFLICT"
	case errors.Is(err, service.ErrTransient):
		return "TRANSIENT"
	default:
		return "INTERNAL_ERROR"
	}
}
