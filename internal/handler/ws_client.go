package handler

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BuddyCodez/SpeakSpace/internal/config"
	"github.com/BuddyCodez/SpeakSpace/pkg/log"
	"github.com/BuddyCodez/SpeakSpace/pkg/response"
)

// wsFrame is the envelope for every frame in either direction.
type wsFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// outFrame is the outbound counterpart with an arbitrary payload.
type outFrame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// wsClient is one live feed connection. Inbound frames are handled on the
// read pump goroutine; bus listeners enqueue outbound frames on the send
// channel, which the write pump drains.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	cfg  config.WebSocketConfig

	// Guards send against enqueueing after closeWith shut the channel.
	sendMu  sync.Mutex
	closing bool

	// Set by the auth frame.
	userID      string
	displayName string

	// Set by the subscribe frame; cancels release the bus listeners.
	sessionID string
	cancels   []func()
}

func newWSClient(id string, conn *websocket.Conn, cfg config.WebSocketConfig) *wsClient {
	return &wsClient{
		id:   id,
		conn: conn,
		send: make(chan []byte, 256),
		cfg:  cfg,
	}
}

// readPump reads frames until the connection drops, then releases the
// client's bus listeners synchronously and invokes onClose.
func (c *wsClient) readPump(handler func(*wsClient, []byte), onClose func(*wsClient)) {
	defer func() {
		c.unsubscribe()
		onClose(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.L().Debug().Err(err).Str("ws_client_id", c.id).Msg("websocket closed unexpectedly")
			}
			break
		}

		handler(c, message)
	}
}

// writePump drains the send channel and keeps the connection alive with
// pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendFrame enqueues an outbound frame. Delivery is best-effort: when the
// buffer is full the frame is dropped rather than blocking publishers.
func (c *wsClient) sendFrame(frameType string, payload interface{}) {
	data, err := json.Marshal(outFrame{Type: frameType, Payload: payload})
	if err != nil {
		log.L().Error().Err(err).Str("frame_type", frameType).Msg("failed to marshal ws frame")
		return
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closing {
		return
	}
	select {
	case c.send <- data:
	default:
		log.L().Debug().Str("ws_client_id", c.id).Str("frame_type", frameType).Msg("ws send buffer full, frame dropped")
	}
}

// sendError reports a rejected inbound frame.
func (c *wsClient) sendError(code, message string) {
	c.sendFrame("error", response.ErrorInfo{Code: code, Message: message})
}

// unsubscribe releases all bus listeners. Safe to call more than once.
func (c *wsClient) unsubscribe() {
	for _, cancel := range c.cancels {
		cancel()
	}
	c.cancels = nil
}

// closeWith enqueues one final frame and closes the send channel. The write
// pump drains everything already queued plus this frame, then writes the
// close message and drops the connection, so the frame is not lost to an
// abrupt close. The enqueue waits out a stalled receiver up to WriteWait
// instead of dropping.
func (c *wsClient) closeWith(frameType string, payload interface{}) {
	data, err := json.Marshal(outFrame{Type: frameType, Payload: payload})
	if err != nil {
		log.L().Error().Err(err).Str("frame_type", frameType).Msg("failed to marshal ws frame")
		data = nil
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closing {
		return
	}
	c.closing = true

	if data != nil {
		select {
		case c.send <- data:
		case <-time.After(c.cfg.WriteWait):
			log.L().Warn().Str("ws_client_id", c.id).Str("frame_type", frameType).Msg("write pump stalled, final frame dropped")
		}
	}
	close(c.send)
}
