// Package client is a Go client for the SpeakSpace live-session API. It
// mirrors the REST command/query surface with typed methods and wraps the
// send path in a rate-limited, retrying queue (SendQueue).
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"
)

const defaultTimeout = 10 * time.Second

// Session mirrors the server's session resource.
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

// Membership mirrors the server's membership resource.
type Membership struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	UserID      string     `json:"user_id"`
	DisplayName string     `json:"display_name"`
	Role        string     `json:"role"`
	JoinedAt    time.Time  `json:"joined_at"`
	LeftAt      *time.Time `json:"left_at,omitempty"`
	IsBanned    bool       `json:"is_banned"`
	IsMuted     bool       `json:"is_muted"`
	MuteExpires *time.Time `json:"mute_expires_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Member is one roster entry.
type Member struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Role        string    `json:"role"`
	IsMuted     bool      `json:"is_muted"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Message mirrors the server's message resource.
type Message struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	SenderID        string    `json:"sender_id"`
	SenderName      string    `json:"sender_name"`
	Type            string    `json:"type"`
	Content         string    `json:"content,omitempty"`
	MediaURL        string    `json:"media_url,omitempty"`
	MediaType       string    `json:"media_type,omitempty"`
	ThumbnailURL    string    `json:"thumbnail_url,omitempty"`
	ClientMessageID string    `json:"client_message_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// HistoryPage is one newest-first page of messages.
type HistoryPage struct {
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"next_cursor,omitempty"`
	HasMore    bool      `json:"has_more"`
}

// ModerationAction is one audit record.
type ModerationAction struct {
	ID              string     `json:"id"`
	SessionID       string     `json:"session_id"`
	MembershipID    string     `json:"membership_id"`
	TargetUserID    string     `json:"target_user_id"`
	ActorUserID     string     `json:"actor_user_id"`
	Type            string     `json:"type"`
	Reason          string     `json:"reason,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// TypingUser is one entry of a typing snapshot.
type TypingUser struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// CreateSessionParams are the inputs for CreateSession.
type CreateSessionParams struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Modes       []string `json:"modes,omitempty"`
}

// UpdateSessionParams are the inputs for UpdateSession. Nil fields are
// left unchanged.
type UpdateSessionParams struct {
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	Modes       []string `json:"modes,omitempty"`
}

// SendMessageParams are the inputs for SendMessage. ClientMessageID makes
// the send idempotent server-side; SendQueue assigns one when empty.
type SendMessageParams struct {
	Content         string `json:"content"`
	ClientMessageID string `json:"client_message_id,omitempty"`
}

// SendMediaParams are the inputs for SendMedia.
type SendMediaParams struct {
	Content         string
	ClientMessageID string
	Filename        string
	ContentType     string
	Media           io.Reader
}

// BanParams are the inputs for Ban. DurationMinutes nil means permanent.
type BanParams struct {
	TargetUserID    string `json:"target_user_id"`
	Reason          string `json:"reason,omitempty"`
	DurationMinutes *int   `json:"duration_minutes,omitempty"`
}

// Client calls the SpeakSpace REST API on behalf of one authenticated user.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a Client for baseURL authenticating with the bearer token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateSession creates a session; the caller becomes its moderator.
func (c *Client) CreateSession(ctx context.Context, p CreateSessionParams) (*Session, error) {
	var session Session
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions", p, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Session fetches a session by id.
func (c *Client) Session(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+sessionID, nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// UpdateSession updates a session's metadata. Moderators only.
func (c *Client) UpdateSession(ctx context.Context, sessionID string, p UpdateSessionParams) (*Session, error) {
	var session Session
	if err := c.do(ctx, http.MethodPatch, "/api/v1/sessions/"+sessionID, p, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// EndSession deactivates a session. Moderators only.
func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/sessions/%s/end", sessionID), nil, nil)
}

// JoinSession joins a session by id. Empty role means participant.
func (c *Client) JoinSession(ctx context.Context, sessionID, role string) (*Membership, error) {
	var body interface{}
	if role != "" {
		body = map[string]string{"role": role}
	}
	var m Membership
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/sessions/%s/join", sessionID), body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// JoinByCode joins a session by its join code.
func (c *Client) JoinByCode(ctx context.Context, joinCode, role string) (*Membership, error) {
	body := map[string]string{"join_code": joinCode}
	if role != "" {
		body["role"] = role
	}
	var m Membership
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions/join", body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// LeaveSession leaves a session. A leaving creator ends the session.
func (c *Client) LeaveSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/sessions/%s/leave", sessionID), nil, nil)
}

// Roster lists the session's active members.
func (c *Client) Roster(ctx context.Context, sessionID string) ([]Member, error) {
	var members []Member
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/sessions/%s/members", sessionID), nil, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// Typing fetches the session's current typing snapshot.
func (c *Client) Typing(ctx context.Context, sessionID string) ([]TypingUser, error) {
	var users []TypingUser
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/sessions/%s/typing", sessionID), nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// SetTyping marks or clears the caller's typing state.
func (c *Client) SetTyping(ctx context.Context, sessionID string, isTyping bool) error {
	body := map[string]bool{"is_typing": isTyping}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/api/v1/sessions/%s/typing", sessionID), body, nil)
}

// SendMessage sends a text message.
func (c *Client) SendMessage(ctx context.Context, sessionID string, p SendMessageParams) (*Message, error) {
	var msg Message
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/sessions/%s/messages", sessionID), p, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendMedia sends a message with a media attachment, multipart-encoded.
// The part carries p.ContentType so the server does not have to sniff it.
func (c *Client) SendMedia(ctx context.Context, sessionID string, p SendMediaParams) (*Message, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="media"; filename=%q`, p.Filename))
	if p.ContentType != "" {
		header.Set("Content-Type", p.ContentType)
	}
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := io.Copy(part, p.Media); err != nil {
		return nil, fmt.Errorf("failed to read media: %w", err)
	}
	if p.Content != "" {
		if err := w.WriteField("content", p.Content); err != nil {
			return nil, fmt.Errorf("failed to build multipart body: %w", err)
		}
	}
	if p.ClientMessageID != "" {
		if err := w.WriteField("client_message_id", p.ClientMessageID); err != nil {
			return nil, fmt.Errorf("failed to build multipart body: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to build multipart body: %w", err)
	}

	u := fmt.Sprintf("%s/api/v1/sessions/%s/messages", c.baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var msg Message
	if err := c.send(req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// History fetches one newest-first page of messages. cursor empty means
// the newest page; limit 0 means the server default.
func (c *Client) History(ctx context.Context, sessionID, cursor string, limit int) (*HistoryPage, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	path := fmt.Sprintf("/api/v1/sessions/%s/messages", sessionID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var page HistoryPage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// DeleteMessage deletes a message. Senders may delete their own messages;
// moderators may delete any.
func (c *Client) DeleteMessage(ctx context.Context, sessionID, messageID string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/sessions/%s/messages/%s", sessionID, messageID), nil, nil)
}

// Ban permanently removes a member, optionally for a limited duration.
func (c *Client) Ban(ctx context.Context, sessionID string, p BanParams) (*ModerationAction, error) {
	return c.moderate(ctx, sessionID, "ban", p)
}

// Kick removes a member; they may rejoin.
func (c *Client) Kick(ctx context.Context, sessionID, targetUserID, reason string) (*ModerationAction, error) {
	return c.moderate(ctx, sessionID, "kick", map[string]string{
		"target_user_id": targetUserID,
		"reason":         reason,
	})
}

// Mute silences a member for durationMinutes.
func (c *Client) Mute(ctx context.Context, sessionID, targetUserID, reason string, durationMinutes int) (*ModerationAction, error) {
	return c.moderate(ctx, sessionID, "mute", map[string]interface{}{
		"target_user_id":   targetUserID,
		"reason":           reason,
		"duration_minutes": durationMinutes,
	})
}

// Unmute lifts a member's mute.
func (c *Client) Unmute(ctx context.Context, sessionID, targetUserID string) (*ModerationAction, error) {
	return c.moderate(ctx, sessionID, "unmute", map[string]string{
		"target_user_id": targetUserID,
	})
}

// ChangeRole reassigns a member's role.
func (c *Client) ChangeRole(ctx context.Context, sessionID, targetUserID, role string) (*ModerationAction, error) {
	return c.moderate(ctx, sessionID, "role", map[string]string{
		"target_user_id": targetUserID,
		"role":           role,
	})
}

// Warn records a formal warning without changing membership state.
func (c *Client) Warn(ctx context.Context, sessionID, targetUserID, reason string) (*ModerationAction, error) {
	return c.moderate(ctx, sessionID, "warn", map[string]string{
		"target_user_id": targetUserID,
		"reason":         reason,
	})
}

// Actions fetches the session's moderation audit trail.
func (c *Client) Actions(ctx context.Context, sessionID string) ([]ModerationAction, error) {
	var actions []ModerationAction
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/sessions/%s/moderation", sessionID), nil, &actions); err != nil {
		return nil, err
	}
	return actions, nil
}

func (c *Client) moderate(ctx context.Context, sessionID, op string, body interface{}) (*ModerationAction, error) {
	var action ModerationAction
	path := fmt.Sprintf("/api/v1/sessions/%s/moderation/%s", sessionID, op)
	if err := c.do(ctx, http.MethodPost, path, body, &action); err != nil {
		return nil, err
	}
	return &action, nil
}

// apiResponse is the server's response envelope.
type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env apiResponse
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode >= http.StatusBadRequest || (decodeErr == nil && !env.Success) {
		httpErr := &HTTPError{StatusCode: resp.StatusCode}
		if decodeErr == nil && env.Error != nil {
			httpErr.Code = env.Error.Code
			httpErr.Message = env.Error.Message
		} else {
			httpErr.Code = http.StatusText(resp.StatusCode)
			httpErr.Message = string(raw)
		}
		return httpErr
	}
	if decodeErr != nil {
		return fmt.Errorf("failed to decode response: %w", decodeErr)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
