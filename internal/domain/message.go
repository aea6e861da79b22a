package domain

import (
	"time"
)

// MessageType distinguishes user messages from service announcements.
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeSystem MessageType = "system"
)

// SystemSenderID is the reserved sender id for system messages.
const SystemSenderID = "system"

// Message is one chat message in a session. Ids are ULIDs, so message id
// order is creation order and the newest-first history cursor is simply
// the last id of a page. Messages are immutable once created; deletion is
// a hard remove.
type Message struct {
	ID              string      `json:"id"`
	SessionID       string      `json:"session_id"`
	SenderID        string      `json:"sender_id"`
	SenderName      string      `json:"sender_name"`
	Type            MessageType `json:"type"`
	Content         string      `json:"content,omitempty"`
	MediaURL        string      `json:"media_url,omitempty"`
	MediaType       string      `json:"media_type,omitempty"`
	ThumbnailURL    string      `json:"thumbnail_url,omitempty"`
	ClientMessageID string      `json:"client_message_id,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// SendMessageRequest represents a text message send request.
type SendMessageRequest struct {
	Content         string `json:"content"`
	ClientMessageID string `json:"client_message_id"`
}

// HistoryPage is one newest-first page of session messages.
type HistoryPage struct {
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"next_cursor,omitempty"`
	HasMore    bool      `json:"has_more"`
}
