package domain

import (
	"time"

	"github.com/BuddyCodez/SpeakSpace/pkg/database"
)

// UserModel is the GORM model for the users table.
type UserModel struct {
	ID          string    `gorm:"type:varchar(36);primaryKey"`
	DisplayName string    `gorm:"type:varchar(100);not null"`
	AvatarURL   string    `gorm:"type:varchar(500)"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for UserModel.
func (UserModel) TableName() string {
	return "users"
}

// ToDomain converts UserModel to domain User.
func (m *UserModel) ToDomain() *User {
	return &User{
		ID:          m.ID,
		DisplayName: m.DisplayName,
		AvatarURL:   m.AvatarURL,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// UserToModel converts domain User to UserModel.
func UserToModel(u *User) *UserModel {
	return &UserModel{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

// SessionModel is the GORM model for the sessions table.
type SessionModel struct {
	ID          string               `gorm:"type:varchar(36);primaryKey"`
	JoinCode    string               `gorm:"type:varchar(16);uniqueIndex;not null"`
	Title       string               `gorm:"type:varchar(200);not null"`
	Description string               `gorm:"type:text"`
	Modes       database.StringArray `gorm:"type:text"`
	Active      bool                 `gorm:"index;not null;default:true"`
	CreatorID   string               `gorm:"type:varchar(36);index;not null"`
	CreatedAt   time.Time            `gorm:"autoCreateTime"`
	UpdatedAt   time.Time            `gorm:"autoUpdateTime"`
	EndedAt     *time.Time
}

// TableName specifies the table name for SessionModel.
func (SessionModel) TableName() string {
	return "sessions"
}

// ToDomain converts SessionModel to domain Session.
func (m *SessionModel) ToDomain() *Session {
	return &Session{
		ID:          m.ID,
		JoinCode:    m.JoinCode,
		Title:       m.Title,
		Description: m.Description,
		Modes:       []string(m.Modes),
		Active:      m.Active,
		CreatorID:   m.CreatorID,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		EndedAt:     m.EndedAt,
	}
}

// SessionToModel converts domain Session to SessionModel.
func SessionToModel(s *Session) *SessionModel {
	return &SessionModel{
		ID:          s.ID,
		JoinCode:    s.JoinCode,
		Title:       s.Title,
		Description: s.Description,
		Modes:       database.StringArray(s.Modes),
		Active:      s.Active,
		CreatorID:   s.CreatorID,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
		EndedAt:     s.EndedAt,
	}
}

// MembershipModel is the GORM model for the memberships table.
type MembershipModel struct {
	ID          string `gorm:"type:varchar(36);primaryKey"`
	SessionID   string `gorm:"type:varchar(36);uniqueIndex:idx_session_user;index;not null"`
	UserID      string `gorm:"type:varchar(36);uniqueIndex:idx_session_user;index;not null"`
	DisplayName string `gorm:"type:varchar(100);not null"`
	Role        string `gorm:"type:varchar(20);not null"`
	JoinedAt    time.Time
	LeftAt      *time.Time
	IsBanned    bool      `gorm:"not null;default:false"`
	IsMuted     bool      `gorm:"not null;default:false"`
	MuteExpires *time.Time
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for MembershipModel.
func (MembershipModel) TableName() string {
	return "memberships"
}

// ToDomain converts MembershipModel to domain Membership.
func (m *MembershipModel) ToDomain() *Membership {
	return &Membership{
		ID:          m.ID,
		SessionID:   m.SessionID,
		UserID:      m.UserID,
		DisplayName: m.DisplayName,
		Role:        Role(m.Role),
		JoinedAt:    m.JoinedAt,
		LeftAt:      m.LeftAt,
		IsBanned:    m.IsBanned,
		IsMuted:     m.IsMuted,
		MuteExpires: m.MuteExpires,
		UpdatedAt:   m.UpdatedAt,
	}
}

// MembershipToModel converts domain Membership to MembershipModel.
func MembershipToModel(m *Membership) *MembershipModel {
	return &MembershipModel{
		ID:          m.ID,
		SessionID:   m.SessionID,
		UserID:      m.UserID,
		DisplayName: m.DisplayName,
		Role:        string(m.Role),
		JoinedAt:    m.JoinedAt,
		LeftAt:      m.LeftAt,
		IsBanned:    m.IsBanned,
		IsMuted:     m.IsMuted,
		MuteExpires: m.MuteExpires,
		UpdatedAt:   m.UpdatedAt,
	}
}

// MessageModel is the GORM model for the messages table. ClientMessageID
// is nullable so messages sent without a correlation id stay out of the
// composite unique index that backs retry deduplication.
type MessageModel struct {
	ID              string  `gorm:"type:varchar(32);primaryKey"`
	SessionID       string  `gorm:"type:varchar(36);index:idx_session_id_desc;uniqueIndex:idx_session_sender_client,priority:1;not null"`
	SenderID        string  `gorm:"type:varchar(36);index;uniqueIndex:idx_session_sender_client,priority:2;not null"`
	SenderName      string  `gorm:"type:varchar(100);not null"`
	Type            string  `gorm:"type:varchar(10);not null;default:'text'"`
	Content         string  `gorm:"type:text"`
	MediaURL        string  `gorm:"type:varchar(500)"`
	MediaType       string  `gorm:"type:varchar(50)"`
	ThumbnailURL    string  `gorm:"type:varchar(500)"`
	ClientMessageID *string `gorm:"type:varchar(64);uniqueIndex:idx_session_sender_client,priority:3"`
	CreatedAt       time.Time
}

// TableName specifies the table name for MessageModel.
func (MessageModel) TableName() string {
	return "messages"
}

// ToDomain converts MessageModel to domain Message.
func (m *MessageModel) ToDomain() *Message {
	msg := &Message{
		ID:           m.ID,
		SessionID:    m.SessionID,
		SenderID:     m.SenderID,
		SenderName:   m.SenderName,
		Type:         MessageType(m.Type),
		Content:      m.Content,
		MediaURL:     m.MediaURL,
		MediaType:    m.MediaType,
		ThumbnailURL: m.ThumbnailURL,
		CreatedAt:    m.CreatedAt,
	}
	if m.ClientMessageID != nil {
		msg.ClientMessageID = *m.ClientMessageID
	}
	return msg
}

// MessageToModel converts domain Message to MessageModel.
func MessageToModel(msg *Message) *MessageModel {
	model := &MessageModel{
		ID:           msg.ID,
		SessionID:    msg.SessionID,
		SenderID:     msg.SenderID,
		SenderName:   msg.SenderName,
		Type:         string(msg.Type),
		Content:      msg.Content,
		MediaURL:     msg.MediaURL,
		MediaType:    msg.MediaType,
		ThumbnailURL: msg.ThumbnailURL,
		CreatedAt:    msg.CreatedAt,
	}
	if msg.ClientMessageID != "" {
		id := msg.ClientMessageID
		model.ClientMessageID = &id
	}
	return model
}

// ModerationActionModel is the GORM model for the moderation_actions table.
type ModerationActionModel struct {
	ID              string `gorm:"type:varchar(32);primaryKey"`
	SessionID       string `gorm:"type:varchar(36);index;not null"`
	MembershipID    string `gorm:"type:varchar(36);index;not null"`
	TargetUserID    string `gorm:"type:varchar(36);index;not null"`
	ActorUserID     string `gorm:"type:varchar(36);not null"`
	Type            string `gorm:"type:varchar(20);not null"`
	Reason          string `gorm:"type:varchar(500)"`
	DurationMinutes *int
	ExpiresAt       *time.Time
	CreatedAt       time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for ModerationActionModel.
func (ModerationActionModel) TableName() string {
	return "moderation_actions"
}

// ToDomain converts ModerationActionModel to domain ModerationAction.
func (m *ModerationActionModel) ToDomain() *ModerationAction {
	return &ModerationAction{
		ID:              m.ID,
		SessionID:       m.SessionID,
		MembershipID:    m.MembershipID,
		TargetUserID:    m.TargetUserID,
		ActorUserID:     m.ActorUserID,
		Type:            ActionType(m.Type),
		Reason:          m.Reason,
		DurationMinutes: m.DurationMinutes,
		ExpiresAt:       m.ExpiresAt,
		CreatedAt:       m.CreatedAt,
	}
}

// ModerationActionToModel converts domain ModerationAction to its model.
func ModerationActionToModel(a *ModerationAction) *ModerationActionModel {
	return &ModerationActionModel{
		ID:              a.ID,
		SessionID:       a.SessionID,
		MembershipID:    a.MembershipID,
		TargetUserID:    a.TargetUserID,
		ActorUserID:     a.ActorUserID,
		Type:            string(a.Type),
		Reason:          a.Reason,
		DurationMinutes: a.DurationMinutes,
		ExpiresAt:       a.ExpiresAt,
		CreatedAt:       a.CreatedAt,
	}
}
