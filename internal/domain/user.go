package domain

import (
	"time"
)

// User is a profile mirror of an identity owned by the upstream auth
// provider. Rows are upserted from verified token claims; this service
// never creates identities of its own.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
