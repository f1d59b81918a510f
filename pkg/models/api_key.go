package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey authenticates a user to the API. The raw key is shown once at
// creation; only the bcrypt hash and a lookup prefix are stored.
type APIKey struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	UserID     int64      `db:"user_id"      json:"user_id"`
	Name       string     `db:"name"         json:"name"`
	KeyHash    string     `db:"key_hash"     json:"-"`
	KeyPrefix  string     `db:"key_prefix"   json:"key_prefix"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `db:"revoked_at"   json:"revoked_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
}
