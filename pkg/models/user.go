package models

import "time"

// User is an account in the learning app. Only the fields the recognition
// pipeline needs are modeled here; progress tracking lives elsewhere.
type User struct {
	ID        int64     `db:"id"         json:"id"`
	Email     string    `db:"email"      json:"email"`
	Name      string    `db:"name"       json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
