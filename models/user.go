package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a system user. XP is the cumulative score, clamped
// at zero; the per-session deltas that produced it live on Session rows.
type User struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Username  string    `json:"username" db:"username"`
	XP        int       `json:"xp" db:"xp"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
