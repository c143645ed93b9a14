package user

import (
	"strings"
	"time"
)

// User is a registered account owner.
type User struct {
	ID           int64     `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password"`
	Avatar       string    `json:"avatar" db:"avatar"`
	RefreshToken string    `json:"-" db:"refresh_token"`
	Confirmed    bool      `json:"confirmed" db:"confirmed"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// NormalizeEmail is the canonical form used for storage and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
