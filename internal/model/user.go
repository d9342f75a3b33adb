package model

import (
	"time"

	"gopkg.in/guregu/null.v4"
)

// Role is the user's permission level.
type Role string

const (
	RoleDriver Role = "DRIVER"
	RoleStaff  Role = "STAFF"
)

// User represents an application user record as stored in the
// `users` table.
//
// Fields:
//  ID           – primary key (UUID string).
//  Email        – unique, lower-cased email address.
//  Name         – display name.
//  PasswordHash – bcrypt hashed password; never serialized.
//  Role         – DRIVER or STAFF.
//  CreatedAt    – timestamp of creation.
//  UpdatedAt    – timestamp of last update.
type User struct {
	ID           string    `json:"user_id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RefreshToken models an entry in the `refresh_tokens` table.  The plain
// token is not stored; only its SHA-256 hash.  SessionID ties the token to
// the identity session it was issued for so logout can revoke both.
//
// Fields:
//  UserID    – owner of the token.
//  SessionID – identity session the token belongs to.
//  TokenHash – SHA-256 hex digest of the token value.
//  ExpiresAt – expiration timestamp of the token.
//  RevokedAt – when the token was revoked (null if still active).
type RefreshToken struct {
	UserID    string
	SessionID string
	TokenHash string
	ExpiresAt time.Time
	RevokedAt null.Time
}
