// Package identity models the authenticated user as an explicit session
// object. A Session is created at login, resolved from the access token's
// sid claim on every request and invalidated at logout. Long-lived work
// started on behalf of a session (websocket feeds) binds its context to
// the session id so invalidation tears it down.
package identity

import (
	"time"

	"github.com/iliyamo/parking-reservation/internal/model"
)

// Session is one logged-in identity.
type Session struct {
	ID        string     `json:"sid"`
	UserID    string     `json:"user_id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	Role      model.Role `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// IsStaff reports whether the session carries the STAFF role.
func (s Session) IsStaff() bool { return s.Role == model.RoleStaff }

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool { return !now.Before(s.ExpiresAt) }

// Owns reports whether the session may act on a resource owned by userID.
// Staff may act on any resource.
func (s Session) Owns(userID string) bool { return s.IsStaff() || s.UserID == userID }
