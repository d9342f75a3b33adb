package middleware

import (
    "github.com/labstack/echo/v4" // Echo framework used for defining middleware and handlers

    "github.com/iliyamo/parking-reservation/internal/identity" // session type stored in the context
)

const sessionKey = "session"

// Session returns the identity session stored by JWTAuth.
func Session(c echo.Context) (identity.Session, bool) {
    s, ok := c.Get(sessionKey).(identity.Session)
    return s, ok
}

// userID is the caller's id for rate-limit keys, or "anon" before
// authentication.
func userID(c echo.Context) string {
    if s, ok := Session(c); ok && s.UserID != "" {
        return s.UserID
    }
    if v, ok := c.Get("user_id").(string); ok && v != "" {
        return v
    }
    return "anon"
}
