package middleware

import (
    "context"  // Authenticate runs under the request context
    "errors"   // matching the transient sentinel
    "net/http" // HTTP status codes for responses
    "strings"  // string utilities for prefix checking and trimming

    "github.com/labstack/echo/v4" // Echo framework used for defining middleware and handlers

    "github.com/iliyamo/parking-reservation/internal/identity"   // session resolved from the token
    "github.com/iliyamo/parking-reservation/internal/repository" // error sentinels
)

// Authenticator resolves a raw access token into a live identity session.
// service.Service implements it.
type Authenticator interface {
    Authenticate(ctx context.Context, rawAccess string) (identity.Session, error)
}

// JWTAuth validates the Bearer access token and checks that the identity
// session it names is still open. On success it stores the session under
// "session" and its user id and role under "user_id" and "role".
//
// Websocket clients cannot set headers from a browser, so the token is
// also accepted from the access_token query parameter on upgrade requests.
func JWTAuth(auth Authenticator) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            // Read the token from the Authorization header, or from the
            // query string on a websocket upgrade.
            raw := bearer(c)
            if raw == "" {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
            }
            // Verify the signature and expiry, then check that the session
            // named by the sid claim has not been logged out.
            sess, err := auth.Authenticate(c.Request().Context(), raw)
            if err != nil {
                // A registry outage is not the caller's fault.
                if errors.Is(err, repository.ErrTransient) {
                    return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "session store unavailable"})
                }
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
            }
            // Store the session for handlers and the role check.
            c.Set(sessionKey, sess)
            c.Set("user_id", sess.UserID)
            c.Set("role", string(sess.Role))
            return next(c)
        }
    }
}

func bearer(c echo.Context) string {
    h := c.Request().Header.Get("Authorization")
    if strings.HasPrefix(h, "Bearer ") {
        return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
    }
    if strings.EqualFold(c.Request().Header.Get("Upgrade"), "websocket") {
        return c.QueryParam("access_token")
    }
    return ""
}
