package middleware

import (
    "net/http" // HTTP status codes for responses

    "github.com/labstack/echo/v4" // Echo framework used for defining middleware and handlers

    "github.com/iliyamo/parking-reservation/internal/model" // role constants
)

// RequireRole admits callers whose identity session carries one of roles.
// Mount it after JWTAuth; without a session the request is unauthorized.
func RequireRole(roles ...model.Role) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            // JWTAuth must have run first.
            sess, ok := Session(c)
            if !ok {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not signed in"})
            }
            for _, r := range roles {
                if sess.Role == r {
                    return next(c)
                }
            }
            // No role matched.
            c.Logger().Debugf("role: %s denied %s %s", sess.Role, c.Request().Method, c.Path())
            return c.JSON(http.StatusForbidden, echo.Map{"error": "role " + string(sess.Role) + " may not call this endpoint"})
        }
    }
}
