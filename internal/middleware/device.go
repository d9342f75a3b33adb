package middleware

import (
    "crypto/subtle" // constant-time key comparison
    "net/http"      // HTTP status codes for responses

    "github.com/labstack/echo/v4" // Echo framework used for defining middleware and handlers
)

// DeviceHeader carries the shared key of camera gates.
const DeviceHeader = "X-Device-Key"

// DeviceKey admits requests whose X-Device-Key equals key. An empty key
// rejects every request so the gate routes are closed until configured.
func DeviceKey(key string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            got := c.Request().Header.Get(DeviceHeader)
            // Constant-time compare; an unset key admits nobody.
            if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid device key"})
            }
            return next(c)
        }
    }
}
