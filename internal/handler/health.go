package handler

import (
	"net/http" // HTTP status codes

	"github.com/labstack/echo/v4" // Echo framework for HTTP routing
)

// Health is the liveness check used by load balancers. It does not touch
// the store.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}
