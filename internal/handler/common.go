package handler

import (
	"context"  // per-request timeouts for store calls
	"errors"   // sentinel matching with errors.Is
	"log"      // unexpected failures
	"net/http" // HTTP status codes
	"strconv"  // query parameter parsing
	"time"     // request timeout

	"github.com/labstack/echo/v4" // Echo framework for HTTP routing

	"github.com/iliyamo/parking-reservation/internal/identity"   // caller session type
	"github.com/iliyamo/parking-reservation/internal/middleware" // session stored by JWTAuth
	"github.com/iliyamo/parking-reservation/internal/repository" // error sentinels
)

// requestTimeout bounds every store round trip made on behalf of a request.
const requestTimeout = 5 * time.Second

func reqCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// caller returns the identity session stored by middleware.JWTAuth.
func caller(c echo.Context) (identity.Session, error) {
	s, ok := middleware.Session(c)
	if !ok {
		return identity.Session{}, repository.ErrUnauthorized
	}
	return s, nil
}

// fail writes err as {"error": ...} with the status its sentinel maps to.
// Unclassified errors are logged and reported without detail.
func fail(c echo.Context, err error) error {
	status := statusOf(err)
	// hide internals from the client; the log keeps the cause
	if status == http.StatusInternalServerError {
		log.Printf("handler: %s %s: %v", c.Request().Method, c.Path(), err)
		return c.JSON(status, echo.Map{"error": "internal error"})
	}
	return c.JSON(status, echo.Map{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, repository.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, repository.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, repository.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func queryInt(c echo.Context, name string) (int, error) {
	s := c.QueryParam(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return n, nil
}
