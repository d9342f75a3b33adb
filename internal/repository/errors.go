// Package repository defines error types that are reused across the store
// implementations and the service layer. These sentinel values allow
// higher layers such as handlers to distinguish between different failure
// scenarios. Callers wrap them with fmt.Errorf("%w: ...") to add detail and
// test them with errors.Is.
package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a document or user is absent. Handlers
// translate it into HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrValidation is returned for missing or malformed input. Handlers
// translate it into HTTP 400.
var ErrValidation = errors.New("validation failed")

// ErrConflict is returned when a conditional write loses because the
// current state no longer satisfies its precondition, for example
// reserving a spot that was just taken. Handlers translate it into 409.
var ErrConflict = errors.New("conflict")

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Handlers translate it into 403.
var ErrForbidden = errors.New("forbidden")

// ErrUnauthorized is returned for bad credentials or an invalidated
// session. Handlers translate it into 401.
var ErrUnauthorized = errors.New("unauthorized")

// ErrTransient marks a failure of the underlying store that may succeed on
// retry (network, pool exhaustion, deadlock). Handlers translate it into 503.
var ErrTransient = errors.New("store unavailable")

// ErrEmailExists is a Conflict raised on duplicate registration.
var ErrEmailExists = fmt.Errorf("%w: email already exists", ErrConflict)

// classify wraps driver-level failures that are worth retrying in
// ErrTransient and leaves everything else untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransient) {
		return err
	}
	var netErr net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, mysql.ErrInvalidConn),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1205, 1213: // lock wait timeout, deadlock
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
	}
	return err
}

// isDuplicate reports whether err is a MySQL unique-key violation.
func isDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
