// Package services defines the business logic for owner-scoped records
// (moods, sessions, tasks). This file centralizes the service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer. Errors are wrapped with %w so the underlying cause stays
// reachable for logging.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned when a payload fails type, range or
	// required-field checks. Nothing is persisted.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound indicates that no record has the requested id.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates that the record exists but belongs to another
	// principal.
	ErrForbidden = errors.New("not authorized")

	// ErrConflict is returned when the caller's expected version does not
	// match, or a concurrent writer saved the record first.
	ErrConflict = errors.New("version conflict")

	// ErrStoreFailure wraps any unexpected error from the backing store.
	ErrStoreFailure = errors.New("store failure")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func storeFailure(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreFailure, err)
}
