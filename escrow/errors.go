// Package escrow defines the error kinds shared by the allocator, the store
// and the service. Every error returned across those packages wraps exactly
// one of the sentinels below so callers can branch with errors.Is.
package escrow

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or incomplete input.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks an unknown escrow id.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState marks an operation that is not legal in the escrow's current state.
	ErrInvalidState = errors.New("invalid state")
	// ErrConflict marks an id collision on create.
	ErrConflict = errors.New("conflict")
)

// Error pairs an error kind with the detail shown to the caller.
type Error struct {
	Kind   error
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Unwrap exposes the kind to errors.Is.
func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Validation returns an ErrValidation with the formatted detail.
func Validation(format string, args ...interface{}) error {
	return newError(ErrValidation, format, args...)
}

// NotFound returns an ErrNotFound for the given escrow id.
func NotFound(id string) error {
	return newError(ErrNotFound, "escrow %s not found", id)
}

// InvalidState returns an ErrInvalidState with the formatted detail.
func InvalidState(format string, args ...interface{}) error {
	return newError(ErrInvalidState, format, args...)
}

// Conflict returns an ErrConflict for the given escrow id.
func Conflict(id string) error {
	return newError(ErrConflict, "escrow %s already exists", id)
}

// Detail extracts the caller-facing message from err.
func Detail(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail
	}
	return err.Error()
}
