// Package errdefs defines the error types shared across attune's packages.
// Callers match them with errors.As; every type unwraps to its cause.
package errdefs

import (
	"errors"
	"fmt"
)

// ValidationError reports bad input. It is always returned before any state
// is mutated.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError with a formatted reason.
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// PersistenceError reports a failed durable operation. The previously
// committed copy of the record is left intact.
type PersistenceError struct {
	UserID string
	Op     string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s for user %q: %v", e.Op, e.UserID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// CollaboratorError reports a failure of an external call, such as reply
// generation. The turn that hit it is aborted.
type CollaboratorError struct {
	Stage string
	Err   error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("collaborator failed during %s: %v", e.Stage, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// CorruptProfileError describes an unreadable durable profile. The store
// recovers from it by starting a fresh profile; it is only surfaced to
// loggers and to Backend diagnostics.
type CorruptProfileError struct {
	UserID string
	Err    error
}

func (e *CorruptProfileError) Error() string {
	return fmt.Sprintf("corrupt profile for user %q: %v", e.UserID, e.Err)
}

func (e *CorruptProfileError) Unwrap() error { return e.Err }

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsPersistence reports whether err is or wraps a PersistenceError.
func IsPersistence(err error) bool {
	var p *PersistenceError
	return errors.As(err, &p)
}

// IsCollaborator reports whether err is or wraps a CollaboratorError.
func IsCollaborator(err error) bool {
	var c *CollaboratorError
	return errors.As(err, &c)
}
