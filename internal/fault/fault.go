// Package fault defines the error taxonomy shared by the broker core:
// validation failures, dedup-key conflicts, and missing-row errors are
// typed so callers can branch on them with errors.As; anything else that
// bubbles out of the store is an unclassified upstream error and is
// propagated wrapped but otherwise unchanged.
package fault

import (
	"errors"
	"fmt"
)

// ValidationError reports a missing, blank, or malformed input field.
// It is always surfaced to the immediate caller and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Validationf builds a ValidationError for the given field.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ConflictError reports that a dedup key (email or refresh token) is
// already owned by a different tenant. Never auto-resolved.
type ConflictError struct {
	Key   string
	Value string
}

func (e *ConflictError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("conflict: %s already imported by another user", e.Key)
	}
	return fmt.Sprintf("conflict: %s %q already imported by another user", e.Key, e.Value)
}

// NotFoundError reports a mutation or lookup that targeted a missing row.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}
