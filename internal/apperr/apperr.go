// internal/apperr/apperr.go
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches every ResourceNotFound error.
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidStatusTransition matches every rejected state change.
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	// ErrConflict is returned when a write collides with existing data.
	ErrConflict = errors.New("conflict")
	// ErrUnauthorized is returned for bad credentials or tokens.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited is returned when a caller exceeds its request budget.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// NotFoundError identifies the kind and id of an absent entity.
type NotFoundError struct {
	Kind string
	ID   string
}

// NotFound builds a ResourceNotFound error for the given entity kind and id.
func NotFound(kind string, id any) error {
	return &NotFoundError{Kind: kind, ID: fmt.Sprint(id)}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found with id %s", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// TransitionError is a business rule violation on a state change.
type TransitionError struct {
	Message string
}

// InvalidTransition builds an InvalidStatusTransition error.
func InvalidTransition(format string, args ...any) error {
	return &TransitionError{Message: fmt.Sprintf(format, args...)}
}

func (e *TransitionError) Error() string {
	return e.Message
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidStatusTransition
}

// ConflictError carries a user facing message for ErrConflict.
type ConflictError struct {
	Message string
}

// Conflict builds an ErrConflict error with a message.
func Conflict(format string, args ...any) error {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

func (e *ConflictError) Error() string {
	return e.Message
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// ValidationError captures field level problems with caller input.
type ValidationError struct {
	FieldErrors map[string]string
}

func (v *ValidationError) Error() string {
	return "validation failed"
}

// Add records a problem for field.
func (v *ValidationError) Add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// HasErrors reports whether any problem was recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// OrNil returns v as an error only when it holds problems.
func (v *ValidationError) OrNil() error {
	if v.HasErrors() {
		return v
	}
	return nil
}

// Kind maps an error to a stable logging label.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidStatusTransition):
		return "invalid_transition"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}
	return "unexpected"
}
