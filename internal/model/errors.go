package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
)

// ValidationError reports a single invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

func (e ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a new validation error
func NewValidationError(field, message string) ValidationError {
	return ValidationError{Field: field, Message: message}
}

// AuthenticationError means the credential for a provider is missing or no longer accepted.
type AuthenticationError struct {
	Provider Provider
	UserID   string
	Reason   string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed for %s (user %s): %s", e.Provider, e.UserID, e.Reason)
}

// IsAuthenticationError checks if an error is an AuthenticationError (including wrapped errors)
func IsAuthenticationError(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}

// MappingNotFoundError is the soft error for update/delete pushes of an event
// that was never synced to the provider.
type MappingNotFoundError struct {
	EventID  int64
	Provider Provider
}

func (e *MappingNotFoundError) Error() string {
	return fmt.Sprintf("no %s mapping for event %d", e.Provider, e.EventID)
}

// DuplicateEventError is returned by the event store when an identical event
// (title, start, end, calendar, user) already exists.
type DuplicateEventError struct {
	ExistingID int64
	Title      string
	StartTime  time.Time
}

func (e *DuplicateEventError) Error() string {
	return fmt.Sprintf("duplicate of event %d (%q at %s)", e.ExistingID, e.Title, e.StartTime.Format(time.RFC3339))
}

func (e *DuplicateEventError) Unwrap() error { return ErrConflict }

// IsDuplicateEventError checks if error is DuplicateEventError
func IsDuplicateEventError(err error) bool {
	var de *DuplicateEventError
	return errors.As(err, &de)
}
