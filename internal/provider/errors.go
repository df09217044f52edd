package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mycelian/calsync/internal/model"
)

// Operation names used in errors, logs and metrics.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpList   = "list"
)

// OpForAction maps a push action to its operation name.
func OpForAction(a model.Action) string {
	switch a {
	case model.ActionCreate:
		return OpCreate
	case model.ActionUpdate:
		return OpUpdate
	case model.ActionDelete:
		return OpDelete
	}
	return string(a)
}

// Error is a failed call to a provider: a non-2xx response, a transport
// failure or an undecodable body.
type Error struct {
	Provider   model.Provider
	Op         string
	StatusCode int // 0 for transport failures
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s failed", e.Provider, e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Temporary reports whether retrying may succeed. Transport failures on
// create are not temporary: the remote may have created the event already.
func (e *Error) Temporary() bool {
	switch {
	case e.StatusCode == 0:
		return e.Op != OpCreate && !errors.Is(e.Err, errMalformed)
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

var errMalformed = errors.New("malformed response")

// HTTPError builds the error for a non-2xx response. 401 becomes an
// AuthenticationError carrying the provider error as its reason.
func HTTPError(p model.Provider, op string, conn model.ProviderConnection, status int, body string, retryAfter time.Duration) error {
	msg := strings.TrimSpace(body)
	if len(msg) > 512 {
		msg = msg[:512]
	}
	if status == http.StatusUnauthorized {
		reason := "provider rejected access token"
		if msg != "" {
			reason += ": " + msg
		}
		return &model.AuthenticationError{Provider: p, UserID: conn.UserID, Reason: reason}
	}
	return &Error{Provider: p, Op: op, StatusCode: status, Message: msg, RetryAfter: retryAfter}
}

// TransportError wraps a network-level failure.
func TransportError(p model.Provider, op string, err error) *Error {
	return &Error{Provider: p, Op: op, Err: err}
}

// MalformedError reports a 2xx response whose body could not be used.
func MalformedError(p model.Provider, op string, detail string) *Error {
	return &Error{Provider: p, Op: op, Message: detail, Err: errMalformed}
}

// IsTemporary reports whether err (or anything it wraps) is a retryable provider error.
func IsTemporary(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Temporary()
}

// IsGone reports whether err is a provider answer that the remote event no
// longer exists (404 or 410).
func IsGone(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && (pe.StatusCode == http.StatusNotFound || pe.StatusCode == http.StatusGone)
}

// PullError is the observable form of a failed pull. Callers can tell
// "fetch failed" apart from "no events".
type PullError struct {
	Provider model.Provider
	Err      error
}

func (e *PullError) Error() string {
	return fmt.Sprintf("pull from %s failed: %v", e.Provider, e.Err)
}

func (e *PullError) Unwrap() error { return e.Err }
