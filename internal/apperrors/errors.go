// Package apperrors holds the error kinds shared by every labdesk component
// and their user-facing rendering.
package apperrors

import "errors"

var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrSessionAlreadyActive = errors.New("session already active")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrNotFound             = errors.New("not found")
	ErrAlreadyAcknowledged  = errors.New("already acknowledged")
	ErrAlreadyDecided       = errors.New("already decided")
	ErrReviewInProgress     = errors.New("review in progress")
	ErrEmptyReason          = errors.New("empty reason")
	ErrRelocationFailed     = errors.New("relocation failed")
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrInvalidInput         = errors.New("invalid input")
	ErrConflict             = errors.New("conflict")
)

type kind struct {
	err     error
	code    string
	message string
}

// kinds is checked in order; the first match wins.
var kinds = []kind{
	{ErrPermissionDenied, "permission_denied", "You are not allowed to perform this action."},
	{ErrInvalidCredentials, "invalid_credentials", "Invalid username or password."},
	{ErrSessionAlreadyActive, "session_already_active", "This account is already logged in on another device."},
	{ErrAlreadyAcknowledged, "already_acknowledged", "This maintenance task was already acknowledged by someone else."},
	{ErrReviewInProgress, "review_in_progress", "This report is being filed right now; try again shortly."},
	{ErrAlreadyDecided, "already_decided", "This report was already reviewed by someone else."},
	{ErrEmptyReason, "empty_reason", "A reason is required to reject a report."},
	{ErrRelocationFailed, "relocation_failed", "The document could not be filed; the report is still pending."},
	{ErrNotFound, "not_found", "The requested item does not exist."},
	{ErrConflict, "conflict", "An item with the same identity already exists."},
	{ErrInvalidInput, "invalid_input", "The request is invalid."},
	{ErrStoreUnavailable, "store_unavailable", "The service is temporarily unavailable. Please try again later."},
}

const (
	internalCode    = "internal"
	internalMessage = "Something went wrong."
)

func lookup(err error) (kind, bool) {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k, true
		}
	}
	return kind{}, false
}

// Message returns a stable message suitable for any role. It never includes
// the wrapped cause.
func Message(err error) string {
	if k, ok := lookup(err); ok {
		return k.message
	}
	return internalMessage
}

// Code returns a machine-readable identifier for the error kind.
func Code(err error) string {
	if k, ok := lookup(err); ok {
		return k.code
	}
	return internalCode
}

// Known reports whether err belongs to the taxonomy.
func Known(err error) bool {
	_, ok := lookup(err)
	return ok
}
