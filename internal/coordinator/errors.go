package coordinator

import (
	"errors"
	"fmt"

	"github.com/roach88/starcore/internal/temporal"
)

// ApplyError represents a failure to apply one event.
type ApplyError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Kind is the entity kind the coordinator manages.
	Kind string

	// Identity is the logical identity the event pertains to, when known.
	Identity string

	// EventID identifies the inbound event, when known.
	EventID string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes apply failures.
type ErrorCode string

const (
	// ErrCodeStoreUnavailable indicates a transient read/write failure of the
	// store. The caller owns the retry policy.
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"

	// ErrCodeInconsistentState indicates a stored invariant is broken, for
	// example two current rows for one identity. Never repaired silently.
	ErrCodeInconsistentState ErrorCode = "INCONSISTENT_STATE"

	// ErrCodeRejected indicates the event cannot be applied, for example
	// because required fields are missing. Reprocessing will not help.
	ErrCodeRejected ErrorCode = "REJECTED"
)

// Error implements the error interface.
func (e *ApplyError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Identity != "" {
		msg = fmt.Sprintf("%s (kind=%s, identity=%s)", msg, e.Kind, e.Identity)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ApplyError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var ae *ApplyError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

// IsStoreUnavailable reports whether err is a transient store failure.
// Uses errors.As to handle wrapped errors.
func IsStoreUnavailable(err error) bool { return hasCode(err, ErrCodeStoreUnavailable) }

// IsInconsistentState reports whether err is a broken stored invariant.
func IsInconsistentState(err error) bool { return hasCode(err, ErrCodeInconsistentState) }

// IsRejected reports whether err marks an event that can never be applied.
func IsRejected(err error) bool { return hasCode(err, ErrCodeRejected) }

// newStoreError classifies a store failure. ErrMultipleCurrent surfaces as
// inconsistent state, everything else as unavailable.
func newStoreError(kind, identity, op string, err error) *ApplyError {
	code := ErrCodeStoreUnavailable
	if errors.Is(err, temporal.ErrMultipleCurrent) {
		code = ErrCodeInconsistentState
	}
	return &ApplyError{
		Code:     code,
		Kind:     kind,
		Identity: identity,
		Message:  op + " failed",
		Err:      err,
	}
}

// NewRejectedError creates an ApplyError for an event that can never apply.
func NewRejectedError(kind, eventID, reason string) *ApplyError {
	return &ApplyError{
		Code:    ErrCodeRejected,
		Kind:    kind,
		EventID: eventID,
		Message: reason,
	}
}
