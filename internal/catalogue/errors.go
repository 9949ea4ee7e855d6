package catalogue

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes catalogue errors.
type ErrorCode string

const (
	// ErrCodeWatchFailed indicates the live watch could not be established.
	ErrCodeWatchFailed ErrorCode = "WATCH_FAILED"

	// ErrCodeStreamError indicates the backend delivered an error event.
	ErrCodeStreamError ErrorCode = "STREAM_ERROR"

	// ErrCodeStreamClosed indicates the backend ended the stream without
	// the subscription being canceled.
	ErrCodeStreamClosed ErrorCode = "STREAM_CLOSED"

	// ErrCodeInvalidID indicates an empty record id was passed to the mutator.
	ErrCodeInvalidID ErrorCode = "INVALID_ID"

	// ErrCodeNotFound indicates the remote store has no document with that id.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeTimeout indicates the update did not finish within the timeout.
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// ErrCodeUpdateFailed covers every other update failure.
	ErrCodeUpdateFailed ErrorCode = "UPDATE_FAILED"
)

// SubscriptionError is a failure of the live watch. It is reported, never
// returned: the store keeps serving the last applied snapshot.
type SubscriptionError struct {
	Code       ErrorCode
	Message    string
	Collection string
	Err        error
}

func (e *SubscriptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (collection=%s): %v", e.Code, e.Message, e.Collection, e.Err)
	}
	return fmt.Sprintf("%s: %s (collection=%s)", e.Code, e.Message, e.Collection)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// MutationError is a failed read status update.
type MutationError struct {
	Code       ErrorCode
	Message    string
	Collection string
	ID         string
	Value      bool
	Err        error
}

func (e *MutationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (collection=%s, id=%s): %v", e.Code, e.Message, e.Collection, e.ID, e.Err)
	}
	return fmt.Sprintf("%s: %s (collection=%s, id=%s)", e.Code, e.Message, e.Collection, e.ID)
}

func (e *MutationError) Unwrap() error {
	return e.Err
}

// IsSubscriptionError returns true if err is or wraps a SubscriptionError.
func IsSubscriptionError(err error) bool {
	var se *SubscriptionError
	return errors.As(err, &se)
}

// IsMutationError returns true if err is or wraps a MutationError.
func IsMutationError(err error) bool {
	var me *MutationError
	return errors.As(err, &me)
}

// IsNotFound returns true if err is a MutationError for an unknown id.
func IsNotFound(err error) bool {
	var me *MutationError
	if errors.As(err, &me) {
		return me.Code == ErrCodeNotFound
	}
	return false
}
