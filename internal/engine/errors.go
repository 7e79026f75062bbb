package engine

import (
	"errors"
	"fmt"
)

// Error represents a failure surfaced by an Instance or by archive restore.
//
// Error codes:
//   - HEIGHT_CONFLICT: another writer won the height race twice in a row
//   - MALFORMED_BATCH: an event failed validation; nothing was written
//   - RESTORE_REFUSED: the archived game is completed and read-only
//   - REDUCER_INVARIANT_VIOLATION: an event could not be folded; the
//     instance keeps its last valid state and refuses further writes
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Key is a stable message key for user-facing text, e.g. "restore.completed".
	Key string

	// SessionID identifies the affected session.
	SessionID string

	// Height is the live height when the error was raised.
	Height int64

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	ErrCodeHeightConflict     ErrorCode = "HEIGHT_CONFLICT"
	ErrCodeMalformedBatch     ErrorCode = "MALFORMED_BATCH"
	ErrCodeRestoreRefused     ErrorCode = "RESTORE_REFUSED"
	ErrCodeInvariantViolation ErrorCode = "REDUCER_INVARIANT_VIOLATION"
)

// KeyRestoreCompleted is the message key of a refused restore.
const KeyRestoreCompleted = "restore.completed"

var (
	// ErrTimeTraveling is returned by writes while a past height is displayed.
	ErrTimeTraveling = errors.New("instance is time traveling")

	// ErrClosed is returned by operations on a closed instance.
	ErrClosed = errors.New("instance is closed")

	// ErrEmptyBatch is returned by AppendMany with no events.
	ErrEmptyBatch = errors.New("empty batch")
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s: %s (session=%s, height=%d)", e.Code, e.Message, e.SessionID, e.Height)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsHeightConflict returns true if the write lost the height race after its retry.
func IsHeightConflict(err error) bool { return hasCode(err, ErrCodeHeightConflict) }

// IsMalformedBatch returns true if the write was rejected by validation.
func IsMalformedBatch(err error) bool { return hasCode(err, ErrCodeMalformedBatch) }

// IsRestoreRefused returns true if a restore targeted a completed game.
func IsRestoreRefused(err error) bool { return hasCode(err, ErrCodeRestoreRefused) }

// IsInvariantViolation returns true if the reducer rejected an event.
func IsInvariantViolation(err error) bool { return hasCode(err, ErrCodeInvariantViolation) }

// NewHeightConflictError creates an Error for a repeated lost race.
func NewHeightConflictError(sessionID string, height int64, cause error) *Error {
	return &Error{
		Code:      ErrCodeHeightConflict,
		Message:   "log kept advancing underneath the write",
		SessionID: sessionID,
		Height:    height,
		Err:       cause,
	}
}

// NewMalformedBatchError creates an Error for the event at index i of a batch.
func NewMalformedBatchError(sessionID string, height int64, i int, cause error) *Error {
	return &Error{
		Code:      ErrCodeMalformedBatch,
		Message:   fmt.Sprintf("event %d rejected: %v", i, cause),
		SessionID: sessionID,
		Height:    height,
		Err:       cause,
	}
}

// NewRestoreRefusedError creates an Error for restoring a completed game.
func NewRestoreRefusedError(recordID string) *Error {
	return &Error{
		Code:    ErrCodeRestoreRefused,
		Message: fmt.Sprintf("game %s is completed and cannot be resumed", recordID),
		Key:     KeyRestoreCompleted,
	}
}

// NewInvariantViolationError creates an Error for a reducer failure.
func NewInvariantViolationError(sessionID string, height int64, cause error) *Error {
	return &Error{
		Code:      ErrCodeInvariantViolation,
		Message:   fmt.Sprintf("reducer rejected event: %v", cause),
		SessionID: sessionID,
		Height:    height,
		Err:       cause,
	}
}
