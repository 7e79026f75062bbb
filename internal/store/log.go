package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/cardlog/internal/event"
)

// Log is durable, ordered, append-only event storage keyed by session id.
//
// Implemented by *Store (SQLite) and *memory.Store.
type Log interface {
	// Height returns the number of events in the session (0 if none).
	Height(ctx context.Context, sessionID string) (int64, error)

	// Append writes e at height expected+1.
	// Fails with *ConflictError if the session height is not expected.
	Append(ctx context.Context, sessionID string, expected int64, e event.Event) (int64, error)

	// AppendBatch writes events at expected+1..expected+len(events) in one
	// transaction. Either every event is written or none is.
	AppendBatch(ctx context.Context, sessionID string, expected int64, events []event.Event) (int64, error)

	// ReadRange returns events at heights from..to inclusive, in order.
	ReadRange(ctx context.Context, sessionID string, from, to int64) ([]event.Event, error)

	// ReadSnapshotNear returns the snapshot with the greatest height <= height,
	// or nil if there is none.
	ReadSnapshotNear(ctx context.Context, sessionID string, height int64) (*Snapshot, error)

	// WriteSnapshot stores snap, replacing any snapshot at the same height.
	WriteSnapshot(ctx context.Context, sessionID string, snap Snapshot) error

	// Reset deletes every event, snapshot and meta value of the session.
	// Fails with *ConflictError, deleting nothing, if the session height is
	// not expected.
	Reset(ctx context.Context, sessionID string, expected int64) error

	// Replace swaps the session for events and meta in one step: the height
	// check, the clear and the append commit together or not at all.
	// events may be empty.
	Replace(ctx context.Context, sessionID string, expected int64, events []event.Event, meta map[string]string) (int64, error)

	// SetMeta stores a small per-session value. Reset clears it.
	SetMeta(ctx context.Context, sessionID, key, value string) error

	// Meta returns a per-session value and whether it is set.
	Meta(ctx context.Context, sessionID, key string) (string, bool, error)
}

// Snapshot is folded state at a height, encoded by state.Encode.
type Snapshot struct {
	Height int64
	State  []byte
}

// MetaOrigin is the meta key recording the archive record a session was
// restored from.
const MetaOrigin = "origin"

var (
	// ErrConflict is wrapped by every ConflictError.
	ErrConflict = errors.New("height conflict")

	// ErrDuplicateEvent is returned when an event id already exists in the session.
	ErrDuplicateEvent = errors.New("duplicate event id")

	// ErrEmptyBatch is returned by AppendBatch for zero events.
	ErrEmptyBatch = errors.New("empty batch")
)

// ConflictError reports an append whose expected height was stale.
type ConflictError struct {
	SessionID string
	Expected  int64
	Actual    int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("session %s: expected height %d, actual %d", e.SessionID, e.Expected, e.Actual)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// IsConflict reports whether err is a height conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
