package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/cardlog/internal/event"
)

// Append writes e at height expected+1.
func (s *Store) Append(ctx context.Context, sessionID string, expected int64, e event.Event) (int64, error) {
	h, err := s.appendEvents(ctx, sessionID, expected, []event.Event{e})
	if err != nil {
		return 0, fmt.Errorf("append: %w", err)
	}
	return h, nil
}

// AppendBatch writes events in one transaction after checking the height.
func (s *Store) AppendBatch(ctx context.Context, sessionID string, expected int64, events []event.Event) (int64, error) {
	if len(events) == 0 {
		return 0, fmt.Errorf("append batch: %w", ErrEmptyBatch)
	}
	h, err := s.appendEvents(ctx, sessionID, expected, events)
	if err != nil {
		return 0, fmt.Errorf("append batch: %w", err)
	}
	return h, nil
}

func (s *Store) appendEvents(ctx context.Context, sessionID string, expected int64, events []event.Event) (int64, error) {
	// Encode before taking the write lock.
	payloads := make([][]byte, len(events))
	for i, e := range events {
		raw, err := event.EncodePayload(e.Payload)
		if err != nil {
			return 0, fmt.Errorf("encode %s: %w", e.EventID, err)
		}
		payloads[i] = raw
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	actual, err := heightTx(ctx, tx, sessionID)
	if err != nil {
		return 0, err
	}
	if actual != expected {
		return 0, &ConflictError{SessionID: sessionID, Expected: expected, Actual: actual}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (session_id, height, event_id, type, payload, ts)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range events {
		h := expected + int64(i) + 1
		if _, err := stmt.ExecContext(ctx, sessionID, h, e.EventID, string(e.Type), string(payloads[i]), e.TS); err != nil {
			return 0, mapInsertError(err, sessionID, expected, e.EventID)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return expected + int64(len(events)), nil
}

// mapInsertError turns constraint failures into the package's sentinel errors.
// A primary key collision means another connection won the height race
// between our check and our insert.
func mapInsertError(err error, sessionID string, expected int64, eventID string) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintPrimaryKey:
			return &ConflictError{SessionID: sessionID, Expected: expected, Actual: -1}
		case sqlite3.ErrConstraintUnique:
			return fmt.Errorf("%w: %s", ErrDuplicateEvent, eventID)
		}
	}
	return fmt.Errorf("insert event %s: %w", eventID, err)
}

// WriteSnapshot stores snap, replacing any snapshot at the same height.
func (s *Store) WriteSnapshot(ctx context.Context, sessionID string, snap Snapshot) error {
	if snap.Height < 1 {
		return fmt.Errorf("write snapshot: invalid height %d", snap.Height)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (session_id, height, state)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id, height) DO UPDATE SET state = excluded.state
	`, sessionID, snap.Height, string(snap.State))
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Reset deletes the session's events, snapshots and meta if the log is
// still at expected.
func (s *Store) Reset(ctx context.Context, sessionID string, expected int64) error {
	if _, err := s.replace(ctx, sessionID, expected, nil, nil); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// Replace clears the session and writes events and meta in one transaction.
func (s *Store) Replace(ctx context.Context, sessionID string, expected int64, events []event.Event, meta map[string]string) (int64, error) {
	h, err := s.replace(ctx, sessionID, expected, events, meta)
	if err != nil {
		return 0, fmt.Errorf("replace: %w", err)
	}
	return h, nil
}

func (s *Store) replace(ctx context.Context, sessionID string, expected int64, events []event.Event, meta map[string]string) (int64, error) {
	payloads := make([][]byte, len(events))
	for i, e := range events {
		raw, err := event.EncodePayload(e.Payload)
		if err != nil {
			return 0, fmt.Errorf("encode %s: %w", e.EventID, err)
		}
		payloads[i] = raw
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	actual, err := heightTx(ctx, tx, sessionID)
	if err != nil {
		return 0, err
	}
	if actual != expected {
		return 0, &ConflictError{SessionID: sessionID, Expected: expected, Actual: actual}
	}

	for _, table := range []string{"events", "snapshots", "session_meta"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE session_id = ?", sessionID); err != nil {
			return 0, fmt.Errorf("clear %s: %w", table, err)
		}
	}
	for i, e := range events {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO events (session_id, height, event_id, type, payload, ts)
			VALUES (?, ?, ?, ?, ?, ?)
		`, sessionID, int64(i)+1, e.EventID, string(e.Type), string(payloads[i]), e.TS); err != nil {
			return 0, mapInsertError(err, sessionID, 0, e.EventID)
		}
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO session_meta (session_id, key, value) VALUES (?, ?, ?)", sessionID, k, v,
		); err != nil {
			return 0, fmt.Errorf("set meta %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int64(len(events)), nil
}

// SetMeta stores a per-session value.
func (s *Store) SetMeta(ctx context.Context, sessionID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_meta (session_id, key, value)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id, key) DO UPDATE SET value = excluded.value
	`, sessionID, key, value)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

func heightTx(ctx context.Context, tx *sql.Tx, sessionID string) (int64, error) {
	var h int64
	err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(height), 0) FROM events WHERE session_id = ?", sessionID,
	).Scan(&h)
	if err != nil {
		return 0, fmt.Errorf("read height: %w", err)
	}
	return h, nil
}
