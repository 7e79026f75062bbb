package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/cardlog/internal/event"
)

// Height returns the number of events in the session.
func (s *Store) Height(ctx context.Context, sessionID string) (int64, error) {
	var h int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(height), 0) FROM events WHERE session_id = ?", sessionID,
	).Scan(&h)
	if err != nil {
		return 0, fmt.Errorf("height: %w", err)
	}
	return h, nil
}

// ReadRange returns events at heights from..to inclusive, ordered by height.
// Returns an empty slice (not nil) when the range holds no events.
func (s *Store) ReadRange(ctx context.Context, sessionID string, from, to int64) ([]event.Event, error) {
	from = max(from, 1)
	if to < from {
		return []event.Event{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT height, event_id, type, payload, ts
		FROM events
		WHERE session_id = ? AND height BETWEEN ? AND ?
		ORDER BY height ASC
	`, sessionID, from, to)
	if err != nil {
		return nil, fmt.Errorf("read range: %w", err)
	}
	defer rows.Close()

	events := []event.Event{}
	next := from
	for rows.Next() {
		var (
			h       int64
			id, typ string
			payload string
			ts      int64
		)
		if err := rows.Scan(&h, &id, &typ, &payload, &ts); err != nil {
			return nil, fmt.Errorf("read range: scan: %w", err)
		}
		if h != next {
			return nil, fmt.Errorf("read range: session %s has a gap at height %d", sessionID, next)
		}
		next++

		p, err := event.DecodePayload(event.Type(typ), []byte(payload))
		if err != nil {
			return nil, fmt.Errorf("read range: height %d: %w", h, err)
		}
		events = append(events, event.Event{Type: event.Type(typ), Payload: p, EventID: id, TS: ts})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read range: iterate: %w", err)
	}
	return events, nil
}

// ReadSnapshotNear returns the latest snapshot at or below height, or nil.
func (s *Store) ReadSnapshotNear(ctx context.Context, sessionID string, height int64) (*Snapshot, error) {
	var (
		h   int64
		raw string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT height, state FROM snapshots
		WHERE session_id = ? AND height <= ?
		ORDER BY height DESC
		LIMIT 1
	`, sessionID, height).Scan(&h, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return &Snapshot{Height: h, State: []byte(raw)}, nil
}

// Meta returns a per-session value.
func (s *Store) Meta(ctx context.Context, sessionID, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM session_meta WHERE session_id = ? AND key = ?", sessionID, key,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("meta %s: %w", key, err)
	}
	return v, true, nil
}

// Sessions lists session ids with at least one event, in id order.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT session_id FROM events ORDER BY session_id COLLATE BINARY ASC")
	if err != nil {
		return nil, fmt.Errorf("sessions: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sessions: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sessions: iterate: %w", err)
	}
	return ids, nil
}
