// Package memory provides an in-memory implementation of store.Log.
// This implementation is suitable for testing and ephemeral sessions.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/cardlog/internal/event"
	"github.com/roach88/cardlog/internal/store"
)

// Store is a thread-safe in-memory implementation of store.Log.
// Events are kept in their encoded form so reads return fresh copies, the
// same as reading from disk.
// The zero value is ready for use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

type session struct {
	events    [][]byte
	ids       map[string]struct{}
	snapshots map[int64][]byte
	meta      map[string]string
}

var _ store.Log = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{sessions: make(map[string]*session)}
}

// sessionLocked returns the session, creating it if needed.
// Caller must hold s.mu for writing.
func (s *Store) sessionLocked(id string) *session {
	if s.sessions == nil {
		s.sessions = make(map[string]*session)
	}
	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{
			ids:       make(map[string]struct{}),
			snapshots: make(map[int64][]byte),
			meta:      make(map[string]string),
		}
		s.sessions[id] = sess
	}
	return sess
}

// Height returns the number of events in the session.
func (s *Store) Height(ctx context.Context, sessionID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sess, ok := s.sessions[sessionID]; ok {
		return int64(len(sess.events)), nil
	}
	return 0, nil
}

// Append writes e at height expected+1.
func (s *Store) Append(ctx context.Context, sessionID string, expected int64, e event.Event) (int64, error) {
	h, err := s.appendEvents(sessionID, expected, []event.Event{e})
	if err != nil {
		return 0, fmt.Errorf("append: %w", err)
	}
	return h, nil
}

// AppendBatch adds events atomically.
// If any event fails validation, no events are appended (all-or-nothing).
func (s *Store) AppendBatch(ctx context.Context, sessionID string, expected int64, events []event.Event) (int64, error) {
	if len(events) == 0 {
		return 0, fmt.Errorf("append batch: %w", store.ErrEmptyBatch)
	}
	h, err := s.appendEvents(sessionID, expected, events)
	if err != nil {
		return 0, fmt.Errorf("append batch: %w", err)
	}
	return h, nil
}

func (s *Store) appendEvents(sessionID string, expected int64, events []event.Event) (int64, error) {
	encoded := make([][]byte, len(events))
	for i, e := range events {
		raw, err := json.Marshal(e)
		if err != nil {
			return 0, fmt.Errorf("encode %s: %w", e.EventID, err)
		}
		encoded[i] = raw
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sessionLocked(sessionID)
	actual := int64(len(sess.events))
	if actual != expected {
		return 0, &store.ConflictError{SessionID: sessionID, Expected: expected, Actual: actual}
	}

	// Validate all events before appending any
	newIDs := make(map[string]struct{}, len(events))
	for _, e := range events {
		if _, exists := sess.ids[e.EventID]; exists {
			return 0, fmt.Errorf("%w: %s", store.ErrDuplicateEvent, e.EventID)
		}
		if _, exists := newIDs[e.EventID]; exists {
			return 0, fmt.Errorf("%w: %s", store.ErrDuplicateEvent, e.EventID)
		}
		newIDs[e.EventID] = struct{}{}
	}

	sess.events = append(sess.events, encoded...)
	for id := range newIDs {
		sess.ids[id] = struct{}{}
	}
	return int64(len(sess.events)), nil
}

// ReadRange returns events at heights from..to inclusive.
// Returns an empty slice if no events match.
func (s *Store) ReadRange(ctx context.Context, sessionID string, from, to int64) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []event.Event{}
	sess, ok := s.sessions[sessionID]
	if !ok {
		return out, nil
	}
	from = max(from, 1)
	to = min(to, int64(len(sess.events)))
	for h := from; h <= to; h++ {
		var e event.Event
		if err := json.Unmarshal(sess.events[h-1], &e); err != nil {
			return nil, fmt.Errorf("read range: height %d: %w", h, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// ReadSnapshotNear returns the latest snapshot at or below height, or nil.
func (s *Store) ReadSnapshotNear(ctx context.Context, sessionID string, height int64) (*store.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	heights := make([]int64, 0, len(sess.snapshots))
	for h := range sess.snapshots {
		if h <= height {
			heights = append(heights, h)
		}
	}
	if len(heights) == 0 {
		return nil, nil
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] > heights[j] })
	best := heights[0]
	return &store.Snapshot{Height: best, State: append([]byte(nil), sess.snapshots[best]...)}, nil
}

// WriteSnapshot stores snap, replacing any snapshot at the same height.
func (s *Store) WriteSnapshot(ctx context.Context, sessionID string, snap store.Snapshot) error {
	if snap.Height < 1 {
		return fmt.Errorf("write snapshot: invalid height %d", snap.Height)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionLocked(sessionID).snapshots[snap.Height] = append([]byte(nil), snap.State...)
	return nil
}

// Reset forgets everything about the session if it is still at expected.
func (s *Store) Reset(ctx context.Context, sessionID string, expected int64) error {
	if _, err := s.Replace(ctx, sessionID, expected, nil, nil); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// Replace swaps the session for events and meta under one lock.
func (s *Store) Replace(ctx context.Context, sessionID string, expected int64, events []event.Event, meta map[string]string) (int64, error) {
	encoded := make([][]byte, len(events))
	ids := make(map[string]struct{}, len(events))
	for i, e := range events {
		if _, dup := ids[e.EventID]; dup {
			return 0, fmt.Errorf("replace: %w: %s", store.ErrDuplicateEvent, e.EventID)
		}
		ids[e.EventID] = struct{}{}
		raw, err := json.Marshal(e)
		if err != nil {
			return 0, fmt.Errorf("replace: encode %s: %w", e.EventID, err)
		}
		encoded[i] = raw
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var actual int64
	if sess, ok := s.sessions[sessionID]; ok {
		actual = int64(len(sess.events))
	}
	if actual != expected {
		return 0, &store.ConflictError{SessionID: sessionID, Expected: expected, Actual: actual}
	}

	delete(s.sessions, sessionID)
	if len(events) == 0 && len(meta) == 0 {
		return 0, nil
	}
	sess := s.sessionLocked(sessionID)
	sess.events = encoded
	sess.ids = ids
	for k, v := range meta {
		sess.meta[k] = v
	}
	return int64(len(events)), nil
}

// SetMeta stores a per-session value.
func (s *Store) SetMeta(ctx context.Context, sessionID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionLocked(sessionID).meta[key] = value
	return nil
}

// Meta returns a per-session value.
func (s *Store) Meta(ctx context.Context, sessionID, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return "", false, nil
	}
	v, ok := sess.meta[key]
	return v, ok, nil
}
