package engine

import (
	"context"
	"fmt"

	"github.com/roach88/cardlog/internal/reducer"
	"github.com/roach88/cardlog/internal/state"
	"github.com/roach88/cardlog/internal/store"
)

// SnapshotCheck compares one stored snapshot with a full replay.
type SnapshotCheck struct {
	Height   int64
	Stored   string
	Replayed string
	Err      error
}

// OK reports whether the snapshot matches the replay.
func (c SnapshotCheck) OK() bool {
	return c.Err == nil && c.Stored == c.Replayed
}

// VerifySnapshots replays the whole session and compares every snapshot
// fingerprint against the replayed state at the same height. Results are
// ordered by ascending height.
func VerifySnapshots(ctx context.Context, log store.Log, sessionID string) ([]SnapshotCheck, error) {
	h, err := log.Height(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("verify snapshots: %w", err)
	}

	// Walk snapshots from the top down, then replay once bottom up.
	var snaps []store.Snapshot
	for at := h; at > 0; {
		snap, err := log.ReadSnapshotNear(ctx, sessionID, at)
		if err != nil {
			return nil, fmt.Errorf("verify snapshots: %w", err)
		}
		if snap == nil {
			break
		}
		snaps = append([]store.Snapshot{*snap}, snaps...)
		at = snap.Height - 1
	}
	if len(snaps) == 0 {
		return nil, nil
	}

	events, err := log.ReadRange(ctx, sessionID, 1, h)
	if err != nil {
		return nil, fmt.Errorf("verify snapshots: %w", err)
	}
	if int64(len(events)) != h {
		return nil, fmt.Errorf("verify snapshots: read %d of %d events", len(events), h)
	}

	checks := make([]SnapshotCheck, 0, len(snaps))
	st, from := state.New(), int64(0)
	for _, snap := range snaps {
		check := SnapshotCheck{Height: snap.Height}

		st, err = reducer.Fold(st, events[from:snap.Height])
		if err != nil {
			return nil, fmt.Errorf("verify snapshots: replay to %d: %w", snap.Height, err)
		}
		from = snap.Height

		check.Replayed, err = state.Fingerprint(st)
		if err != nil {
			return nil, fmt.Errorf("verify snapshots: %w", err)
		}
		if stored, err := state.Decode(snap.State); err != nil {
			check.Err = fmt.Errorf("decode snapshot: %w", err)
		} else if check.Stored, err = state.Fingerprint(stored); err != nil {
			check.Err = err
		}
		checks = append(checks, check)
	}
	return checks, nil
}
