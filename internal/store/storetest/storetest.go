// Package storetest checks that a store.Log implementation honors the
// log contract. Each implementation's tests call Run with a constructor.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/roach88/cardlog/internal/event"
	"github.com/roach88/cardlog/internal/store"
)

// Open returns a fresh, empty log. Cleanup is the caller's concern.
type Open func(t *testing.T) store.Log

// Run executes the contract tests against logs created by open.
func Run(t *testing.T, open Open) {
	t.Run("EmptySession", func(t *testing.T) { testEmptySession(t, open(t)) })
	t.Run("AppendAndRead", func(t *testing.T) { testAppendAndRead(t, open(t)) })
	t.Run("Conflict", func(t *testing.T) { testConflict(t, open(t)) })
	t.Run("BatchAllOrNothing", func(t *testing.T) { testBatchAllOrNothing(t, open(t)) })
	t.Run("EmptyBatch", func(t *testing.T) { testEmptyBatch(t, open(t)) })
	t.Run("ReadRangeBounds", func(t *testing.T) { testReadRangeBounds(t, open(t)) })
	t.Run("PayloadFidelity", func(t *testing.T) { testPayloadFidelity(t, open(t)) })
	t.Run("Snapshots", func(t *testing.T) { testSnapshots(t, open(t)) })
	t.Run("ResetAndMeta", func(t *testing.T) { testResetAndMeta(t, open(t)) })
	t.Run("Replace", func(t *testing.T) { testReplace(t, open(t)) })
	t.Run("SessionsIsolated", func(t *testing.T) { testSessionsIsolated(t, open(t)) })
	t.Run("ConcurrentWritersOneWinner", func(t *testing.T) { testConcurrentWriters(t, open(t)) })
}

// Event builds a score event with a predictable id.
func Event(n int) event.Event {
	return event.Event{
		Type:    event.TypeScoreAdded,
		Payload: event.ScoreAdded{PlayerID: "p1", Delta: n},
		EventID: fmt.Sprintf("evt-%04d", n),
		TS:      int64(1000 + n),
	}
}

func testEmptySession(t *testing.T, log store.Log) {
	ctx := context.Background()
	h, err := log.Height(ctx, "s1")
	if err != nil {
		t.Fatalf("Height() failed: %v", err)
	}
	if h != 0 {
		t.Errorf("Height() = %d, want 0", h)
	}
	events, err := log.ReadRange(ctx, "s1", 1, 10)
	if err != nil {
		t.Fatalf("ReadRange() failed: %v", err)
	}
	if events == nil || len(events) != 0 {
		t.Errorf("ReadRange() = %v, want empty non-nil slice", events)
	}
	snap, err := log.ReadSnapshotNear(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("ReadSnapshotNear() failed: %v", err)
	}
	if snap != nil {
		t.Errorf("ReadSnapshotNear() = %+v, want nil", snap)
	}
}

func testAppendAndRead(t *testing.T, log store.Log) {
	ctx := context.Background()
	h, err := log.Append(ctx, "s1", 0, Event(1))
	if err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	if h != 1 {
		t.Errorf("Append() height = %d, want 1", h)
	}

	h, err = log.AppendBatch(ctx, "s1", 1, []event.Event{Event(2), Event(3)})
	if err != nil {
		t.Fatalf("AppendBatch() failed: %v", err)
	}
	if h != 3 {
		t.Errorf("AppendBatch() height = %d, want 3", h)
	}

	events, err := log.ReadRange(ctx, "s1", 1, 3)
	if err != nil {
		t.Fatalf("ReadRange() failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("ReadRange() returned %d events, want 3", len(events))
	}
	for i, e := range events {
		want := Event(i + 1)
		if e.EventID != want.EventID || e.TS != want.TS || e.Type != want.Type {
			t.Errorf("event %d = %+v, want %+v", i+1, e, want)
		}
		if e.Payload != want.Payload {
			t.Errorf("event %d payload = %+v, want %+v", i+1, e.Payload, want.Payload)
		}
	}
}

func testConflict(t *testing.T, log store.Log) {
	ctx := context.Background()
	if _, err := log.Append(ctx, "s1", 0, Event(1)); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	_, err := log.Append(ctx, "s1", 0, Event(2))
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("stale Append() error = %v, want ErrConflict", err)
	}
	var conflict *store.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("stale Append() error = %T, want *ConflictError", err)
	}
	if conflict.Expected != 0 || conflict.Actual != 1 {
		t.Errorf("conflict = %+v, want expected 0 actual 1", conflict)
	}

	_, err = log.Append(ctx, "s1", 5, Event(2))
	if !store.IsConflict(err) {
		t.Errorf("future Append() error = %v, want conflict", err)
	}

	h, _ := log.Height(ctx, "s1")
	if h != 1 {
		t.Errorf("Height() = %d after rejected appends, want 1", h)
	}
}

func testBatchAllOrNothing(t *testing.T, log store.Log) {
	ctx := context.Background()
	if _, err := log.Append(ctx, "s1", 0, Event(1)); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	// Third event reuses an existing id.
	dup := Event(4)
	dup.EventID = Event(1).EventID
	_, err := log.AppendBatch(ctx, "s1", 1, []event.Event{Event(2), Event(3), dup})
	if !errors.Is(err, store.ErrDuplicateEvent) {
		t.Fatalf("AppendBatch() error = %v, want ErrDuplicateEvent", err)
	}

	h, _ := log.Height(ctx, "s1")
	if h != 1 {
		t.Errorf("Height() = %d after failed batch, want 1", h)
	}
	events, _ := log.ReadRange(ctx, "s1", 1, 10)
	if len(events) != 1 {
		t.Errorf("ReadRange() returned %d events after failed batch, want 1", len(events))
	}
}

func testEmptyBatch(t *testing.T, log store.Log) {
	_, err := log.AppendBatch(context.Background(), "s1", 0, nil)
	if !errors.Is(err, store.ErrEmptyBatch) {
		t.Errorf("AppendBatch(nil) error = %v, want ErrEmptyBatch", err)
	}
}

func testReadRangeBounds(t *testing.T, log store.Log) {
	ctx := context.Background()
	batch := []event.Event{Event(1), Event(2), Event(3), Event(4), Event(5)}
	if _, err := log.AppendBatch(ctx, "s1", 0, batch); err != nil {
		t.Fatalf("AppendBatch() failed: %v", err)
	}

	tests := []struct {
		from, to int64
		want     []string
	}{
		{2, 4, []string{"evt-0002", "evt-0003", "evt-0004"}},
		{0, 1, []string{"evt-0001"}},
		{4, 99, []string{"evt-0004", "evt-0005"}},
		{3, 2, nil},
		{6, 9, nil},
	}
	for _, tt := range tests {
		events, err := log.ReadRange(ctx, "s1", tt.from, tt.to)
		if err != nil {
			t.Fatalf("ReadRange(%d, %d) failed: %v", tt.from, tt.to, err)
		}
		if len(events) != len(tt.want) {
			t.Errorf("ReadRange(%d, %d) returned %d events, want %d", tt.from, tt.to, len(events), len(tt.want))
			continue
		}
		for i, e := range events {
			if e.EventID != tt.want[i] {
				t.Errorf("ReadRange(%d, %d)[%d] = %s, want %s", tt.from, tt.to, i, e.EventID, tt.want[i])
			}
		}
	}
}

func testPayloadFidelity(t *testing.T, log store.Log) {
	ctx := context.Background()
	in := []event.Event{
		{
			Type:    event.TypePlayerAdded,
			Payload: event.PlayerAdded{ID: "p1", Name: "Zoë <&> \"quoted\""},
			EventID: "a",
			TS:      1,
		},
		{
			Type:    "future/thing",
			Payload: event.Unknown{Tag: "future/thing", Raw: []byte(`{"b":[1,2],"a":null}`)},
			EventID: "b",
			TS:      2,
		},
	}
	if _, err := log.AppendBatch(ctx, "s1", 0, in); err != nil {
		t.Fatalf("AppendBatch() failed: %v", err)
	}
	out, err := log.ReadRange(ctx, "s1", 1, 2)
	if err != nil {
		t.Fatalf("ReadRange() failed: %v", err)
	}
	for i := range in {
		want, _ := event.EncodePayload(in[i].Payload)
		got, _ := event.EncodePayload(out[i].Payload)
		if string(got) != string(want) {
			t.Errorf("payload %d = %s, want %s", i, got, want)
		}
		if out[i].Type != in[i].Type {
			t.Errorf("type %d = %s, want %s", i, out[i].Type, in[i].Type)
		}
	}
}

func testSnapshots(t *testing.T, log store.Log) {
	ctx := context.Background()
	for _, h := range []int64{10, 20, 30} {
		snap := store.Snapshot{Height: h, State: []byte(fmt.Sprintf(`{"h":%d}`, h))}
		if err := log.WriteSnapshot(ctx, "s1", snap); err != nil {
			t.Fatalf("WriteSnapshot(%d) failed: %v", h, err)
		}
	}

	tests := []struct {
		at   int64
		want int64
	}{
		{9, 0},
		{10, 10},
		{25, 20},
		{100, 30},
	}
	for _, tt := range tests {
		snap, err := log.ReadSnapshotNear(ctx, "s1", tt.at)
		if err != nil {
			t.Fatalf("ReadSnapshotNear(%d) failed: %v", tt.at, err)
		}
		if tt.want == 0 {
			if snap != nil {
				t.Errorf("ReadSnapshotNear(%d) = %d, want nil", tt.at, snap.Height)
			}
			continue
		}
		if snap == nil || snap.Height != tt.want {
			t.Errorf("ReadSnapshotNear(%d) = %+v, want height %d", tt.at, snap, tt.want)
			continue
		}
		if string(snap.State) != fmt.Sprintf(`{"h":%d}`, tt.want) {
			t.Errorf("ReadSnapshotNear(%d) state = %s", tt.at, snap.State)
		}
	}

	// Overwrite in place.
	if err := log.WriteSnapshot(ctx, "s1", store.Snapshot{Height: 20, State: []byte(`{"v":2}`)}); err != nil {
		t.Fatalf("WriteSnapshot() overwrite failed: %v", err)
	}
	snap, _ := log.ReadSnapshotNear(ctx, "s1", 20)
	if snap == nil || string(snap.State) != `{"v":2}` {
		t.Errorf("overwritten snapshot = %+v", snap)
	}

	if err := log.WriteSnapshot(ctx, "s1", store.Snapshot{Height: 0}); err == nil {
		t.Error("WriteSnapshot(height 0) should fail")
	}
}

func testResetAndMeta(t *testing.T, log store.Log) {
	ctx := context.Background()
	if _, err := log.AppendBatch(ctx, "s1", 0, []event.Event{Event(1), Event(2)}); err != nil {
		t.Fatalf("AppendBatch() failed: %v", err)
	}
	if err := log.WriteSnapshot(ctx, "s1", store.Snapshot{Height: 2, State: []byte(`{}`)}); err != nil {
		t.Fatalf("WriteSnapshot() failed: %v", err)
	}
	if err := log.SetMeta(ctx, "s1", store.MetaOrigin, "rec-1"); err != nil {
		t.Fatalf("SetMeta() failed: %v", err)
	}
	if err := log.SetMeta(ctx, "s1", store.MetaOrigin, "rec-2"); err != nil {
		t.Fatalf("SetMeta() overwrite failed: %v", err)
	}
	v, ok, err := log.Meta(ctx, "s1", store.MetaOrigin)
	if err != nil || !ok || v != "rec-2" {
		t.Fatalf("Meta() = %q, %v, %v; want rec-2", v, ok, err)
	}

	err = log.Reset(ctx, "s1", 1)
	var conflict *store.ConflictError
	if !errors.As(err, &conflict) || conflict.Actual != 2 {
		t.Fatalf("Reset(stale) error = %v, want conflict at 2", err)
	}
	if h, _ := log.Height(ctx, "s1"); h != 2 {
		t.Fatalf("stale Reset() deleted events: height %d", h)
	}

	if err := log.Reset(ctx, "s1", 2); err != nil {
		t.Fatalf("Reset() failed: %v", err)
	}
	h, _ := log.Height(ctx, "s1")
	if h != 0 {
		t.Errorf("Height() after reset = %d, want 0", h)
	}
	if snap, _ := log.ReadSnapshotNear(ctx, "s1", 100); snap != nil {
		t.Errorf("snapshot survived reset: %+v", snap)
	}
	if _, ok, _ := log.Meta(ctx, "s1", store.MetaOrigin); ok {
		t.Error("meta survived reset")
	}

	// Event ids are reusable after a reset.
	if _, err := log.Append(ctx, "s1", 0, Event(1)); err != nil {
		t.Fatalf("Append() after reset failed: %v", err)
	}
}

func testReplace(t *testing.T, log store.Log) {
	ctx := context.Background()
	if _, err := log.AppendBatch(ctx, "s1", 0, []event.Event{Event(1), Event(2), Event(3)}); err != nil {
		t.Fatalf("AppendBatch() failed: %v", err)
	}
	if err := log.WriteSnapshot(ctx, "s1", store.Snapshot{Height: 3, State: []byte(`{}`)}); err != nil {
		t.Fatalf("WriteSnapshot() failed: %v", err)
	}
	bundle := []event.Event{Event(7), Event(8)}
	meta := map[string]string{store.MetaOrigin: "rec-7"}

	if _, err := log.Replace(ctx, "s1", 2, bundle, meta); !store.IsConflict(err) {
		t.Fatalf("Replace(stale) error = %v, want conflict", err)
	}
	if h, _ := log.Height(ctx, "s1"); h != 3 {
		t.Fatalf("stale Replace() changed the log: height %d", h)
	}
	if _, ok, _ := log.Meta(ctx, "s1", store.MetaOrigin); ok {
		t.Fatal("stale Replace() wrote meta")
	}

	if _, err := log.Replace(ctx, "s1", 3, []event.Event{Event(9), Event(9)}, nil); !errors.Is(err, store.ErrDuplicateEvent) {
		t.Fatalf("Replace(duplicate ids) error = %v, want ErrDuplicateEvent", err)
	}
	if h, _ := log.Height(ctx, "s1"); h != 3 {
		t.Fatalf("failed Replace() changed the log: height %d", h)
	}

	h, err := log.Replace(ctx, "s1", 3, bundle, meta)
	if err != nil {
		t.Fatalf("Replace() failed: %v", err)
	}
	if h != 2 {
		t.Errorf("Replace() height = %d, want 2", h)
	}
	events, err := log.ReadRange(ctx, "s1", 1, 10)
	if err != nil {
		t.Fatalf("ReadRange() failed: %v", err)
	}
	if len(events) != 2 || events[0].EventID != "evt-0007" || events[1].EventID != "evt-0008" {
		t.Errorf("ReadRange() after Replace = %v", events)
	}
	if snap, _ := log.ReadSnapshotNear(ctx, "s1", 100); snap != nil {
		t.Errorf("snapshot survived replace: %+v", snap)
	}
	if v, ok, _ := log.Meta(ctx, "s1", store.MetaOrigin); !ok || v != "rec-7" {
		t.Errorf("Meta() after Replace = %q, %v; want rec-7", v, ok)
	}
	if _, err := log.Append(ctx, "s1", 2, Event(10)); err != nil {
		t.Errorf("Append() after Replace failed: %v", err)
	}
}

func testSessionsIsolated(t *testing.T, log store.Log) {
	ctx := context.Background()
	if _, err := log.Append(ctx, "a", 0, Event(1)); err != nil {
		t.Fatalf("Append(a) failed: %v", err)
	}
	if _, err := log.Append(ctx, "b", 0, Event(1)); err != nil {
		t.Fatalf("Append(b) with same event id failed: %v", err)
	}
	if err := log.Reset(ctx, "a", 1); err != nil {
		t.Fatalf("Reset(a) failed: %v", err)
	}
	if h, _ := log.Height(ctx, "b"); h != 1 {
		t.Errorf("Height(b) = %d after Reset(a), want 1", h)
	}
}

// testConcurrentWriters races writers that all observed height 0: exactly
// one may win, and every loser gets a conflict.
func testConcurrentWriters(t *testing.T, log store.Log) {
	ctx := context.Background()
	const writers = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 1; i <= writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := log.AppendBatch(ctx, "s1", 0, []event.Event{Event(n*10 + 1), Event(n*10 + 2)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case store.IsConflict(err):
				conflicts++
			default:
				t.Errorf("writer %d: unexpected error %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 || conflicts != writers-1 {
		t.Errorf("wins = %d, conflicts = %d; want 1 and %d", wins, conflicts, writers-1)
	}
	if h, _ := log.Height(ctx, "s1"); h != 2 {
		t.Errorf("Height() = %d, want 2", h)
	}
}
