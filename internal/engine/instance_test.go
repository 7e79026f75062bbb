package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cardlog/internal/coord"
	"github.com/roach88/cardlog/internal/deck"
	"github.com/roach88/cardlog/internal/event"
	"github.com/roach88/cardlog/internal/state"
	"github.com/roach88/cardlog/internal/store"
	"github.com/roach88/cardlog/internal/store/memory"
	"github.com/roach88/cardlog/internal/testutil"
)

const testSession = "table-1"

func newTestFactory(prefix string) *event.Factory {
	return &event.Factory{
		IDs:   testutil.NewSequentialIDs(prefix),
		Clock: testutil.NewDeterministicClock().Next,
	}
}

func openTestInstance(t *testing.T, log store.Log, bus coord.Bus, opts ...Option) *Instance {
	t.Helper()
	opts = append([]Option{WithFactory(newTestFactory("evt"))}, opts...)
	in, err := Open(context.Background(), log, bus, testSession, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { in.Close() })
	return in
}

// changeRecorder collects notifications.
type changeRecorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *changeRecorder) listen(c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *changeRecorder) got() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Change(nil), r.changes...)
}

func card(suit deck.Suit, rank int) deck.Card {
	return deck.Card{Suit: suit, Rank: rank}
}

// twoSeatSetup deals p1 clubs-2 and hearts-5, p2 diamonds-3 and spades-9,
// with spades trump. p1 deals, so p2 leads.
func twoSeatSetup() []event.Payload {
	return []event.Payload{
		event.PlayerAdded{ID: "p1", Name: "Alice"},
		event.PlayerAdded{ID: "p2", Name: "Bob"},
		event.SeedSet{Seed: "fixed", Rounds: 2},
		event.Deal{
			RoundNo:  1,
			DealerID: "p1",
			Order:    []string{"p1", "p2"},
			Trump:    deck.Spades,
			Hands: map[string][]deck.Card{
				"p1": {card(deck.Clubs, 2), card(deck.Hearts, 5)},
				"p2": {card(deck.Diamonds, 3), card(deck.Spades, 9)},
			},
		},
	}
}

func seedLog(t *testing.T, log store.Log, ps ...event.Payload) {
	t.Helper()
	events := newTestFactory("seed").Batch(ps...)
	_, err := log.AppendBatch(context.Background(), testSession, 0, events)
	require.NoError(t, err)
}

func TestOpen_EmptySession(t *testing.T) {
	in := openTestInstance(t, memory.New(), nil)

	assert.True(t, in.Ready())
	assert.Equal(t, int64(0), in.Height())
	assert.Equal(t, state.New(), in.State())
	assert.False(t, in.TimeTraveling())
	assert.Empty(t, in.Warnings())
	assert.NotEmpty(t, in.Origin())
	assert.Equal(t, testSession, in.SessionID())
}

func TestInstance_AppendNotifies(t *testing.T) {
	in := openTestInstance(t, memory.New(), nil)
	rec := &changeRecorder{}
	in.Subscribe(rec.listen)

	res, err := in.AppendPayloads(context.Background(), event.PlayerAdded{ID: "p1", Name: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, Result{Height: 1}, res)

	changes := rec.got()
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeAppend, changes[0].Kind)
	assert.Equal(t, int64(1), changes[0].Height)
	assert.Equal(t, "Alice", changes[0].State.Players["p1"])
	assert.Equal(t, "Alice", in.State().Players["p1"])
}

func TestInstance_ListenerCannotMutateLiveState(t *testing.T) {
	in := openTestInstance(t, memory.New(), nil)
	in.Subscribe(func(c Change) {
		c.State.Players["p1"] = "Mallory"
		c.State.Order = append(c.State.Order[:0], "p9")
	})
	second := &changeRecorder{}
	in.Subscribe(second.listen)

	_, err := in.AppendPayloads(context.Background(), event.PlayerAdded{ID: "p1", Name: "Alice"})
	require.NoError(t, err)

	assert.Equal(t, "Alice", in.State().Players["p1"])
	assert.Equal(t, []string{"p1"}, in.State().Order)
	require.Len(t, second.got(), 1)
	assert.Equal(t, "Alice", second.got()[0].State.Players["p1"])
}

func TestInstance_DecomposedNameSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	log, err := store.Open(filepath.Join(t.TempDir(), "log.db"))
	require.NoError(t, err)
	defer log.Close()

	name := "Zoe\u0301"
	first := openTestInstance(t, log, nil)
	_, err = first.AppendPayloads(ctx, event.PlayerAdded{ID: "p1", Name: name})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(ctx, log, nil, testSession)
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, name, first.State().Players["p1"])
	assert.Equal(t, first.State(), second.State())

	live, err := state.Fingerprint(first.State())
	require.NoError(t, err)
	replayed, err := state.Fingerprint(second.State())
	require.NoError(t, err)
	assert.Equal(t, live, replayed)
}

func TestInstance_BatchNotifiesOnce(t *testing.T) {
	in := openTestInstance(t, memory.New(), nil)
	rec := &changeRecorder{}
	in.Subscribe(rec.listen)

	res, err := in.AppendPayloads(context.Background(),
		event.PlayerAdded{ID: "p1", Name: "Alice"},
		event.PlayerAdded{ID: "p2", Name: "Bob"},
		event.ScoreAdded{PlayerID: "p1", Delta: 10},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Height)

	changes := rec.got()
	require.Len(t, changes, 1, "observers must never see a partial batch")
	assert.Equal(t, ChangeBatch, changes[0].Kind)
	assert.Equal(t, 3, changes[0].Events)
	assert.Len(t, changes[0].State.Players, 2)
	assert.Equal(t, 10, changes[0].State.Scores["p1"])
	assert.False(t, in.IsBatchPending())
}

func TestInstance_Unsubscribe(t *testing.T) {
	in := openTestInstance(t, memory.New(), nil)
	rec := &changeRecorder{}
	unsubscribe := in.Subscribe(rec.listen)
	unsubscribe()
	unsubscribe()

	_, err := in.AppendPayloads(context.Background(), event.PlayerAdded{ID: "p1", Name: "Alice"})
	require.NoError(t, err)
	assert.Empty(t, rec.got())
}

func TestInstance_PanickingListenerDoesNotStopOthers(t *testing.T) {
	in := openTestInstance(t, memory.New(), nil)
	in.Subscribe(func(Change) { panic("boom") })
	rec := &changeRecorder{}
	in.Subscribe(rec.listen)

	_, err := in.AppendPayloads(context.Background(), event.PlayerAdded{ID: "p1", Name: "Alice"})
	require.NoError(t, err)
	assert.Len(t, rec.got(), 1)
}

func TestInstance_MalformedBatchWritesNothing(t *testing.T) {
	log := memory.New()
	in := openTestInstance(t, log, nil)
	rec := &changeRecorder{}
	in.Subscribe(rec.listen)

	_, err := in.AppendPayloads(context.Background(),
		event.PlayerAdded{ID: "p1", Name: "Alice"},
		event.PlayerAdded{ID: "p2", Name: ""},
	)
	require.Error(t, err)
	assert.True(t, IsMalformedBatch(err), "got %v", err)

	h, err := log.Height(context.Background(), testSession)
	require.NoError(t, err)
	assert.Equal(t, int64(0), h)
	assert.Equal(t, int64(0), in.Height())
	assert.Empty(t, in.State().Players)
	assert.Empty(t, rec.got())
}

func TestInstance_IllegalMoveIsMalformed(t *testing.T) {
	in := openTestInstance(t, memory.New(), nil)
	ctx := context.Background()

	_, err := in.AppendPayloads(ctx, twoSeatSetup()...)
	require.NoError(t, err)

	// p1 plays during bidding.
	_, err = in.AppendPayloads(ctx, event.TrickPlayed{PlayerID: "p1", Card: card(deck.Clubs, 2)})
	require.Error(t, err)
	assert.True(t, IsMalformedBatch(err), "got %v", err)
	assert.Equal(t, int64(4), in.Height())
}

func TestInstance_DuplicateEventIDIsMalformed(t *testing.T) {
	in := openTestInstance(t, memory.New(), nil)
	ctx := context.Background()

	e := event.New(event.PlayerAdded{ID: "p1", Name: "Alice"}, event.WithID("dup"))
	_, err := in.Append(ctx, e)
	require.NoError(t, err)

	_, err = in.Append(ctx, event.New(event.PlayerAdded{ID: "p2", Name: "Bob"}, event.WithID("dup")))
	require.Error(t, err)
	assert.True(t, IsMalformedBatch(err), "got %v", err)
	assert.Equal(t, int64(1), in.Height())
}

func TestInstance_EmptyBatch(t *testing.T) {
	in := openTestInstance(t, memory.New(), nil)

	_, err := in.AppendMany(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestInstance_LosingWriterRetriesOnFreshState(t *testing.T) {
	log := memory.New()
	ctx := context.Background()
	a := openTestInstance(t, log, nil, WithFactory(newTestFactory("a")))
	b := openTestInstance(t, log, nil, WithFactory(newTestFactory("b")))

	_, err := a.AppendPayloads(ctx, event.PlayerAdded{ID: "p1", Name: "Alice"})
	require.NoError(t, err)

	// b still believes the log is empty.
	assert.Equal(t, int64(0), b.Height())
	res, err := b.AppendPayloads(ctx, event.PlayerAdded{ID: "p2", Name: "Bob"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Height)

	assert.Equal(t, map[string]string{"p1": "Alice", "p2": "Bob"}, b.State().Players)
	assert.Equal(t, []string{"p1", "p2"}, b.State().Order)
}

func TestInstance_RetryRevalidatesAgainstFreshState(t *testing.T) {
	log := memory.New()
	ctx := context.Background()
	a := openTestInstance(t, log, nil, WithFactory(newTestFactory("a")))
	b := openTestInstance(t, log, nil, WithFactory(newTestFactory("b")))

	_, err := a.AppendPayloads(ctx, event.PlayerAdded{ID: "p1", Name: "Alice"})
	require.NoError(t, err)

	// Valid against b's stale state, a duplicate against the fresh one.
	_, err = b.AppendPayloads(ctx, event.PlayerAdded{ID: "p1", Name: "Alicia"})
	require.Error(t, err)
	assert.True(t, IsMalformedBatch(err), "got %v", err)
	assert.Equal(t, int64(1), b.Height())
	assert.Equal(t, "Alice", b.State().Players["p1"])
}

// conflictLog loses every height race.
type conflictLog struct {
	*memory.Store
}

func (c conflictLog) Append(ctx context.Context, sessionID string, expected int64, e event.Event) (int64, error) {
	return 0, &store.ConflictError{SessionID: sessionID, Expected: expected, Actual: expected + 1}
}

func (c conflictLog) AppendBatch(ctx context.Context, sessionID string, expected int64, events []event.Event) (int64, error) {
	return 0, &store.ConflictError{SessionID: sessionID, Expected: expected, Actual: expected + 1}
}

func TestInstance_SecondConflictSurfaces(t *testing.T) {
	in := openTestInstance(t, conflictLog{memory.New()}, nil)

	_, err := in.AppendPayloads(context.Background(), event.PlayerAdded{ID: "p1", Name: "Alice"})
	require.Error(t, err)
	assert.True(t, IsHeightConflict(err), "got %v", err)
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, int64(0), in.Height())
}

func TestInstance_TrickResolutionBatch(t *testing.T) {
	log := memory.New()
	seedLog(t, log, append(twoSeatSetup(),
		event.Bid{PlayerID: "p1", Bid: 0},
		event.Bid{PlayerID: "p2", Bid: 1},
		event.PhaseSet{Phase: string(state.PhasePlaying)},
		event.TrickPlayed{PlayerID: "p2", Card: card(deck.Diamonds, 3)},
		event.TrickPlayed{PlayerID: "p1", Card: card(deck.Clubs, 2)},
	)...)

	in := openTestInstance(t, log, nil)
	require.Equal(t, int64(9), in.Height())
	require.NotNil(t, in.State().LiveCard("p1"))
	rec := &changeRecorder{}
	in.Subscribe(rec.listen)

	res, err := in.AppendPayloads(context.Background(),
		event.TrumpBrokenSet{Broken: true},
		event.TrickCleared{WinnerID: "p2"},
		event.LeaderSet{LeaderID: "p2"},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(12), res.Height)

	s := in.State()
	assert.Nil(t, s.LiveCard("p1"))
	assert.Nil(t, s.LiveCard("p2"))
	assert.Equal(t, 1, s.SP.Counts["p2"])
	assert.Equal(t, 0, s.SP.Counts["p1"])
	assert.True(t, s.SP.TrumpBroken)
	assert.Equal(t, "p2", s.SP.LeaderID)
	assert.Equal(t, state.PhasePlaying, s.SP.Phase)
	assert.Len(t, rec.got(), 1)
}

func TestInstance_BotHelpers(t *testing.T) {
	in := openTestInstance(t, memory.New(), nil)
	ctx := context.Background()
	_, err := in.AppendPayloads(ctx, twoSeatSetup()...)
	require.NoError(t, err)

	_, err = in.BotBid(ctx, "p2", func(state.AppState, string) int { return 1 })
	require.NoError(t, err)
	_, err = in.BotBid(ctx, "p1", func(state.AppState, string) int { return 0 })
	require.NoError(t, err)
	_, err = in.AppendPayloads(ctx, event.PhaseSet{Phase: string(state.PhasePlaying)})
	require.NoError(t, err)

	res, err := in.BotPlay(ctx, "p2", func(s state.AppState, seat string) deck.Card {
		return s.SP.Hands[seat][0]
	})
	require.NoError(t, err)
	assert.Equal(t, int64(8), res.Height)
	assert.Equal(t, map[string]int{"p1": 0, "p2": 1}, in.State().SP.Bids)
	assert.Len(t, in.State().SP.Trick, 1)
}

func TestInstance_SnapshotsAtInterval(t *testing.T) {
	log := memory.New()
	ctx := context.Background()
	in := openTestInstance(t, log, nil, WithSnapshotInterval(5))

	_, err := in.AppendPayloads(ctx, event.PlayerAdded{ID: "p1", Name: "Alice"})
	require.NoError(t, err)
	for i := 0; i < 11; i++ {
		_, err := in.AppendPayloads(ctx, event.ScoreAdded{PlayerID: "p1", Delta: 1})
		require.NoError(t, err)
	}
	// A batch crossing 15 snapshots at its final height.
	_, err = in.AppendPayloads(ctx,
		event.ScoreAdded{PlayerID: "p1", Delta: 1},
		event.ScoreAdded{PlayerID: "p1", Delta: 1},
		event.ScoreAdded{PlayerID: "p1", Delta: 1},
		event.ScoreAdded{PlayerID: "p1", Delta: 1},
	)
	require.NoError(t, err)
	require.Equal(t, int64(16), in.Height())

	for _, tc := range []struct{ near, want int64 }{{4, 0}, {9, 5}, {14, 10}, {16, 16}} {
		snap, err := log.ReadSnapshotNear(ctx, testSession, tc.near)
		require.NoError(t, err)
		if tc.want == 0 {
			assert.Nil(t, snap, "near %d", tc.near)
			continue
		}
		require.NotNil(t, snap, "near %d", tc.near)
		assert.Equal(t, tc.want, snap.Height, "near %d", tc.near)
	}

	checks, err := VerifySnapshots(ctx, log, testSession)
	require.NoError(t, err)
	require.Len(t, checks, 3)
	for _, c := range checks {
		assert.True(t, c.OK(), "snapshot at %d: %+v", c.Height, c)
	}

	// A fresh instance loads from the snapshot and agrees with the live one.
	other := openTestInstance(t, log, nil)
	assert.Equal(t, in.State(), other.State())
	assert.Equal(t, 15, other.State().Scores["p1"])
}

func TestInstance_CorruptSnapshotFallsBackToReplay(t *testing.T) {
	log := memory.New()
	ctx := context.Background()
	seedLog(t, log,
		event.PlayerAdded{ID: "p1", Name: "Alice"},
		event.ScoreAdded{PlayerID: "p1", Delta: 3},
	)
	require.NoError(t, log.WriteSnapshot(ctx, testSession, store.Snapshot{Height: 2, State: []byte("not json")}))

	in := openTestInstance(t, log, nil)
	assert.Equal(t, 3, in.State().Scores["p1"])

	warnings := in.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, WarnSnapshotCorrupt, warnings[0].Code)
	assert.Equal(t, int64(2), warnings[0].Height)

	checks, err := VerifySnapshots(ctx, log, testSession)
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.False(t, checks[0].OK())

	in.ClearWarnings()
	assert.Empty(t, in.Warnings())
}

func TestOpen_InvariantViolation(t *testing.T) {
	log := memory.New()
	// p2 never held hearts-14.
	seedLog(t, log, append(twoSeatSetup(),
		event.TrickPlayed{PlayerID: "p2", Card: card(deck.Hearts, 14)},
	)...)

	_, err := Open(context.Background(), log, nil, testSession)
	require.Error(t, err)
	assert.True(t, IsInvariantViolation(err), "got %v", err)
}

func TestInstance_PreviewAt(t *testing.T) {
	in := openTestInstance(t, memory.New(), nil, WithSnapshotInterval(2))
	ctx := context.Background()
	_, err := in.AppendPayloads(ctx,
		event.PlayerAdded{ID: "p1", Name: "Alice"},
		event.PlayerAdded{ID: "p2", Name: "Bob"},
		event.PlayerAdded{ID: "p3", Name: "Cara"},
	)
	require.NoError(t, err)

	for h := int64(0); h <= 3; h++ {
		s, err := in.PreviewAt(ctx, h)
		require.NoError(t, err)
		assert.Len(t, s.Players, int(h), "height %d", h)
	}

	_, err = in.PreviewAt(ctx, 4)
	assert.Error(t, err)
	_, err = in.PreviewAt(ctx, -1)
	assert.Error(t, err)

	assert.Len(t, in.State().Players, 3, "preview must not touch live state")
}

func TestInstance_TimeTravel(t *testing.T) {
	in := openTestInstance(t, memory.New(), nil)
	ctx := context.Background()
	_, err := in.AppendPayloads(ctx,
		event.PlayerAdded{ID: "p1", Name: "Alice"},
		event.PlayerAdded{ID: "p2", Name: "Bob"},
	)
	require.NoError(t, err)
	rec := &changeRecorder{}
	in.Subscribe(rec.listen)

	one := int64(1)
	require.NoError(t, in.SetTimeTravelHeight(ctx, &one))
	assert.True(t, in.TimeTraveling())
	h, ok := in.TimeTravelHeight()
	assert.True(t, ok)
	assert.Equal(t, int64(1), h)
	assert.Len(t, in.View().Players, 1)
	assert.Len(t, in.State().Players, 2)
	assert.Equal(t, int64(2), in.Height())

	_, err = in.AppendPayloads(ctx, event.PlayerAdded{ID: "p3", Name: "Cara"})
	assert.ErrorIs(t, err, ErrTimeTraveling)
	assert.Equal(t, int64(2), in.Height())

	bad := int64(7)
	assert.Error(t, in.SetTimeTravelHeight(ctx, &bad))

	require.NoError(t, in.SetTimeTravelHeight(ctx, nil))
	assert.False(t, in.TimeTraveling())
	assert.Len(t, in.View().Players, 2)

	changes := rec.got()
	require.Len(t, changes, 2)
	assert.Equal(t, ChangeTimeTravel, changes[0].Kind)
	assert.Len(t, changes[0].State.Players, 1)
	assert.Len(t, changes[1].State.Players, 2)
}

func TestInstance_ResetSignalRehydrates(t *testing.T) {
	log := memory.New()
	bus := coord.NewLocalBus()
	ctx := context.Background()
	in := openTestInstance(t, log, bus)

	one := int64(1)
	_, err := in.AppendPayloads(ctx, event.PlayerAdded{ID: "p1", Name: "Alice"})
	require.NoError(t, err)
	require.NoError(t, in.SetTimeTravelHeight(ctx, &one))

	require.NoError(t, log.Reset(ctx, testSession, 1))
	require.NoError(t, bus.Signal(ctx, coord.SessionTopic(testSession), coord.Message{
		Type:      coord.MessageReset,
		SessionID: testSession,
		Origin:    "other-tab",
	}))

	require.Eventually(t, func() bool { return in.Height() == 0 }, time.Second, time.Millisecond)
	assert.Empty(t, in.State().Players)
	assert.False(t, in.TimeTraveling(), "invalidation exits time travel")
}

func TestInstance_ResyncSignalReloadsFromLog(t *testing.T) {
	log := memory.New()
	bus := coord.NewLocalBus()
	ctx := context.Background()
	in := openTestInstance(t, log, bus)

	_, err := in.AppendPayloads(ctx, event.PlayerAdded{ID: "p1", Name: "Alice"})
	require.NoError(t, err)

	// Another process wrote while this instance's signals were lost.
	_, err = log.Append(ctx, testSession, 1, event.New(event.PlayerAdded{ID: "p2", Name: "Bob"}))
	require.NoError(t, err)
	require.NoError(t, bus.Signal(ctx, coord.SessionTopic(testSession), coord.Message{Type: coord.MessageResync}))

	require.Eventually(t, func() bool { return in.Height() == 2 }, time.Second, time.Millisecond)
	assert.Len(t, in.State().Players, 2)

	res, err := in.AppendPayloads(ctx, event.ScoreAdded{PlayerID: "p2", Delta: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Height)
}

func TestInstance_IgnoresOwnSignals(t *testing.T) {
	bus := coord.NewLocalBus()
	in := openTestInstance(t, memory.New(), bus)
	ctx := context.Background()

	for _, msg := range []coord.Message{
		{Type: coord.MessageReset, Origin: in.Origin()},
		{Type: coord.MessageGamesChanged, Origin: "other-tab"},
	} {
		require.NoError(t, bus.Signal(ctx, coord.SessionTopic(testSession), msg))
	}

	in.mu.RLock()
	defer in.mu.RUnlock()
	assert.Equal(t, uint64(0), in.epoch)
	assert.Equal(t, 0, in.queue.Len())
}

func TestInstance_SignalCancelsQueuedWrites(t *testing.T) {
	bus := coord.NewLocalBus()
	in := openTestInstance(t, memory.New(), bus)
	ctx := context.Background()

	// Hold the writer loop inside the first notification.
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	in.Subscribe(func(c Change) {
		if c.Kind != ChangeAppend {
			return
		}
		once.Do(func() {
			close(entered)
			<-release
		})
	})

	type reply struct {
		res Result
		err error
	}
	first := make(chan reply, 1)
	go func() {
		res, err := in.AppendPayloads(ctx, event.PlayerAdded{ID: "p1", Name: "Alice"})
		first <- reply{res, err}
	}()
	<-entered

	second := make(chan reply, 1)
	go func() {
		res, err := in.AppendPayloads(ctx,
			event.PlayerAdded{ID: "p2", Name: "Bob"},
			event.PlayerAdded{ID: "p3", Name: "Cara"},
		)
		second <- reply{res, err}
	}()
	require.Eventually(t, func() bool { return in.queue.Len() == 1 }, time.Second, time.Millisecond)
	assert.True(t, in.IsBatchPending())

	require.NoError(t, bus.Signal(ctx, coord.SessionTopic(testSession), coord.Message{
		Type:   coord.MessageRestored,
		Origin: "other-tab",
	}))
	close(release)

	r1 := <-first
	require.NoError(t, r1.err)
	assert.Equal(t, Result{Height: 1}, r1.res)

	r2 := <-second
	require.NoError(t, r2.err)
	assert.True(t, r2.res.Cancelled)

	require.Eventually(t, func() bool { return in.queue.Len() == 0 && !in.IsBatchPending() }, time.Second, time.Millisecond)
	assert.Equal(t, int64(1), in.Height())
	assert.Len(t, in.State().Players, 1)
}

func TestInstance_Close(t *testing.T) {
	in := openTestInstance(t, memory.New(), nil)
	require.NoError(t, in.Close())
	require.NoError(t, in.Close())

	_, err := in.AppendPayloads(context.Background(), event.PlayerAdded{ID: "p1", Name: "Alice"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestInstance_ContextCancelled(t *testing.T) {
	in := openTestInstance(t, memory.New(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The reply may win the race; either outcome is valid, but never a hang.
	_, err := in.AppendPayloads(ctx, event.PlayerAdded{ID: "p1", Name: "Alice"})
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}
