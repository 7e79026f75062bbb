package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/roach88/cardlog/internal/coord"
	"github.com/roach88/cardlog/internal/event"
	"github.com/roach88/cardlog/internal/reducer"
	"github.com/roach88/cardlog/internal/state"
	"github.com/roach88/cardlog/internal/store"
)

// DefaultSnapshotInterval is how many events separate snapshots.
const DefaultSnapshotInterval = 20

// Result is the outcome of a write.
//
// Cancelled is set when a reset or restore signal arrived before the write
// committed. The caller should re-derive its intent from fresh state; events
// that were already durable are not rolled back.
type Result struct {
	Height    int64
	Cancelled bool
}

// ChangeKind says what produced a Change.
type ChangeKind string

const (
	ChangeAppend     ChangeKind = "append"
	ChangeBatch      ChangeKind = "batch"
	ChangeRehydrate  ChangeKind = "rehydrate"
	ChangeTimeTravel ChangeKind = "time-travel"
)

// Change is delivered to subscribers after each committed job.
// State is the state to display: the preview while time traveling. Each
// listener gets its own copy.
type Change struct {
	Kind   ChangeKind
	Height int64
	Events int
	State  state.AppState
}

// Listener receives changes on the writer goroutine. It must not call back
// into blocking Instance methods.
type Listener func(Change)

// Warning codes.
const (
	WarnSnapshotCorrupt = "snapshot-corrupt"
	WarnSnapshotWrite   = "snapshot-write-failed"
)

// Warning is a non-fatal problem worth showing to the user.
type Warning struct {
	Code    string
	Message string
	Height  int64
}

// Option configures an Instance.
type Option func(*Instance)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(in *Instance) {
		if l != nil {
			in.logger = l
		}
	}
}

// WithSnapshotInterval sets the snapshot spacing. Zero disables snapshots.
func WithSnapshotInterval(n int64) Option {
	return func(in *Instance) {
		in.snapshotEvery = max(n, 0)
	}
}

// WithFactory sets the factory used by AppendPayloads and the bot helpers.
func WithFactory(f *event.Factory) Option {
	return func(in *Instance) {
		if f != nil {
			in.factory = f
		}
	}
}

// WithOrigin sets the id this instance uses to recognize its own signals.
func WithOrigin(origin string) Option {
	return func(in *Instance) {
		in.origin = origin
	}
}

// Instance is the single-writer authority over one open session.
//
// Thread-safety model:
//   - Append, AppendMany, Rehydrate, SetTimeTravelHeight: safe from any
//     goroutine; serialized through the job queue
//   - State, Height, View and the other getters: safe from any goroutine
//   - PreviewAt: safe from any goroutine; reads the log directly
type Instance struct {
	log           store.Log
	bus           coord.Bus
	sessionID     string
	origin        string
	logger        *slog.Logger
	factory       *event.Factory
	snapshotEvery int64

	queue       *jobQueue
	cancel      context.CancelFunc
	done        chan struct{}
	unsubscribe func()
	closeOnce   sync.Once

	pendingBatches atomic.Int32

	mu           sync.RWMutex
	st           state.AppState
	height       int64
	ready        bool
	failed       error
	epoch        uint64
	travel       *int64
	travelSt     state.AppState
	warnings     []Warning
	listeners    map[int]Listener
	nextListener int
}

// Open loads the session from log and starts its writer loop.
// bus may be nil when no other instance shares the log.
func Open(ctx context.Context, log store.Log, bus coord.Bus, sessionID string, opts ...Option) (*Instance, error) {
	in := &Instance{
		log:           log,
		bus:           bus,
		sessionID:     sessionID,
		logger:        slog.Default(),
		factory:       event.NewFactory(),
		snapshotEvery: DefaultSnapshotInterval,
		queue:         newJobQueue(),
		done:          make(chan struct{}),
		st:            state.New(),
		listeners:     make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.origin == "" {
		in.origin = uuid.NewString()
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	in.cancel = cancel
	go in.run(loopCtx)

	if bus != nil {
		in.unsubscribe = bus.OnSignal(coord.SessionTopic(sessionID), in.onSignal)
	}

	if err := in.Rehydrate(ctx); err != nil {
		in.Close()
		return nil, fmt.Errorf("open session %s: %w", sessionID, err)
	}

	in.logger.Info("instance ready",
		"session", sessionID,
		"origin", in.origin,
		"height", in.Height(),
	)
	return in, nil
}

// Close stops the writer loop. Queued writes fail with ErrClosed.
func (in *Instance) Close() error {
	in.closeOnce.Do(func() {
		if in.unsubscribe != nil {
			in.unsubscribe()
		}
		in.queue.Close()
		in.cancel()
		<-in.done
	})
	return nil
}

// Append persists one event.
func (in *Instance) Append(ctx context.Context, e event.Event) (Result, error) {
	return in.submit(ctx, job{kind: jobWrite, events: []event.Event{e}})
}

// AppendMany persists events as one batch: all or none are written, and
// subscribers are notified once.
func (in *Instance) AppendMany(ctx context.Context, events []event.Event) (Result, error) {
	if len(events) == 0 {
		return Result{}, ErrEmptyBatch
	}
	return in.submit(ctx, job{kind: jobWrite, events: slices.Clone(events), batch: len(events) > 1})
}

// AppendPayloads stamps payloads with the instance factory and appends them
// as one batch.
func (in *Instance) AppendPayloads(ctx context.Context, ps ...event.Payload) (Result, error) {
	if len(ps) == 0 {
		return Result{}, ErrEmptyBatch
	}
	events := in.factory.Batch(ps...)
	if len(events) == 1 {
		return in.Append(ctx, events[0])
	}
	return in.AppendMany(ctx, events)
}

// Rehydrate reloads state from the log and notifies subscribers.
func (in *Instance) Rehydrate(ctx context.Context) error {
	_, err := in.submit(ctx, job{kind: jobRehydrate})
	return err
}

// SetTimeTravelHeight displays the state at height h. A nil h returns to
// the live state. Writes are refused while traveling.
func (in *Instance) SetTimeTravelHeight(ctx context.Context, h *int64) error {
	var target *int64
	if h != nil {
		v := *h
		target = &v
	}
	_, err := in.submit(ctx, job{kind: jobTravel, target: target})
	return err
}

// submit enqueues j and waits for its reply.
func (in *Instance) submit(ctx context.Context, j job) (Result, error) {
	j.reply = make(chan outcome, 1)
	if j.batch {
		in.pendingBatches.Add(1)
	}

	// Read the epoch and enqueue under one lock so a signal cannot slip
	// between them.
	in.mu.Lock()
	j.epoch = in.epoch
	ok := in.queue.Enqueue(j)
	in.mu.Unlock()

	if !ok {
		if j.batch {
			in.pendingBatches.Add(-1)
		}
		return Result{}, ErrClosed
	}

	select {
	case out := <-j.reply:
		return out.result, out.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// onSignal runs on the bus goroutine. It never blocks: it bumps the epoch,
// which cancels every write already queued, and queues a rehydrate.
func (in *Instance) onSignal(msg coord.Message) {
	if msg.Origin == in.origin {
		return
	}
	switch msg.Type {
	case coord.MessageReset, coord.MessageRestored:
	case coord.MessageResync:
		// Signals may have been lost: reload, but leave queued writes to
		// the height check.
		in.mu.RLock()
		epoch := in.epoch
		in.queue.Enqueue(job{kind: jobRehydrate, epoch: epoch, reply: make(chan outcome, 1)})
		in.mu.RUnlock()
		in.logger.Info("session resync requested", "session", in.sessionID)
		return
	default:
		return
	}

	in.mu.Lock()
	in.epoch++
	epoch := in.epoch
	in.queue.Enqueue(job{kind: jobRehydrate, exitTravel: true, epoch: epoch, reply: make(chan outcome, 1)})
	in.mu.Unlock()

	in.logger.Info("session invalidated by signal",
		"session", in.sessionID,
		"type", msg.Type,
		"from", msg.Origin,
		"height", msg.Height,
	)
}

// run is the writer loop.
// CRITICAL: all state mutations happen on this goroutine.
func (in *Instance) run(ctx context.Context) {
	defer close(in.done)

	for {
		if ctx.Err() != nil {
			in.drain()
			return
		}

		if j, ok := in.queue.TryDequeue(); ok {
			in.process(ctx, j)
			continue
		}

		select {
		case <-ctx.Done():
			in.drain()
			return
		case _, open := <-in.queue.Wait():
			if !open && in.queue.Len() == 0 {
				return
			}
		}
	}
}

// drain fails every queued job after shutdown.
func (in *Instance) drain() {
	for {
		j, ok := in.queue.TryDequeue()
		if !ok {
			return
		}
		if j.batch {
			in.pendingBatches.Add(-1)
		}
		j.reply <- outcome{err: ErrClosed}
	}
}

func (in *Instance) process(ctx context.Context, j job) {
	var out outcome
	switch j.kind {
	case jobWrite:
		out = in.write(ctx, j)
		if j.batch {
			in.pendingBatches.Add(-1)
		}
	case jobRehydrate:
		out.err = in.rehydrate(ctx, true, j.exitTravel)
		out.result.Height = in.Height()
	case jobTravel:
		out.err = in.travelTo(ctx, j.target)
		out.result.Height = in.Height()
	default:
		out.err = fmt.Errorf("unknown job kind: %d", j.kind)
	}
	j.reply <- out
}

// write validates, persists and commits one write job.
func (in *Instance) write(ctx context.Context, j job) outcome {
	in.mu.RLock()
	epoch, failed, traveling := in.epoch, in.failed, in.travel != nil
	base, height := in.st, in.height
	in.mu.RUnlock()

	if failed != nil {
		return outcome{err: NewInvariantViolationError(in.sessionID, height, failed)}
	}
	if j.epoch != epoch {
		return outcome{result: Result{Height: height, Cancelled: true}}
	}
	if traveling {
		return outcome{err: ErrTimeTraveling}
	}

	next, err := in.prepare(base, height, j.events)
	if err != nil {
		return outcome{err: err}
	}

	newHeight, err := in.persist(ctx, height, j.events)
	if store.IsConflict(err) {
		in.logger.Warn("height conflict, rehydrating before retry",
			"session", in.sessionID,
			"expected", height,
			"error", err,
		)
		if err := in.rehydrate(ctx, false, false); err != nil {
			return outcome{err: err}
		}

		in.mu.RLock()
		epoch, base, height = in.epoch, in.st, in.height
		in.mu.RUnlock()
		if j.epoch != epoch {
			in.notify(Change{Kind: ChangeRehydrate, Height: height, State: base})
			return outcome{result: Result{Height: height, Cancelled: true}}
		}

		next, err = in.prepare(base, height, j.events)
		if err != nil {
			in.notify(Change{Kind: ChangeRehydrate, Height: height, State: base})
			return outcome{err: err}
		}
		newHeight, err = in.persist(ctx, height, j.events)
		if store.IsConflict(err) {
			in.notify(Change{Kind: ChangeRehydrate, Height: height, State: base})
			return outcome{err: NewHeightConflictError(in.sessionID, height, err)}
		}
	}
	if errors.Is(err, store.ErrDuplicateEvent) {
		return outcome{err: NewMalformedBatchError(in.sessionID, height, 0, err)}
	}
	if err != nil {
		return outcome{err: fmt.Errorf("append: %w", err)}
	}

	in.mu.Lock()
	if in.epoch != j.epoch {
		// Durable, but a reset or restore overtook us; the queued rehydrate
		// decides what the log now says.
		in.mu.Unlock()
		return outcome{result: Result{Height: newHeight, Cancelled: true}}
	}
	in.st = next
	in.height = newHeight
	in.mu.Unlock()

	in.maybeSnapshot(ctx, height, newHeight, next)

	kind := ChangeAppend
	if len(j.events) > 1 {
		kind = ChangeBatch
	}
	in.notify(Change{Kind: kind, Height: newHeight, Events: len(j.events), State: next})

	in.logger.Debug("events committed",
		"session", in.sessionID,
		"height", newHeight,
		"count", len(j.events),
	)
	return outcome{result: Result{Height: newHeight}}
}

// prepare validates events in order against a tentative fold of the batch.
// Nothing is persisted and the live state is untouched.
func (in *Instance) prepare(base state.AppState, height int64, events []event.Event) (state.AppState, error) {
	next := base
	seen := make(map[string]struct{}, len(events))
	for i, e := range events {
		if err := event.Validate(e); err != nil {
			return base, NewMalformedBatchError(in.sessionID, height, i, err)
		}
		if _, dup := seen[e.EventID]; dup {
			return base, NewMalformedBatchError(in.sessionID, height, i, fmt.Errorf("%w: %s", store.ErrDuplicateEvent, e.EventID))
		}
		seen[e.EventID] = struct{}{}

		if err := reducer.Check(next, e); err != nil {
			return base, NewMalformedBatchError(in.sessionID, height, i, err)
		}
		var err error
		next, err = reducer.Reduce(next, e)
		if err != nil {
			in.fail(err)
			return base, NewInvariantViolationError(in.sessionID, height, err)
		}
	}
	return next, nil
}

func (in *Instance) persist(ctx context.Context, height int64, events []event.Event) (int64, error) {
	if len(events) == 1 {
		return in.log.Append(ctx, in.sessionID, height, events[0])
	}
	return in.log.AppendBatch(ctx, in.sessionID, height, events)
}

// fail puts the instance in its failed state. The last valid state is kept.
func (in *Instance) fail(cause error) {
	in.mu.Lock()
	if in.failed == nil {
		in.failed = cause
	}
	height := in.height
	in.mu.Unlock()

	in.logger.Error("reducer invariant violation",
		"session", in.sessionID,
		"height", height,
		"error", cause,
	)
}

// rehydrate replaces live state with the fold of the log.
func (in *Instance) rehydrate(ctx context.Context, notify, exitTravel bool) error {
	h, err := in.log.Height(ctx, in.sessionID)
	if err != nil {
		return fmt.Errorf("rehydrate: %w", err)
	}
	st, err := in.load(ctx, h)
	if err != nil {
		if errors.Is(err, reducer.ErrInvariant) {
			in.fail(err)
			return NewInvariantViolationError(in.sessionID, h, err)
		}
		return fmt.Errorf("rehydrate: %w", err)
	}

	in.mu.Lock()
	in.st = st
	in.height = h
	in.ready = true
	if exitTravel || (in.travel != nil && *in.travel > h) {
		in.travel = nil
		in.travelSt = state.AppState{}
	}
	in.mu.Unlock()

	if notify {
		in.notify(Change{Kind: ChangeRehydrate, Height: h, State: st})
	}
	return nil
}

// load folds the log up to h, starting from the nearest usable snapshot.
func (in *Instance) load(ctx context.Context, h int64) (state.AppState, error) {
	if h == 0 {
		return state.New(), nil
	}

	base, from := state.New(), int64(0)
	snap, err := in.log.ReadSnapshotNear(ctx, in.sessionID, h)
	if err != nil {
		return state.AppState{}, err
	}
	if snap != nil {
		decoded, err := state.Decode(snap.State)
		if err != nil {
			in.warn(Warning{
				Code:    WarnSnapshotCorrupt,
				Message: fmt.Sprintf("snapshot at height %d is unreadable; replayed from the start", snap.Height),
				Height:  snap.Height,
			})
		} else {
			base, from = decoded, snap.Height
		}
	}

	events, err := in.log.ReadRange(ctx, in.sessionID, from+1, h)
	if err != nil {
		return state.AppState{}, err
	}
	if int64(len(events)) != h-from {
		return state.AppState{}, fmt.Errorf("log changed during read: want %d events, got %d", h-from, len(events))
	}
	return reducer.Fold(base, events)
}

// maybeSnapshot writes a snapshot when a commit crosses an interval boundary.
func (in *Instance) maybeSnapshot(ctx context.Context, from, to int64, st state.AppState) {
	if in.snapshotEvery <= 0 || to/in.snapshotEvery == from/in.snapshotEvery {
		return
	}
	raw, err := state.Encode(st)
	if err == nil {
		err = in.log.WriteSnapshot(ctx, in.sessionID, store.Snapshot{Height: to, State: raw})
	}
	if err != nil {
		in.warn(Warning{
			Code:    WarnSnapshotWrite,
			Message: fmt.Sprintf("snapshot at height %d not written: %v", to, err),
			Height:  to,
		})
	}
}

func (in *Instance) travelTo(ctx context.Context, target *int64) error {
	if target == nil {
		in.mu.Lock()
		in.travel = nil
		in.travelSt = state.AppState{}
		st, h := in.st, in.height
		in.mu.Unlock()
		in.notify(Change{Kind: ChangeTimeTravel, Height: h, State: st})
		return nil
	}

	st, err := in.PreviewAt(ctx, *target)
	if err != nil {
		return fmt.Errorf("time travel: %w", err)
	}
	h := *target
	in.mu.Lock()
	in.travel = &h
	in.travelSt = st
	in.mu.Unlock()
	in.notify(Change{Kind: ChangeTimeTravel, Height: h, State: st})
	return nil
}

// PreviewAt returns the state at height h without touching live state.
func (in *Instance) PreviewAt(ctx context.Context, h int64) (state.AppState, error) {
	current := in.Height()
	if h < 0 || h > current {
		return state.AppState{}, fmt.Errorf("preview at %d: out of range 0..%d", h, current)
	}
	st, err := in.load(ctx, h)
	if err != nil {
		return state.AppState{}, fmt.Errorf("preview at %d: %w", h, err)
	}
	return st, nil
}

// Subscribe registers fn for every committed change. The returned function
// unsubscribes; it is safe to call more than once.
func (in *Instance) Subscribe(fn Listener) func() {
	in.mu.Lock()
	id := in.nextListener
	in.nextListener++
	in.listeners[id] = fn
	in.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			in.mu.Lock()
			delete(in.listeners, id)
			in.mu.Unlock()
		})
	}
}

// notify calls listeners in subscription order with a private copy of the
// state. A panicking listener is logged and skipped.
func (in *Instance) notify(c Change) {
	in.mu.RLock()
	ids := make([]int, 0, len(in.listeners))
	for id := range in.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]Listener, len(ids))
	for i, id := range ids {
		fns[i] = in.listeners[id]
	}
	in.mu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					in.logger.Error("listener panicked", "session", in.sessionID, "panic", r)
				}
			}()
			view := c
			view.State = c.State.Clone()
			fn(view)
		}()
	}
}

func (in *Instance) warn(w Warning) {
	in.mu.Lock()
	in.warnings = append(in.warnings, w)
	in.mu.Unlock()
	in.logger.Warn(w.Message, "session", in.sessionID, "code", w.Code)
}

// State returns a copy of the live state.
func (in *Instance) State() state.AppState {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.st.Clone()
}

// View returns the state to display: the preview while time traveling,
// the live state otherwise.
func (in *Instance) View() state.AppState {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if in.travel != nil {
		return in.travelSt.Clone()
	}
	return in.st.Clone()
}

// Height returns the live height.
func (in *Instance) Height() int64 {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.height
}

// Ready reports whether the first load has completed.
func (in *Instance) Ready() bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.ready
}

// IsBatchPending reports whether a multi-event batch is queued or in flight.
func (in *Instance) IsBatchPending() bool {
	return in.pendingBatches.Load() > 0
}

// TimeTraveling reports whether a past height is displayed.
func (in *Instance) TimeTraveling() bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.travel != nil
}

// TimeTravelHeight returns the displayed past height, if traveling.
func (in *Instance) TimeTravelHeight() (int64, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if in.travel == nil {
		return 0, false
	}
	return *in.travel, true
}

// Warnings returns accumulated warnings, oldest first.
func (in *Instance) Warnings() []Warning {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return slices.Clone(in.warnings)
}

// ClearWarnings drops all warnings.
func (in *Instance) ClearWarnings() {
	in.mu.Lock()
	in.warnings = nil
	in.mu.Unlock()
}

// Failed returns the invariant violation that stopped writes, if any.
func (in *Instance) Failed() error {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.failed
}

// SessionID returns the session this instance serves.
func (in *Instance) SessionID() string { return in.sessionID }

// Origin returns the id this instance stamps on nothing but recognizes on
// signals: the archiver uses it so an instance ignores its own resets.
func (in *Instance) Origin() string { return in.origin }

// Factory returns the factory used to stamp payloads.
func (in *Instance) Factory() *event.Factory { return in.factory }
