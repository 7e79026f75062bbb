package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/cardlog/internal/archive"
	"github.com/roach88/cardlog/internal/bot"
	"github.com/roach88/cardlog/internal/coord"
	"github.com/roach88/cardlog/internal/engine"
	"github.com/roach88/cardlog/internal/event"
	"github.com/roach88/cardlog/internal/reducer"
	"github.com/roach88/cardlog/internal/store/memory"
	"github.com/roach88/cardlog/internal/testutil"
)

// DefaultMaxSteps bounds an autoplay step that names no limit.
const DefaultMaxSteps = 10000

// Harness is the execution environment of one scenario run: a fresh
// in-memory log, bus and archive with deterministic ids and timestamps.
type Harness struct {
	log      *memory.Store
	games    *archive.Store
	archiver *archive.Archiver
	instance *engine.Instance
	session  string
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each run gets its own stores, so runs are isolated and a scenario run
// twice produces the same trace. The returned error reports a broken
// environment; step and assertion failures are recorded in the Result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	games, err := archive.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory archive: %w", err)
	}
	defer games.Close()

	clock := testutil.NewDeterministicClock()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	log := memory.New()
	bus := coord.NewLocalBus()

	factory := &event.Factory{IDs: testutil.NewSequentialIDs("evt"), Clock: clock.Next}
	in, err := engine.Open(ctx, log, bus, scenario.Session,
		engine.WithFactory(factory),
		engine.WithLogger(logger),
		engine.WithOrigin("harness"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	defer in.Close()

	h := &Harness{
		log:   log,
		games: games,
		archiver: archive.NewArchiver(log, games, bus,
			archive.WithLogger(logger),
			archive.WithClock(clock.Next),
			archive.WithIDs(testutil.NewSequentialIDs("game")),
		),
		instance: in,
		session:  scenario.Session,
		logger:   logger,
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i+1, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	result.Height = in.Height()
	result.State = in.State()
	records, err := h.archiver.ListGames(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list games: %w", err)
	}
	result.Games = len(records)

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// executeStep runs one step and records its outcome. Engine errors are
// outcomes; only a failure of the environment itself is returned.
func (h *Harness) executeStep(ctx context.Context, n int, step Step, result *Result) error {
	kind := step.Kind()
	var (
		detail  string
		outcome string
		err     error
	)

	switch kind {
	case KindAppend:
		detail = step.Append.Type
		outcome, err = h.appendSpecs(ctx, []EventSpec{*step.Append})

	case KindBatch:
		detail = fmt.Sprintf("%d events", len(step.Batch))
		outcome, err = h.appendSpecs(ctx, step.Batch)

	case KindStart:
		detail = fmt.Sprintf("seed=%s rounds=%d", step.Start.Seed, step.Start.Rounds)
		var ps []event.Payload
		ps, err = reducer.StartGame(step.Start.Seed, step.Start.Rounds, step.Start.Players)
		if err == nil {
			outcome, err = h.appendPayloads(ctx, ps)
		}

	case KindAutoplay:
		opts := []bot.DriverOption{
			bot.WithHumans(step.Autoplay.Humans...),
			bot.WithRevealPause(step.Autoplay.Reveal),
			bot.WithLogger(h.logger),
		}
		limit := step.Autoplay.MaxSteps
		if limit <= 0 {
			limit = DefaultMaxSteps
		}
		var steps int
		steps, err = bot.NewDriver(h.instance, opts...).Run(ctx, limit)
		outcome = fmt.Sprintf("%d steps, phase %s", steps, h.instance.State().SP.Phase)

	case KindArchive:
		var rec *archive.GameRecord
		rec, err = h.archiver.ArchiveCurrentGameAndReset(ctx, h.session, archive.Meta{Title: step.Archive.Title})
		switch {
		case err != nil:
		case rec == nil:
			outcome = "nothing to archive"
		default:
			outcome = fmt.Sprintf("record %s", rec.ID)
		}
		if err == nil {
			err = h.instance.Rehydrate(ctx)
		}

	case KindRestore:
		detail = step.Restore
		var ok bool
		ok, err = h.archiver.RestoreGame(ctx, h.session, step.Restore)
		if err == nil {
			outcome = "missing"
			if ok {
				err = h.instance.Rehydrate(ctx)
				outcome = fmt.Sprintf("restored height %d", h.instance.Height())
			}
		}

	default:
		return fmt.Errorf("no action")
	}

	if err != nil {
		code := errorCode(err)
		if code == "" {
			return err
		}
		outcome = "error " + code
		if step.ExpectError != code {
			result.AddError(fmt.Sprintf("step %d (%s): unexpected error: %v", n, kind, err))
		}
	} else if step.ExpectError != "" {
		result.AddError(fmt.Sprintf("step %d (%s): expected %s, got %s", n, kind, step.ExpectError, outcome))
	}

	h.logger.Info("scenario step completed", "step", n, "kind", kind, "outcome", outcome)
	result.AddTrace(n, kind, detail, outcome)
	return nil
}

func (h *Harness) appendSpecs(ctx context.Context, specs []EventSpec) (string, error) {
	ps := make([]event.Payload, len(specs))
	for i, spec := range specs {
		p, err := spec.Decode()
		if err != nil {
			return "", err
		}
		ps[i] = p
	}
	return h.appendPayloads(ctx, ps)
}

func (h *Harness) appendPayloads(ctx context.Context, ps []event.Payload) (string, error) {
	res, err := h.instance.AppendPayloads(ctx, ps...)
	if err != nil {
		return "", err
	}
	if res.Cancelled {
		return fmt.Sprintf("cancelled at height %d", res.Height), nil
	}
	return fmt.Sprintf("height %d", res.Height), nil
}

// errorCode returns the engine error code of err, or "" for any other error.
func errorCode(err error) string {
	var e *engine.Error
	if errors.As(err, &e) {
		return string(e.Code)
	}
	return ""
}
