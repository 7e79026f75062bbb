package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/cardlog/internal/canon"
	"github.com/roach88/cardlog/internal/coord"
	"github.com/roach88/cardlog/internal/engine"
	"github.com/roach88/cardlog/internal/event"
	"github.com/roach88/cardlog/internal/store"
)

// DefaultEnrichLimit bounds concurrent replays in EnrichAll.
const DefaultEnrichLimit = 4

// Meta is caller-supplied metadata for a new record.
type Meta struct {
	Title string
}

// Archiver moves games between a live log and an archive Store.
//
// It signals with its own origin, so every Instance on the session,
// including one in this process, rehydrates after a reset or restore.
type Archiver struct {
	log    store.Log
	games  *Store
	bus    coord.Bus
	logger *slog.Logger
	clock  event.Clock
	newID  func() string
	origin string
	limit  int
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Archiver) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock sets the clock stamping FinishedAt.
func WithClock(c event.Clock) Option {
	return func(a *Archiver) {
		if c != nil {
			a.clock = c
		}
	}
}

// WithIDs sets the record id generator.
func WithIDs(ids event.IDGenerator) Option {
	return func(a *Archiver) {
		if ids != nil {
			a.newID = ids.Generate
		}
	}
}

// WithEnrichLimit bounds concurrent replays in EnrichAll.
func WithEnrichLimit(n int) Option {
	return func(a *Archiver) {
		if n > 0 {
			a.limit = n
		}
	}
}

// NewArchiver returns an Archiver over log and games. bus may be nil.
func NewArchiver(log store.Log, games *Store, bus coord.Bus, opts ...Option) *Archiver {
	a := &Archiver{
		log:    log,
		games:  games,
		bus:    bus,
		logger: slog.Default(),
		clock:  event.WallClock,
		newID:  uuid.NewString,
		origin: "archiver-" + uuid.NewString(),
		limit:  DefaultEnrichLimit,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// MaxLogRaces bounds how often archive and restore re-read a log that
// moved under them before giving up with HEIGHT_CONFLICT.
const MaxLogRaces = 3

// ArchiveCurrentGameAndReset freezes the session into a GameRecord and
// resets its log to height 0. It returns nil when there is nothing worth
// keeping: no events or no players.
//
// The reset only happens if the log is still at the archived height. An
// event committed after the read is picked up by re-reading, never lost.
// A session restored from record X is archived back into X.
func (a *Archiver) ArchiveCurrentGameAndReset(ctx context.Context, sessionID string, meta Meta) (*GameRecord, error) {
	var minted string
	for attempt := 1; ; attempt++ {
		rec, err := a.capture(ctx, sessionID, meta, &minted)
		if err != nil {
			return nil, fmt.Errorf("archive %s: %w", sessionID, err)
		}
		if rec == nil {
			a.dropMinted(ctx, minted)
			return nil, nil
		}
		if err := a.games.Put(ctx, *rec); err != nil {
			return nil, fmt.Errorf("archive %s: %w", sessionID, err)
		}

		err = a.log.Reset(ctx, sessionID, rec.LastSeq)
		if err == nil {
			if minted != rec.ID {
				a.dropMinted(ctx, minted)
			}
			a.logger.Info("game archived",
				"session", sessionID,
				"record", rec.ID,
				"events", rec.LastSeq,
				"mode", rec.Summary.Mode,
				"completed", rec.Summary.Completed,
			)
			a.signal(ctx, coord.SessionTopic(sessionID), coord.Message{Type: coord.MessageReset, SessionID: sessionID})
			a.signal(ctx, coord.GamesTopic, coord.Message{Type: coord.MessageGamesChanged})
			return rec, nil
		}
		if !store.IsConflict(err) {
			return nil, fmt.Errorf("archive %s: reset log: %w", sessionID, err)
		}
		if attempt == MaxLogRaces {
			a.dropMinted(ctx, minted)
			return nil, engine.NewHeightConflictError(sessionID, rec.LastSeq, err)
		}
		a.logger.Debug("log moved during archive; re-reading",
			"session", sessionID, "height", rec.LastSeq, "attempt", attempt)
	}
}

// capture reads the whole session into a record. A fresh id is minted at
// most once per archive call and kept in *minted across retries.
func (a *Archiver) capture(ctx context.Context, sessionID string, meta Meta, minted *string) (*GameRecord, error) {
	h, err := a.log.Height(ctx, sessionID)
	if err != nil || h == 0 {
		return nil, err
	}
	events, err := a.log.ReadRange(ctx, sessionID, 1, h)
	if err != nil {
		return nil, err
	}
	if int64(len(events)) != h {
		return nil, fmt.Errorf("read %d of %d events", len(events), h)
	}

	summary, err := Summarize(events)
	if err != nil {
		return nil, err
	}
	if len(summary.Players) == 0 {
		return nil, nil
	}

	id, restored, err := a.log.Meta(ctx, sessionID, store.MetaOrigin)
	if err != nil {
		return nil, err
	}
	if !restored || id == "" {
		restored = false
		if *minted == "" {
			*minted = a.newID()
		}
		id = *minted
	}

	rec := GameRecord{
		ID:         id,
		Title:      meta.Title,
		CreatedAt:  events[0].TS,
		FinishedAt: a.clock(),
		LastSeq:    h,
		Summary:    summary,
		Bundle:     Bundle{LatestSeq: h, Events: events},
	}
	if rec.Title == "" {
		rec.Title = DefaultTitle(summary)
	}
	if restored {
		if prev, ok, err := a.games.Get(ctx, id); err == nil && ok {
			rec.Archived = prev.Archived
			if meta.Title == "" {
				rec.Title = prev.Title
			}
		}
	}
	return &rec, nil
}

// dropMinted removes a record this call created but did not finish.
func (a *Archiver) dropMinted(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if _, err := a.games.Delete(ctx, id); err != nil {
		a.logger.Warn("failed to drop unfinished record", "record", id, "error", err)
	}
}

// RestoreGame replaces the session's log with the record's bundle, keeping
// the original event ids. It returns false without error when the record
// does not exist, and a RESTORE_REFUSED error for a completed game, in which
// case the live log is not touched.
//
// The swap is one store operation: no writer can interleave between the
// reset and the bundle.
func (a *Archiver) RestoreGame(ctx context.Context, sessionID, recordID string) (bool, error) {
	rec, ok, err := a.games.Get(ctx, recordID)
	if err != nil {
		return false, fmt.Errorf("restore %s: %w", recordID, err)
	}
	if !ok {
		a.logger.Info("restore skipped: game not found", "record", recordID)
		return false, nil
	}
	if IsCompleted(rec) {
		a.logger.Info("restore refused: game completed", "record", recordID)
		return false, engine.NewRestoreRefusedError(recordID)
	}
	if err := rec.Check(); err != nil {
		return false, fmt.Errorf("restore %s: %w", recordID, err)
	}
	if _, err := Summarize(rec.Bundle.Events); err != nil {
		return false, engine.NewInvariantViolationError(sessionID, 0, err)
	}

	meta := map[string]string{store.MetaOrigin: rec.ID}
	var h, replaced int64
	for attempt := 1; ; attempt++ {
		if replaced, err = a.log.Height(ctx, sessionID); err != nil {
			return false, fmt.Errorf("restore %s: %w", recordID, err)
		}
		h, err = a.log.Replace(ctx, sessionID, replaced, rec.Bundle.Events, meta)
		if err == nil {
			break
		}
		if !store.IsConflict(err) {
			return false, fmt.Errorf("restore %s: %w", recordID, err)
		}
		if attempt == MaxLogRaces {
			return false, engine.NewHeightConflictError(sessionID, replaced, err)
		}
	}

	a.logger.Info("game restored",
		"session", sessionID,
		"record", recordID,
		"height", h,
		"replaced", replaced,
	)
	a.signal(ctx, coord.SessionTopic(sessionID), coord.Message{Type: coord.MessageRestored, SessionID: sessionID, Height: h})
	return true, nil
}

// ListGames returns every record, most recently finished first.
func (a *Archiver) ListGames(ctx context.Context) ([]GameRecord, error) {
	return a.games.List(ctx)
}

// DeleteGame removes a record and reports whether it existed.
func (a *Archiver) DeleteGame(ctx context.Context, recordID string) (bool, error) {
	ok, err := a.games.Delete(ctx, recordID)
	if err != nil || !ok {
		return ok, err
	}
	a.signal(ctx, coord.GamesTopic, coord.Message{Type: coord.MessageGamesChanged})
	return true, nil
}

// SetArchived flags a record as archived or not.
func (a *Archiver) SetArchived(ctx context.Context, recordID string, archived bool) (bool, error) {
	ok, err := a.games.SetArchived(ctx, recordID, archived)
	if err != nil || !ok {
		return ok, err
	}
	a.signal(ctx, coord.GamesTopic, coord.Message{Type: coord.MessageGamesChanged})
	return true, nil
}

// EnrichAll re-derives every summary from its bundle, replaying at most
// the configured number of records at once. It returns how many records
// changed.
func (a *Archiver) EnrichAll(ctx context.Context) (int, error) {
	recs, err := a.games.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("enrich: %w", err)
	}

	var updated atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.limit)
	for _, rec := range recs {
		g.Go(func() error {
			enriched, err := Enrich(rec)
			if err != nil {
				return err
			}
			if same, err := sameSummary(rec, enriched); err != nil || same {
				return err
			}
			if err := a.games.Put(gctx, enriched); err != nil {
				return err
			}
			updated.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(updated.Load()), fmt.Errorf("enrich: %w", err)
	}
	if n := updated.Load(); n > 0 {
		a.signal(ctx, coord.GamesTopic, coord.Message{Type: coord.MessageGamesChanged})
	}
	return int(updated.Load()), nil
}

// signal is best effort: the log is already consistent, and other
// instances catch up on their next rehydrate.
func (a *Archiver) signal(ctx context.Context, topic coord.Topic, msg coord.Message) {
	if a.bus == nil {
		return
	}
	msg.Origin = a.origin
	if err := a.bus.Signal(ctx, topic, msg); err != nil {
		a.logger.Warn("signal failed", "topic", topic, "type", msg.Type, "error", err)
	}
}

func sameSummary(a, b GameRecord) (bool, error) {
	fa, err := canon.Fingerprint(a.Summary)
	if err != nil {
		return false, err
	}
	fb, err := canon.Fingerprint(b.Summary)
	if err != nil {
		return false, err
	}
	return fa == fb && a.Title == b.Title, nil
}
