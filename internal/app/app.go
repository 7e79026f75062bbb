// Package app wires the log store, signal bus and archives for one data
// directory. There is no package-level state: everything hangs off App.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/cardlog/internal/archive"
	"github.com/roach88/cardlog/internal/config"
	"github.com/roach88/cardlog/internal/coord"
	"github.com/roach88/cardlog/internal/engine"
	"github.com/roach88/cardlog/internal/store"
)

// App owns every durable resource of a data directory.
type App struct {
	cfg    config.Config
	logger *slog.Logger
	log    *store.Store
	bus    *coord.StoreBus

	mu       sync.Mutex
	archives map[string]*archive.Store

	cancel context.CancelFunc
	group  *errgroup.Group
}

// Open creates the data directory if needed, opens the session log and
// starts polling for signals from other processes.
func Open(cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	log, err := store.Open(cfg.LogPath())
	if err != nil {
		return nil, fmt.Errorf("open log store: %w", err)
	}
	bus, err := coord.NewStoreBus(log.DB(),
		coord.WithPollInterval(cfg.PollInterval),
		coord.WithLogger(logger),
	)
	if err != nil {
		log.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bus.Run(ctx) })

	logger.Debug("app opened", "data_dir", cfg.DataDir)
	return &App{
		cfg:      cfg,
		logger:   logger,
		log:      log,
		bus:      bus,
		archives: make(map[string]*archive.Store),
		cancel:   cancel,
		group:    g,
	}, nil
}

// Close stops polling and closes every database.
func (a *App) Close() error {
	a.cancel()
	err := a.group.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for name, s := range a.archives {
		err = errors.Join(err, s.Close())
		delete(a.archives, name)
	}
	return errors.Join(err, a.log.Close())
}

// Config returns the configuration the app was opened with.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the app logger.
func (a *App) Logger() *slog.Logger { return a.logger }

// Log returns the session log store.
func (a *App) Log() store.Log { return a.log }

// Bus returns the cross-process signal bus.
func (a *App) Bus() coord.Bus { return a.bus }

// Sessions lists session ids with at least one event.
func (a *App) Sessions(ctx context.Context) ([]string, error) {
	return a.log.Sessions(ctx)
}

// OpenSession opens an Instance on the session log.
func (a *App) OpenSession(ctx context.Context, sessionID string, opts ...engine.Option) (*engine.Instance, error) {
	base := []engine.Option{
		engine.WithLogger(a.logger),
		engine.WithSnapshotInterval(a.cfg.SnapshotInterval),
	}
	return engine.Open(ctx, a.log, a.bus, sessionID, append(base, opts...)...)
}

// Archiver returns an Archiver over the named archive, opening its database
// on first use.
func (a *App) Archiver(name string) (*archive.Archiver, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	games, ok := a.archives[name]
	if !ok {
		var err error
		games, err = archive.Open(a.cfg.ArchivePath(name))
		if err != nil {
			return nil, fmt.Errorf("open archive %s: %w", name, err)
		}
		a.archives[name] = games
	}
	return archive.NewArchiver(a.log, games, a.bus,
		archive.WithLogger(a.logger),
		archive.WithEnrichLimit(a.cfg.EnrichLimit),
	), nil
}

// NewLogger builds the slog handler selected by level and format.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	l, err := config.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: l}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
