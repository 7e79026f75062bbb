package store

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// migrations upgrade a database created by an older build. The slice
// index plus one is the user_version the migration produces.
var migrations = []func(*sql.DB) error{
	// v1: an event id may appear once per session. Restore relies on it
	// to copy a bundle without duplicating events.
	func(db *sql.DB) error {
		_, err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_events_session_event_id
			ON events(session_id, event_id)`)
		return err
	},
	// v2: snapshot lookups scan downward from a height.
	func(db *sql.DB) error {
		_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_snapshots_session_height
			ON snapshots(session_id, height DESC)`)
		return err
	},
}

// SchemaVersion is the user_version of a fully migrated database.
func SchemaVersion() int {
	return len(migrations)
}

// Store is the SQLite Log. One file holds every session of a data
// directory.
type Store struct {
	db *sql.DB
}

var _ Log = (*Store)(nil)

// Open opens or creates the log database at path and brings its schema
// up to date. Opening an existing file is a no-op apart from migrations.
func Open(path string) (*Store, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// OpenDB returns a configured handle without touching the schema.
// The archive and the signal table share this setup.
//
// Transactions begin IMMEDIATE so the height read inside an append holds
// the write lock until commit. A single connection serializes writers.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, p := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return db, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the handle for the signal table that lives in the same file.
func (s *Store) DB() *sql.DB {
	return s.db
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	for v := version; v < len(migrations); v++ {
		if err := migrations[v](db); err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			return fmt.Errorf("set user_version %d: %w", v+1, err)
		}
	}
	return nil
}

// pragma reads a single pragma value.
func (s *Store) pragma(name string) (string, error) {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return value, nil
}
