package archive

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/cardlog/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Store persists GameRecords in their own SQLite file, one per archive name.
type Store struct {
	db *sql.DB
}

// Open creates or opens the archive database at path.
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := store.OpenDB(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply archive schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put inserts or replaces r.
func (s *Store) Put(ctx context.Context, r GameRecord) error {
	if err := r.Check(); err != nil {
		return fmt.Errorf("put game: %w", err)
	}
	summary, err := json.Marshal(r.Summary)
	if err != nil {
		return fmt.Errorf("put game %s: encode summary: %w", r.ID, err)
	}
	bundle, err := json.Marshal(r.Bundle)
	if err != nil {
		return fmt.Errorf("put game %s: encode bundle: %w", r.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO games (id, title, created_at, finished_at, last_seq, archived, summary, bundle)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			created_at = excluded.created_at,
			finished_at = excluded.finished_at,
			last_seq = excluded.last_seq,
			archived = excluded.archived,
			summary = excluded.summary,
			bundle = excluded.bundle
	`, r.ID, r.Title, r.CreatedAt, r.FinishedAt, r.LastSeq, r.Archived, string(summary), string(bundle))
	if err != nil {
		return fmt.Errorf("put game %s: %w", r.ID, err)
	}
	return nil
}

// Get returns the record with id, or false when there is none.
func (s *Store) Get(ctx context.Context, id string) (GameRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, created_at, finished_at, last_seq, archived, summary, bundle
		FROM games WHERE id = ?
	`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return GameRecord{}, false, nil
	}
	if err != nil {
		return GameRecord{}, false, fmt.Errorf("get game %s: %w", id, err)
	}
	return r, true, nil
}

// List returns every record, most recently finished first.
func (s *Store) List(ctx context.Context) ([]GameRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, created_at, finished_at, last_seq, archived, summary, bundle
		FROM games
		ORDER BY finished_at DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()

	out := []GameRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list games: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	return out, nil
}

// Delete removes the record and reports whether it existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM games WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete game %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete game %s: %w", id, err)
	}
	return n > 0, nil
}

// SetArchived flips the archived flag, the only field of a record that
// changes after it is written.
func (s *Store) SetArchived(ctx context.Context, id string, archived bool) (bool, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE games SET archived = ? WHERE id = ?", archived, id)
	if err != nil {
		return false, fmt.Errorf("set archived %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set archived %s: %w", id, err)
	}
	return n > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (GameRecord, error) {
	var (
		r               GameRecord
		summary, bundle string
	)
	if err := sc.Scan(&r.ID, &r.Title, &r.CreatedAt, &r.FinishedAt, &r.LastSeq, &r.Archived, &summary, &bundle); err != nil {
		return GameRecord{}, err
	}
	if err := json.Unmarshal([]byte(summary), &r.Summary); err != nil {
		return GameRecord{}, fmt.Errorf("decode summary of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(bundle), &r.Bundle); err != nil {
		return GameRecord{}, fmt.Errorf("decode bundle of %s: %w", r.ID, err)
	}
	return r, nil
}
