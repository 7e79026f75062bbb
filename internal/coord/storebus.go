package coord

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const signalsSchema = `
CREATE TABLE IF NOT EXISTS signals (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    topic      TEXT    NOT NULL,
    type       TEXT    NOT NULL,
    session_id TEXT    NOT NULL DEFAULT '',
    height     INTEGER NOT NULL,
    origin     TEXT    NOT NULL,
    created_at INTEGER NOT NULL
)`

// DefaultPollInterval is how often Run checks for new signals.
const DefaultPollInterval = 250 * time.Millisecond

// DefaultRetain bounds the signal table; older rows are pruned on write.
const DefaultRetain = 1000

// StoreBus is the durable fallback transport: signals are rows in a table of
// the shared database and every process polls for rows it has not seen.
// Use it when instances live in different processes.
type StoreBus struct {
	db       *sql.DB
	reg      registry
	interval time.Duration
	retain   int64
	logger   *slog.Logger

	pollMu sync.Mutex
	cursor int64
}

var _ Bus = (*StoreBus)(nil)

// StoreBusOption configures a StoreBus.
type StoreBusOption func(*StoreBus)

// WithPollInterval sets how often Run polls.
func WithPollInterval(d time.Duration) StoreBusOption {
	return func(b *StoreBus) {
		if d > 0 {
			b.interval = d
		}
	}
}

// WithRetain sets how many of the newest signals survive pruning.
func WithRetain(n int64) StoreBusOption {
	return func(b *StoreBus) {
		if n > 0 {
			b.retain = n
		}
	}
}

// WithLogger sets the logger used for poll failures.
func WithLogger(l *slog.Logger) StoreBusOption {
	return func(b *StoreBus) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewStoreBus creates the signal table if needed. Only signals written after
// this call are delivered.
func NewStoreBus(db *sql.DB, opts ...StoreBusOption) (*StoreBus, error) {
	b := &StoreBus{
		db:       db,
		interval: DefaultPollInterval,
		retain:   DefaultRetain,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}

	if _, err := db.Exec(signalsSchema); err != nil {
		return nil, fmt.Errorf("create signals table: %w", err)
	}
	if err := db.QueryRow("SELECT COALESCE(MAX(id), 0) FROM signals").Scan(&b.cursor); err != nil {
		return nil, fmt.Errorf("read signal cursor: %w", err)
	}
	return b, nil
}

// Signal records msg for every poller, including this one.
func (b *StoreBus) Signal(ctx context.Context, topic Topic, msg Message) error {
	res, err := b.db.ExecContext(ctx, `
		INSERT INTO signals (topic, type, session_id, height, origin, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(topic), string(msg.Type), msg.SessionID, msg.Height, msg.Origin, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("signal %s: %w", topic, err)
	}

	id, err := res.LastInsertId()
	if err == nil && id > b.retain {
		if _, err := b.db.ExecContext(ctx, "DELETE FROM signals WHERE id <= ?", id-b.retain); err != nil {
			b.logger.Warn("prune signals failed", "error", err)
		}
	}
	return nil
}

// OnSignal subscribes h to topic. Handlers run on the polling goroutine.
func (b *StoreBus) OnSignal(topic Topic, h Handler) func() {
	return b.reg.add(topic, h)
}

// Poll delivers every signal written since the last poll and returns how
// many were delivered. The cursor only moves once the whole batch has been
// read, so a failed poll is retried from the same place.
//
// Rows pruned before this poller saw them leave a gap in the ids. Every
// subscribed topic then gets a MessageResync ahead of the batch.
func (b *StoreBus) Poll(ctx context.Context) (int, error) {
	b.pollMu.Lock()
	defer b.pollMu.Unlock()

	rows, err := b.db.QueryContext(ctx, `
		SELECT id, topic, type, session_id, height, origin
		FROM signals
		WHERE id > ?
		ORDER BY id ASC
	`, b.cursor)
	if err != nil {
		return 0, fmt.Errorf("poll signals: %w", err)
	}

	type pending struct {
		topic Topic
		msg   Message
	}
	var (
		batch []pending
		first int64
		last  = b.cursor
	)
	for rows.Next() {
		var (
			id    int64
			topic string
			typ   string
			msg   Message
		)
		if err := rows.Scan(&id, &topic, &typ, &msg.SessionID, &msg.Height, &msg.Origin); err != nil {
			rows.Close()
			return 0, fmt.Errorf("poll signals: scan: %w", err)
		}
		if first == 0 {
			first = id
		}
		msg.Type = MessageType(typ)
		batch = append(batch, pending{topic: Topic(topic), msg: msg})
		last = id
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("poll signals: iterate: %w", err)
	}
	rows.Close()

	prev := b.cursor
	b.cursor = last

	// Dispatch after the rows are closed: handlers may touch the database,
	// which has a single connection.
	if first > prev+1 {
		b.logger.Warn("signals pruned before delivery; resyncing", "missed", first-prev-1)
		for _, topic := range b.reg.topics() {
			b.reg.dispatch(topic, Message{Type: MessageResync})
		}
	}
	for _, p := range batch {
		b.reg.dispatch(p.topic, p.msg)
	}
	return len(batch), nil
}

// Run polls until ctx is cancelled.
func (b *StoreBus) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := b.Poll(ctx); err != nil && ctx.Err() == nil {
				b.logger.Warn("signal poll failed", "error", err)
			}
		}
	}
}
