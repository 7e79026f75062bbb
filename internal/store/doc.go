// Package store provides durable, append-only storage for session logs.
//
// A session log is an ordered sequence of events addressed by height, the
// 1-based count of events written. Heights are dense and immutable: the only
// way a log grows is an append that names the height it expects to extend,
// and the only way it shrinks is a whole-session Reset.
//
// # Optimistic height check
//
// Append and AppendBatch are compare-and-swap operations. A writer passes the
// height it last observed; if another writer got there first the append fails
// with a *ConflictError and nothing is written. There is no lock beyond the
// transaction that performs the check, so any number of processes may share
// one database file.
//
// # Snapshots
//
// Snapshots are advisory checkpoints of folded state. They may be missing or
// stale without affecting correctness; every state is re-derivable by
// replaying events from height 1.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - _txlock=immediate: writers take the write lock at BEGIN
//
// The in-memory implementation in store/memory has the same semantics and is
// used by tests and ephemeral sessions.
package store
