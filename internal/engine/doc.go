// Package engine implements the Instance, the in-memory authority over one
// open session.
//
// ARCHITECTURE:
//
// Single-Writer Loop:
// Each Instance owns one goroutine that drains a FIFO job queue. Appends,
// batches, rehydrates and time-travel moves are all jobs, so they never
// interleave and subscribers are only ever called from that goroutine,
// between jobs.
//
// Write Flow:
//  1. Append/AppendMany enqueue a write job and wait for its reply
//  2. The loop validates every event (schema, then game rules) against a
//     tentative fold of the batch
//  3. The batch is persisted with a height compare-and-swap
//  4. The tentative state becomes the live state, a snapshot is written
//     when the height crosses the snapshot interval
//  5. Subscribers are notified once for the whole batch
//
// Conflicts:
// If another writer advanced the log, the loop rehydrates silently and
// retries the write once against the fresh state. A second conflict is
// returned to the caller as HEIGHT_CONFLICT.
//
// Cross-instance Signals:
// A reset or restored signal for the session bumps the instance epoch.
// Every write enqueued under an older epoch, including one already in
// flight, resolves as cancelled rather than failing, and a rehydrate job
// is queued behind it.
package engine
