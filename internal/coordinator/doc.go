// Package coordinator applies inbound patient events to a bitemporal store.
//
// For one event Apply performs:
//
//  1. determine the lock keys the event touches (its identity, plus the other
//     MRN for merges)
//  2. acquire them through keylock.Manager
//  3. load the current row for the identity
//  4. compare: stale events (valid time before the current row) never touch
//     current state; unchanged content is NoChange; otherwise the current row
//     is superseded, its HistoricalCopy appended, and the new row installed
//  5. release the keys on every exit path
//
// # Idempotence
//
// Re-applying an event that already took effect yields NoChange and no further
// history, so an at-least-once transport can resume from a progress cursor.
//
// # Errors
//
// Store failures are wrapped in an ApplyError with ErrCodeStoreUnavailable and
// returned; the coordinator never retries while holding a lock. More than one
// current row is ErrCodeInconsistentState and is fatal. Events missing
// required fields are ErrCodeRejected so the caller can advance past them.
package coordinator
