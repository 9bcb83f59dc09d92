package coordinator

import (
	"context"
	"time"

	"github.com/roach88/starcore/internal/temporal"
)

// Event is one inbound message as seen by a Coordinator for business type T.
type Event[T any] interface {
	// EventID is a stable identifier; re-deliveries carry the same ID.
	EventID() string

	// Identity is the logical identity whose row the event changes.
	Identity() string

	// LockKeys lists every key the event must hold while applying. The
	// identity is always locked, whether or not it is listed.
	LockKeys() []string

	// ValidAt is when the fact became (or, for deletes, stopped being) true.
	ValidAt() time.Time

	// Deletes reports whether the event retracts the whole entity.
	Deletes() bool

	// Patch applies the event's tri-state fields to data and reports whether
	// any business value changed.
	Patch(data *T) bool
}

// HistoryLog is the append-only sink of superseded snapshots for one kind.
type HistoryLog[T any] interface {
	AppendHistory(ctx context.Context, h temporal.HistoricalCopy[T]) error
	History(ctx context.Context, identity string) ([]temporal.HistoricalCopy[T], error)
}

// Store is the row store for one entity kind.
//
// Load returns (nil, nil) when no current row exists and an error wrapping
// temporal.ErrMultipleCurrent when more than one does. Load followed by
// InstallCurrent under a held lock must be linearizable with every other
// caller's view once the lock is released.
type Store[T any] interface {
	HistoryLog[T]
	Load(ctx context.Context, identity string) (*temporal.Entity[T], error)
	InstallCurrent(ctx context.Context, e temporal.Entity[T]) error
	RemoveCurrent(ctx context.Context, identity string) error
}

// Replacer is implemented by stores that can append a historical copy and
// swap the current row atomically. next == nil removes the current row.
type Replacer[T any] interface {
	Replace(ctx context.Context, h temporal.HistoricalCopy[T], next *temporal.Entity[T]) error
}
