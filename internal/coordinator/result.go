package coordinator

import "github.com/roach88/starcore/internal/temporal"

// Outcome is what Apply did to the current row.
type Outcome int

const (
	// NoChange means current state was left untouched (idempotent re-delivery,
	// identical content, or a stale event).
	NoChange Outcome = iota + 1
	// Created means a current row was installed where none existed.
	Created
	// Updated means the current row was superseded by a new one.
	Updated
	// Deleted means the current row was terminated with no successor.
	Deleted
)

func (o Outcome) String() string {
	switch o {
	case NoChange:
		return "no_change"
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Result reports the effect of one Apply call.
type Result[T any] struct {
	Outcome  Outcome
	EventID  string
	Identity string

	// Old is the snapshot of the current row before the event, if there was one.
	Old *temporal.Entity[T]

	// New is the current row after the event, if there is one.
	New *temporal.Entity[T]

	// History is the copy appended to the history log, if any.
	History *temporal.HistoricalCopy[T]

	// Stale is set when the event's valid time precedes stored state. Stale
	// events never change the current row.
	Stale bool

	// Backfilled is set when a stale event was recorded as a retroactive
	// HistoricalCopy (see StaleBackfill). History then holds that copy.
	Backfilled bool
}

// Changed reports whether the current row changed.
func (r Result[T]) Changed() bool {
	return r.Outcome == Created || r.Outcome == Updated || r.Outcome == Deleted
}
