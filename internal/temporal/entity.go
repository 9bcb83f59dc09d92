package temporal

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotCurrent is returned when superseding a row that already has a record-time end.
	ErrNotCurrent = errors.New("entity is not current")

	// ErrMultipleCurrent is returned by stores that find more than one current
	// row for one identity. It is never repaired silently.
	ErrMultipleCurrent = errors.New("more than one current row")
)

// Cloner is implemented by business structs that hold references (slices, maps,
// pointers) and therefore need a deep copy to be detached.
type Cloner[T any] interface {
	Clone() T
}

// Entity is the current row of a versioned record.
//
// Identity is the logical identity shared by every version of the same
// real-world thing (for example an MRN).
type Entity[T any] struct {
	Identity string `json:"identity"`
	Stamp
	Data T `json:"data"`
}

// NewEntity creates a current row for identity.
func NewEntity[T any](identity string, data T, validFrom, storedFrom time.Time) Entity[T] {
	return Entity[T]{
		Identity: identity,
		Stamp:    Open(validFrom, storedFrom),
		Data:     data,
	}
}

// Snapshot returns a detached copy sharing no mutable state with e.
func (e Entity[T]) Snapshot() Entity[T] {
	out := e
	out.Data = clone(e.Data)
	return out
}

// Supersede produces the HistoricalCopy of e's snapshot terminated at
// validUntil (the event time that made it stop being true) and storedUntil
// (the processing time of that event). e itself is left unchanged; it keeps
// representing the previous state until a new current row is installed.
func (e Entity[T]) Supersede(validUntil, storedUntil time.Time) (HistoricalCopy[T], error) {
	if !e.IsCurrent() {
		return HistoricalCopy[T]{}, fmt.Errorf("supersede %s: %w", e.Identity, ErrNotCurrent)
	}
	if validUntil.IsZero() || storedUntil.IsZero() {
		return HistoricalCopy[T]{}, fmt.Errorf("supersede %s: until instants must be set", e.Identity)
	}

	snap := e.Snapshot()
	h := HistoricalCopy[T]{
		ID:       uuid.Must(uuid.NewV7()).String(),
		Identity: snap.Identity,
		Stamp:    snap.Stamp,
		Data:     snap.Data,
	}
	h.ValidUntil = validUntil
	h.StoredUntil = storedUntil

	if err := h.Validate(); err != nil {
		return HistoricalCopy[T]{}, fmt.Errorf("supersede %s: %w", e.Identity, err)
	}
	return h, nil
}

// HistoricalCopy is an immutable, terminated snapshot of a prior state.
// Identity names the logical entity it supersedes so the full version chain
// can be rebuilt from the history log.
type HistoricalCopy[T any] struct {
	ID       string `json:"id"`
	Identity string `json:"identity"`
	Stamp
	Data T `json:"data"`
}

// Backfill builds a HistoricalCopy for a fact that arrived after a later
// version was already current. The copy covers [validFrom, validUntil) in
// valid time and is recorded and terminated at recordedAt.
//
// The stored span [recordedAt, recordedAt) is empty, so VisibleAt is false at
// every processing time and AsOf never returns the copy. It is reachable
// only through History and Timeline.
func Backfill[T any](identity string, data T, validFrom, validUntil, recordedAt time.Time) (HistoricalCopy[T], error) {
	h := HistoricalCopy[T]{
		ID:       uuid.Must(uuid.NewV7()).String(),
		Identity: identity,
		Stamp: Stamp{
			ValidFrom:   validFrom,
			ValidUntil:  validUntil,
			StoredFrom:  recordedAt,
			StoredUntil: recordedAt,
		},
		Data: clone(data),
	}
	if validUntil.IsZero() {
		return HistoricalCopy[T]{}, fmt.Errorf("backfill %s: valid_until must be set", identity)
	}
	if err := h.Validate(); err != nil {
		return HistoricalCopy[T]{}, fmt.Errorf("backfill %s: %w", identity, err)
	}
	return h, nil
}

// Version returns the copy as an Entity-shaped row, for callers that render
// current and historical rows uniformly.
func (h HistoricalCopy[T]) Version() Entity[T] {
	return Entity[T]{Identity: h.Identity, Stamp: h.Stamp, Data: clone(h.Data)}
}

func clone[T any](v T) T {
	if c, ok := any(v).(Cloner[T]); ok {
		return c.Clone()
	}
	return v
}
