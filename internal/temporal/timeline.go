package temporal

import (
	"sort"
	"time"
)

// Timeline merges the current row (if any) and the history of one identity
// into a single version chain ordered by record time, then valid time.
func Timeline[T any](current *Entity[T], history []HistoricalCopy[T]) []Entity[T] {
	versions := make([]Entity[T], 0, len(history)+1)
	for _, h := range history {
		versions = append(versions, h.Version())
	}
	if current != nil {
		versions = append(versions, current.Snapshot())
	}
	sort.SliceStable(versions, func(i, j int) bool {
		a, b := versions[i], versions[j]
		if !a.StoredFrom.Equal(b.StoredFrom) {
			return a.StoredFrom.Before(b.StoredFrom)
		}
		return a.ValidFrom.Before(b.ValidFrom)
	})
	return versions
}

// AsOf returns the version believed true at validAt as of processing time
// storedAt. When several rows qualify, the one with the latest ValidFrom wins.
func AsOf[T any](current *Entity[T], history []HistoricalCopy[T], validAt, storedAt time.Time) (Entity[T], bool) {
	var (
		best  Entity[T]
		found bool
	)
	for _, v := range Timeline(current, history) {
		if !v.VisibleAt(validAt, storedAt) {
			continue
		}
		if !found || !v.ValidFrom.Before(best.ValidFrom) {
			best, found = v, true
		}
	}
	return best, found
}
