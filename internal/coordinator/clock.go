package coordinator

import (
	"sync"
	"time"
)

// Clock supplies processing time ("now") for StoredFrom/StoredUntil.
type Clock interface {
	Now() time.Time
}

// MonotonicClock is a wall clock whose readings strictly increase within a
// process, so record-time ranges can be neither inverted by clock
// adjustments nor emptied by two writes in the same microsecond.
//
// Readings are UTC and truncated to microseconds, the precision every store
// backend keeps.
//
// Thread-safety: MonotonicClock is safe for concurrent use.
type MonotonicClock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewMonotonicClock creates a clock backed by time.Now.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{now: time.Now}
}

// NewMonotonicClockAt creates a clock whose readings are all after start.
// Seed it with the latest stored instant on restart, otherwise a host clock
// behind the previous writer cannot supersede what it wrote.
func NewMonotonicClockAt(start time.Time) *MonotonicClock {
	return &MonotonicClock{now: time.Now, last: start.UTC().Truncate(time.Microsecond)}
}

// Now returns the current time, or one microsecond past the previous reading
// if the wall clock has not moved on.
func (c *MonotonicClock) Now() time.Time {
	t := c.now().UTC().Truncate(time.Microsecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.last.IsZero() && !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
