package testutil

import (
	"sync"
	"time"
)

// Epoch is the base instant for test timelines.
var Epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// At returns Epoch plus n minutes. Tests use it for valid times so scenarios
// read as small integers.
func At(n int) time.Time {
	return Epoch.Add(time.Duration(n) * time.Minute)
}

// StepClock provides a thread-safe, deterministic processing clock for tests.
//
// Each call to Now advances by a fixed step, so every stored instant is
// distinct and predictable. The first reading is start + step.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	n     int64
}

// NewStepClock creates a clock starting at start that advances by step.
// A zero step defaults to one second.
func NewStepClock(start time.Time, step time.Duration) *StepClock {
	if step == 0 {
		step = time.Second
	}
	return &StepClock{start: start.UTC(), step: step}
}

// NewDeterministicClock creates a StepClock at Epoch + 1000h advancing one
// second per reading, well after any valid time a test uses.
func NewDeterministicClock() *StepClock {
	return NewStepClock(Epoch.Add(1000*time.Hour), time.Second)
}

// Now advances the clock and returns the new reading.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.start.Add(time.Duration(c.n) * c.step)
}

// Current returns the latest reading without advancing. Before the first
// Now it returns start.
func (c *StepClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.start.Add(time.Duration(c.n) * c.step)
}

// Reset rewinds the clock so the next Now returns start + step again.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = 0
}
