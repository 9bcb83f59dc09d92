package keylock

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// entry tracks interest in one key. claimants counts holders plus waiters;
// sem is a binary semaphore (full means held).
type entry struct {
	claimants int
	sem       chan struct{}
}

// Manager grants exclusive access per key.
//
// Locks are not reentrant. A caller that holds keys must release them before
// acquiring more, otherwise multi-key ordering no longer prevents deadlock.
//
// Thread-safety: all methods are safe for concurrent use. The entries map is
// touched only inside short critical sections; waiting happens on the per-key
// semaphore outside them.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates a Manager with nothing held.
func New() *Manager {
	return &Manager{entries: make(map[string]*entry)}
}

// Acquire blocks until the caller holds key exclusively or ctx is done.
func (m *Manager) Acquire(ctx context.Context, key string) error {
	if key == "" {
		return &InvalidKeyError{Reason: "key must not be empty"}
	}
	return m.acquire(ctx, key)
}

// AcquireAll blocks until the caller holds every key in keys. Keys are taken
// in sorted order regardless of the order supplied. On failure nothing is
// left held.
func (m *Manager) AcquireAll(ctx context.Context, keys ...string) error {
	ordered, err := canonical(keys)
	if err != nil {
		return err
	}

	for i, key := range ordered {
		if err := m.acquire(ctx, key); err != nil {
			// Give back what we already took, in reverse.
			for j := i - 1; j >= 0; j-- {
				_ = m.release(ordered[j])
			}
			return err
		}
	}
	return nil
}

// Release gives up a key previously acquired. It fails with NotHeldError if no
// caller currently holds key.
func (m *Manager) Release(key string) error {
	if key == "" {
		return &InvalidKeyError{Reason: "key must not be empty"}
	}
	return m.release(key)
}

// ReleaseAll releases every key in keys. Keys may be released in any order.
// All keys are attempted; failures are joined.
func (m *Manager) ReleaseAll(keys ...string) error {
	ordered, err := canonical(keys)
	if err != nil {
		return err
	}

	var errs []error
	for i := len(ordered) - 1; i >= 0; i-- {
		if err := m.release(ordered[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Do runs fn while holding every key in keys and releases them on every exit
// path, including a panic in fn.
func (m *Manager) Do(ctx context.Context, keys []string, fn func() error) (err error) {
	if err := m.AcquireAll(ctx, keys...); err != nil {
		return err
	}
	defer func() {
		if rerr := m.ReleaseAll(keys...); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn()
}

// Held returns the number of keys with at least one holder or waiter.
func (m *Manager) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Manager) acquire(ctx context.Context, key string) error {
	// Register interest before waiting so a second claimant sees this entry
	// instead of creating its own.
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		m.entries[key] = e
	}
	e.claimants++
	m.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
	}

	// Cancelled while waiting; the semaphore was not taken, withdraw interest.
	m.mu.Lock()
	e.claimants--
	if e.claimants == 0 {
		delete(m.entries, key)
	}
	m.mu.Unlock()
	return ctx.Err()
}

func (m *Manager) release(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || len(e.sem) == 0 {
		return &NotHeldError{Key: key}
	}

	e.claimants--
	if e.claimants == 0 {
		delete(m.entries, key)
	}
	// Receives only happen under mu, so the slot checked above is still full.
	<-e.sem
	return nil
}

// canonical validates a key set and returns a sorted copy.
func canonical(keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, &InvalidKeyError{Reason: "key set must not be empty"}
	}
	ordered := slices.Clone(keys)
	slices.Sort(ordered)
	for i, key := range ordered {
		if key == "" {
			return nil, &InvalidKeyError{Keys: keys, Reason: "key must not be empty"}
		}
		if i > 0 && ordered[i-1] == key {
			return nil, &InvalidKeyError{Keys: keys, Reason: "keys must be unique"}
		}
	}
	return ordered, nil
}
