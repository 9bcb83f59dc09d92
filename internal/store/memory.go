package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/roach88/starcore/internal/temporal"
)

// MemoryTable is an in-process Table for tests and scenario runs. It keeps
// the same ordering and idempotency rules as the SQL tables.
//
// Thread-safety: MemoryTable is safe for concurrent use.
type MemoryTable[T any] struct {
	mu      sync.RWMutex
	kind    string
	current map[string]temporal.Entity[T]
	history map[string][]temporal.HistoricalCopy[T]
	ids     map[string]bool
}

// NewMemoryTable creates an empty in-memory table for kind.
func NewMemoryTable[T any](kind string) *MemoryTable[T] {
	return &MemoryTable[T]{
		kind:    kind,
		current: make(map[string]temporal.Entity[T]),
		history: make(map[string][]temporal.HistoricalCopy[T]),
		ids:     make(map[string]bool),
	}
}

// Kind returns the entity kind.
func (m *MemoryTable[T]) Kind() string {
	return m.kind
}

func (m *MemoryTable[T]) Load(_ context.Context, identity string) (*temporal.Entity[T], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.current[identity]
	if !ok {
		return nil, nil
	}
	snap := e.Snapshot()
	return &snap, nil
}

func (m *MemoryTable[T]) InstallCurrent(_ context.Context, e temporal.Entity[T]) error {
	if !e.IsCurrent() {
		return fmt.Errorf("install %s/%s: %w", m.kind, e.Identity, temporal.ErrNotCurrent)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current[e.Identity] = e.Snapshot()
	return nil
}

func (m *MemoryTable[T]) RemoveCurrent(_ context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.current, identity)
	return nil
}

func (m *MemoryTable[T]) AppendHistory(_ context.Context, h temporal.HistoricalCopy[T]) error {
	if err := m.checkHistory(h); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(h)
	return nil
}

// Replace appends h and swaps the current row atomically.
func (m *MemoryTable[T]) Replace(_ context.Context, h temporal.HistoricalCopy[T], next *temporal.Entity[T]) error {
	if err := m.checkHistory(h); err != nil {
		return err
	}
	if next != nil && !next.IsCurrent() {
		return fmt.Errorf("install %s/%s: %w", m.kind, next.Identity, temporal.ErrNotCurrent)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(h)
	if next == nil {
		delete(m.current, h.Identity)
	} else {
		m.current[next.Identity] = next.Snapshot()
	}
	return nil
}

func (m *MemoryTable[T]) History(_ context.Context, identity string) ([]temporal.HistoricalCopy[T], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]temporal.HistoricalCopy[T], 0, len(m.history[identity]))
	for _, h := range m.history[identity] {
		v := h.Version()
		out = append(out, temporal.HistoricalCopy[T]{ID: h.ID, Identity: h.Identity, Stamp: v.Stamp, Data: v.Data})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.StoredFrom.Equal(b.StoredFrom) {
			return a.StoredFrom.Before(b.StoredFrom)
		}
		if !a.ValidFrom.Equal(b.ValidFrom) {
			return a.ValidFrom.Before(b.ValidFrom)
		}
		return a.ID < b.ID
	})
	return out, nil
}

// Timeline returns the full version chain for identity.
func (m *MemoryTable[T]) Timeline(ctx context.Context, identity string) ([]temporal.Entity[T], error) {
	cur, _ := m.Load(ctx, identity)
	history, _ := m.History(ctx, identity)
	return temporal.Timeline(cur, history), nil
}

// AsOf returns the version believed true at validAt as of storedAt.
func (m *MemoryTable[T]) AsOf(ctx context.Context, identity string, validAt, storedAt time.Time) (temporal.Entity[T], bool, error) {
	cur, _ := m.Load(ctx, identity)
	history, _ := m.History(ctx, identity)
	v, ok := temporal.AsOf(cur, history, validAt.UTC(), storedAt.UTC())
	return v, ok, nil
}

// Identities lists identities with a current row, sorted.
func (m *MemoryTable[T]) Identities(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.current))
	for id := range m.current {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *MemoryTable[T]) checkHistory(h temporal.HistoricalCopy[T]) error {
	if h.IsCurrent() {
		return fmt.Errorf("append history %s/%s: stored_until must be set", m.kind, h.Identity)
	}
	if err := h.Validate(); err != nil {
		return fmt.Errorf("append history %s/%s: %w", m.kind, h.Identity, err)
	}
	return nil
}

func (m *MemoryTable[T]) appendLocked(h temporal.HistoricalCopy[T]) {
	if m.ids[h.ID] {
		return
	}
	m.ids[h.ID] = true
	v := h.Version()
	h.Data = v.Data
	m.history[h.Identity] = append(m.history[h.Identity], h)
}

// MemoryCursor is an in-process progress watermark.
type MemoryCursor struct {
	mu  sync.Mutex
	seq int64
}

func (c *MemoryCursor) Load(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq, nil
}

func (c *MemoryCursor) Save(_ context.Context, seq int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq > c.seq {
		c.seq = seq
	}
	return nil
}
