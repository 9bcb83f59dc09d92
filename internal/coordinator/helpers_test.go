package coordinator_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/roach88/starcore/internal/temporal"
)

// ward is a small business struct standing in for a real entity kind.
type ward struct {
	Name temporal.Opt[string]
	Bed  temporal.Opt[string]
}

// wardEvent is a tri-state update (or delete) of one ward record.
type wardEvent struct {
	id       string
	identity string
	at       time.Time
	deletes  bool
	name     temporal.Field[string]
	bed      temporal.Field[string]
	extra    []string
}

func (e wardEvent) EventID() string    { return e.id }
func (e wardEvent) Identity() string   { return e.identity }
func (e wardEvent) LockKeys() []string { return e.extra }
func (e wardEvent) ValidAt() time.Time { return e.at }
func (e wardEvent) Deletes() bool      { return e.deletes }

func (e wardEvent) Patch(d *ward) bool {
	changed := e.name.AssignTo(&d.Name)
	changed = e.bed.AssignTo(&d.Bed) || changed
	return changed
}

// memStore is a map-backed Store with failure injection. It keeps every
// installed current row in a slice so tests can plant inconsistent state.
type memStore struct {
	mu      sync.Mutex
	current map[string][]temporal.Entity[ward]
	history map[string][]temporal.HistoricalCopy[ward]

	failLoad    error
	failAppend  error
	failInstall error
	loads       int

	// loaded lists identities in Load order.
	loaded []string
	// afterInstall, when set, runs after each InstallCurrent returns.
	afterInstall func(identity string)
}

func newMemStore() *memStore {
	return &memStore{
		current: make(map[string][]temporal.Entity[ward]),
		history: make(map[string][]temporal.HistoricalCopy[ward]),
	}
}

func (s *memStore) Load(_ context.Context, identity string) (*temporal.Entity[ward], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	s.loaded = append(s.loaded, identity)
	if s.failLoad != nil {
		return nil, s.failLoad
	}
	rows := s.current[identity]
	switch len(rows) {
	case 0:
		return nil, nil
	case 1:
		e := rows[0].Snapshot()
		return &e, nil
	default:
		return nil, temporal.ErrMultipleCurrent
	}
}

func (s *memStore) InstallCurrent(_ context.Context, e temporal.Entity[ward]) error {
	s.mu.Lock()
	if s.failInstall != nil {
		s.mu.Unlock()
		return s.failInstall
	}
	s.current[e.Identity] = []temporal.Entity[ward]{e.Snapshot()}
	hook := s.afterInstall
	s.mu.Unlock()

	if hook != nil {
		hook(e.Identity)
	}
	return nil
}

func (s *memStore) loadOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.loaded...)
}

func (s *memStore) RemoveCurrent(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.current, identity)
	return nil
}

func (s *memStore) AppendHistory(_ context.Context, h temporal.HistoricalCopy[ward]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppend != nil {
		return s.failAppend
	}
	s.history[h.Identity] = append(s.history[h.Identity], h)
	return nil
}

func (s *memStore) History(_ context.Context, identity string) ([]temporal.HistoricalCopy[ward], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]temporal.HistoricalCopy[ward](nil), s.history[identity]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StoredFrom.Before(out[j].StoredFrom) })
	return out, nil
}

func (s *memStore) plant(e temporal.Entity[ward]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current[e.Identity] = append(s.current[e.Identity], e)
}

func (s *memStore) historyLen(identity string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history[identity])
}

// replacingStore adds an atomic Replace to memStore.
type replacingStore struct {
	*memStore
	replaces int
}

func (s *replacingStore) Replace(_ context.Context, h temporal.HistoricalCopy[ward], next *temporal.Entity[ward]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaces++
	s.history[h.Identity] = append(s.history[h.Identity], h)
	if next == nil {
		delete(s.current, h.Identity)
		return nil
	}
	s.current[next.Identity] = []temporal.Entity[ward]{next.Snapshot()}
	return nil
}
