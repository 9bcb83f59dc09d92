package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/starcore/internal/keylock"
	"github.com/roach88/starcore/internal/temporal"
)

// StalePolicy decides what happens to an event whose valid time precedes the
// current row's ValidFrom (or the end of a deleted entity's last version).
type StalePolicy int

const (
	// StaleIgnore reports NoChange with Result.Stale set. Stored state is
	// untouched.
	StaleIgnore StalePolicy = iota

	// StaleBackfill records the late fact as a HistoricalCopy covering its
	// valid-time span, unless a version starting at the same instant exists.
	// The current row is still untouched.
	StaleBackfill
)

func (p StalePolicy) String() string {
	switch p {
	case StaleIgnore:
		return "ignore"
	case StaleBackfill:
		return "backfill"
	default:
		return "unknown"
	}
}

// ParseStalePolicy converts a configuration value into a StalePolicy.
func ParseStalePolicy(s string) (StalePolicy, error) {
	switch s {
	case "", "ignore":
		return StaleIgnore, nil
	case "backfill":
		return StaleBackfill, nil
	default:
		return 0, fmt.Errorf("stale policy must be ignore or backfill, got %q", s)
	}
}

// Option configures a Coordinator.
type Option func(*options)

type options struct {
	clock   Clock
	stale   StalePolicy
	logger  *slog.Logger
	metrics *Metrics
}

// WithClock sets the processing clock. Defaults to a MonotonicClock.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithStalePolicy sets how late events are handled. Defaults to StaleIgnore.
func WithStalePolicy(p StalePolicy) Option {
	return func(o *options) { o.stale = p }
}

// WithLogger sets the structured logger. Defaults to discarding output.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records outcomes into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Coordinator applies events for one entity kind.
//
// Every Apply runs under the identity's lock (plus any extra keys the event
// names), so the load-compare-supersede-install sequence for one identity is
// never interleaved with another. Events for different identities proceed in
// parallel.
//
// Thread-safety: Coordinator is safe for concurrent use.
type Coordinator[T any] struct {
	kind  string
	locks *keylock.Manager
	store Store[T]
	opts  options
}

// New creates a Coordinator for kind. locks may be shared between
// coordinators of different kinds; keys should then be namespaced by the
// events themselves.
func New[T any](kind string, locks *keylock.Manager, store Store[T], opts ...Option) *Coordinator[T] {
	o := options{stale: StaleIgnore}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = NewMonotonicClock()
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Coordinator[T]{kind: kind, locks: locks, store: store, opts: o}
}

// Kind returns the entity kind this coordinator manages.
func (c *Coordinator[T]) Kind() string {
	return c.kind
}

// Apply folds one event into stored state.
//
// Re-delivering an event that was already applied is a NoChange. Failures
// leave stored state unchanged unless the store itself applied a partial
// write (see Replacer for atomic stores). Store errors are returned as
// *ApplyError and never retried here.
func (c *Coordinator[T]) Apply(ctx context.Context, ev Event[T]) (Result[T], error) {
	results, err := c.ApplyAll(ctx, ev)
	if err != nil {
		return Result[T]{}, err
	}
	return results[0], nil
}

// ApplyAll applies evs in order inside one lock scope covering the keys of
// every event, so no other event on those keys runs between them. It stops
// at the first failure and returns the results of the events before it.
func (c *Coordinator[T]) ApplyAll(ctx context.Context, evs ...Event[T]) ([]Result[T], error) {
	start := time.Now()
	var keys []string
	for _, ev := range evs {
		if err := c.admit(ev); err != nil {
			c.opts.metrics.observe(c.kind, 0, false, err, time.Since(start))
			c.logFailure(ev, err)
			return nil, err
		}
		keys = append(keys, ev.Identity())
		keys = append(keys, ev.LockKeys()...)
	}
	if len(evs) == 0 {
		return nil, nil
	}

	results := make([]Result[T], 0, len(evs))
	err := c.locks.Do(ctx, lockKeys(keys[0], keys[1:]), func() error {
		for i, ev := range evs {
			begin := time.Now()
			if i == 0 {
				// the first event carries the lock wait
				begin = start
			}
			res, err := c.apply(ctx, ev)
			c.opts.metrics.observe(c.kind, res.Outcome, res.Stale, err, time.Since(begin))
			if err != nil {
				return err
			}
			results = append(results, res)
			c.opts.logger.Debug("event applied",
				"kind", c.kind,
				"event_id", res.EventID,
				"identity", res.Identity,
				"outcome", res.Outcome.String(),
				"stale", res.Stale,
				"backfilled", res.Backfilled,
			)
		}
		return nil
	})
	if err != nil {
		failed := evs[len(results)]
		var ae *ApplyError
		if !errors.As(err, &ae) {
			err = &ApplyError{
				Code:     ErrCodeStoreUnavailable,
				Kind:     c.kind,
				Identity: failed.Identity(),
				EventID:  failed.EventID(),
				Message:  "lock acquisition failed",
				Err:      err,
			}
			c.opts.metrics.observe(c.kind, 0, false, err, time.Since(start))
		} else if ae.EventID == "" {
			ae.EventID = failed.EventID()
		}
		c.logFailure(failed, err)
		return results, err
	}
	return results, nil
}

// admit rejects events that lack the fields every apply needs.
func (c *Coordinator[T]) admit(ev Event[T]) error {
	if ev.Identity() == "" {
		return NewRejectedError(c.kind, ev.EventID(), "event has no identity")
	}
	if ev.ValidAt().IsZero() {
		return NewRejectedError(c.kind, ev.EventID(), "event has no valid time")
	}
	return nil
}

// apply runs with every key held.
func (c *Coordinator[T]) apply(ctx context.Context, ev Event[T]) (Result[T], error) {
	identity := ev.Identity()
	// store precision, so a redelivery matches what was written
	validAt := ev.ValidAt().UTC().Truncate(time.Microsecond)
	res := Result[T]{Outcome: NoChange, EventID: ev.EventID(), Identity: identity}

	cur, err := c.store.Load(ctx, identity)
	if err != nil {
		return res, newStoreError(c.kind, identity, "load", err)
	}

	if cur == nil {
		return c.applyAbsent(ctx, ev, validAt, res)
	}

	old := cur.Snapshot()
	res.Old = &old

	if validAt.Before(cur.ValidFrom) {
		return c.handleStale(ctx, ev, validAt, cur, nil, res)
	}

	now := c.opts.clock.Now()

	if ev.Deletes() {
		h, err := cur.Supersede(validAt, now)
		if err != nil {
			return res, c.clockBehind(ev, err)
		}
		if err := c.commit(ctx, h, nil); err != nil {
			return res, newStoreError(c.kind, identity, "delete", err)
		}
		res.Outcome = Deleted
		res.History = &h
		return res, nil
	}

	data := cur.Snapshot().Data
	if !ev.Patch(&data) {
		// Identical content, including re-delivery of an applied event.
		res.New = &old
		return res, nil
	}

	h, err := cur.Supersede(validAt, now)
	if err != nil {
		return res, c.clockBehind(ev, err)
	}
	next := temporal.NewEntity(identity, data, validAt, now)
	if err := c.commit(ctx, h, &next); err != nil {
		return res, newStoreError(c.kind, identity, "replace", err)
	}
	res.Outcome = Updated
	res.New = &next
	res.History = &h
	return res, nil
}

// applyAbsent handles an identity with no current row: never seen, or
// deleted earlier.
func (c *Coordinator[T]) applyAbsent(ctx context.Context, ev Event[T], validAt time.Time, res Result[T]) (Result[T], error) {
	identity := ev.Identity()

	history, err := c.store.History(ctx, identity)
	if err != nil {
		return res, newStoreError(c.kind, identity, "history", err)
	}
	if end, ok := coveredUntil(history); ok && validAt.Before(end) {
		return c.handleStale(ctx, ev, validAt, nil, history, res)
	}

	if ev.Deletes() {
		// Nothing to delete.
		return res, nil
	}

	var data T
	ev.Patch(&data)
	next := temporal.NewEntity(identity, data, validAt, c.opts.clock.Now())
	if err := c.store.InstallCurrent(ctx, next); err != nil {
		return res, newStoreError(c.kind, identity, "install", err)
	}
	res.Outcome = Created
	res.New = &next
	return res, nil
}

// handleStale applies the stale policy. history may be nil, in which case it
// is loaded when the policy needs it.
func (c *Coordinator[T]) handleStale(ctx context.Context, ev Event[T], validAt time.Time,
	cur *temporal.Entity[T], history []temporal.HistoricalCopy[T], res Result[T]) (Result[T], error) {
	identity := ev.Identity()
	res.Stale = true

	c.opts.logger.Info("stale event",
		"kind", c.kind,
		"event_id", ev.EventID(),
		"identity", identity,
		"valid_at", validAt,
		"policy", c.opts.stale.String(),
	)

	if c.opts.stale != StaleBackfill || ev.Deletes() {
		return res, nil
	}

	if history == nil {
		var err error
		history, err = c.store.History(ctx, identity)
		if err != nil {
			return res, newStoreError(c.kind, identity, "history", err)
		}
	}

	var (
		base     *temporal.Entity[T]
		until    time.Time
		hasUntil bool
	)
	consider := func(v temporal.Entity[T]) {
		if v.ValidFrom.After(validAt) {
			if !hasUntil || v.ValidFrom.Before(until) {
				until, hasUntil = v.ValidFrom, true
			}
			return
		}
		if base == nil || !v.ValidFrom.Before(base.ValidFrom) {
			b := v
			base = &b
		}
	}
	for _, h := range history {
		if h.ValidFrom.Equal(validAt) {
			// Already recorded, by an earlier delivery or a real version.
			return res, nil
		}
		consider(h.Version())
	}
	if cur != nil {
		consider(cur.Snapshot())
	}
	if !hasUntil {
		until, hasUntil = coveredUntil(history)
	}
	if !hasUntil {
		return res, nil
	}

	var data T
	if base != nil {
		data = base.Data
	}
	ev.Patch(&data)

	h, err := temporal.Backfill(identity, data, validAt, until, c.opts.clock.Now())
	if err != nil {
		return res, c.clockBehind(ev, err)
	}
	if err := c.store.AppendHistory(ctx, h); err != nil {
		return res, newStoreError(c.kind, identity, "backfill", err)
	}
	res.History = &h
	res.Backfilled = true
	return res, nil
}

// commit appends h and installs next (or removes the current row when next
// is nil), atomically when the store supports it.
func (c *Coordinator[T]) commit(ctx context.Context, h temporal.HistoricalCopy[T], next *temporal.Entity[T]) error {
	if r, ok := c.store.(Replacer[T]); ok {
		return r.Replace(ctx, h, next)
	}
	if err := c.store.AppendHistory(ctx, h); err != nil {
		return err
	}
	if next == nil {
		return c.store.RemoveCurrent(ctx, h.Identity)
	}
	return c.store.InstallCurrent(ctx, *next)
}

// clockBehind reports a processing clock reading earlier than stored state.
// The event itself is fine and nothing was written, so it is classed with
// store failures: the caller keeps it for a later attempt.
func (c *Coordinator[T]) clockBehind(ev Event[T], err error) *ApplyError {
	return &ApplyError{
		Code:     ErrCodeStoreUnavailable,
		Kind:     c.kind,
		Identity: ev.Identity(),
		EventID:  ev.EventID(),
		Message:  "processing clock is behind stored state",
		Err:      err,
	}
}

func (c *Coordinator[T]) logFailure(ev Event[T], err error) {
	level := slog.LevelWarn
	if IsInconsistentState(err) {
		level = slog.LevelError
	}
	c.opts.logger.Log(context.Background(), level, "event not applied",
		"kind", c.kind,
		"event_id", ev.EventID(),
		"identity", ev.Identity(),
		"error", err,
	)
}

// coveredUntil returns the latest ValidUntil in history: the instant up to
// which stored versions already describe the entity.
func coveredUntil[T any](history []temporal.HistoricalCopy[T]) (time.Time, bool) {
	var (
		end time.Time
		ok  bool
	)
	for _, h := range history {
		if h.ValidUntil.IsZero() {
			continue
		}
		if !ok || h.ValidUntil.After(end) {
			end, ok = h.ValidUntil, true
		}
	}
	return end, ok
}

// lockKeys returns identity plus extra, deduplicated and without empties.
func lockKeys(identity string, extra []string) []string {
	keys := make([]string, 0, len(extra)+1)
	keys = append(keys, identity)
	for _, k := range extra {
		if k != "" {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}
