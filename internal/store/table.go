package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/starcore/internal/temporal"
)

// Table is the row store for one entity kind. It satisfies the coordinator's
// Store and Replacer contracts.
type Table[T any] struct {
	s    *Store
	kind string
}

// NewTable returns the table for kind backed by s.
func NewTable[T any](s *Store, kind string) *Table[T] {
	return &Table[T]{s: s, kind: kind}
}

// Kind returns the entity kind.
func (t *Table[T]) Kind() string {
	return t.kind
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Load returns the current row for identity, or nil if there is none.
// More than one current row is reported as temporal.ErrMultipleCurrent.
func (t *Table[T]) Load(ctx context.Context, identity string) (*temporal.Entity[T], error) {
	rows, err := t.s.db.QueryContext(ctx, t.s.rebind(`
		SELECT valid_from, stored_from, data
		FROM current_rows
		WHERE kind = ? AND identity = ?
	`), t.kind, identity)
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", t.kind, identity, err)
	}
	defer rows.Close()

	var found []temporal.Entity[T]
	for rows.Next() {
		var (
			validFrom, storedFrom int64
			data                  string
		)
		if err := rows.Scan(&validFrom, &storedFrom, &data); err != nil {
			return nil, fmt.Errorf("scan current row: %w", err)
		}
		e := temporal.Entity[T]{
			Identity: identity,
			Stamp:    temporal.Open(fromMicros(validFrom), fromMicros(storedFrom)),
		}
		if err := unmarshalData(data, &e.Data); err != nil {
			return nil, fmt.Errorf("load %s/%s: %w", t.kind, identity, err)
		}
		found = append(found, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate current rows: %w", err)
	}

	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return &found[0], nil
	default:
		return nil, fmt.Errorf("load %s/%s: %d rows: %w", t.kind, identity, len(found), temporal.ErrMultipleCurrent)
	}
}

// InstallCurrent makes e the current row for its identity, replacing any
// existing one.
func (t *Table[T]) InstallCurrent(ctx context.Context, e temporal.Entity[T]) error {
	return t.s.withTx(ctx, func(tx *sql.Tx) error {
		return t.install(ctx, tx, e)
	})
}

// RemoveCurrent deletes the current row for identity. Removing a missing row
// is not an error.
func (t *Table[T]) RemoveCurrent(ctx context.Context, identity string) error {
	return t.remove(ctx, t.s.db, identity)
}

// AppendHistory appends h to the history log.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - re-appending the same copy
// is silently ignored.
func (t *Table[T]) AppendHistory(ctx context.Context, h temporal.HistoricalCopy[T]) error {
	return t.append(ctx, t.s.db, h)
}

// Replace appends h and swaps the current row in one transaction. A nil next
// removes the current row.
func (t *Table[T]) Replace(ctx context.Context, h temporal.HistoricalCopy[T], next *temporal.Entity[T]) error {
	return t.s.withTx(ctx, func(tx *sql.Tx) error {
		if err := t.append(ctx, tx, h); err != nil {
			return err
		}
		if next == nil {
			return t.remove(ctx, tx, h.Identity)
		}
		return t.install(ctx, tx, *next)
	})
}

// History returns every historical copy for identity ordered by record time,
// then valid time.
//
// Returns an empty slice (not nil) if there is no history.
func (t *Table[T]) History(ctx context.Context, identity string) ([]temporal.HistoricalCopy[T], error) {
	rows, err := t.s.db.QueryContext(ctx, t.s.rebind(`
		SELECT id, valid_from, valid_until, stored_from, stored_until, data
		FROM history_rows
		WHERE kind = ? AND identity = ?
		ORDER BY stored_from ASC, valid_from ASC, id ASC
	`), t.kind, identity)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	history := []temporal.HistoricalCopy[T]{}
	for rows.Next() {
		var (
			h                      temporal.HistoricalCopy[T]
			validFrom, storedFrom  int64
			validUntil, storedUntl sql.NullInt64
			data                   string
		)
		if err := rows.Scan(&h.ID, &validFrom, &validUntil, &storedFrom, &storedUntl, &data); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		h.Identity = identity
		h.Stamp = temporal.Stamp{
			ValidFrom:   fromMicros(validFrom),
			ValidUntil:  fromNullMicros(validUntil),
			StoredFrom:  fromMicros(storedFrom),
			StoredUntil: fromNullMicros(storedUntl),
		}
		if err := unmarshalData(data, &h.Data); err != nil {
			return nil, fmt.Errorf("history %s/%s: %w", t.kind, identity, err)
		}
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return history, nil
}

// Timeline returns the full version chain for identity.
func (t *Table[T]) Timeline(ctx context.Context, identity string) ([]temporal.Entity[T], error) {
	cur, history, err := t.versions(ctx, identity)
	if err != nil {
		return nil, err
	}
	return temporal.Timeline(cur, history), nil
}

// AsOf returns the version believed true at validAt as of processing time
// storedAt.
func (t *Table[T]) AsOf(ctx context.Context, identity string, validAt, storedAt time.Time) (temporal.Entity[T], bool, error) {
	cur, history, err := t.versions(ctx, identity)
	if err != nil {
		return temporal.Entity[T]{}, false, err
	}
	v, ok := temporal.AsOf(cur, history, validAt.UTC(), storedAt.UTC())
	return v, ok, nil
}

// Identities lists identities with a current row, sorted.
func (t *Table[T]) Identities(ctx context.Context) ([]string, error) {
	rows, err := t.s.db.QueryContext(ctx, t.s.rebind(`
		SELECT DISTINCT identity
		FROM current_rows
		WHERE kind = ?
		ORDER BY identity ASC
	`), t.kind)
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return ids, nil
}

func (t *Table[T]) versions(ctx context.Context, identity string) (*temporal.Entity[T], []temporal.HistoricalCopy[T], error) {
	cur, err := t.Load(ctx, identity)
	if err != nil {
		return nil, nil, err
	}
	history, err := t.History(ctx, identity)
	if err != nil {
		return nil, nil, err
	}
	return cur, history, nil
}

func (t *Table[T]) install(ctx context.Context, q querier, e temporal.Entity[T]) error {
	if !e.IsCurrent() {
		return fmt.Errorf("install %s/%s: %w", t.kind, e.Identity, temporal.ErrNotCurrent)
	}
	data, err := marshalData(e.Data)
	if err != nil {
		return fmt.Errorf("install %s/%s: %w", t.kind, e.Identity, err)
	}
	if err := t.remove(ctx, q, e.Identity); err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, t.s.rebind(`
		INSERT INTO current_rows (kind, identity, valid_from, stored_from, data)
		VALUES (?, ?, ?, ?, ?)
	`), t.kind, e.Identity, micros(e.ValidFrom), micros(e.StoredFrom), data)
	if err != nil {
		return fmt.Errorf("install %s/%s: %w", t.kind, e.Identity, err)
	}
	return nil
}

func (t *Table[T]) remove(ctx context.Context, q querier, identity string) error {
	_, err := q.ExecContext(ctx, t.s.rebind(`
		DELETE FROM current_rows WHERE kind = ? AND identity = ?
	`), t.kind, identity)
	if err != nil {
		return fmt.Errorf("remove %s/%s: %w", t.kind, identity, err)
	}
	return nil
}

func (t *Table[T]) append(ctx context.Context, q querier, h temporal.HistoricalCopy[T]) error {
	if h.IsCurrent() {
		return fmt.Errorf("append history %s/%s: stored_until must be set", t.kind, h.Identity)
	}
	if err := h.Validate(); err != nil {
		return fmt.Errorf("append history %s/%s: %w", t.kind, h.Identity, err)
	}
	data, err := marshalData(h.Data)
	if err != nil {
		return fmt.Errorf("append history %s/%s: %w", t.kind, h.Identity, err)
	}
	_, err = q.ExecContext(ctx, t.s.rebind(`
		INSERT INTO history_rows
		(id, kind, identity, valid_from, valid_until, stored_from, stored_until, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`),
		h.ID,
		t.kind,
		h.Identity,
		micros(h.ValidFrom),
		nullMicros(h.ValidUntil),
		micros(h.StoredFrom),
		micros(h.StoredUntil),
		data,
	)
	if err != nil {
		return fmt.Errorf("append history %s/%s: %w", t.kind, h.Identity, err)
	}
	return nil
}
