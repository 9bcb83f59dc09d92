package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Progress returns the saved watermark for name, or 0 if none was saved.
func (s *Store) Progress(ctx context.Context, name string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT seq FROM progress WHERE name = ?
	`), name).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read progress %s: %w", name, err)
	}
	return seq, nil
}

// SaveProgress records seq as the watermark for name. The watermark never
// moves backwards; saving a lower value is a no-op.
func (s *Store) SaveProgress(ctx context.Context, name string, seq int64) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO progress (name, seq, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			seq = excluded.seq,
			updated_at = excluded.updated_at
		WHERE excluded.seq > progress.seq
	`), name, seq, micros(time.Now()))
	if err != nil {
		return fmt.Errorf("save progress %s: %w", name, err)
	}
	return nil
}

// Cursor is a named progress watermark bound to a store.
type Cursor struct {
	s    *Store
	name string
}

// Cursor returns the progress cursor called name.
func (s *Store) Cursor(name string) *Cursor {
	return &Cursor{s: s, name: name}
}

// Load returns the saved watermark.
func (c *Cursor) Load(ctx context.Context) (int64, error) {
	return c.s.Progress(ctx, c.name)
}

// Save advances the watermark to seq.
func (c *Cursor) Save(ctx context.Context, seq int64) error {
	return c.s.SaveProgress(ctx, c.name, seq)
}

// LatestStored returns the latest processing instant recorded in any table,
// or the zero time for an empty store. A restarted process seeds its clock
// with it so new versions never start before the ones they supersede.
func (s *Store) LatestStored(ctx context.Context) (time.Time, error) {
	var latest sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(t) FROM (
			SELECT MAX(stored_from) AS t FROM current_rows
			UNION ALL
			SELECT MAX(stored_until) AS t FROM history_rows
		) AS stamps
	`).Scan(&latest)
	if err != nil {
		return time.Time{}, fmt.Errorf("read latest stored instant: %w", err)
	}
	return fromNullMicros(latest), nil
}
