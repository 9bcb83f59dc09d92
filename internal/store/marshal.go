package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// marshalData converts a business struct to JSON TEXT for storage. Values are
// kept exactly as given: a row read back must compare equal to the data
// that was written.
func marshalData(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal data: %w", err)
	}
	return string(data), nil
}

// unmarshalData parses stored JSON TEXT into dst.
func unmarshalData(data string, dst any) error {
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	return nil
}

// micros encodes an instant as Unix microseconds.
func micros(t time.Time) int64 {
	return t.UnixMicro()
}

// nullMicros encodes an optional instant; the zero time is NULL.
func nullMicros(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMicro(), Valid: true}
}

func fromMicros(n int64) time.Time {
	return time.UnixMicro(n).UTC()
}

func fromNullMicros(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return fromMicros(n.Int64)
}
