// Package store provides durable storage for versioned records.
//
// Each entity kind keeps two row sets in shared tables, separated by a kind
// column:
//   - current_rows: the current version of each identity (stored_until unset)
//   - history_rows: append-only HistoricalCopy snapshots
//
// A progress table holds named ingest watermarks.
//
// current_rows is deliberately not unique on (kind, identity). Load detects
// two current rows for one identity and reports temporal.ErrMultipleCurrent
// instead of hiding the corruption behind a constraint.
//
// # Backends
//
//   - SQLite (github.com/mattn/go-sqlite3): WAL mode, NORMAL synchronous,
//     5-second busy timeout, single connection
//   - Postgres (github.com/jackc/pgx/v5/stdlib): the same schema with $n
//     placeholders
//
// Instants are stored as Unix microseconds; an unset until instant is NULL.
// Business data is stored as plain JSON, byte for byte what the caller wrote.
//
// MemoryTable offers the same operations without a database and backs the
// scenario harness.
package store
