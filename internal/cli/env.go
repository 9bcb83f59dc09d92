package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/starcore/internal/config"
	"github.com/roach88/starcore/internal/coordinator"
	"github.com/roach88/starcore/internal/store"
)

// storeFlags are the flags every store-reading command accepts. Set flags
// override the config file.
type storeFlags struct {
	DSN    string
	Driver string
}

func (s *storeFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.DSN, "db", "", "SQLite path or Postgres URL (overrides config)")
	cmd.Flags().StringVar(&s.Driver, "driver", "", "store driver: sqlite3 or pgx (overrides config)")
}

func (s *storeFlags) apply(cfg *config.Config) {
	if s.DSN != "" {
		cfg.Store.DSN = s.DSN
	}
	if s.Driver != "" {
		cfg.Store.Driver = s.Driver
	}
}

// loadConfig loads the config file named by --config and applies the store
// flags, then validates the result.
func loadConfig(opts *RootOptions, sf *storeFlags) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if sf != nil {
		sf.apply(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*store.Store, error) {
	st, err := store.OpenDriver(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	return st, nil
}

// resumeClock returns a processing clock that never reads earlier than the
// latest instant already in st, so a restart on a host whose clock lags the
// previous writer still supersedes stored rows.
func resumeClock(ctx context.Context, st *store.Store) (*coordinator.MonotonicClock, error) {
	latest, err := st.LatestStored(ctx)
	if err != nil {
		return nil, err
	}
	return coordinator.NewMonotonicClockAt(latest), nil
}

// newLogger builds the process logger from config; --verbose forces debug.
func newLogger(cfg *config.Config, opts *RootOptions, w io.Writer) *slog.Logger {
	level, err := cfg.LogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// parseInstant parses an RFC 3339 flag value.
func parseInstant(flag, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, WrapExitError(ExitCommandError, fmt.Sprintf("invalid --%s", flag), err)
	}
	return t.UTC(), nil
}

func formatInstant(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339Nano)
}
