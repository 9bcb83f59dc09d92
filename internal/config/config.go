// Package config provides configuration loading for starcore.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/starcore/internal/coordinator"
	"github.com/roach88/starcore/internal/store"
)

const (
	// DefaultConfigFile is the config file looked up when none is given.
	DefaultConfigFile = "starcore.yaml"
	// DefaultDatabase is the SQLite file used when no DSN is configured.
	DefaultDatabase = "starcore.db"
)

// Config holds process configuration (read-only after load).
type Config struct {
	Store       StoreConfig       `yaml:"store"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics,omitempty"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	// Driver is "sqlite3" or "pgx".
	Driver string `yaml:"driver"`
	// DSN is a file path for SQLite or a connection string for Postgres.
	DSN string `yaml:"dsn"`
}

// IngestConfig tunes the ingest pipeline.
type IngestConfig struct {
	Workers      int           `yaml:"workers"`
	Rate         float64       `yaml:"rate,omitempty"`
	Burst        int           `yaml:"burst,omitempty"`
	DuplicateTTL time.Duration `yaml:"duplicate_ttl"`
	Retries      int           `yaml:"retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	// Cursor names the progress watermark, so several feeds can share a store.
	Cursor string `yaml:"cursor"`
}

// CoordinatorConfig holds update coordinator settings.
type CoordinatorConfig struct {
	// StalePolicy is "ignore" or "backfill".
	StalePolicy string `yaml:"stale_policy"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds the optional Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address to serve /metrics on during ingest, e.g. ":9090".
	// Empty disables the endpoint.
	Listen string `yaml:"listen,omitempty"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Driver: store.DriverSQLite,
			DSN:    DefaultDatabase,
		},
		Ingest: IngestConfig{
			Workers:      4,
			Burst:        1,
			DuplicateTTL: 10 * time.Minute,
			Retries:      2,
			RetryBackoff: 100 * time.Millisecond,
			Cursor:       "ingest",
		},
		Coordinator: CoordinatorConfig{
			StalePolicy: "ignore",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from path on top of the defaults, then applies
// environment overrides. An empty path skips the file; a missing
// DefaultConfigFile is not an error, any other missing file is.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// No config file; defaults only.
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("STARCORE_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("STARCORE_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("STARCORE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate checks that every setting is usable.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case store.DriverSQLite, "sqlite", store.DriverPostgres, "postgres":
	default:
		errs = append(errs, fmt.Errorf("store.driver must be sqlite3 or pgx, got %q", c.Store.Driver))
	}
	if c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn must be set"))
	}
	if c.Ingest.Workers < 1 {
		errs = append(errs, fmt.Errorf("ingest.workers must be at least 1, got %d", c.Ingest.Workers))
	}
	if c.Ingest.Rate < 0 {
		errs = append(errs, fmt.Errorf("ingest.rate must not be negative, got %v", c.Ingest.Rate))
	}
	if c.Ingest.Retries < 0 {
		errs = append(errs, fmt.Errorf("ingest.retries must not be negative, got %d", c.Ingest.Retries))
	}
	if c.Ingest.Cursor == "" {
		errs = append(errs, errors.New("ingest.cursor must be set"))
	}
	if _, err := c.StalePolicy(); err != nil {
		errs = append(errs, fmt.Errorf("coordinator.stale_policy: %w", err))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// StalePolicy returns the parsed coordinator stale policy.
func (c *Config) StalePolicy() (coordinator.StalePolicy, error) {
	return coordinator.ParseStalePolicy(c.Coordinator.StalePolicy)
}

// LogLevel returns the parsed slog level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
