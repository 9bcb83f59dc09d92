package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/starcore/internal/config"
	"github.com/roach88/starcore/internal/coordinator"
	"github.com/roach88/starcore/internal/patient"
	"github.com/roach88/starcore/internal/pipeline"
	"github.com/roach88/starcore/internal/store"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	storeFlags

	Workers       int
	Rate          float64
	StalePolicy   string
	Cursor        string
	MetricsListen string

	// Clock overrides the processing clock (for testing).
	Clock coordinator.Clock
}

// IngestReport is the ingest command's output.
type IngestReport struct {
	File       string         `json:"file"`
	Total      int            `json:"total"`
	Skipped    int            `json:"skipped"`
	Duplicates int            `json:"duplicates"`
	Failed     int            `json:"failed"`
	Stale      int            `json:"stale"`
	Backfilled int            `json:"backfilled"`
	Outcomes   map[string]int `json:"outcomes"`
	Watermark  int64          `json:"watermark"`
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest <events-file>",
		Short: "Apply a file of patient events to the store",
		Long: `Apply a YAML or JSON file of patient events to the record store.

The file is validated against the event schema before anything is applied.
Messages at or below the saved progress watermark are skipped, so an
interrupted ingest can be re-run with the same file.

Exit codes:
  0 - All messages applied
  1 - One or more messages failed, or stored state is inconsistent
  2 - Command error (bad config, invalid event file, store unreachable)

Examples:
  starcore ingest --db ./starcore.db events.yaml
  starcore ingest --stale-policy backfill --workers 8 events.yaml
  starcore ingest --driver pgx --db postgres://localhost/starcore events.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, args[0], cmd)
		},
	}

	opts.storeFlags.bind(cmd)
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "concurrent appliers (overrides config)")
	cmd.Flags().Float64Var(&opts.Rate, "rate", 0, "max messages per second, 0 for unlimited (overrides config)")
	cmd.Flags().StringVar(&opts.StalePolicy, "stale-policy", "", "ignore or backfill (overrides config)")
	cmd.Flags().StringVar(&opts.Cursor, "cursor", "", "progress cursor name (overrides config)")
	cmd.Flags().StringVar(&opts.MetricsListen, "metrics-listen", "", "serve Prometheus metrics on this address while ingesting")

	return cmd
}

func (o *IngestOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Ingest.Workers = o.Workers
	}
	if flags.Changed("rate") {
		cfg.Ingest.Rate = o.Rate
	}
	if flags.Changed("stale-policy") {
		cfg.Coordinator.StalePolicy = o.StalePolicy
	}
	if flags.Changed("cursor") {
		cfg.Ingest.Cursor = o.Cursor
	}
	if flags.Changed("metrics-listen") {
		cfg.Metrics.Listen = o.MetricsListen
	}
}

func runIngest(opts *IngestOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	opts.storeFlags.apply(cfg)
	opts.apply(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	policy, _ := cfg.StalePolicy()
	logger := newLogger(cfg, opts.RootOptions, cmd.ErrOrStderr())

	msgs, err := patient.LoadFile(path)
	if err != nil {
		_ = formatter.Error(ErrCodeEventFile, err.Error(), validationDetails(err))
		return WrapExitError(ExitCommandError, "invalid event file", err)
	}
	formatter.Progress("Loaded %d message(s) from %s", len(msgs), path)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing store", "error", closeErr)
		}
	}()

	reg := prometheus.NewRegistry()
	metrics := coordinator.NewMetrics(reg)
	if cfg.Metrics.Listen != "" {
		stop := serveMetrics(cfg.Metrics.Listen, reg, logger)
		defer stop()
	}

	clock := opts.Clock
	if clock == nil {
		resumed, err := resumeClock(cmdContext(cmd), st)
		if err != nil {
			_ = formatter.Error(ErrCodeStore, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to read stored state", err)
		}
		clock = resumed
	}
	service := patient.NewService(
		store.NewTable[patient.Demographics](st, patient.KindDemographics),
		store.NewTable[patient.MrnLink](st, patient.KindMrnLink),
		store.NewTable[patient.HospitalVisit](st, patient.KindHospitalVisit),
		coordinator.WithClock(clock),
		coordinator.WithStalePolicy(policy),
		coordinator.WithLogger(logger),
		coordinator.WithMetrics(metrics),
	)

	pipe := pipeline.New(service, st.Cursor(cfg.Ingest.Cursor), pipelineConfig(cfg),
		pipeline.WithLogger(logger),
		pipeline.WithOnApplied(progressPrinter(formatter)),
	)

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("ingest starting", "file", path, "messages", len(msgs), "store", cfg.Store.Driver, "policy", policy.String())
	sum, runErr := pipe.Run(ctx, msgs)
	report := newIngestReport(path, sum)

	if runErr != nil {
		switch {
		case coordinator.IsInconsistentState(runErr):
			_ = formatter.Error(string(coordinator.ErrCodeInconsistentState), runErr.Error(), report)
			return WrapExitError(ExitFailure, "stored state is inconsistent", runErr)
		case errors.Is(runErr, context.Canceled):
			_ = formatter.Error(ErrCodeInterrupt, "ingest interrupted", report)
			return WrapExitError(ExitFailure, "ingest interrupted", runErr)
		default:
			_ = formatter.Error(ErrCodeStore, runErr.Error(), report)
			return WrapExitError(ExitCommandError, "ingest failed", runErr)
		}
	}

	if err := formatter.Render(report, report.writeText); err != nil {
		return err
	}
	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d message(s) failed", report.Failed))
	}
	return nil
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		Workers:      cfg.Ingest.Workers,
		Rate:         cfg.Ingest.Rate,
		Burst:        cfg.Ingest.Burst,
		DuplicateTTL: cfg.Ingest.DuplicateTTL,
		Retries:      cfg.Ingest.Retries,
		RetryBackoff: cfg.Ingest.RetryBackoff,
	}
}

// progressPrinter streams per-message results in verbose mode. Workers call
// it concurrently.
func progressPrinter(formatter *OutputFormatter) func(patient.Applied, error) {
	var mu sync.Mutex
	return func(a patient.Applied, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			formatter.Progress("  [%d] %s %s: %v", a.Seq, a.Type, a.Mrn, err)
			return
		}
		formatter.Progress("  [%d] %s %s: %s", a.Seq, a.Type, a.Mrn, a.Outcome)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func newIngestReport(path string, sum pipeline.Summary) IngestReport {
	outcomes := make(map[string]int, len(sum.Outcomes))
	for outcome, n := range sum.Outcomes {
		outcomes[outcome.String()] = n
	}
	return IngestReport{
		File:       path,
		Total:      sum.Total,
		Skipped:    sum.Skipped,
		Duplicates: sum.Duplicates,
		Failed:     sum.Failed,
		Stale:      sum.Stale,
		Backfilled: sum.Backfilled,
		Outcomes:   outcomes,
		Watermark:  sum.Watermark,
	}
}

func (r IngestReport) writeText(w io.Writer) error {
	fmt.Fprintf(w, "Ingested %s\n", r.File)
	fmt.Fprintf(w, "  messages:   %d (%d skipped, %d duplicate)\n", r.Total, r.Skipped, r.Duplicates)

	names := make([]string, 0, len(r.Outcomes))
	for name := range r.Outcomes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-11s %d\n", name+":", r.Outcomes[name])
	}

	fmt.Fprintf(w, "  stale:      %d (%d backfilled)\n", r.Stale, r.Backfilled)
	fmt.Fprintf(w, "  failed:     %d\n", r.Failed)
	_, err := fmt.Fprintf(w, "  watermark:  %d\n", r.Watermark)
	return err
}

// validationDetails extracts the location of a schema error for JSON output.
func validationDetails(err error) any {
	var verr *patient.ValidationError
	if !errors.As(err, &verr) {
		return nil
	}
	details := map[string]any{"path": verr.Path}
	if verr.Pos.IsValid() {
		details["line"] = verr.Pos.Line()
		details["column"] = verr.Pos.Column()
	}
	return details
}

// cmdContext returns the command's context, or Background when run outside
// Execute (as some tests do).
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
