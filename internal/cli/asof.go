package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/starcore/internal/patient"
	"github.com/roach88/starcore/internal/store"
)

// AsOfOptions holds flags for the asof command.
type AsOfOptions struct {
	*RootOptions
	storeFlags
	ValidAt  string
	StoredAt string
}

// AsOfResult is the asof command's output.
type AsOfResult struct {
	Mrn      string       `json:"mrn"`
	LiveMrn  string       `json:"live_mrn"`
	ValidAt  string       `json:"valid_at"`
	StoredAt string       `json:"stored_at"`
	Found    bool         `json:"found"`
	Version  *VersionView `json:"version,omitempty"`
}

// NewAsOfCommand creates the asof command.
func NewAsOfCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AsOfOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "asof <mrn>",
		Short: "Show demographics as believed at a point in both timelines",
		Long: `Answer "what did we believe was true for this MRN at valid time V,
as of processing time P".

--stored-at defaults to now, which reads the latest belief. The live MRN
the MRN resolves to through merges is reported alongside.

Examples:
  starcore asof 40800000 --valid-at 2024-03-01T12:00:00Z
  starcore asof 40800000 --valid-at 2024-03-01T12:00:00Z --stored-at 2024-03-02T00:00:00Z`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsOf(opts, args[0], cmd)
		},
	}

	opts.storeFlags.bind(cmd)
	cmd.Flags().StringVar(&opts.ValidAt, "valid-at", "", "valid time, RFC 3339 (required)")
	_ = cmd.MarkFlagRequired("valid-at")
	cmd.Flags().StringVar(&opts.StoredAt, "stored-at", "", "processing time, RFC 3339 (default now)")

	return cmd
}

func runAsOf(opts *AsOfOptions, mrn string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	validAt, err := parseInstant("valid-at", opts.ValidAt)
	if err != nil {
		return err
	}
	storedAt := time.Now().UTC()
	if opts.StoredAt != "" {
		if storedAt, err = parseInstant("stored-at", opts.StoredAt); err != nil {
			return err
		}
	}

	cfg, err := loadConfig(opts.RootOptions, &opts.storeFlags)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmdContext(cmd)
	links := store.NewTable[patient.MrnLink](st, patient.KindMrnLink)
	live, err := patient.ResolveLive(ctx, links, mrn)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to resolve live mrn", err)
	}

	demo := store.NewTable[patient.Demographics](st, patient.KindDemographics)
	version, found, err := demo.AsOf(ctx, mrn, validAt, storedAt)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read record", err)
	}

	result := AsOfResult{
		Mrn:      mrn,
		LiveMrn:  live,
		ValidAt:  formatInstant(validAt),
		StoredAt: formatInstant(storedAt),
		Found:    found,
	}
	if found {
		view, err := newVersionView(version)
		if err != nil {
			return err
		}
		result.Version = &view
	}
	return formatter.Render(result, result.writeText)
}

func (r AsOfResult) writeText(w io.Writer) error {
	fmt.Fprintf(w, "%s (live %s) valid at %s as of %s\n", r.Mrn, r.LiveMrn, r.ValidAt, r.StoredAt)
	if !r.Found {
		_, err := fmt.Fprintln(w, "  no version")
		return err
	}
	fmt.Fprintf(w, "  valid:  %s .. %s\n", r.Version.ValidFrom, r.Version.ValidUntil)
	fmt.Fprintf(w, "  stored: %s .. %s\n", r.Version.StoredFrom, r.Version.StoredUntil)
	_, err := fmt.Fprintf(w, "  data:   %s\n", r.Version.Data)
	return err
}
