package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/starcore/internal/patient"
	"github.com/roach88/starcore/internal/store"
	"github.com/roach88/starcore/internal/temporal"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	storeFlags
	Kind string
}

// VersionView is one version of a record as the CLI shows it.
type VersionView struct {
	ValidFrom   string          `json:"valid_from"`
	ValidUntil  string          `json:"valid_until"`
	StoredFrom  string          `json:"stored_from"`
	StoredUntil string          `json:"stored_until"`
	Current     bool            `json:"current"`
	Backfill    bool            `json:"backfill,omitempty"`
	Data        json.RawMessage `json:"data"`
}

// HistoryResult is the history command's output.
type HistoryResult struct {
	Kind     string        `json:"kind"`
	Mrn      string        `json:"mrn"`
	Versions []VersionView `json:"versions"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <mrn>",
		Short: "Show every stored version of a record",
		Long: `Show the full version chain of one record: historical copies and the
current row, ordered by processing time.

Backfilled copies are facts that arrived after a later version was already
current; they were recorded and closed at the same instant.

Examples:
  starcore history 40800000
  starcore history --kind mrn_to_live 40800001 --format json
  starcore history --kind hospital_visit ENC-1001`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args[0], cmd)
		},
	}

	opts.storeFlags.bind(cmd)
	cmd.Flags().StringVar(&opts.Kind, "kind", patient.KindDemographics, "record kind (core_demographic|mrn_to_live|hospital_visit)")

	return cmd
}

func runHistory(opts *HistoryOptions, mrn string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

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
	var versions []VersionView
	switch opts.Kind {
	case patient.KindDemographics:
		versions, err = timeline(ctx, store.NewTable[patient.Demographics](st, opts.Kind), mrn)
	case patient.KindMrnLink:
		versions, err = timeline(ctx, store.NewTable[patient.MrnLink](st, opts.Kind), mrn)
	case patient.KindHospitalVisit:
		versions, err = timeline(ctx, store.NewTable[patient.HospitalVisit](st, opts.Kind), mrn)
	default:
		_ = formatter.Error(ErrCodeArgs, fmt.Sprintf("unknown kind %q", opts.Kind), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown kind %q", opts.Kind))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read history", err)
	}

	result := HistoryResult{Kind: opts.Kind, Mrn: mrn, Versions: versions}
	return formatter.Render(result, result.writeText)
}

func timeline[T any](ctx context.Context, table *store.Table[T], identity string) ([]VersionView, error) {
	versions, err := table.Timeline(ctx, identity)
	if err != nil {
		return nil, err
	}
	out := make([]VersionView, 0, len(versions))
	for _, v := range versions {
		view, err := newVersionView(v)
		if err != nil {
			return nil, err
		}
		out = append(out, view)
	}
	return out, nil
}

func newVersionView[T any](v temporal.Entity[T]) (VersionView, error) {
	data, err := json.Marshal(v.Data)
	if err != nil {
		return VersionView{}, fmt.Errorf("encode version data: %w", err)
	}
	return VersionView{
		ValidFrom:   formatInstant(v.ValidFrom),
		ValidUntil:  formatInstant(v.ValidUntil),
		StoredFrom:  formatInstant(v.StoredFrom),
		StoredUntil: formatInstant(v.StoredUntil),
		Current:     v.IsCurrent(),
		Backfill:    !v.IsCurrent() && v.StoredFrom.Equal(v.StoredUntil),
		Data:        data,
	}, nil
}

func (r HistoryResult) writeText(w io.Writer) error {
	if len(r.Versions) == 0 {
		_, err := fmt.Fprintf(w, "No versions found for %s %s\n", r.Kind, r.Mrn)
		return err
	}
	fmt.Fprintf(w, "%s %s: %d version(s)\n", r.Kind, r.Mrn, len(r.Versions))
	for i, v := range r.Versions {
		marker := ""
		switch {
		case v.Current:
			marker = " (current)"
		case v.Backfill:
			marker = " (backfill)"
		}
		fmt.Fprintf(w, "[%d]%s\n", i+1, marker)
		fmt.Fprintf(w, "  valid:  %s .. %s\n", v.ValidFrom, v.ValidUntil)
		fmt.Fprintf(w, "  stored: %s .. %s\n", v.StoredFrom, v.StoredUntil)
		fmt.Fprintf(w, "  data:   %s\n", v.Data)
	}
	return nil
}
