package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// ProgressOptions holds flags for the progress command.
type ProgressOptions struct {
	*RootOptions
	storeFlags
	Cursor string
}

// ProgressResult is the progress command's output.
type ProgressResult struct {
	Cursor    string `json:"cursor"`
	Watermark int64  `json:"watermark"`
}

// NewProgressCommand creates the progress command.
func NewProgressCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProgressOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Show the ingest progress watermark",
		Long: `Show the highest sequence number below which every message has been
applied. A re-run of ingest skips messages at or below it.

Examples:
  starcore progress
  starcore progress --cursor adt-feed --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProgress(opts, cmd)
		},
	}

	opts.storeFlags.bind(cmd)
	cmd.Flags().StringVar(&opts.Cursor, "cursor", "", "progress cursor name (default from config)")

	return cmd
}

func runProgress(opts *ProgressOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions, &opts.storeFlags)
	if err != nil {
		return err
	}
	name := cfg.Ingest.Cursor
	if opts.Cursor != "" {
		name = opts.Cursor
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	seq, err := st.Progress(cmdContext(cmd), name)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read progress", err)
	}

	result := ProgressResult{Cursor: name, Watermark: seq}
	return opts.formatter(cmd).Render(result, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%s: %d\n", result.Cursor, result.Watermark)
		return err
	})
}
