package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/starcore/internal/patient"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	File     string         `json:"file"`
	Valid    bool           `json:"valid"`
	Messages int            `json:"messages"`
	Types    map[string]int `json:"types,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <events-file>",
		Short: "Validate an event file without applying it",
		Long: `Check a YAML or JSON event file against the event schema without
touching the store. Faster than ingest for checking a feed extract.

Examples:
  starcore validate events.yaml
  starcore validate events.json --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	msgs, err := patient.LoadFile(path)
	if err != nil {
		_ = formatter.Error(ErrCodeEventFile, err.Error(), validationDetails(err))
		return WrapExitError(ExitFailure, "validation failed", err)
	}

	result := ValidationResult{File: path, Valid: true, Messages: len(msgs), Types: map[string]int{}}
	for _, m := range msgs {
		result.Types[string(m.Type)]++
		formatter.Progress("  [%d] %s %s at %s", m.Seq, m.Type, m.Mrn, formatInstant(m.EventTime))
	}

	return formatter.Render(result, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "✓ %s: %d message(s) valid\n", result.File, result.Messages)
		return err
	})
}
