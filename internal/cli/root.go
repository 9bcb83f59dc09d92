package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions are the persistent flags shared by every command.
type RootOptions struct {
	Verbose    bool
	Format     string // text or json
	ConfigPath string
}

// ValidFormats lists the values --format accepts.
var ValidFormats = []string{"text", "json"}

// NewRootCommand builds the starcore command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "starcore",
		Short: "Bitemporal patient record store",
		Long: `starcore folds patient events into a bitemporal record store.

Events may arrive late or out of order. Every change keeps the version it
replaces as an immutable historical copy, so a record can be read as it was
believed at any processing time.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "print per-message progress")
	flags.StringVar(&opts.Format, "format", "text", "output format (text|json)")
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default starcore.yaml if present)")

	cmd.AddCommand(
		NewIngestCommand(opts),
		NewValidateCommand(opts),
		NewHistoryCommand(opts),
		NewAsOfCommand(opts),
		NewProgressCommand(opts),
		NewTestCommand(opts),
	)
	return cmd
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
