package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds the persistent flags shared by every command.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
}

// ValidFormats are the accepted values of --format.
var ValidFormats = []string{"text", "json"}

// NewRootCommand builds the fieldsync command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "fieldsync",
		Short: "Keep a field operator in sync with the dispatch server",
		Long: `Keeps a field operator's view of tasks, earnings and presence consistent
with the dispatch server across unreliable connectivity.

Operator intents that cannot be confirmed immediately are persisted to a durable
queue and replayed in order when the link returns.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output and debug logging")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")

	cmd.AddCommand(
		NewRunCommand(opts),
		NewQueueCommand(opts),
		NewDrainCommand(opts),
		NewSettingsCommand(opts),
	)
	return cmd
}
