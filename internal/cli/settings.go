package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

// SettingsOptions holds flags for the settings command.
type SettingsOptions struct {
	*RootOptions
	Database string
}

// SettingsDump is the persisted session slice keyed by setting name.
type SettingsDump map[string]json.RawMessage

// Text renders one key per line in key order.
func (d SettingsDump) Text() string {
	if len(d) == 0 {
		return "No settings persisted.\n"
	}
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s = %s\n", k, d[k])
	}
	return b.String()
}

// NewSettingsCommand creates the settings command.
func NewSettingsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SettingsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show the persisted session slice",
		Long: `Show the session settings persisted in the local database: onboarding,
language, tier and the cached wallet.

Example:
  fieldsync settings --db ./fieldsync.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showSettings(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides store.path)")

	return cmd
}

func showSettings(opts *SettingsOptions, cmd *cobra.Command) error {
	a, err := newApp(opts.RootOptions, cmd, opts.Database)
	if err != nil {
		return err
	}
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer closeStore(st, a.logger)

	settings, err := st.Settings(cmd.Context())
	if err != nil {
		_ = a.out.Error(CodeStore, "failed to read settings", err.Error())
		return WrapExitError(ExitCommandError, "failed to read settings", err)
	}
	return a.out.Success(SettingsDump(settings))
}
