package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/gateway"
	"github.com/roach88/fieldsync/internal/queue"
)

// DrainOptions holds flags for the drain command.
type DrainOptions struct {
	*RootOptions
	Database string

	// Gateway overrides the HTTP gateway (for testing).
	Gateway gateway.Gateway
}

// DrainDiscard describes one operation the server refused.
type DrainDiscard struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	TaskID string `json:"task_id,omitempty"`
	Reason string `json:"reason"`
}

// DrainResult is the result of the drain command.
type DrainResult struct {
	Processed int            `json:"processed"`
	Discarded []DrainDiscard `json:"discarded"`
	Halted    bool           `json:"halted"`
	HaltedOn  string         `json:"halted_on,omitempty"`
	HaltError string         `json:"halt_error,omitempty"`
	Remaining int            `json:"remaining"`
}

// Text renders the result for humans.
func (r DrainResult) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Processed: %d\n", r.Processed)
	fmt.Fprintf(&b, "Discarded: %d\n", len(r.Discarded))
	for _, d := range r.Discarded {
		fmt.Fprintf(&b, "  %s %s %s: %s\n", d.ID, d.Kind, d.TaskID, d.Reason)
	}
	if r.Halted {
		fmt.Fprintf(&b, "Halted on %s: %s\n", r.HaltedOn, r.HaltError)
	}
	fmt.Fprintf(&b, "Remaining: %d\n", r.Remaining)
	return b.String()
}

func newDrainResult(r queue.Report, remaining int) DrainResult {
	out := DrainResult{
		Processed: r.Processed,
		Discarded: make([]DrainDiscard, 0, len(r.Discarded)),
		Halted:    r.Halted,
		Remaining: remaining,
	}
	for _, d := range r.Discarded {
		out.Discarded = append(out.Discarded, DrainDiscard{
			ID:     d.Op.ID,
			Kind:   string(d.Op.Kind),
			TaskID: d.Op.TaskID(),
			Reason: d.Err.Error(),
		})
	}
	if r.HaltedOn != nil {
		out.HaltedOn = r.HaltedOn.ID
	}
	if r.HaltErr != nil {
		out.HaltError = r.HaltErr.Error()
	}
	return out
}

// NewDrainCommand creates the drain command.
func NewDrainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DrainOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Replay queued operations once",
		Long: `Replay every queued operation against the configured server, in order.

Operations the server refuses are discarded. A transient failure halts the
drain and leaves the rest of the queue for the next attempt.

Example:
  fieldsync drain -c fieldsync.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return drainQueue(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides store.path)")

	return cmd
}

func drainQueue(opts *DrainOptions, cmd *cobra.Command) error {
	a, err := newApp(opts.RootOptions, cmd, opts.Database)
	if err != nil {
		return err
	}
	if err := a.validate(); err != nil {
		return err
	}
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer closeStore(st, a.logger)

	gw := opts.Gateway
	if gw == nil {
		if gw, err = a.gateway(); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// The monitor starts unreachable so Start does not race the explicit
	// drain with its own startup sync.
	s, _, err := a.newSession(st, gw, false, nil)
	if err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		_ = a.out.Error(CodeSession, "failed to start session", err.Error())
		return WrapExitError(ExitFailure, "failed to start session", err)
	}
	defer s.Close()

	report, drainErr := s.Drain(ctx)
	remaining := s.State().PendingOps
	result := newDrainResult(report, remaining)

	if drainErr != nil {
		_ = a.out.Error(CodeDrain, "drain failed", drainErr.Error())
		return WrapExitError(ExitFailure, "drain failed", drainErr)
	}
	if err := a.out.Success(result); err != nil {
		return err
	}
	if report.Halted {
		return NewExitError(ExitFailure, "drain halted on a transient failure")
	}
	return nil
}
