package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/gateway"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Online   bool

	// Gateway overrides the HTTP gateway (for testing).
	Gateway gateway.Gateway
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an operator session",
		Long: `Run an operator session against the configured dispatch server.

The session restores the persisted slice from the local database, replays
any queued operations, and keeps reconciling until interrupted.

Example:
  fieldsync run -c fieldsync.yaml
  fieldsync run -c fieldsync.yaml --online --db /tmp/op.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides store.path)")
	cmd.Flags().BoolVar(&opts.Online, "online", false, "go on duty after starting")

	return cmd
}

func runSession(opts *RunOptions, cmd *cobra.Command) error {
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

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	signedOut := make(chan error, 1)
	s, _, err := a.newSession(st, gw, true, func(cause error) {
		signedOut <- cause
		cancel()
	})
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			a.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := s.Start(ctx); err != nil {
		_ = a.out.Error(CodeSession, "failed to start session", err.Error())
		return WrapExitError(ExitFailure, "failed to start session", err)
	}
	defer s.Close()

	if opts.Online {
		if err := s.GoOnline(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("go online failed", "error", err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Session started for operator %s.\n", a.cfg.OperatorID)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	// A sign-out cancels ctx after reporting its cause.
	<-ctx.Done()
	_ = s.Close()

	select {
	case cause := <-signedOut:
		_ = a.out.Error(CodeSession, "signed out", cause.Error())
		return WrapExitError(ExitFailure, "signed out", cause)
	default:
	}

	a.logger.Info("session stopped gracefully", "event", "session_stopped")
	return nil
}
