package cli

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/config"
	"github.com/roach88/fieldsync/internal/connectivity"
	"github.com/roach88/fieldsync/internal/gateway"
	"github.com/roach88/fieldsync/internal/queue"
	"github.com/roach88/fieldsync/internal/session"
	"github.com/roach88/fieldsync/internal/store"
)

// Error codes reported by the output formatter.
const (
	CodeConfig  = "E_CONFIG"
	CodeStore   = "E_STORE"
	CodeGateway = "E_GATEWAY"
	CodeSession = "E_SESSION"
	CodeDrain   = "E_DRAIN"
)

// app holds what every command needs: configuration, logging and output.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	out    *OutputFormatter
}

// newApp loads configuration and builds the logger. dbOverride, when set,
// replaces the configured store path.
func newApp(opts *RootOptions, cmd *cobra.Command, dbOverride string) (*app, error) {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_ = out.Error(CodeConfig, "failed to load config", err.Error())
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if dbOverride != "" {
		cfg.Store.Path = dbOverride
	}
	return &app{
		cfg:    cfg,
		logger: cfg.NewLogger(cmd.ErrOrStderr(), opts.Verbose),
		out:    out,
	}, nil
}

// validate checks the full configuration; commands that talk to the server
// need it, purely local ones do not.
func (a *app) validate() error {
	if err := a.cfg.Validate(); err != nil {
		_ = a.out.Error(CodeConfig, "invalid config", err.Error())
		return WrapExitError(ExitCommandError, "invalid config", err)
	}
	return nil
}

func (a *app) openStore() (*store.Store, error) {
	a.out.VerboseLog("opening database %s", a.cfg.Store.Path)
	st, err := store.Open(a.cfg.Store.Path)
	if err != nil {
		_ = a.out.Error(CodeStore, "failed to open database", err.Error())
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func (a *app) gateway() (*gateway.HTTPGateway, error) {
	var token gateway.TokenSource
	if a.cfg.Server.Token != "" {
		token = gateway.StaticToken(a.cfg.Server.Token)
	}
	gw, err := gateway.NewHTTP(gateway.Config{
		BaseURL:    a.cfg.Server.BaseURL,
		FeedURL:    a.cfg.Server.FeedURL,
		OperatorID: a.cfg.OperatorID,
		Token:      token,
		Timeout:    a.cfg.Server.Timeout,
		Logger:     a.logger,
	})
	if err != nil {
		_ = a.out.Error(CodeGateway, "failed to create gateway", err.Error())
		return nil, WrapExitError(ExitCommandError, "failed to create gateway", err)
	}
	return gw, nil
}

// sessionConfig maps configuration onto session tunables.
func (a *app) sessionConfig() session.Config {
	sc := session.DefaultConfig(a.cfg.OperatorID)
	sc.Languages = a.cfg.Languages
	sc.ReconcileInterval = a.cfg.Intervals.Reconcile
	sc.HeartbeatInterval = a.cfg.Intervals.Heartbeat
	sc.SweepInterval = a.cfg.Intervals.Sweep
	sc.LogCapacity = a.cfg.Session.LogCapacity
	sc.NoticeTTL = a.cfg.Session.NoticeTTL
	return sc
}

// newSession wires a session over st and gw. reachable seeds the monitor.
func (a *app) newSession(st *store.Store, gw gateway.Gateway, reachable bool, onSignedOut func(error)) (*session.Session, *connectivity.Monitor, error) {
	mon := connectivity.New(a.cfg.Health.Window, reachable)
	s, err := session.New(a.sessionConfig(), session.Deps{
		Gateway:     gw,
		Queue:       queue.New(st, queue.WithLogger(a.logger)),
		Store:       st,
		Monitor:     mon,
		Logger:      a.logger,
		OnSignedOut: onSignedOut,
	})
	if err != nil {
		_ = a.out.Error(CodeSession, "failed to create session", err.Error())
		return nil, nil, WrapExitError(ExitCommandError, "failed to create session", err)
	}
	return s, mon, nil
}

func closeStore(st io.Closer, logger *slog.Logger) {
	if err := st.Close(); err != nil {
		logger.Error("error closing database", "error", err)
	}
}
