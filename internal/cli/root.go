// Package cli is the rat command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"rat/internal/config"
	"rat/internal/job"
	"rat/internal/manager"
	"rat/internal/storage"
	logx "rat/pkg/logx"
)

// app holds what every subcommand shares: the loaded config, the logger and
// the single store handle opened for the life of the process.
type app struct {
	configPath string
	dbPath     string
	logLevel   string

	stdout io.Writer
	stderr io.Writer

	cfgMgr *config.Manager
	cfg    *config.Config
	logSvc *logx.Service
	log    logx.Logger
	store  *storage.Store
	mgr    *manager.Manager
}

// Execute runs the command line in args and returns the first error.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{stdout: stdout, stderr: stderr}
	defer a.close()

	root := NewRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

// NewRootCmd creates the root command.
func NewRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "rat",
		Short:         "Run shell commands later, one at a time",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/rat/config.yaml)")
	flags.StringVar(&a.dbPath, "db", "", "database file (overrides storage.path)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: trace|debug|info|warn|error")

	rootCmd.AddCommand(
		newListCommand(a),
		newAddCommand(a),
		newCancelCommand(a),
		newDeleteCommand(a),
		newRunCommand(a),
		newLogCommand(a),
	)
	return rootCmd
}

func (a *app) open(ctx context.Context) error {
	a.cfgMgr = config.NewManager(a.configPath, logx.Nop())
	loaded, err := a.cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := a.effective(loaded)
	a.cfg = cfg

	a.logSvc, a.log = logx.New(cfg.LogSettings())
	a.cfgMgr.SetLogger(a.log.With(logx.String("component", "config")))

	if err := config.EnsureDirs(cfg); err != nil {
		return err
	}
	sc, err := cfg.StorageSettings()
	if err != nil {
		return err
	}
	a.store, err = storage.Open(ctx, sc, a.log)
	if err != nil {
		return err
	}
	a.mgr = manager.New(a.store, a.log)
	return nil
}

// effective returns a copy of loaded with the global flags applied on top.
func (a *app) effective(loaded *config.Config) *config.Config {
	cfg := *loaded
	if p := strings.TrimSpace(a.dbPath); p != "" {
		cfg.Storage.Path = p
	}
	if lvl := strings.TrimSpace(a.logLevel); lvl != "" {
		cfg.Logging.Level = lvl
	}
	return &cfg
}

// close is idempotent; Execute calls it again for commands that failed
// before PersistentPostRunE.
func (a *app) close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	if a.logSvc != nil {
		errs = append(errs, a.logSvc.Close())
		a.logSvc = nil
	}
	return errors.Join(errs...)
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id %q", raw)
	}
	return id, nil
}

// lookup wraps ErrNotFound with the id so the message is useful on its own.
func (a *app) lookup(ctx context.Context, raw string) (job.Job, error) {
	id, err := parseID(raw)
	if err != nil {
		return job.Job{}, err
	}
	j, err := a.mgr.Get(ctx, id)
	if errors.Is(err, job.ErrNotFound) {
		return job.Job{}, fmt.Errorf("job %d: %w", id, err)
	}
	return j, err
}
