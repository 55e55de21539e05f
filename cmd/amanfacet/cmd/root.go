// Package cmd provides the CLI commands for amanfacet.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanfacet/internal/catalog"
	"github.com/Aman-CERP/amanfacet/internal/config"
	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
	"github.com/Aman-CERP/amanfacet/internal/logging"
	"github.com/Aman-CERP/amanfacet/internal/output"
	"github.com/Aman-CERP/amanfacet/internal/profiling"
	"github.com/Aman-CERP/amanfacet/internal/ui"
	"github.com/Aman-CERP/amanfacet/pkg/service"
	"github.com/Aman-CERP/amanfacet/pkg/version"
)

// app is the state shared by one invocation's commands.
type app struct {
	configPath string
	debug      bool
	noColor    bool
	profile    profiling.Options

	cfg     *config.Config
	cfgErr  error
	logger  *slog.Logger
	cleanup []func()
}

// NewRootCmd creates the root command for the amanfacet CLI.
func NewRootCmd() *cobra.Command {
	cmd, _ := newRootCmd()
	return cmd
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{logger: logging.Discard()}

	cmd := &cobra.Command{
		Use:   "amanfacet",
		Short: "Faceted full-text search over a local product catalog",
		Long: `amanfacet indexes product documents into an embedded bleve index and
answers full-text queries narrowed by facet filters, returning typed
results with per-facet counts.

Configuration is read from .amanfacet.yaml (or .toml) in the current
directory, ~/.config/amanfacet/config.yaml, and AMANFACET_* variables.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("amanfacet version {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "Config file (default: project then user config)")
	pf.BoolVar(&a.debug, "debug", false, "Enable debug logging to ~/.amanfacet/logs/")
	pf.BoolVar(&a.noColor, "no-color", false, "Disable colored output")
	pf.StringVar(&a.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	pf.StringVar(&a.profile.Heap, "profile-mem", "", "Write memory profile to file")
	pf.StringVar(&a.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return a.start(cmd)
	}
	cmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		return a.stop()
	}

	cmd.AddCommand(newIndexCmd(a))
	cmd.AddCommand(newSearchCmd(a))
	cmd.AddCommand(newDeleteCmd(a))
	cmd.AddCommand(newStatusCmd(a))
	cmd.AddCommand(newExportCmd(a))
	cmd.AddCommand(newRestoreCmd(a))
	cmd.AddCommand(newArchivesCmd(a))
	cmd.AddCommand(newLogsCmd(a))
	cmd.AddCommand(newConfigCmd(a))
	cmd.AddCommand(newVersionCmd())

	return cmd, a
}

// Execute runs the root command and prints any error to stderr.
func Execute() error {
	cmd, a := newRootCmd()
	err := cmd.Execute()
	_ = a.stop()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, amerrors.FormatForCLI(err))
	}
	return err
}

// start loads config, then logging, then profiling. A config error is kept
// for the commands that need config; the others still run.
func (a *app) start(cmd *cobra.Command) error {
	if a.configPath != "" {
		a.cfg, a.cfgErr = config.LoadFile(a.configPath)
	} else {
		dir, err := os.Getwd()
		if err != nil {
			dir = "."
		}
		a.cfg, a.cfgErr = config.Load(dir)
	}

	logCfg := logging.StderrConfig()
	if a.cfg != nil && a.cfgErr == nil {
		logCfg.Level = a.cfg.Logging.Level
		if a.cfg.Logging.File != "" {
			logCfg.FilePath = a.cfg.Logging.File
			logCfg.MaxSizeMB = a.cfg.Logging.MaxSizeMB
			logCfg.MaxFiles = a.cfg.Logging.MaxFiles
		}
	}
	if a.debug {
		logCfg = logging.DebugConfig()
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return amerrors.New(amerrors.ErrCodeFilePermission, "failed to set up logging", err).
			WithDetail("path", logCfg.FilePath)
	}
	a.logger = logger
	a.cleanup = append(a.cleanup, cleanup)
	slog.SetDefault(logger)
	if a.debug {
		logger.Debug("debug_logging_enabled",
			slog.String("log_file", logCfg.FilePath),
			slog.String("command", cmd.CommandPath()),
			slog.String("version", version.Short()))
	}

	if a.profile.Enabled() {
		session, err := profiling.Start(a.profile)
		if err != nil {
			return err
		}
		a.cleanup = append(a.cleanup, func() {
			if err := session.Stop(); err != nil {
				logger.Warn("profile_write_failed", slog.String("error", err.Error()))
			}
		})
	}
	return nil
}

// stop runs cleanups in reverse order. Commands that fail skip
// PersistentPostRunE, so Execute calls it too.
func (a *app) stop() error {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
	return nil
}

// loadedConfig returns the loaded configuration or the error loading it.
func (a *app) loadedConfig() (*config.Config, error) {
	if a.cfgErr != nil {
		return nil, a.cfgErr
	}
	if a.cfg == nil {
		return nil, amerrors.ConfigError("configuration not loaded", nil)
	}
	return a.cfg, nil
}

// openCatalog registers the product index with a fresh registry. The
// caller closes the registry.
func (a *app) openCatalog(ctx context.Context) (*service.Registry, *service.Services[catalog.Product], error) {
	cfg, err := a.loadedConfig()
	if err != nil {
		return nil, nil, err
	}
	reg, err := service.NewRegistry(cfg, service.WithLogger(a.logger))
	if err != nil {
		return nil, nil, err
	}
	svc, err := service.Register(ctx, reg, catalog.Config)
	if err != nil {
		_ = reg.Close()
		return nil, nil, err
	}
	return reg, svc, nil
}

func (a *app) printer(w io.Writer) *output.Writer {
	return output.NewWithColor(w, !a.noColor && ui.UseColor(w))
}

func (a *app) colorOff(w io.Writer) bool {
	return a.noColor || !ui.UseColor(w)
}
