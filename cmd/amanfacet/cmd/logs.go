package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
	"github.com/Aman-CERP/amanfacet/internal/logging"
)

type logsOptions struct {
	follow  bool
	lines   int
	level   string
	filter  string
	index   string
	logFile string
}

func newLogsCmd(a *app) *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View amanfacet logs",
		Long: `View and tail the JSON log written with --debug or logging.file.

By default, shows the last 50 lines. Use -f to follow new entries.`,
		Example: `  amanfacet logs -n 100
  amanfacet logs -f --level warn
  amanfacet logs --index products --filter commit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd.Context(), a, cmd, opts)
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&opts.follow, "follow", "f", false, "Follow log output (like tail -f)")
	f.IntVarP(&opts.lines, "lines", "n", 50, "Number of lines to show")
	f.StringVar(&opts.level, "level", "", "Minimum level (debug|info|warn|error)")
	f.StringVar(&opts.filter, "filter", "", "Only entries matching this regex")
	f.StringVar(&opts.index, "index", "", "Only entries about this index")
	f.StringVar(&opts.logFile, "file", "", "Path to log file")

	return cmd
}

func runLogs(ctx context.Context, a *app, cmd *cobra.Command, opts logsOptions) error {
	explicit := opts.logFile
	if explicit == "" && a.cfg != nil && a.cfgErr == nil {
		explicit = a.cfg.Logging.File
	}
	path, err := logging.FindLogFile(explicit)
	if err != nil {
		return err
	}

	var pattern *regexp.Regexp
	if opts.filter != "" {
		pattern, err = regexp.Compile(opts.filter)
		if err != nil {
			return amerrors.New(amerrors.ErrCodeInvalidInput, "invalid filter pattern", err).
				WithDetail("filter", opts.filter)
		}
	}

	stdout := cmd.OutOrStdout()
	viewer := logging.NewViewer(logging.ViewerConfig{
		Level:   opts.level,
		Pattern: pattern,
		Index:   opts.index,
		NoColor: a.colorOff(stdout),
	}, stdout)

	stderr := cmd.ErrOrStderr()
	_, _ = fmt.Fprintf(stderr, "Log file: %s\n", path)

	if !opts.follow {
		entries, err := viewer.Tail(path, opts.lines)
		if err != nil {
			return err
		}
		viewer.Print(entries)
		return nil
	}

	_, _ = fmt.Fprintln(stderr, "Following... (Ctrl+C to stop)")
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	entries := make(chan logging.LogEntry, 100)
	errCh := make(chan error, 1)
	go func() {
		errCh <- viewer.Follow(ctx, path, entries)
	}()

	for {
		select {
		case e := <-entries:
			_, _ = fmt.Fprintln(stdout, viewer.FormatEntry(e))
		case err := <-errCh:
			return err
		}
	}
}
