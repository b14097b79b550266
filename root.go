package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/athera-io/athera-sync/internal/config"
	"github.com/athera-io/athera-sync/internal/metrics"
)

// version is set at build time via ldflags.
var version = "dev"

// CLIFlags holds the persistent flags shared by every command.
type CLIFlags struct {
	ConfigPath string
	Region     string
	Group      string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext is built once per invocation by the root pre-run and carried
// to subcommands through the command context.
type CLIContext struct {
	Flags   CLIFlags
	Cfg     *config.Resolved
	Logger  *slog.Logger
	Metrics *metrics.Transfer

	// Out receives command output; status lines go to stderr.
	Out io.Writer

	logFile *os.File
	stop    func()
}

type cliContextKey struct{}

func withCLIContext(ctx context.Context, cc *CLIContext) context.Context {
	return context.WithValue(ctx, cliContextKey{}, cc)
}

// mustCLIContext returns the CLIContext stored by the root pre-run. Commands
// only run after it, so a missing value is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("CLIContext missing from command context")
	}

	return cc
}

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Flags.Quiet, format, args...)
}

// Close writes the metrics textfile, when configured, and closes the log
// file. It runs after the command, whether or not it failed.
func (cc *CLIContext) Close() error {
	var err error

	if cc.stop != nil {
		cc.stop()
		cc.stop = nil
	}

	if cc.Metrics != nil && cc.Cfg != nil && cc.Cfg.MetricsTextfile != "" {
		err = cc.Metrics.WriteTextfile(cc.Cfg.MetricsTextfile)
	}

	if cc.logFile != nil {
		cc.logFile.Close()
		cc.logFile = nil
	}

	return err
}

// newRootCmd builds the root command with every subcommand registered. cc is
// filled in by the pre-run; the caller closes it after Execute returns.
func newRootCmd(cc *CLIContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "athera-sync",
		Short:   "Athera Sirius file transfer client",
		Long:    "Browse, download and upload files on Athera storage mounts over the Sirius gRPC service.",
		Version: version,
		// Errors are printed once by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadConfig(cmd, cc); err != nil {
				return err
			}

			ctx, stop := shutdownContext(cmd.Context(), cc.Logger)
			cc.stop = stop
			cmd.SetContext(withCLIContext(ctx, cc))

			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cc.Flags.ConfigPath, "config", "", "config file path")
	flags.StringVar(&cc.Flags.Region, "region", "", "Sirius region (e.g. europe-west1)")
	flags.StringVar(&cc.Flags.Group, "group", "", "active group id")
	flags.BoolVar(&cc.Flags.JSON, "json", false, "output in JSON format")
	flags.BoolVarP(&cc.Flags.Verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVarP(&cc.Flags.Quiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newRegionsCmd())
	cmd.AddCommand(newMountsCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newPushCmd())
	cmd.AddCommand(newUploadsCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override chain
// and builds the logger and metrics for the run.
func loadConfig(cmd *cobra.Command, cc *CLIContext) error {
	cli := config.CLIOverrides{ConfigPath: cc.Flags.ConfigPath}

	// Only pass flags the user explicitly set.
	if cmd.Flags().Changed("region") {
		cli.Region = cc.Flags.Region
	}

	if cmd.Flags().Changed("group") {
		cli.GroupID = cc.Flags.Group
	}

	bootstrap := buildLogger(os.Stderr, "", "text", cc.Flags)

	resolved, err := config.Resolve(config.ReadEnvOverrides(bootstrap), cli, bootstrap)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logOut := io.Writer(os.Stderr)

	if resolved.LogFile != "" {
		f, err := openLogFile(resolved.LogFile)
		if err != nil {
			return err
		}

		cc.logFile = f
		logOut = f
	}

	cc.Cfg = resolved
	cc.Logger = buildLogger(logOut, resolved.LogLevel, resolved.LogFormat, cc.Flags)
	cc.Metrics = metrics.New()
	cc.Out = cmd.OutOrStdout()

	return nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	return f, nil
}

// buildLogger creates the run's logger. The configured level is the
// baseline; --verbose and --quiet override it because CLI flags always win.
// Format "auto" writes text to a terminal and JSON anywhere else.
func buildLogger(w io.Writer, levelName, format string, flags CLIFlags) *slog.Logger {
	level := slog.LevelInfo

	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "auto" {
		format = "json"
		if isTerminal(w) {
			format = "text"
		}
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
