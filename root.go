package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/tbgwctl/internal/config"
	"github.com/tonimelisma/tbgwctl/internal/metrics"
)

// version is set at build time via ldflags.
var version = "dev"

// Command annotations read by newCLIContext. skip-config commands (logout)
// get only a bootstrap logger; skip-credentials commands (login) resolve
// config without reading the credentials file they are about to replace.
const (
	skipConfigAnnotation      = "skip-config"
	skipCredentialsAnnotation = "skip-credentials"
)

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath      string
	flagCredentialsPath string
	flagURL             string
	flagFileDBID        int
	flagMetricsFile     string
	flagJSON            bool
	flagVerbose         bool
	flagDebug           bool
	flagQuiet           bool
)

// CLIFlags is a snapshot of the persistent flags for one invocation.
type CLIFlags struct {
	ConfigPath      string
	CredentialsPath string
	JSON            bool
	Verbose         bool
	Debug           bool
	Quiet           bool
}

// CLIContext carries per-invocation state to subcommands through the
// command's context.
type CLIContext struct {
	Flags   CLIFlags
	Cfg     *config.Resolved // nil for skip-config commands
	Logger  *slog.Logger
	Metrics *metrics.Registry
	Out     io.Writer
	ErrOut  io.Writer
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext installed by the root pre-run.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("CLIContext missing from command context")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tbgwctl",
		Short: "Manage routeset files on a telephony border gateway",
		Long: `tbgwctl lists, exports, creates, updates and deletes the routeset
definition and digit map files of a telephony border gateway appliance through
its web management interface.`,
		Version: version,
		// Errors are printed by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := newCLIContext(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flagConfigPath, "config", "", "config file path")
	pf.StringVar(&flagCredentialsPath, "credentials", "", "credentials file path")
	pf.StringVar(&flagURL, "url", "", "appliance base URL (e.g. https://gw.example.net)")
	pf.IntVar(&flagFileDBID, "db", 0, "file database id")
	pf.StringVar(&flagMetricsFile, "metrics-file", "", "write Prometheus metrics to this file after the command")
	pf.BoolVar(&flagJSON, "json", false, "output in JSON format")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "enable info logging")
	pf.BoolVar(&flagDebug, "debug", false, "enable debug logging")
	pf.BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newCreateCmd())
	cmd.AddCommand(newUpdateCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newBatchCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// newCLIContext resolves configuration (unless the command opts out) and
// builds the logger and metrics registry.
func newCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	cc := &CLIContext{
		Flags: CLIFlags{
			ConfigPath:      flagConfigPath,
			CredentialsPath: flagCredentialsPath,
			JSON:            flagJSON,
			Verbose:         flagVerbose,
			Debug:           flagDebug,
			Quiet:           flagQuiet,
		},
		Metrics: metrics.New(),
		Out:     cmd.OutOrStdout(),
		ErrOut:  cmd.ErrOrStderr(),
	}

	if cmd.Annotations[skipConfigAnnotation] != "" {
		cc.Logger = bootstrapLogger(cc.ErrOut)

		return cc, nil
	}

	cli := config.CLIOverrides{
		ConfigPath:      flagConfigPath,
		CredentialsPath: flagCredentialsPath,
		BaseURL:         flagURL,
		FileDBID:        flagFileDBID,
		SkipCredfile:    cmd.Annotations[skipCredentialsAnnotation] != "",
	}

	if cmd.Flags().Changed("metrics-file") {
		cli.MetricsFile = &flagMetricsFile
	}

	if f := cmd.Flags().Lookup("continue-on-error"); f != nil && f.Changed {
		v := f.Value.String() == "true"
		cli.ContinueOnError = &v
	}

	env := config.ReadEnvOverrides(bootstrapLogger(cc.ErrOut))

	resolved, err := config.Resolve(env, cli, bootstrapLogger(cc.ErrOut))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	cc.Cfg = resolved
	cc.Logger = buildLogger(resolved, cc.ErrOut)

	return cc, nil
}

// bootstrapLogger is used before configuration is known. Default level is
// Warn; --verbose and --debug lower it.
func bootstrapLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn

	switch {
	case flagDebug:
		level = slog.LevelDebug
	case flagVerbose:
		level = slog.LevelInfo
	case flagQuiet:
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose,
// --debug and --quiet override it because CLI flags always win.
func buildLogger(cfg *config.Resolved, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	format := "auto"

	if cfg != nil {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		format = cfg.LogFormat
	}

	switch {
	case flagDebug:
		level = slog.LevelDebug
	case flagVerbose:
		level = min(level, slog.LevelInfo)
	case flagQuiet:
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format == "auto" && !isTerminal(w)) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// newHTTPClient returns the HTTP client used for appliance requests: the
// configured timeout, optional TLS verification bypass for appliances with
// self-signed certificates, and request metrics.
func newHTTPClient(cfg *config.Resolved, reg *metrics.Registry) *http.Client {
	base, ok := http.DefaultTransport.(*http.Transport)

	var rt http.RoundTripper = http.DefaultTransport

	if ok {
		tr := base.Clone()
		if cfg.InsecureSkipVerify {
			tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed appliances
		}

		rt = tr
	}

	if reg != nil {
		rt = reg.InstrumentTransport(rt)
	}

	return &http.Client{Timeout: cfg.RequestTimeout, Transport: rt}
}

// withMetrics wraps a RunE so the metrics textfile is written after the
// command, whether it succeeded or not.
func withMetrics(fn func(cmd *cobra.Command, args []string, cc *CLIContext) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cc := mustCLIContext(cmd.Context())
		err := fn(cmd, args, cc)

		if cc.Cfg != nil && cc.Cfg.MetricsTextfile != "" {
			if werr := cc.Metrics.WriteTextfile(cc.Cfg.MetricsTextfile); werr != nil {
				cc.Logger.Warn("metrics not written", slog.String("error", werr.Error()))
			}
		}

		return err
	}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
