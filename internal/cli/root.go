package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/cardlog/internal/app"
	"github.com/roach88/cardlog/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	EnvFile  string
	DataDir  string
	Session  string
	Archive  string
	LogLevel string

	// Config and Logger are resolved before any subcommand runs.
	Config config.Config
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the cardlog CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "cardlog",
		Short: "cardlog - event-sourced card game sessions",
		Long: `A local-first session engine for trick-taking card games.

Every change to a game is an event appended to a session log; the game
state is the fold of that log. Finished games are archived as records
that can be listed, restored and re-summarized.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.resolve(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file to load before reading the environment")
	flags.StringVar(&opts.DataDir, "data-dir", "", "data directory (overrides CARDLOG_DATA_DIR)")
	flags.StringVarP(&opts.Session, "session", "s", "", "session id (overrides CARDLOG_SESSION)")
	flags.StringVar(&opts.Archive, "archive", "", "archive name (overrides CARDLOG_ARCHIVE)")
	flags.StringVar(&opts.LogLevel, "log-level", "", "log level (overrides CARDLOG_LOG_LEVEL)")

	cmd.AddCommand(NewAppendCommand(opts))
	cmd.AddCommand(NewStateCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))
	cmd.AddCommand(NewStartCommand(opts))
	cmd.AddCommand(NewBidCommand(opts))
	cmd.AddCommand(NewPlayCommand(opts))
	cmd.AddCommand(NewAutoplayCommand(opts))
	cmd.AddCommand(NewArchiveCommand(opts))
	cmd.AddCommand(NewRestoreCommand(opts))
	cmd.AddCommand(NewGamesCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// resolve loads the configuration, applies flag overrides and builds the
// logger. Logs always go to stderr so JSON output stays parseable.
func (o *RootOptions) resolve(cmd *cobra.Command) error {
	cfg, err := config.Load(o.EnvFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = o.DataDir
	}
	if flags.Changed("session") {
		cfg.Session = o.Session
	}
	if flags.Changed("archive") {
		cfg.Archive = o.Archive
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.LogLevel
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}

	logger, err := app.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid log settings", err)
	}
	o.Config = cfg
	o.Logger = logger
	return nil
}

// formatter returns an OutputFormatter bound to cmd's writers.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// openApp opens the configured data directory.
func (o *RootOptions) openApp() (*app.App, error) {
	a, err := app.Open(o.Config, o.Logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open data directory", err)
	}
	return a, nil
}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
