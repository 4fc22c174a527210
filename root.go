package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tonimelisma/seedr-go/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagUser       string
	flagLogLevel   string
	flagStorage    string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// defaultUser names the local account when --user is not given.
const defaultUser = "default"

// Log rotation size for --log-file output.
const logMaxSizeMB = 10

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
var (
	resolvedCfg  *config.Config
	resolvedPath string
)

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "seedr-go",
		Short:   "Seedr CLI client",
		Long:    "Sign in to Seedr and manage the torrents and files in your account.",
		Version: version,
		// Errors are printed by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagUser, "user", defaultUser, "local account the command acts for")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flagStorage, "storage", "", "token storage backend (file, sqlite, keyring, memory)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newLinkCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override chain
// and stores it in resolvedCfg for use by subcommands.
func loadConfig(cmd *cobra.Command) error {
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	if cmd.Flags().Changed("log-level") {
		cli.LogLevel = &flagLogLevel
	}

	if cmd.Flags().Changed("storage") {
		cli.Backend = &flagStorage
	}

	cfg, path, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = cfg
	resolvedPath = path

	return nil
}

// buildLogger creates an slog.Logger from the [logging] section. The config
// level is the baseline; --verbose and --quiet override it.
func buildLogger() *slog.Logger {
	lc := config.DefaultConfig().Logging
	if resolvedCfg != nil {
		lc = resolvedCfg.Logging
	}

	level := parseLevel(lc.LogLevel)

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	var (
		w    io.Writer = os.Stderr
		isTT           = isatty.IsTerminal(os.Stderr.Fd())
	)

	if lc.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(lc.LogFile), 0o700); err == nil {
			w = &lumberjack.Logger{
				Filename: lc.LogFile,
				MaxSize:  logMaxSizeMB,
				MaxAge:   lc.LogRetentionDays,
				Compress: true,
			}
			isTT = false
		}
	}

	opts := &slog.HandlerOptions{Level: level}

	if useJSON(lc.LogFormat, isTT) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// useJSON picks the handler for log_format. "auto" means text on a
// terminal and JSON otherwise.
func useJSON(format string, terminal bool) bool {
	switch format {
	case "json":
		return true
	case "text":
		return false
	default:
		return !terminal
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
