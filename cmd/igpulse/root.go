package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"igpulse/pkg/auth"
	"igpulse/pkg/collector"
	"igpulse/pkg/config"
	"igpulse/pkg/digest"
	"igpulse/pkg/logger"
	"igpulse/pkg/ui"
)

var (
	// Version information
	version   = "0.3.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile    string
	logLevel      string
	noColor       bool
	notifications bool
	quiet         bool
	verbose       bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "igpulse",
	Short: "Collect your Instagram feed and surface the posts worth seeing",
	Long: `igpulse reads your Instagram home feed with the cookies of a logged-in
browser, stores every post it sees and ranks them by relevance.

Features:
  - Human-like pacing with batch breaks and optional browsing pauses
  - Session persistence with automatic refresh and backups
  - Relevance scoring with close friends and event detection
  - Digests of new top posts, delivered once per account
  - Scheduled crawls for several accounts`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if quiet {
			ui.SetQuietMode(true)
		}
		if noColor {
			ui.SetNoColor(true)
		}
		if verbose && cmd.Name() != "help" {
			ui.PrintLogo()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is $HOME/.config/igpulse/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&notifications, "notifications", true, "raise desktop notifications for digests")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show the logo and debug logs")

	rootCmd.SetVersionTemplate(`igpulse {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	logger.Version = version
}

// loadConfig merges the config file, environment and flags
func loadConfig(flags map[string]interface{}) (*config.Config, error) {
	if flags == nil {
		flags = make(map[string]interface{})
	}
	switch {
	case logLevel != "":
		flags["log-level"] = logLevel
	case verbose:
		flags["log-level"] = "debug"
	case quiet:
		flags["log-level"] = "error"
	}
	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup loads configuration and builds the logger
func setup(flags map[string]interface{}) (*config.Config, logger.Logger, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// app bundles what most commands need
type app struct {
	cfg       *config.Config
	log       logger.Logger
	creds     *auth.Manager
	ledger    *digest.Ledger
	collector *collector.Collector
}

// newApp opens the credential manager and, when withLedger is set, the
// digest ledger, and builds a collector over them.
func newApp(flags map[string]interface{}, withLedger bool, workers int) (*app, error) {
	cfg, log, err := setup(flags)
	if err != nil {
		return nil, err
	}

	creds, err := auth.NewManager("", log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	a := &app{cfg: cfg, log: log, creds: creds}
	if withLedger {
		if err := os.MkdirAll(filepath.Dir(cfg.Digest.DatabasePath), 0700); err != nil {
			return nil, fmt.Errorf("failed to create digest directory: %w", err)
		}
		if a.ledger, err = digest.OpenLedger(cfg.Digest.DatabasePath); err != nil {
			return nil, err
		}
	}

	a.collector = collector.New(collector.Options{
		Config:      cfg,
		Credentials: creds,
		Ledger:      a.ledger,
		Notifier:    ui.NewNotifier(notifications),
		Logger:      log,
		Workers:     workers,
	})
	return a, nil
}

func (a *app) Close() {
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close digest ledger")
		}
	}
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
