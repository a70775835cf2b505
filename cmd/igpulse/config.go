package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"igpulse/pkg/config"
	"igpulse/pkg/scoring"
	"igpulse/pkg/ui"
)

var configForce bool

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage igpulse configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (IGPULSE_*)
  - .env files
  - Configuration file
  - Default values (lowest priority)`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with every default",
	Long: `Write a configuration file holding every option at its default value.

The file is written to $HOME/.config/igpulse/config.yaml unless a
different path is given with --config.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the configuration after merging every source. Cookie values are
masked.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load and validate the configuration, then check that the output,
session and log directories can be created.`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd, showCmd, validateCmd)

	initCmd.Flags().BoolVarP(&configForce, "force", "f", false, "overwrite an existing file")
}

func defaultConfigPath() string {
	if configFile != "" {
		return configFile
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "igpulse", "config.yaml")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := defaultConfigPath()
	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}

	ui.PrintSuccess("Configuration file created: " + path)
	ui.Printf("\nNext steps:\n")
	ui.Printf("1. Log in with 'igpulse auth login'\n")
	ui.Printf("2. Add close friends under scoring.close_friends\n")
	ui.Printf("3. Run 'igpulse config validate' to check the configuration\n")
	ui.Printf("4. Start collecting with 'igpulse crawl timeline'\n")
	return nil
}

func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) > 8:
		return s[:4] + "..." + s[len(s)-4:]
	default:
		return "***"
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	display := *cfg
	display.Instagram.SessionID = mask(display.Instagram.SessionID)
	display.Instagram.CSRFToken = mask(display.Instagram.CSRFToken)

	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	ui.Printf("\n%s", data)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	var problems, warnings []string
	for _, dir := range []string{cfg.Output.Directory, cfg.Session.Directory, filepath.Dir(cfg.Digest.DatabasePath)} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create %s: %v", dir, err))
		}
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create log directory: %v", err))
		}
	}
	if err := scoring.WeightsFromConfig(cfg.Scoring.Weights).Validate(); err != nil {
		problems = append(problems, err.Error())
	}

	if len(cfg.Scoring.CloseFriends) == 0 {
		warnings = append(warnings, "no close friends configured, user signal relies on verification and followers only")
	}
	if cfg.Crawl.MaxPosts > 500 && !cfg.Crawl.SafeMode {
		warnings = append(warnings, "large crawls without safe mode draw more attention")
	}

	if len(problems) > 0 {
		for _, p := range problems {
			ui.Printf("  - %s\n", p)
		}
		return fmt.Errorf("configuration has %d problems", len(problems))
	}
	for _, w := range warnings {
		ui.PrintWarning(w)
	}

	ui.PrintSuccess("Configuration is valid")
	ui.Printf("\nConfiguration summary:\n")
	ui.Printf("  Output directory: %s\n", cfg.Output.Directory)
	ui.Printf("  Session directory: %s\n", cfg.Session.Directory)
	ui.Printf("  Max posts: %d (batches of %d)\n", cfg.Crawl.MaxPosts, cfg.Crawl.BatchSize)
	ui.Printf("  Delay: %s to %s\n", cfg.Pacing.MinDelay, cfg.Pacing.MaxDelay)
	ui.Printf("  Rate limit: %d requests/minute\n", cfg.RateLimit.RequestsPerMinute)
	ui.Printf("  Log level: %s\n", cfg.Logging.Level)
	return nil
}
