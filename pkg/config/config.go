package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the feed collector
type Config struct {
	// Instagram client settings
	Instagram InstagramConfig `yaml:"instagram" json:"instagram"`

	// Session persistence
	Session SessionConfig `yaml:"session" json:"session"`

	// Human-like pacing of requests
	Pacing PacingConfig `yaml:"pacing" json:"pacing"`

	// Crawl limits and retry budget
	Crawl CrawlConfig `yaml:"crawl" json:"crawl"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	// Post scoring
	Scoring ScoringConfig `yaml:"scoring" json:"scoring"`

	// Digest ledger and notification formatting
	Digest DigestConfig `yaml:"digest" json:"digest"`

	// Scheduled crawls
	Monitor MonitorConfig `yaml:"monitor" json:"monitor"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// InstagramConfig holds Instagram-specific configuration
type InstagramConfig struct {
	Username   string        `yaml:"username" json:"username"`
	SessionID  string        `yaml:"session_id" json:"session_id"`
	CSRFToken  string        `yaml:"csrf_token" json:"csrf_token"`
	UserAgent  string        `yaml:"user_agent" json:"user_agent"`
	AppID      string        `yaml:"app_id" json:"app_id"`
	BaseURL    string        `yaml:"base_url" json:"base_url"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	APIVersion string        `yaml:"api_version" json:"api_version"`
}

// SessionConfig controls where sessions live and how long they stay fresh
type SessionConfig struct {
	Directory  string        `yaml:"directory" json:"directory"`
	MaxAge     time.Duration `yaml:"max_age" json:"max_age"`
	MaxBackups int           `yaml:"max_backups" json:"max_backups"`
}

// BrowsingPause describes one optional browsing-simulation pause
type BrowsingPause struct {
	Probability float64       `yaml:"probability" json:"probability"`
	Min         time.Duration `yaml:"min" json:"min"`
	Max         time.Duration `yaml:"max" json:"max"`
}

// BrowsingConfig holds the independent browsing-simulation categories
type BrowsingConfig struct {
	Enabled     bool          `yaml:"enabled" json:"enabled"`
	Reading     BrowsingPause `yaml:"reading" json:"reading"`
	Engagement  BrowsingPause `yaml:"engagement" json:"engagement"`
	Distraction BrowsingPause `yaml:"distraction" json:"distraction"`
	LongBreak   BrowsingPause `yaml:"long_break" json:"long_break"`
}

// PacingConfig holds the delay ranges used between requests
type PacingConfig struct {
	MinDelay            time.Duration  `yaml:"min_delay" json:"min_delay"`
	MaxDelay            time.Duration  `yaml:"max_delay" json:"max_delay"`
	StartupMin          time.Duration  `yaml:"startup_min" json:"startup_min"`
	StartupMax          time.Duration  `yaml:"startup_max" json:"startup_max"`
	BatchBreakMinFactor float64        `yaml:"batch_break_min_factor" json:"batch_break_min_factor"`
	BatchBreakMaxFactor float64        `yaml:"batch_break_max_factor" json:"batch_break_max_factor"`
	RetryDelay          time.Duration  `yaml:"retry_delay" json:"retry_delay"`
	Chunk               time.Duration  `yaml:"chunk" json:"chunk"`
	Browsing            BrowsingConfig `yaml:"browsing" json:"browsing"`
}

// CrawlConfig holds crawl limits
type CrawlConfig struct {
	MaxPosts         int           `yaml:"max_posts" json:"max_posts"`
	BatchSize        int           `yaml:"batch_size" json:"batch_size"`
	MaxRetries       int           `yaml:"max_retries" json:"max_retries"`
	MaxErrorRetries  int           `yaml:"max_error_retries" json:"max_error_retries"`
	SessionWarnAfter time.Duration `yaml:"session_warn_after" json:"session_warn_after"`
	SafeMode         bool          `yaml:"safe_mode" json:"safe_mode"`
}

// RateLimitConfig holds the hard request ceiling applied by the client
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int `yaml:"burst_size" json:"burst_size"`
	MaxRetries        int `yaml:"max_retries" json:"max_retries"`
	// RetryDelay is the base delay between single-post fetch retries
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
}

// OutputConfig holds output directory configuration
type OutputConfig struct {
	Directory       string `yaml:"directory" json:"directory"`
	MaxPostsPerFile int    `yaml:"max_posts_per_file" json:"max_posts_per_file"`
}

// ScoringWeights are the per-factor weights of the relevance model
type ScoringWeights struct {
	User       float64 `yaml:"user" json:"user"`
	Content    float64 `yaml:"content" json:"content"`
	Keyword    float64 `yaml:"keyword" json:"keyword"`
	Engagement float64 `yaml:"engagement" json:"engagement"`
	Recency    float64 `yaml:"recency" json:"recency"`
}

// ScoringConfig holds scoring parameters
type ScoringConfig struct {
	Weights      ScoringWeights `yaml:"weights" json:"weights"`
	CloseFriends []string       `yaml:"close_friends" json:"close_friends"`
	MinScore     float64        `yaml:"min_score" json:"min_score"`

	// FollowerCounts fills in authors whose follower count is unknown,
	// keyed by username
	FollowerCounts map[string]int `yaml:"follower_counts,omitempty" json:"follower_counts,omitempty"`
}

// DigestConfig holds digest ledger and summary settings
type DigestConfig struct {
	DatabasePath  string `yaml:"database_path" json:"database_path"`
	TopN          int    `yaml:"top_n" json:"top_n"`
	SummaryLength string `yaml:"summary_length" json:"summary_length"`
}

// MonitorConfig holds the schedule for background crawls
type MonitorConfig struct {
	Schedule    string        `yaml:"schedule" json:"schedule"`
	Timezone    string        `yaml:"timezone" json:"timezone"`
	Accounts    []string      `yaml:"accounts" json:"accounts"`
	JobTimeout  time.Duration `yaml:"job_timeout" json:"job_timeout"`
	Parallelism int           `yaml:"parallelism" json:"parallelism"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	// File receives JSON log lines in addition to the console
	File string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	home := os.Getenv("HOME")
	return &Config{
		Instagram: InstagramConfig{
			UserAgent:  "Instagram 269.0.0.18.75 Android (26/8.0.0; 480dpi; 1080x1920; OnePlus; 6T Dev; devitron; qcom; en_US; 314665256)",
			AppID:      "567067343352427",
			BaseURL:    "https://i.instagram.com/api/v1",
			Timeout:    30 * time.Second,
			APIVersion: "v1",
		},
		Session: SessionConfig{
			Directory:  filepath.Join(home, ".config", "igpulse", "session"),
			MaxAge:     24 * time.Hour,
			MaxBackups: 10,
		},
		Pacing: PacingConfig{
			MinDelay:            3 * time.Second,
			MaxDelay:            10 * time.Second,
			StartupMin:          1 * time.Second,
			StartupMax:          3 * time.Second,
			BatchBreakMinFactor: 1.5,
			BatchBreakMaxFactor: 2.5,
			RetryDelay:          10 * time.Second,
			Chunk:               15 * time.Second,
			Browsing: BrowsingConfig{
				Enabled:     false,
				Reading:     BrowsingPause{Probability: 0.3, Min: 5 * time.Second, Max: 15 * time.Second},
				Engagement:  BrowsingPause{Probability: 0.2, Min: 3 * time.Second, Max: 8 * time.Second},
				Distraction: BrowsingPause{Probability: 0.1, Min: 20 * time.Second, Max: 60 * time.Second},
				LongBreak:   BrowsingPause{Probability: 0.05, Min: 2 * time.Minute, Max: 5 * time.Minute},
			},
		},
		Crawl: CrawlConfig{
			MaxPosts:         50,
			BatchSize:        10,
			MaxRetries:       3,
			MaxErrorRetries:  0,
			SessionWarnAfter: 10 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 20,
			BurstSize:         3,
			MaxRetries:        3,
			RetryDelay:        5 * time.Second,
		},
		Output: OutputConfig{
			Directory:       "./collected_posts",
			MaxPostsPerFile: 100,
		},
		Scoring: ScoringConfig{
			Weights: ScoringWeights{
				User:       0.3,
				Content:    0.25,
				Keyword:    0.2,
				Engagement: 0.15,
				Recency:    0.1,
			},
			MinScore: 0,
		},
		Digest: DigestConfig{
			DatabasePath:  filepath.Join(home, ".config", "igpulse", "digest.db"),
			TopN:          5,
			SummaryLength: "medium",
		},
		Monitor: MonitorConfig{
			Schedule:    "0 */6 * * *",
			Timezone:    "Local",
			JobTimeout:  30 * time.Minute,
			Parallelism: 2,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// ApplySafeMode slows the crawl down: at least 8s/15s delays and at most 5
// posts per batch.
func (c *Config) ApplySafeMode() {
	if c.Pacing.MinDelay < 8*time.Second {
		c.Pacing.MinDelay = 8 * time.Second
	}
	if c.Pacing.MaxDelay < 15*time.Second {
		c.Pacing.MaxDelay = 15 * time.Second
	}
	if c.Crawl.BatchSize > 5 {
		c.Crawl.BatchSize = 5
	}
	c.Crawl.SafeMode = true
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	// Instagram
	setString("IGPULSE_USERNAME", &c.Instagram.Username)
	setString("IGPULSE_SESSION_ID", &c.Instagram.SessionID)
	setString("IGPULSE_CSRF_TOKEN", &c.Instagram.CSRFToken)
	setString("IGPULSE_USER_AGENT", &c.Instagram.UserAgent)
	setString("IGPULSE_BASE_URL", &c.Instagram.BaseURL)

	setString("IGPULSE_SESSION_DIR", &c.Session.Directory)

	// Pacing
	setDuration("IGPULSE_MIN_DELAY", &c.Pacing.MinDelay)
	setDuration("IGPULSE_MAX_DELAY", &c.Pacing.MaxDelay)
	setDuration("IGPULSE_RETRY_DELAY", &c.Pacing.RetryDelay)

	// Crawl
	setInt("IGPULSE_MAX_POSTS", &c.Crawl.MaxPosts)
	setInt("IGPULSE_BATCH_SIZE", &c.Crawl.BatchSize)
	setInt("IGPULSE_MAX_RETRIES", &c.Crawl.MaxRetries)
	if v := os.Getenv("IGPULSE_SAFE_MODE"); v != "" && strings.ToLower(v) == "true" {
		c.ApplySafeMode()
	}

	setInt("IGPULSE_REQUESTS_PER_MINUTE", &c.RateLimit.RequestsPerMinute)

	setString("IGPULSE_OUTPUT_DIR", &c.Output.Directory)
	setInt("IGPULSE_MAX_POSTS_PER_FILE", &c.Output.MaxPostsPerFile)

	setString("IGPULSE_DIGEST_DB", &c.Digest.DatabasePath)
	setString("IGPULSE_MONITOR_SCHEDULE", &c.Monitor.Schedule)
	if v := os.Getenv("IGPULSE_MONITOR_ACCOUNTS"); v != "" {
		c.Monitor.Accounts = splitList(v)
	}
	if v := os.Getenv("IGPULSE_CLOSE_FRIENDS"); v != "" {
		c.Scoring.CloseFriends = splitList(v)
	}

	// Logging level
	setString("IGPULSE_LOG_LEVEL", &c.Logging.Level)
	setString("IGPULSE_LOG_FILE", &c.Logging.File)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".igpulse.yaml",
		".igpulse.yml",
		filepath.Join(home, ".config", "igpulse", "config.yaml"),
		filepath.Join(home, ".config", "igpulse", "config.yml"),
		filepath.Join(home, ".igpulse.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	// Pacing
	if c.Pacing.MinDelay < 0 || c.Pacing.MaxDelay < 0 {
		errs = append(errs, errors.New("pacing delays cannot be negative"))
	}
	if c.Pacing.MinDelay > c.Pacing.MaxDelay {
		errs = append(errs, errors.New("pacing min_delay must not exceed max_delay"))
	}
	if c.Pacing.StartupMin > c.Pacing.StartupMax {
		errs = append(errs, errors.New("pacing startup_min must not exceed startup_max"))
	}
	if c.Pacing.BatchBreakMinFactor > c.Pacing.BatchBreakMaxFactor {
		errs = append(errs, errors.New("batch break min factor must not exceed max factor"))
	}
	if c.Pacing.Chunk <= 0 || c.Pacing.Chunk > 15*time.Second {
		errs = append(errs, errors.New("pacing chunk must be in (0s, 15s]"))
	}
	for name, p := range map[string]BrowsingPause{
		"reading":     c.Pacing.Browsing.Reading,
		"engagement":  c.Pacing.Browsing.Engagement,
		"distraction": c.Pacing.Browsing.Distraction,
		"long_break":  c.Pacing.Browsing.LongBreak,
	} {
		if p.Probability < 0 || p.Probability > 1 {
			errs = append(errs, fmt.Errorf("browsing %s probability must be within [0,1]", name))
		}
		if p.Min > p.Max {
			errs = append(errs, fmt.Errorf("browsing %s min must not exceed max", name))
		}
	}

	// Crawl
	if c.Crawl.BatchSize <= 0 {
		errs = append(errs, errors.New("batch size must be positive"))
	}
	if c.Crawl.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}
	if c.Crawl.MaxPosts <= 0 {
		errs = append(errs, errors.New("max posts must be positive"))
	}

	// Rate limiting
	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.RateLimit.BurstSize <= 0 {
		errs = append(errs, errors.New("burst size must be positive"))
	}

	// Output
	if c.Output.Directory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if c.Output.MaxPostsPerFile <= 0 {
		errs = append(errs, errors.New("max posts per file must be positive"))
	}

	// Scoring
	w := c.Scoring.Weights
	sum := w.User + w.Content + w.Keyword + w.Engagement + w.Recency
	if sum < 1-1e-9 || sum > 1+1e-9 {
		errs = append(errs, fmt.Errorf("scoring weights must sum to 1, got %.4f", sum))
	}

	// Digest
	validLengths := map[string]bool{"short": true, "medium": true, "long": true}
	if !validLengths[strings.ToLower(c.Digest.SummaryLength)] {
		errs = append(errs, errors.New("invalid digest summary length"))
	}

	// Logging
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if username, ok := flags["username"].(string); ok && username != "" {
		c.Instagram.Username = username
	}
	if outputDir, ok := flags["output"].(string); ok && outputDir != "" {
		c.Output.Directory = outputDir
	}
	if sessionDir, ok := flags["session-dir"].(string); ok && sessionDir != "" {
		c.Session.Directory = sessionDir
	}
	if maxPosts, ok := flags["max-posts"].(int); ok && maxPosts > 0 {
		c.Crawl.MaxPosts = maxPosts
	}
	if batch, ok := flags["batch-size"].(int); ok && batch > 0 {
		c.Crawl.BatchSize = batch
	}
	if d, ok := flags["min-delay"].(time.Duration); ok && d > 0 {
		c.Pacing.MinDelay = d
	}
	if d, ok := flags["max-delay"].(time.Duration); ok && d > 0 {
		c.Pacing.MaxDelay = d
	}
	if browse, ok := flags["browse"].(bool); ok && browse {
		c.Pacing.Browsing.Enabled = true
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	// Safe mode last so it clamps whatever the other flags set
	if safe, ok := flags["safe-mode"].(bool); ok && safe {
		c.ApplySafeMode()
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".igpulse.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
