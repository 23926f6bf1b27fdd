package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables that override config
// keys, e.g. TRIAGE_OPERATOR_NAME for operator.name.
const EnvPrefix = "TRIAGE"

// OperatorConfig identifies the person running this client.
type OperatorConfig struct {
	// Name is written into shared claim records. It must be unique per
	// person across all clients sharing a directory.
	Name string `mapstructure:"name" yaml:"name"`
}

// MailboxConfig holds the IMAP connection settings for the shared mailbox.
// The password is read from TRIAGE_MAILBOX_PASSWORD or the system keyring.
type MailboxConfig struct {
	Host            string `mapstructure:"host" yaml:"host"`
	Port            string `mapstructure:"port" yaml:"port"`
	Username        string `mapstructure:"username" yaml:"username"`
	TLS             bool   `mapstructure:"tls" yaml:"tls"`
	Folder          string `mapstructure:"folder" yaml:"folder"`
	PollIntervalSec int    `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
	LookbackDays    int    `mapstructure:"lookback_days" yaml:"lookback_days"`
	FetchLimit      int    `mapstructure:"fetch_limit" yaml:"fetch_limit"`
}

// ClassifierConfig holds settings for the classification oracle.
type ClassifierConfig struct {
	Model       string        `mapstructure:"model" yaml:"model"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
}

// GateConfig holds the confidence gate threshold.
type GateConfig struct {
	ReviewThreshold float64 `mapstructure:"review_threshold" yaml:"review_threshold"`
}

// ClaimsConfig holds settings for cross-client claim coordination.
type ClaimsConfig struct {
	// SharedDir is the eventually synchronized directory all clients see.
	SharedDir string `mapstructure:"shared_dir" yaml:"shared_dir"`

	// TTL is how long a claim record stays authoritative.
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`

	// Settle is an optional pause between writing and re-reading a claim.
	Settle time.Duration `mapstructure:"settle" yaml:"settle"`

	// IntentWindow bounds how long a claim intent counts as a contender.
	IntentWindow time.Duration `mapstructure:"intent_window" yaml:"intent_window"`

	// PollInterval is the fallback scan interval when file events are
	// not delivered for the shared directory.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// LifecycleConfig holds notification lifecycle timings and policies.
type LifecycleConfig struct {
	ArchiveGrace    time.Duration `mapstructure:"archive_grace" yaml:"archive_grace"`
	JobTimeout      time.Duration `mapstructure:"job_timeout" yaml:"job_timeout"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	LateEmailPolicy string        `mapstructure:"late_email_policy" yaml:"late_email_policy"`
}

// JobsConfig holds the job runner spool location.
type JobsConfig struct {
	SpoolDir string `mapstructure:"spool_dir" yaml:"spool_dir"`
}

// StoreConfig holds the local database location.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Operator   OperatorConfig   `mapstructure:"operator" yaml:"operator"`
	Mailbox    MailboxConfig    `mapstructure:"mailbox" yaml:"mailbox"`
	Classifier ClassifierConfig `mapstructure:"classifier" yaml:"classifier"`
	Gate       GateConfig       `mapstructure:"gate" yaml:"gate"`
	Claims     ClaimsConfig     `mapstructure:"claims" yaml:"claims"`
	Lifecycle  LifecycleConfig  `mapstructure:"lifecycle" yaml:"lifecycle"`
	Jobs       JobsConfig       `mapstructure:"jobs" yaml:"jobs"`
	Store      StoreConfig      `mapstructure:"store" yaml:"store"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

// ConfigDir returns the directory holding the config file, database and
// logs, ~/.config/mail-triage.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "mail-triage")
}

// DefaultConfigPath returns the default path for the configuration file.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *AppConfig {
	return defaultAppConfig()
}

func defaultAppConfig() *AppConfig {
	dir := ConfigDir()
	return &AppConfig{
		Mailbox: MailboxConfig{
			Port:            "993",
			TLS:             true,
			Folder:          "INBOX",
			PollIntervalSec: 60,
			LookbackDays:    7,
			FetchLimit:      100,
		},
		Classifier: ClassifierConfig{
			Model:       "claude-sonnet-4-5-20250929",
			MaxTokens:   1024,
			Timeout:     45 * time.Second,
			Concurrency: 4,
		},
		Gate: GateConfig{
			ReviewThreshold: 0.70,
		},
		Claims: ClaimsConfig{
			SharedDir:    filepath.Join(dir, "shared", "claims"),
			TTL:          2 * time.Hour,
			IntentWindow: 5 * time.Minute,
			PollInterval: 15 * time.Second,
		},
		Lifecycle: LifecycleConfig{
			ArchiveGrace:    10 * time.Minute,
			JobTimeout:      30 * time.Minute,
			SweepInterval:   30 * time.Second,
			LateEmailPolicy: "info",
		},
		Jobs: JobsConfig{
			SpoolDir: filepath.Join(dir, "jobs"),
		},
		Store: StoreConfig{
			Path: filepath.Join(dir, "triage.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			File:   filepath.Join(dir, "triage.log"),
		},
	}
}

// setDefaults mirrors defaultAppConfig into v so that env overrides and
// partially filled config files resolve every key.
func setDefaults(v *viper.Viper, d *AppConfig) {
	v.SetDefault("operator.name", d.Operator.Name)

	v.SetDefault("mailbox.host", d.Mailbox.Host)
	v.SetDefault("mailbox.port", d.Mailbox.Port)
	v.SetDefault("mailbox.username", d.Mailbox.Username)
	v.SetDefault("mailbox.tls", d.Mailbox.TLS)
	v.SetDefault("mailbox.folder", d.Mailbox.Folder)
	v.SetDefault("mailbox.poll_interval_sec", d.Mailbox.PollIntervalSec)
	v.SetDefault("mailbox.lookback_days", d.Mailbox.LookbackDays)
	v.SetDefault("mailbox.fetch_limit", d.Mailbox.FetchLimit)

	v.SetDefault("classifier.model", d.Classifier.Model)
	v.SetDefault("classifier.max_tokens", d.Classifier.MaxTokens)
	v.SetDefault("classifier.base_url", d.Classifier.BaseURL)
	v.SetDefault("classifier.timeout", d.Classifier.Timeout)
	v.SetDefault("classifier.concurrency", d.Classifier.Concurrency)

	v.SetDefault("gate.review_threshold", d.Gate.ReviewThreshold)

	v.SetDefault("claims.shared_dir", d.Claims.SharedDir)
	v.SetDefault("claims.ttl", d.Claims.TTL)
	v.SetDefault("claims.settle", d.Claims.Settle)
	v.SetDefault("claims.intent_window", d.Claims.IntentWindow)
	v.SetDefault("claims.poll_interval", d.Claims.PollInterval)

	v.SetDefault("lifecycle.archive_grace", d.Lifecycle.ArchiveGrace)
	v.SetDefault("lifecycle.job_timeout", d.Lifecycle.JobTimeout)
	v.SetDefault("lifecycle.sweep_interval", d.Lifecycle.SweepInterval)
	v.SetDefault("lifecycle.late_email_policy", d.Lifecycle.LateEmailPolicy)

	v.SetDefault("jobs.spool_dir", d.Jobs.SpoolDir)
	v.SetDefault("store.path", d.Store.Path)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)

	v.SetDefault("metrics.listen", d.Metrics.Listen)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// A .env file next to the config is loaded into the environment first and
// TRIAGE_* variables override file values. A missing file yields the
// defaults (plus any environment overrides).
func LoadConfig(path string) (*AppConfig, error) {
	loadEnvFile(filepath.Join(filepath.Dir(path), ".env"))

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, defaultAppConfig())

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// loadEnvFile loads key=value pairs from path without overriding
// variables that are already set. A missing file is not an error.
func loadEnvFile(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}

// Validate checks value ranges that would otherwise surface as confusing
// runtime behaviour.
func (c *AppConfig) Validate() error {
	if c.Gate.ReviewThreshold < 0 || c.Gate.ReviewThreshold > 1 {
		return fmt.Errorf(
			"gate.review_threshold must be within [0,1], got %v",
			c.Gate.ReviewThreshold,
		)
	}
	if c.Claims.TTL <= 0 {
		return fmt.Errorf("claims.ttl must be positive, got %s", c.Claims.TTL)
	}
	if c.Claims.Settle < 0 {
		return fmt.Errorf("claims.settle must not be negative, got %s", c.Claims.Settle)
	}
	switch c.Lifecycle.LateEmailPolicy {
	case "info", "ignore", "reopen":
	default:
		return fmt.Errorf(
			"lifecycle.late_email_policy must be one of info, ignore, reopen; got %q",
			c.Lifecycle.LateEmailPolicy,
		)
	}
	if c.Classifier.Concurrency < 1 {
		c.Classifier.Concurrency = 1
	}
	if c.Mailbox.PollIntervalSec <= 0 {
		c.Mailbox.PollIntervalSec = 60
	}
	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("operator", cfg.Operator)
	v.Set("mailbox", cfg.Mailbox)
	v.Set("classifier", map[string]any{
		"model":       cfg.Classifier.Model,
		"max_tokens":  cfg.Classifier.MaxTokens,
		"base_url":    cfg.Classifier.BaseURL,
		"timeout":     cfg.Classifier.Timeout.String(),
		"concurrency": cfg.Classifier.Concurrency,
	})
	v.Set("gate", cfg.Gate)
	v.Set("claims", map[string]any{
		"shared_dir":    cfg.Claims.SharedDir,
		"ttl":           cfg.Claims.TTL.String(),
		"settle":        cfg.Claims.Settle.String(),
		"intent_window": cfg.Claims.IntentWindow.String(),
		"poll_interval": cfg.Claims.PollInterval.String(),
	})
	v.Set("lifecycle", map[string]any{
		"archive_grace":     cfg.Lifecycle.ArchiveGrace.String(),
		"job_timeout":       cfg.Lifecycle.JobTimeout.String(),
		"sweep_interval":    cfg.Lifecycle.SweepInterval.String(),
		"late_email_policy": cfg.Lifecycle.LateEmailPolicy,
	})
	v.Set("jobs", cfg.Jobs)
	v.Set("store", cfg.Store)
	v.Set("logging", cfg.Logging)
	v.Set("metrics", cfg.Metrics)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
