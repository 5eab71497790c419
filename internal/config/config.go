package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable, e.g. MJAI_SAVE_DIR.
const EnvPrefix = "MJAI"

// Config holds the settings of a sweep. Values come from defaults, then the
// environment, then an optional YAML file; command-line flags are applied last
// by the caller.
type Config struct {
	BaseURL   string `envconfig:"BASE_URL" default:"https://storage.googleapis.com/mjlog/games" yaml:"base_url"`
	SaveDir   string `envconfig:"SAVE_DIR" default:"mjai_data" yaml:"save_dir"`
	UserAgent string `envconfig:"USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36" yaml:"user_agent"`

	MaxConcurrency int           `envconfig:"MAX_CONCURRENCY" default:"5" yaml:"max_concurrency"`
	RetryLimit     int           `envconfig:"RETRY_LIMIT" default:"3" yaml:"retry_limit"`
	FetchTimeout   time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s" yaml:"fetch_timeout"`
	FetchDelay     time.Duration `envconfig:"FETCH_RETRY_DELAY" default:"2s" yaml:"fetch_retry_delay"`

	// ProbeAttempts overrides RetryLimit for existence checks when positive.
	ProbeAttempts int           `envconfig:"PROBE_ATTEMPTS" yaml:"probe_attempts"`
	ProbeTimeout  time.Duration `envconfig:"PROBE_TIMEOUT" default:"10s" yaml:"probe_timeout"`
	ProbeDelay    time.Duration `envconfig:"PROBE_RETRY_DELAY" default:"1s" yaml:"probe_retry_delay"`

	MatchThrottle       time.Duration `envconfig:"MATCH_THROTTLE" default:"500ms" yaml:"match_throttle"`
	RangeStep           int           `envconfig:"RANGE_STEP" default:"100" yaml:"range_step"`
	RoundStrategy       string        `envconfig:"ROUND_STRATEGY" default:"search" yaml:"round_strategy"`
	ConstantRounds      int           `envconfig:"CONSTANT_ROUNDS" default:"250" yaml:"constant_rounds"`
	IndeterminatePolicy string        `envconfig:"INDETERMINATE_POLICY" default:"skip" yaml:"indeterminate_policy"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO" yaml:"log_level"`
	JournalPath       string `envconfig:"JOURNAL_PATH" yaml:"journal_path"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL" yaml:"discord_webhook_url"`

	TelemetryEnabled bool          `envconfig:"TELEMETRY_ENABLED" yaml:"telemetry_enabled"`
	MetricsAddr      string        `envconfig:"METRICS_ADDR" yaml:"metrics_addr"`
	OTLPEndpoint     string        `envconfig:"OTLP_ENDPOINT" yaml:"otlp_endpoint"`
	OTLPInterval     time.Duration `envconfig:"OTLP_INTERVAL" default:"30s" yaml:"otlp_interval"`
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

// ApplyFile overlays the keys present in a YAML file onto c. Unknown keys are
// rejected.
func (c *Config) ApplyFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file: %w", err)
	}

	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: invalid base url %q", c.BaseURL)
	}

	if c.SaveDir == "" {
		return errors.New("config: save dir is required")
	}

	if c.MaxConcurrency < 1 {
		return fmt.Errorf("config: max concurrency must be at least 1, got %d", c.MaxConcurrency)
	}

	if c.RetryLimit < 1 {
		return fmt.Errorf("config: retry limit must be at least 1, got %d", c.RetryLimit)
	}

	if c.ProbeAttempts < 0 {
		return fmt.Errorf("config: probe attempts must not be negative, got %d", c.ProbeAttempts)
	}

	if c.RangeStep < 1 {
		return fmt.Errorf("config: range step must be at least 1, got %d", c.RangeStep)
	}

	switch c.RoundStrategy {
	case "search":
	case "constant":
		if c.ConstantRounds < 1 {
			return fmt.Errorf("config: constant rounds must be at least 1, got %d", c.ConstantRounds)
		}
	default:
		return fmt.Errorf("config: unknown round strategy %q", c.RoundStrategy)
	}

	switch c.IndeterminatePolicy {
	case "skip", "fetch":
	default:
		return fmt.Errorf("config: unknown indeterminate policy %q", c.IndeterminatePolicy)
	}

	if c.FetchDelay < 0 || c.ProbeDelay < 0 || c.MatchThrottle < 0 {
		return errors.New("config: delays must not be negative")
	}

	return nil
}

// ProbeAttemptLimit is the number of HEAD attempts per existence check.
func (c *Config) ProbeAttemptLimit() int {
	if c.ProbeAttempts > 0 {
		return c.ProbeAttempts
	}

	return c.RetryLimit
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
