// Package config loads process-wide configuration from the environment.
// Configuration is read once at boot and never mutated afterwards; per-job
// credentials travel in job payloads, not here.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the umbrella configuration object assembled at startup.
type Config struct {
	// Orchestration limits.
	MaxIterations     int           // per-agent loop ceiling
	MaxParallelAgents int           // BATCH/AUTO default parallelism
	QualityThreshold  int           // 0-100 completion gate
	AgentTimeout      time.Duration // reaper timeout per agent
	ReaperInterval    time.Duration

	// Credentials and secrets.
	WebhookSecret string // empty disables signature verification
	CursorAPIKey  string // default external-agent credential

	// Sub-configurations.
	Outbox *OutboxConfig
	Broker *BrokerConfig
	LLM    *LLMConfig
	Slack  *SlackConfig
	Tester *TesterConfig

	HeartbeatInterval time.Duration
	HTTPPort          string
	PublicBaseURL     string // used to build the webhook callback URL
}

// OutboxConfig controls the durable job processor.
type OutboxConfig struct {
	// PollInterval is the base interval between claim sweeps.
	PollInterval time.Duration

	// BatchSize is the maximum number of jobs claimed per sweep.
	BatchSize int

	// MaxConcurrent bounds jobs processed simultaneously.
	MaxConcurrent int

	// MaxAttempts is the per-job retry ceiling.
	MaxAttempts int

	// BaseRetryDelay seeds the exponential backoff: delay = base * 2^(n-1).
	BaseRetryDelay time.Duration

	// StaleAfter is how long a job may sit in processing without an update
	// before the takeback sweep returns it to pending.
	StaleAfter time.Duration
}

// BrokerConfig controls the optional Redis-backed queue.
type BrokerConfig struct {
	Addr        string // empty disables the broker path
	Password    string
	DB          int
	Concurrency int
}

// LLMConfig controls the analyzer/planner chat-completion client.
type LLMConfig struct {
	APIKey      string
	BaseURL     string // empty uses the provider default
	Model       string
	Temperature float32
}

// SlackConfig controls the optional notification channel.
type SlackConfig struct {
	Token   string
	Channel string
}

// TesterConfig controls the optional local verification pipeline. Step
// commands are whitespace-separated command lines; an empty value keeps the
// npm-style default for that step.
type TesterConfig struct {
	Enabled    bool
	InstallCmd string
	LintCmd    string
	TestCmd    string
	BuildCmd   string
}

// DefaultConfig returns the built-in defaults before env overrides.
func DefaultConfig() *Config {
	return &Config{
		MaxIterations:     20,
		MaxParallelAgents: 3,
		QualityThreshold:  70,
		AgentTimeout:      4 * time.Hour,
		ReaperInterval:    30 * time.Minute,
		HeartbeatInterval: 30 * time.Second,
		HTTPPort:          "8080",
		Outbox: &OutboxConfig{
			PollInterval:   5 * time.Second,
			BatchSize:      10,
			MaxConcurrent:  10,
			MaxAttempts:    3,
			BaseRetryDelay: 60 * time.Second,
			StaleAfter:     10 * time.Minute,
		},
		Broker: &BrokerConfig{
			Concurrency: 5,
		},
		LLM: &LLMConfig{
			Model:       "gpt-4o-mini",
			Temperature: 0.1,
		},
		Slack:  &SlackConfig{},
		Tester: &TesterConfig{},
	}
}

// LoadFromEnv builds the configuration from environment variables on top of
// the defaults. Invalid numeric or duration values are errors, not silently
// ignored.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()

	var err error
	if cfg.MaxIterations, err = intEnv("MAX_ITERATIONS", cfg.MaxIterations); err != nil {
		return nil, err
	}
	if cfg.MaxParallelAgents, err = intEnv("MAX_PARALLEL_AGENTS", cfg.MaxParallelAgents); err != nil {
		return nil, err
	}
	if cfg.QualityThreshold, err = intEnv("QUALITY_THRESHOLD", cfg.QualityThreshold); err != nil {
		return nil, err
	}
	if cfg.QualityThreshold < 0 || cfg.QualityThreshold > 100 {
		return nil, fmt.Errorf("QUALITY_THRESHOLD must be in [0,100], got %d", cfg.QualityThreshold)
	}
	if cfg.AgentTimeout, err = durationEnv("AGENT_TIMEOUT", cfg.AgentTimeout); err != nil {
		return nil, err
	}
	if cfg.ReaperInterval, err = durationEnv("REAPER_INTERVAL", cfg.ReaperInterval); err != nil {
		return nil, err
	}
	if cfg.HeartbeatInterval, err = durationEnv("HEARTBEAT_INTERVAL", cfg.HeartbeatInterval); err != nil {
		return nil, err
	}

	cfg.WebhookSecret = os.Getenv("WEBHOOK_SECRET")
	cfg.CursorAPIKey = os.Getenv("CURSOR_API_KEY")
	cfg.HTTPPort = stringEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.PublicBaseURL = os.Getenv("PUBLIC_BASE_URL")

	o := cfg.Outbox
	if o.PollInterval, err = durationEnv("OUTBOX_POLL_INTERVAL", o.PollInterval); err != nil {
		return nil, err
	}
	if o.BatchSize, err = intEnv("OUTBOX_BATCH_SIZE", o.BatchSize); err != nil {
		return nil, err
	}
	if o.MaxConcurrent, err = intEnv("OUTBOX_MAX_CONCURRENT", o.MaxConcurrent); err != nil {
		return nil, err
	}
	if o.MaxAttempts, err = intEnv("OUTBOX_MAX_ATTEMPTS", o.MaxAttempts); err != nil {
		return nil, err
	}
	if o.BaseRetryDelay, err = durationEnv("OUTBOX_RETRY_BASE_DELAY", o.BaseRetryDelay); err != nil {
		return nil, err
	}
	if o.StaleAfter, err = durationEnv("OUTBOX_STALE_AFTER", o.StaleAfter); err != nil {
		return nil, err
	}

	b := cfg.Broker
	b.Addr = os.Getenv("REDIS_ADDR")
	b.Password = os.Getenv("REDIS_PASSWORD")
	if b.DB, err = intEnv("REDIS_DB", b.DB); err != nil {
		return nil, err
	}
	if b.Concurrency, err = intEnv("BROKER_CONCURRENCY", b.Concurrency); err != nil {
		return nil, err
	}

	l := cfg.LLM
	l.APIKey = os.Getenv("OPENAI_API_KEY")
	l.BaseURL = os.Getenv("OPENAI_BASE_URL")
	l.Model = stringEnv("ANALYZER_MODEL", l.Model)

	cfg.Slack.Token = os.Getenv("SLACK_TOKEN")
	cfg.Slack.Channel = os.Getenv("SLACK_CHANNEL")

	ts := cfg.Tester
	if ts.Enabled, err = boolEnv("TESTER_ENABLED", ts.Enabled); err != nil {
		return nil, err
	}
	ts.InstallCmd = os.Getenv("TESTER_INSTALL_CMD")
	ts.LintCmd = os.Getenv("TESTER_LINT_CMD")
	ts.TestCmd = os.Getenv("TESTER_TEST_CMD")
	ts.BuildCmd = os.Getenv("TESTER_BUILD_CMD")

	return cfg, nil
}

// Validate checks invariants that would otherwise fail at first use.
func (c *Config) Validate() error {
	if c.MaxIterations <= 0 {
		return fmt.Errorf("MAX_ITERATIONS must be positive")
	}
	if c.MaxParallelAgents <= 0 {
		return fmt.Errorf("MAX_PARALLEL_AGENTS must be positive")
	}
	if c.Outbox.BatchSize <= 0 || c.Outbox.MaxConcurrent <= 0 || c.Outbox.MaxAttempts <= 0 {
		return fmt.Errorf("outbox batch size, concurrency and max attempts must be positive")
	}
	if len(c.WebhookSecret) > 0 && len(c.WebhookSecret) < 32 {
		return fmt.Errorf("WEBHOOK_SECRET must be at least 32 characters when set")
	}
	return nil
}

func stringEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	// Accept plain seconds for compatibility with numeric env values.
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
