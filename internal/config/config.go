package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"arbiter"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"arbiter"`

	// Server
	ServerPort    int    `envconfig:"SERVER_PORT" default:"8081"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`
	AuditLogPath  string `envconfig:"AUDIT_LOG_PATH" default:"data/logs/events.log"`

	// Chat platform
	ChatAPIBaseURL string `envconfig:"CHAT_API_BASE_URL" default:"https://slack.com/api"`
	ChatBotToken   string `envconfig:"CHAT_BOT_TOKEN"`

	// Model provider
	GeminiAPIKey string `envconfig:"GEMINI_API_KEY"`

	// Orchestrator
	ProcessAPIBaseURL      string        `envconfig:"PROCESS_API_BASE_URL" default:"http://127.0.0.1:8081"`
	PollIntervalEmpty      time.Duration `envconfig:"POLL_INTERVAL_EMPTY" default:"1s"`
	PollIntervalBackoff    time.Duration `envconfig:"POLL_INTERVAL_BACKOFF" default:"5s"`
	CallbackTimeout        time.Duration `envconfig:"CALLBACK_TIMEOUT" default:"30s"`
	ProbeTimeout           time.Duration `envconfig:"PROBE_TIMEOUT" default:"10s"`
	MaxConsecutiveFailures int           `envconfig:"MAX_CONSECUTIVE_FAILURES" default:"10"`
	RetentionPeriod        time.Duration `envconfig:"RETENTION_PERIOD" default:"168h"`
	PurgeInterval          time.Duration `envconfig:"PURGE_INTERVAL" default:"1h"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars may also be set in the shell, so a missing .env is fine.
	_ = godotenv.Load(".env")

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.PollIntervalEmpty <= 0 {
		return fmt.Errorf("%w: POLL_INTERVAL_EMPTY must be positive", ErrInvalidValue)
	}
	if c.PollIntervalBackoff <= 0 {
		return fmt.Errorf("%w: POLL_INTERVAL_BACKOFF must be positive", ErrInvalidValue)
	}
	if c.CallbackTimeout <= 0 {
		return fmt.Errorf("%w: CALLBACK_TIMEOUT must be positive", ErrInvalidValue)
	}
	if c.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("%w: MAX_CONSECUTIVE_FAILURES must be positive", ErrInvalidValue)
	}
	if c.RetentionPeriod <= 0 {
		return fmt.Errorf("%w: RETENTION_PERIOD must be positive", ErrInvalidValue)
	}
	return nil
}
