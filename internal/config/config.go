// Package config loads the worker process configuration: built-in defaults,
// then an optional YAML file, then environment variables parsed with
// caarlos0/env/v11. Later sources win.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/sky93/taskworker/dialect"
)

// Config holds all process configuration.
type Config struct {
	// ── Database ─────────────────────────────────────────────────────────────────
	DatabaseDriver string `env:"DATABASE_DRIVER" yaml:"database_driver"`
	DatabaseURL    string `env:"DATABASE_URL"    yaml:"database_url"`

	// ── Workers ──────────────────────────────────────────────────────────────────
	PollInterval    time.Duration `env:"POLL_INTERVAL"     yaml:"poll_interval"`
	HandleTimeout   time.Duration `env:"HANDLE_TIMEOUT"    yaml:"handle_timeout"`
	Workers         int           `env:"WORKERS"           yaml:"workers"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"  yaml:"shutdown_timeout"`
	// MaxFailedAttempts is the exhaustion ceiling: tasks that failed more
	// often than this are never claimed again.
	MaxFailedAttempts int `env:"MAX_FAILED_ATTEMPTS" yaml:"max_failed_attempts"`

	// ── Telegram ─────────────────────────────────────────────────────────────────
	TelegramBotToken      string  `env:"TELEGRAM_BOT_TOKEN"       yaml:"telegram_bot_token"`
	TelegramAPIURL        string  `env:"TELEGRAM_API_URL"         yaml:"telegram_api_url"`
	TelegramRatePerSecond float64 `env:"TELEGRAM_RATE_PER_SECOND" yaml:"telegram_rate_per_second"`
	NotificationTemplate  string  `env:"NOTIFICATION_TEMPLATE"    yaml:"notification_template"`

	// ── Observability ────────────────────────────────────────────────────────────
	// MetricsAddr serves /metrics and /healthz; empty disables it.
	MetricsAddr string `env:"METRICS_ADDR" yaml:"metrics_addr"`
	LogLevel    string `env:"LOG_LEVEL"    yaml:"log_level"`
	LogFormat   string `env:"LOG_FORMAT"   yaml:"log_format"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		DatabaseDriver:        "mysql",
		PollInterval:          5 * time.Second,
		Workers:               1,
		ShutdownTimeout:       30 * time.Second,
		MaxFailedAttempts:     3,
		TelegramAPIURL:        "https://api.telegram.org",
		TelegramRatePerSecond: 25,
		NotificationTemplate:  "Сформирован заказ номер %s",
		LogLevel:              "info",
		LogFormat:             "json",
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if _, err := dialect.Lookup(c.DatabaseDriver); err != nil {
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER: %w", err))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval))
	}
	if c.HandleTimeout < 0 {
		errs = append(errs, fmt.Errorf("HANDLE_TIMEOUT must not be negative, got %s", c.HandleTimeout))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers))
	}
	if c.MaxFailedAttempts < 0 {
		errs = append(errs, fmt.Errorf("MAX_FAILED_ATTEMPTS must not be negative, got %d", c.MaxFailedAttempts))
	}
	if c.TelegramRatePerSecond <= 0 {
		errs = append(errs, fmt.Errorf("TELEGRAM_RATE_PER_SECOND must be positive, got %g", c.TelegramRatePerSecond))
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}
