// Package config loads the asynxd daemon configuration from an
// optional YAML file with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the daemon configuration shared by the serve and worker
// commands.
type Config struct {
	// RedisURL is the connection URL of the Redis instance holding
	// task state and the job broker.
	RedisURL string `yaml:"redis_url"`
	// Bind is the listen address of the REST facade.
	Bind string `yaml:"bind"`
	// Timezone names the zone used to evaluate cron fields and naive
	// eta input, e.g. "America/New_York". Empty means the process
	// local zone.
	Timezone string `yaml:"timezone"`
	// SentryDSN enables Sentry error forwarding when non-empty.
	SentryDSN string `yaml:"sentry_dsn"`
	// WorkerConcurrency bounds parallel task executions per worker
	// process.
	WorkerConcurrency int `yaml:"worker_concurrency"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file and no
// environment overrides are present, suitable for local development.
func Default() Config {
	return Config{
		RedisURL:          "redis://localhost:6379/0",
		Bind:              ":8080",
		WorkerConcurrency: 50,
		LogLevel:          "info",
	}
}

// Load reads the YAML file at path (skipped when path is empty or the
// file does not exist) and applies ASYNX_* environment overrides on
// top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Optional file.
		case err != nil:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ASYNX_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("ASYNX_BIND"); v != "" {
		cfg.Bind = v
	}
	if v := os.Getenv("ASYNX_TIMEZONE"); v != "" {
		cfg.Timezone = v
	}
	if v := os.Getenv("ASYNX_SENTRY_DSN"); v != "" {
		cfg.SentryDSN = v
	}
	if v := os.Getenv("ASYNX_WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkerConcurrency = n
		}
	}
	if v := os.Getenv("ASYNX_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func (c Config) validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("%w: redis_url is required", ErrInvalidConfig)
	}
	if c.Bind == "" {
		return fmt.Errorf("%w: bind is required", ErrInvalidConfig)
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("%w: worker_concurrency must be positive", ErrInvalidConfig)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalidConfig, c.Timezone, err)
	}
	return nil
}

// Location resolves the configured timezone. Empty means time.Local.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}
