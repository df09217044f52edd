package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"

	"github.com/mycelian/calsync/internal/localstate"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

const envPrefix = "CALSYNC"

// Config holds the configuration for the calendar sync service.
// Environment variables are parsed from the CALSYNC_ prefix.
type Config struct {
	// Build target selects high-level environment: local or cloud
	BuildTarget string `envconfig:"BUILD_TARGET" default:"local"`

	// Derived or override driver
	DBDriver    string `envconfig:"DB_DRIVER" default:"auto"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:""`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`

	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string      `envconfig:"LOG_LEVEL" default:"info"`

	// HTTP Configuration
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Provider calls
	ProviderTimeout  time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"15s"`
	RetryMaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryBaseDelay   time.Duration `envconfig:"RETRY_BASE_DELAY" default:"500ms"`
	OutlookBaseURL   string        `envconfig:"OUTLOOK_BASE_URL" default:"https://graph.microsoft.com/v1.0"`
	GoogleBaseURL    string        `envconfig:"GOOGLE_BASE_URL" default:""`

	// Sync behaviour
	SyncAsync    bool   `envconfig:"SYNC_ASYNC" default:"true"`
	LogCapacity  int    `envconfig:"LOG_CAPACITY" default:"1000"`
	PullSchedule string `envconfig:"PULL_SCHEDULE" default:"@every 15m"`

	// Health
	HealthIntervalSeconds     int `envconfig:"HEALTH_INTERVAL_SECONDS" default:"30"`
	HealthProbeTimeoutSeconds int `envconfig:"HEALTH_PROBE_TIMEOUT_SECONDS" default:"2"`
}

// ResolveDefaults validates BuildTarget and derives DBDriver and SQLitePath when unset.
func (c *Config) ResolveDefaults() error {
	var defaultDB string

	switch c.BuildTarget {
	case "local":
		defaultDB = "sqlite"
	case "cloud":
		defaultDB = "postgres"
	default:
		return fmt.Errorf("unsupported BUILD_TARGET: %s", c.BuildTarget)
	}

	if c.DBDriver == "" || c.DBDriver == "auto" {
		c.DBDriver = defaultDB
	}

	switch c.DBDriver {
	case "sqlite":
		if c.SQLitePath == "" {
			p, err := localstate.DBPath()
			if err != nil {
				return fmt.Errorf("derive sqlite path: %w", err)
			}
			c.SQLitePath = p
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}

	if c.IsProduction() && c.DBDriver == "sqlite" {
		return fmt.Errorf("DB_DRIVER=sqlite is not supported in production")
	}

	if c.LogCapacity <= 0 {
		return fmt.Errorf("LOG_CAPACITY must be positive, got %d", c.LogCapacity)
	}
	if c.RetryMaxAttempts < 1 {
		c.RetryMaxAttempts = 1
	}
	return nil
}

// New creates a new Config by parsing environment variables
// Example: CALSYNC_HTTP_PORT, CALSYNC_PROVIDER_TIMEOUT
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("build_target", cfg.BuildTarget).
		Str("db_driver", cfg.DBDriver).
		Str("environment", string(cfg.Environment)).
		Int("port", cfg.HTTPPort).
		Dur("provider_timeout", cfg.ProviderTimeout).
		Int("retry_max_attempts", cfg.RetryMaxAttempts).
		Bool("sync_async", cfg.SyncAsync).
		Str("pull_schedule", cfg.PullSchedule).
		Bool("postgres_dsn_present", cfg.PostgresDSN != "").
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config specifically for testing
func NewForTesting() *Config {
	return &Config{
		BuildTarget:               "local",
		DBDriver:                  "sqlite",
		SQLitePath:                ":memory:",
		Environment:               EnvTesting,
		LogLevel:                  "debug",
		HTTPPort:                  8080,
		ProviderTimeout:           2 * time.Second,
		RetryMaxAttempts:          1,
		RetryBaseDelay:            time.Millisecond,
		OutlookBaseURL:            "http://localhost",
		SyncAsync:                 false,
		LogCapacity:               1000,
		PullSchedule:              "@every 15m",
		HealthIntervalSeconds:     30,
		HealthProbeTimeoutSeconds: 2,
	}
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
