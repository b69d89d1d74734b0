// Package config loads the runtime configuration of relcore tools from
// RELCORE_* environment variables.
package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
)

// Snapshot store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverS3       = "s3"
)

// Config is the environment-derived configuration.
type Config struct {
	SnapshotDriver string `env:"RELCORE_SNAPSHOT_DRIVER" envDefault:"memory"`
	SQLitePath     string `env:"RELCORE_SQLITE_PATH" envDefault:"relcore.db"`
	PostgresDSN    string `env:"RELCORE_POSTGRES_DSN"`

	S3 S3Config

	OTelEndpoint string `env:"RELCORE_OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"RELCORE_OTEL_ENABLED" envDefault:"true"`

	LogLevel string `env:"RELCORE_LOG_LEVEL" envDefault:"info"`
}

// S3Config addresses the bucket used by the s3 snapshot driver.
type S3Config struct {
	Bucket    string `env:"RELCORE_S3_BUCKET"`
	Region    string `env:"RELCORE_S3_REGION" envDefault:"us-east-1"`
	Endpoint  string `env:"RELCORE_S3_ENDPOINT"`
	PathStyle bool   `env:"RELCORE_S3_PATH_STYLE"`
	Prefix    string `env:"RELCORE_S3_PREFIX" envDefault:"snapshots/"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks that the selected driver has what it needs.
func (c Config) Validate() error {
	switch c.SnapshotDriver {
	case DriverMemory:
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("RELCORE_SQLITE_PATH required for sqlite driver")
		}
	case DriverPostgres:
	case DriverS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("RELCORE_S3_BUCKET required for s3 driver")
		}
	default:
		return fmt.Errorf("unknown snapshot driver %q", c.SnapshotDriver)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog level.
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid RELCORE_LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return level, nil
}
