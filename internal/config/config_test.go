package config

import (
	"log/slog"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SnapshotDriver != DriverMemory {
		t.Fatalf("expected memory driver, got %q", cfg.SnapshotDriver)
	}
	if cfg.S3.Prefix != "snapshots/" || cfg.S3.Region != "us-east-1" {
		t.Fatalf("unexpected s3 defaults %+v", cfg.S3)
	}
	if !cfg.OTelEnabled || cfg.OTelEndpoint != "" {
		t.Fatalf("unexpected otel defaults %+v", cfg)
	}
	if level, _ := cfg.SlogLevel(); level != slog.LevelInfo {
		t.Fatalf("expected info level, got %v", level)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("RELCORE_SNAPSHOT_DRIVER", "s3")
	t.Setenv("RELCORE_S3_BUCKET", "snapshots")
	t.Setenv("RELCORE_S3_ENDPOINT", "http://localhost:9000")
	t.Setenv("RELCORE_S3_PATH_STYLE", "true")
	t.Setenv("RELCORE_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.S3.Bucket != "snapshots" || !cfg.S3.PathStyle || cfg.S3.Endpoint != "http://localhost:9000" {
		t.Fatalf("unexpected s3 config %+v", cfg.S3)
	}
	if level, _ := cfg.SlogLevel(); level != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v", level)
	}
}

func TestLoadRejectsInvalidConfiguration(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown driver": {"RELCORE_SNAPSHOT_DRIVER": "cassette"},
		"s3 bucket":      {"RELCORE_SNAPSHOT_DRIVER": "s3"},
		"log level":      {"RELCORE_LOG_LEVEL": "loud"},
		"bad bool":       {"RELCORE_OTEL_ENABLED": "maybe"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range vars {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg struct {
		Port int `env:"RELCORE_TEST_PORT"`
	}
	t.Setenv("RELCORE_TEST_PORT", "not-an-int")
	err := ParseEnv(&cfg)
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env error, got %v", err)
	}
}
