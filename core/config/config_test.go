package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vermont/core/errors"
)

const sampleConfig = `environment: staging
logging:
  level: debug
threads:
  max_concurrent: 4
modules:
  dbwriter:
    dbname: test.db
    buffer_records: 5
`

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, sampleConfig)

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Environment != "staging" {
		t.Errorf("expected staging, got %q", cfg.Environment)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %q", cfg.Logging.Level)
	}
	if cfg.Threads.MaxConcurrent != 4 {
		t.Errorf("expected max_concurrent 4, got %d", cfg.Threads.MaxConcurrent)
	}
	if cfg.Threads.JoinTimeoutSeconds != 10 {
		t.Errorf("expected default join timeout 10, got %d", cfg.Threads.JoinTimeoutSeconds)
	}
	mod := cfg.Module("dbwriter")
	if mod == nil || mod["dbname"] != "test.db" {
		t.Errorf("unexpected dbwriter config: %v", mod)
	}
	if cfg.Module("missing") != nil {
		t.Error("expected nil for unknown module")
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, sampleConfig)
	t.Setenv("VERMONT_THREADS_MAX_CONCURRENT", "7")

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Threads.MaxConcurrent != 7 {
		t.Errorf("expected env override 7, got %d", cfg.Threads.MaxConcurrent)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "environment: moon\n")

	_, err := LoadConfig(dir)
	if err == nil || !strings.Contains(err.Error(), "invalid environment") {
		t.Fatalf("expected invalid environment error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := GenerateMinimalConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("minimal config should be valid: %v", err)
	}
	cfg.Threads.MaxConcurrent = 0
	if err := cfg.Validate(); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for zero max_concurrent, got %v", err)
	}
}

func TestValidateRejectsNonPositiveJoinTimeout(t *testing.T) {
	for _, timeout := range []int{0, -1} {
		cfg := GenerateMinimalConfig()
		cfg.Threads.JoinTimeoutSeconds = timeout
		if err := cfg.Validate(); !errors.Is(err, errors.ErrInvalidInput) {
			t.Errorf("join_timeout_seconds=%d: expected ErrInvalidInput, got %v", timeout, err)
		}
	}
}

func TestSaveGeneratedConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if err := SaveGeneratedConfig(GenerateMinimalConfig(), filepath.Join(dir, "config.yaml")); err != nil {
		t.Fatalf("SaveGeneratedConfig: %v", err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Threads.MaxConcurrent != 16 {
		t.Errorf("expected 16, got %d", cfg.Threads.MaxConcurrent)
	}
	if cfg.Module("dbwriter")["table"] != "flows" {
		t.Errorf("unexpected dbwriter config: %v", cfg.Module("dbwriter"))
	}
}
