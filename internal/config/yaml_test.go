package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromFile_AllFields(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "full_config.yml")

	configContent := `
command: "npm run dev"
proxyPort: 4100
targetPort: 3100
metrics_port: 9999
body_max_bytes: 4194304
context_body_max_bytes: 2097152
log_level: debug
log_format: text
health_check_enabled: true
health_check_type: tcp
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}

	if cfg.Command != "npm run dev" {
		t.Errorf("expected command 'npm run dev', got %s", cfg.Command)
	}
	if cfg.ProxyPort != 4100 {
		t.Errorf("expected proxyPort 4100, got %d", cfg.ProxyPort)
	}
	if cfg.TargetPort != 3100 {
		t.Errorf("expected targetPort 3100, got %d", cfg.TargetPort)
	}
	if cfg.MetricsPort != 9999 {
		t.Errorf("expected metrics_port 9999, got %d", cfg.MetricsPort)
	}
	if cfg.BodyMaxBytes != 4194304 {
		t.Errorf("expected body_max_bytes 4194304, got %d", cfg.BodyMaxBytes)
	}
	if cfg.ContextBodyMaxBytes != 2097152 {
		t.Errorf("expected context_body_max_bytes 2097152, got %d", cfg.ContextBodyMaxBytes)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("expected log format 'text', got %s", cfg.LogFormat)
	}
	if !cfg.HealthCheckEnabled {
		t.Error("expected health_check_enabled true")
	}
	if cfg.HealthCheckType != "tcp" {
		t.Errorf("expected health_check_type 'tcp', got %s", cfg.HealthCheckType)
	}
}

func TestLoadFromFile_MinimalValid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "minimal.yml")

	configContent := `
proxyPort: 5050
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}

	if cfg.ProxyPort != 5050 {
		t.Errorf("expected proxyPort 5050, got %d", cfg.ProxyPort)
	}
	if cfg.TargetPort != DefaultConfig().TargetPort {
		t.Errorf("expected default targetPort, got %d", cfg.TargetPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.LogLevel)
	}
}

func TestLoadFromFile_EmptyFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "empty.yml")

	if err := os.WriteFile(configPath, []byte(""), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}

	if cfg.ProxyPort != DefaultConfig().ProxyPort {
		t.Errorf("expected default proxyPort, got %d", cfg.ProxyPort)
	}
}

func TestConfig_Validate_AllLogLevels(t *testing.T) {
	validLevels := []string{"trace", "debug", "info", "warn", "error"}

	for _, level := range validLevels {
		cfg := DefaultConfig()
		cfg.LogLevel = level

		if err := cfg.Validate(); err != nil {
			t.Errorf("log level '%s' should be valid, got error: %v", level, err)
		}
	}
}

func TestConfig_Validate_AllLogFormats(t *testing.T) {
	validFormats := []string{"json", "text"}

	for _, format := range validFormats {
		cfg := DefaultConfig()
		cfg.LogFormat = format

		if err := cfg.Validate(); err != nil {
			t.Errorf("log format '%s' should be valid, got error: %v", format, err)
		}
	}
}

func TestConfig_Validate_AllHealthCheckTypes(t *testing.T) {
	validTypes := []string{"tcp", "http"}

	for _, typ := range validTypes {
		cfg := DefaultConfig()
		cfg.HealthCheckEnabled = true
		cfg.HealthCheckType = typ

		if err := cfg.Validate(); err != nil {
			t.Errorf("health check type '%s' should be valid, got error: %v", typ, err)
		}
	}
}

func TestConfig_Validate_MetricsPortOutOfRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MetricsPort = 70000

	if err := cfg.Validate(); err == nil {
		t.Error("metrics port > 65535 should be invalid")
	}
}

func TestConfig_Validate_MetricsPortZeroDisablesCheck(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MetricsPort = 0

	if err := cfg.Validate(); err != nil {
		t.Errorf("metrics port 0 means disabled, should be valid: %v", err)
	}
}
