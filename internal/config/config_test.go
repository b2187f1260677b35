package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("VIGIL_DATA_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BackendPort != 7410 {
		t.Errorf("BackendPort = %d, want 7410", cfg.BackendPort)
	}
	if cfg.MetricsPort != 9410 {
		t.Errorf("MetricsPort = %d, want 9410", cfg.MetricsPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("VIGIL_DATA_DIR", t.TempDir())
	t.Setenv("VIGIL_HOST", "127.0.0.1")
	t.Setenv("VIGIL_PORT", "8410")
	t.Setenv("VIGIL_LOG_LEVEL", "debug")
	t.Setenv("VIGIL_ALLOWED_ORIGINS", "https://ops.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BackendHost != "127.0.0.1" {
		t.Errorf("BackendHost = %q", cfg.BackendHost)
	}
	if cfg.BackendPort != 8410 {
		t.Errorf("BackendPort = %d", cfg.BackendPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.AllowedOrigins != "https://ops.example.com" {
		t.Errorf("AllowedOrigins = %q", cfg.AllowedOrigins)
	}
}

func TestLoadDotEnvFile(t *testing.T) {
	dataDir := t.TempDir()
	envFile := filepath.Join(dataDir, ".env")
	if err := os.WriteFile(envFile, []byte("VIGIL_LOG_FORMAT=json\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("VIGIL_DATA_DIR", dataDir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want json from .env", cfg.LogFormat)
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("VIGIL_DATA_DIR", t.TempDir())
	t.Setenv("VIGIL_PORT", "not-a-port")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-numeric port")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{BackendPort: 7410, MetricsPort: 9410, DataDir: "/tmp/vigil", LogFormat: "auto"}, false},
		{"port out of range", Config{BackendPort: 70000, MetricsPort: 9410, DataDir: "/tmp/vigil"}, true},
		{"ports collide", Config{BackendPort: 7410, MetricsPort: 7410, DataDir: "/tmp/vigil"}, true},
		{"empty data dir", Config{BackendPort: 7410, MetricsPort: 9410}, true},
		{"unknown log format", Config{BackendPort: 7410, MetricsPort: 9410, DataDir: "/tmp/vigil", LogFormat: "yaml"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
