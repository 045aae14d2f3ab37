package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalYAML = `
platform:
  base_url: https://core.example.com
`

func TestLoad_YAMLWithDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "karibu.yaml", minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr() != ":8080" {
		t.Errorf("addr = %q, want :8080", cfg.Server.Addr())
	}
	if cfg.StorageDriverName() != "sqlite" {
		t.Errorf("driver = %q, want sqlite", cfg.StorageDriverName())
	}
	if cfg.Ledger.TTL() != 24*time.Hour {
		t.Errorf("ledger TTL = %v, want 24h", cfg.Ledger.TTL())
	}
	if cfg.Executor.ExecTimeout() != 60*time.Second {
		t.Errorf("exec timeout = %v, want 60s", cfg.Executor.ExecTimeout())
	}
	if cfg.Runner.MaxBackoff() != 10*time.Minute {
		t.Errorf("max backoff = %v, want 10m", cfg.Runner.MaxBackoff())
	}
	if !strings.HasSuffix(cfg.DatabasePath(), "karibu.db") {
		t.Errorf("db path = %q", cfg.DatabasePath())
	}
}

func TestLoad_JSON(t *testing.T) {
	cfg, err := Load(writeConfig(t, "karibu.json",
		`{"platform": {"base_url": "https://core.example.com"}, "server": {"listen_addr": ":9090"}}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr() != ":9090" {
		t.Errorf("addr = %q, want :9090", cfg.Server.Addr())
	}
}

func TestLoad_MissingPlatformURL(t *testing.T) {
	_, err := Load(writeConfig(t, "karibu.yaml", "logging:\n  level: info\n"))
	if err == nil || !strings.Contains(err.Error(), "platform.base_url") {
		t.Errorf("error = %v, want platform.base_url required", err)
	}
}

func TestLoad_BadStorageDriver(t *testing.T) {
	_, err := Load(writeConfig(t, "karibu.yaml", minimalYAML+"storage:\n  driver: mysql\n"))
	if err == nil || !strings.Contains(err.Error(), "storage.driver") {
		t.Errorf("error = %v, want storage.driver rejected", err)
	}
}

func TestLoad_PostgresRequiresDSN(t *testing.T) {
	_, err := Load(writeConfig(t, "karibu.yaml", minimalYAML+"storage:\n  driver: postgres\n"))
	if err == nil || !strings.Contains(err.Error(), "dsn") {
		t.Errorf("error = %v, want dsn required", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("KARIBU_DB_DSN", "postgres://karibu:secret@db:5432/karibu")
	t.Setenv("KARIBU_ADMIN_API_KEY", "env-admin-key")

	cfg, err := Load(writeConfig(t, "karibu.yaml", minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StorageDriverName() != "postgres" {
		t.Errorf("driver = %q, want postgres from env", cfg.StorageDriverName())
	}
	if cfg.Storage.Postgres.DSN != "postgres://karibu:secret@db:5432/karibu" {
		t.Errorf("dsn = %q", cfg.Storage.Postgres.DSN)
	}
	if cfg.Server.AdminAPIKey != "env-admin-key" {
		t.Errorf("admin key = %q", cfg.Server.AdminAPIKey)
	}
}

func TestLoad_TracingRequiresEndpoint(t *testing.T) {
	_, err := Load(writeConfig(t, "karibu.yaml", minimalYAML+"observability:\n  tracing:\n    enabled: true\n"))
	if err == nil || !strings.Contains(err.Error(), "tracing.endpoint") {
		t.Errorf("error = %v, want tracing.endpoint required", err)
	}
}

func TestSlogLevel(t *testing.T) {
	cases := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := (LoggingConfig{Level: tc.level}).SlogLevel(); got != tc.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tc.level, got, tc.want)
		}
	}
}
