// Package config handles loading and validating Karibu configuration.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Karibu.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.karibu/data. Override: KARIBU_DATA_DIR env var.
	Server        ServerConfig         `json:"server" yaml:"server"`
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"` // nil = SQLite default (derived from data dir)
	Platform      PlatformConfig       `json:"platform" yaml:"platform"`
	Ledger        LedgerConfig         `json:"ledger" yaml:"ledger"`
	Executor      ExecutorConfig       `json:"executor" yaml:"executor"`
	Runner        RunnerConfig         `json:"runner" yaml:"runner"`
	Scheduler     *SchedulerConfig     `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`         // nil = cron schedules disabled
	Leads         *LeadsConfig         `json:"leads,omitempty" yaml:"leads,omitempty"`                 // nil = inbound lead endpoint disabled
	Notification  *NotificationConfig  `json:"notification,omitempty" yaml:"notification,omitempty"`   // nil = notifications disabled
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Bootstrap     *BootstrapConfig     `json:"bootstrap,omitempty" yaml:"bootstrap,omitempty"`         // nil = no admin bootstrap
	Logging       LoggingConfig        `json:"logging" yaml:"logging"`
}

// ServerConfig configures the HTTP API gateway.
type ServerConfig struct {
	ListenAddr          string          `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080".
	EnableDocs          bool            `json:"enable_docs" yaml:"enable_docs"`
	AdminAPIKey         string          `json:"admin_api_key,omitempty" yaml:"admin_api_key,omitempty"` // Override: KARIBU_ADMIN_API_KEY env var.
	MaxRequestSizeBytes int64           `json:"max_request_size_bytes" yaml:"max_request_size_bytes"`   // Default: 1 MB.
	RateLimit           RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

// Addr returns the listen address with a default of ":8080".
func (s ServerConfig) Addr() string {
	if s.ListenAddr != "" {
		return s.ListenAddr
	}
	return ":8080"
}

// MaxRequestSize returns the request body cap with a default of 1 MB.
func (s ServerConfig) MaxRequestSize() int64 {
	if s.MaxRequestSizeBytes > 0 {
		return s.MaxRequestSizeBytes
	}
	return 1 << 20
}

// RateLimitConfig configures per-agent rate limiting for the gateway.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"` // 0 = unlimited.
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the data directory.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data dir.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`                                 // Override: KARIBU_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// PlatformConfig configures the HTTP client for the core vendor-management API.
type PlatformConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
	APIKey  string `json:"api_key,omitempty" yaml:"api_key,omitempty"` // Override: KARIBU_PLATFORM_API_KEY env var.
}

// LedgerConfig configures the idempotency ledger.
type LedgerConfig struct {
	TTLSeconds           int `json:"ttl_seconds" yaml:"ttl_seconds"`                       // Record lifetime. Default: 86400 (24h).
	SweepIntervalSeconds int `json:"sweep_interval_seconds" yaml:"sweep_interval_seconds"` // GC cadence. Default: 600.
}

// TTL returns the record lifetime with a default of 24h.
func (l LedgerConfig) TTL() time.Duration {
	if l.TTLSeconds > 0 {
		return time.Duration(l.TTLSeconds) * time.Second
	}
	return 24 * time.Hour
}

// SweepInterval returns the GC cadence with a default of 10m.
func (l LedgerConfig) SweepInterval() time.Duration {
	if l.SweepIntervalSeconds > 0 {
		return time.Duration(l.SweepIntervalSeconds) * time.Second
	}
	return 10 * time.Minute
}

// ExecutorConfig configures the tool invocation pipeline.
type ExecutorConfig struct {
	ExecTimeoutSeconds int `json:"exec_timeout_seconds" yaml:"exec_timeout_seconds"` // Per-execution deadline. Default: 60.
}

// ExecTimeout returns the per-execution deadline with a default of 60s.
func (e ExecutorConfig) ExecTimeout() time.Duration {
	if e.ExecTimeoutSeconds > 0 {
		return time.Duration(e.ExecTimeoutSeconds) * time.Second
	}
	return 60 * time.Second
}

// RunnerConfig configures the background task runner.
type RunnerConfig struct {
	Enabled             bool `json:"enabled" yaml:"enabled"`
	PollIntervalSeconds int  `json:"poll_interval_seconds" yaml:"poll_interval_seconds"` // Default: 1.
	BatchSize           int  `json:"batch_size" yaml:"batch_size"`                       // Tasks claimed per tick. Default: 10.
	Concurrency         int  `json:"concurrency" yaml:"concurrency"`                     // Parallel dispatches. Default: 4.
	BaseBackoffSeconds  int  `json:"base_backoff_seconds" yaml:"base_backoff_seconds"`   // First retry delay. Default: 5.
	MaxBackoffSeconds   int  `json:"max_backoff_seconds" yaml:"max_backoff_seconds"`     // Retry delay cap. Default: 600.
	StaleAfterSeconds   int  `json:"stale_after_seconds" yaml:"stale_after_seconds"`     // Claim age before reclaim. Default: 300.
}

// PollInterval returns the tick cadence with a default of 1s.
func (r RunnerConfig) PollInterval() time.Duration {
	if r.PollIntervalSeconds > 0 {
		return time.Duration(r.PollIntervalSeconds) * time.Second
	}
	return 1 * time.Second
}

// BaseBackoff returns the first retry delay with a default of 5s.
func (r RunnerConfig) BaseBackoff() time.Duration {
	if r.BaseBackoffSeconds > 0 {
		return time.Duration(r.BaseBackoffSeconds) * time.Second
	}
	return 5 * time.Second
}

// MaxBackoff returns the retry delay cap with a default of 10m.
func (r RunnerConfig) MaxBackoff() time.Duration {
	if r.MaxBackoffSeconds > 0 {
		return time.Duration(r.MaxBackoffSeconds) * time.Second
	}
	return 10 * time.Minute
}

// StaleAfter returns the claim age before reclaim with a default of 5m.
func (r RunnerConfig) StaleAfter() time.Duration {
	if r.StaleAfterSeconds > 0 {
		return time.Duration(r.StaleAfterSeconds) * time.Second
	}
	return 5 * time.Minute
}

// SchedulerConfig configures the cron schedule firing loop.
// When nil, stored schedules are never fired.
type SchedulerConfig struct {
	Enabled             bool `json:"enabled" yaml:"enabled"`
	PollIntervalSeconds int  `json:"poll_interval_seconds" yaml:"poll_interval_seconds"` // Default: 30.
}

// PollInterval returns the poll interval with a default of 30s.
func (s *SchedulerConfig) PollInterval() time.Duration {
	if s != nil && s.PollIntervalSeconds > 0 {
		return time.Duration(s.PollIntervalSeconds) * time.Second
	}
	return 30 * time.Second
}

// LeadsConfig configures the inbound lead webhook and routing.
// RoleAgents maps a role name to the service agent UUID that runs
// tasks routed to that role.
type LeadsConfig struct {
	Enabled    bool              `json:"enabled" yaml:"enabled"`
	RoleAgents map[string]string `json:"role_agents" yaml:"role_agents"` // role name → agent UUID.
}

// NotificationConfig configures operator alert delivery.
// When nil, dead-task and high-risk-denial alerts are dropped.
type NotificationConfig struct {
	Enabled bool               `json:"enabled" yaml:"enabled"`
	Webhook *WebhookConfig     `json:"webhook,omitempty" yaml:"webhook,omitempty"` // nil = webhook channel disabled.
	Slack   *SlackNotifyConfig `json:"slack,omitempty" yaml:"slack,omitempty"`     // nil = Slack channel disabled.
}

// WebhookConfig configures the outbound webhook alert channel.
type WebhookConfig struct {
	URL string `json:"url" yaml:"url"` // Override: KARIBU_WEBHOOK_URL env var.
}

// SlackNotifyConfig configures the Slack alert channel.
type SlackNotifyConfig struct {
	BotToken  string `json:"bot_token,omitempty" yaml:"bot_token,omitempty"` // Override: KARIBU_SLACK_BOT_TOKEN env var.
	ChannelID string `json:"channel_id" yaml:"channel_id"`
}

// ObservabilityConfig configures metrics, tracing, and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// MetricsPath returns the exposition path with a default of "/metrics".
func (m *MetricsConfig) MetricsPath() string {
	if m != nil && m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "karibu"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// BootstrapConfig controls first-run admin agent creation.
// When the identity store is empty at startup, an OWNER agent is
// created and its credential printed once to the log.
type BootstrapConfig struct {
	Enabled          bool   `json:"enabled" yaml:"enabled"`
	AdminDisplayName string `json:"admin_display_name" yaml:"admin_display_name"` // Default: "admin".
}

// AdminName returns the bootstrap admin display name with a default of "admin".
func (b *BootstrapConfig) AdminName() string {
	if b != nil && b.AdminDisplayName != "" {
		return b.AdminDisplayName
	}
	return "admin"
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // "debug", "info" (default), "warn", "error".
	Format string `json:"format" yaml:"format"` // "text" (default) or "json".
}

// SlogLevel maps the configured level string to a slog.Level.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DefaultConfigPath returns the default config file path (~/.karibu/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/karibu.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".karibu", "config.yaml")
}

// Load reads a YAML or JSON config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything else for JSON.
// Secrets can be set in the config file or overridden by environment
// variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
// Env vars take precedence over config file values.
func (c *Config) applyEnvOverrides() {
	if env := os.Getenv("KARIBU_DATA_DIR"); env != "" {
		c.DataDir = env
	}
	if env := os.Getenv("KARIBU_LISTEN_ADDR"); env != "" {
		c.Server.ListenAddr = env
	}
	if env := os.Getenv("KARIBU_ADMIN_API_KEY"); env != "" {
		c.Server.AdminAPIKey = env
	}
	if env := os.Getenv("KARIBU_PLATFORM_API_KEY"); env != "" {
		c.Platform.APIKey = env
	}
	if env := os.Getenv("KARIBU_DB_DSN"); env != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = env
	}
	if env := os.Getenv("KARIBU_WEBHOOK_URL"); env != "" {
		if c.Notification == nil {
			c.Notification = &NotificationConfig{Enabled: true}
		}
		if c.Notification.Webhook == nil {
			c.Notification.Webhook = &WebhookConfig{}
		}
		c.Notification.Webhook.URL = env
	}
	if env := os.Getenv("KARIBU_SLACK_BOT_TOKEN"); env != "" {
		if c.Notification != nil && c.Notification.Slack != nil {
			c.Notification.Slack.BotToken = env
		}
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".karibu", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the default SQLite database path under the data directory.
func (c *Config) DatabasePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "karibu.db")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	if c.Storage != nil {
		return c.Storage.StorageDriver()
	}
	return "sqlite"
}

func (c *Config) validate() error {
	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite", "postgres":
			// valid
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
	}
	if c.StorageDriverName() == "postgres" {
		if c.Storage == nil || c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver (set KARIBU_DB_DSN env var)")
		}
	}
	if c.Platform.BaseURL == "" {
		return fmt.Errorf("platform.base_url is required")
	}
	if c.Notification != nil && c.Notification.Enabled {
		if c.Notification.Webhook == nil && c.Notification.Slack == nil {
			return fmt.Errorf("notification is enabled but no channel is configured")
		}
		if c.Notification.Slack != nil && c.Notification.Slack.ChannelID == "" {
			return fmt.Errorf("notification.slack.channel_id is required")
		}
	}
	if c.Observability != nil && c.Observability.Tracing != nil && c.Observability.Tracing.Enabled {
		if c.Observability.Tracing.Endpoint == "" {
			return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
		}
	}
	if c.Leads != nil && c.Leads.Enabled && len(c.Leads.RoleAgents) == 0 {
		return fmt.Errorf("leads.role_agents must map at least one role when leads are enabled")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
		// valid
	default:
		return fmt.Errorf("logging.format %q is not supported (use text or json)", c.Logging.Format)
	}
	return nil
}
