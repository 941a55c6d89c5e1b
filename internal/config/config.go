package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trafficwatch/trafficwatch/internal/series"
)

// Backend transports.
const (
	TransportWebSocket = "websocket"
	TransportRedis     = "redis"
)

// Config is the top-level trafficwatch configuration.
type Config struct {
	Version   string          `yaml:"version"`
	Backend   BackendConfig   `yaml:"backend"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Web       WebConfig       `yaml:"web"`
	Audit     AuditConfig     `yaml:"audit"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
	LogLevel  string          `yaml:"log_level"`
	LogFile   string          `yaml:"log_file,omitempty"` // watch discards logs unless set
}

// BackendConfig selects how to reach the detection backend.
type BackendConfig struct {
	Transport         string        `yaml:"transport"` // websocket, redis
	URL               string        `yaml:"url,omitempty"`
	RedisAddr         string        `yaml:"redis_addr,omitempty"`
	RedisPrefix       string        `yaml:"redis_prefix,omitempty"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	ReconnectAttempts uint          `yaml:"reconnect_attempts"` // 0 = retry forever
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
}

// DashboardConfig sizes the in-memory dashboard state.
type DashboardConfig struct {
	EventLogSize  int              `yaml:"event_log_size"`
	NoticeLogSize int              `yaml:"notice_log_size"`
	Retention     series.Retention `yaml:"retention"` // zero keeps every point
}

// WebConfig configures the browser dashboard.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
	Metrics bool   `yaml:"metrics"` // expose /metrics
}

// AuditConfig configures the command log.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	TraceFile string `yaml:"trace_file,omitempty"` // empty disables tracing
}

// Load reads and parses a trafficwatch config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Apply zero-value defaults after unmarshal
	if cfg.Backend.Transport == "" {
		cfg.Backend.Transport = TransportWebSocket
	}
	if cfg.Backend.DialTimeout == 0 {
		cfg.Backend.DialTimeout = 5 * time.Second
	}
	if cfg.Backend.ReconnectDelay == 0 {
		cfg.Backend.ReconnectDelay = 500 * time.Millisecond
	}
	if cfg.Dashboard.EventLogSize == 0 {
		cfg.Dashboard.EventLogSize = 10
	}
	if cfg.Dashboard.NoticeLogSize == 0 {
		cfg.Dashboard.NoticeLogSize = 50
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

// Defaults returns a config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Version: "1",
		Backend: BackendConfig{
			Transport:      TransportWebSocket,
			URL:            "ws://127.0.0.1:5000/ws",
			RedisAddr:      "127.0.0.1:6379",
			RedisPrefix:    "trafficwatch",
			DialTimeout:    5 * time.Second,
			ReconnectDelay: 500 * time.Millisecond,
		},
		Dashboard: DashboardConfig{
			EventLogSize:  10,
			NoticeLogSize: 50,
		},
		Web: WebConfig{
			Bind:    "127.0.0.1",
			Port:    8090,
			Metrics: true,
		},
		Audit: AuditConfig{
			Enabled: true,
			DBPath:  "trafficwatch.db",
		},
		LogLevel: "info",
	}
}

// Save writes the config to a YAML file at the given path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Validate checks that the config is consistent.
func (c *Config) Validate() error {
	switch c.Backend.Transport {
	case TransportWebSocket:
		u, err := url.Parse(c.Backend.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return fmt.Errorf("backend url %q must be a ws:// or wss:// address", c.Backend.URL)
		}
	case TransportRedis:
		if c.Backend.RedisAddr == "" {
			return fmt.Errorf("redis_addr is required for the redis transport")
		}
	default:
		return fmt.Errorf("invalid transport %q (want %s or %s)", c.Backend.Transport, TransportWebSocket, TransportRedis)
	}
	if c.Backend.DialTimeout < 0 || c.Backend.ReconnectDelay < 0 {
		return fmt.Errorf("backend timeouts must not be negative")
	}

	if c.Dashboard.EventLogSize < 1 {
		return fmt.Errorf("invalid event_log_size: %d", c.Dashboard.EventLogSize)
	}
	if c.Dashboard.NoticeLogSize < 1 {
		return fmt.Errorf("invalid notice_log_size: %d", c.Dashboard.NoticeLogSize)
	}
	if c.Dashboard.Retention.MaxPoints < 0 || c.Dashboard.Retention.MaxAge < 0 {
		return fmt.Errorf("retention limits must not be negative")
	}

	if c.Web.Enabled && (c.Web.Port < 0 || c.Web.Port > 65535) {
		return fmt.Errorf("invalid web port: %d", c.Web.Port)
	}
	if c.Audit.Enabled && c.Audit.DBPath == "" {
		return fmt.Errorf("db_path is required when audit is enabled")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return nil
}
