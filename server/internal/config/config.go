package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold-based alert condition.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is a simple expression: "state == offline", "rtt_ms > 2000",
	// "confidence < 0.2", "uptime_pct < 90".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Default values for the server configuration.
const (
	DefaultHTTPPort         = 8080
	DefaultSnapshotTTL      = 5 * time.Minute
	DefaultBroadcast        = 5 * time.Second
	DefaultKafkaTopic       = "presence.observations"
	DefaultKafkaGroupID     = "presencewatch-server"
	DefaultStoragePath      = "presencewatch.db"
	DefaultStorageRetention = 7 * 24 * time.Hour
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml. The `agent:` key in the same file is ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API and WebSocket hub listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	// Auth configures how the server authenticates REST clients.
	Auth AuthConfig `yaml:"auth"`

	// Snapshot controls in-memory observation retention.
	Snapshot SnapshotConfig `yaml:"snapshot"`

	// Kafka selects where observations are consumed from.
	Kafka KafkaConfig `yaml:"kafka"`

	// Storage configures the SQLite history database.
	Storage StorageConfig `yaml:"storage"`

	// Alerts holds rule definitions and webhook delivery targets.
	Alerts AlertsConfig `yaml:"alerts"`

	// CORSOrigins lists browser origins allowed to call the API. Empty means
	// any origin.
	CORSOrigins []string `yaml:"cors_origins"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`
}

// Level returns LogLevel as a slog.Level, defaulting to Info.
func (s ServerConfig) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header name to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// SnapshotConfig controls in-memory observation retention.
type SnapshotConfig struct {
	// TTL is how long a target's latest observation stays live after it was
	// received. When TTL elapses without a new observation the entry is evicted.
	// Default: 5m.
	TTL time.Duration `yaml:"ttl"`

	// BroadcastInterval is how often WebSocket clients receive the full
	// snapshot. Default: 5s.
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
}

// KafkaConfig configures the observation consumer.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`

	// GroupID is the consumer group. Several servers sharing one group split
	// the partitions between them.
	GroupID string `yaml:"group_id"`
}

// StorageConfig configures the history database.
type StorageConfig struct {
	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// Retention is how long measurements and state changes are kept.
	Retention time.Duration `yaml:"retention"`
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			Snapshot: SnapshotConfig{
				TTL:               DefaultSnapshotTTL,
				BroadcastInterval: DefaultBroadcast,
			},
			LogLevel: "info",
			Kafka: KafkaConfig{
				Topic:   DefaultKafkaTopic,
				GroupID: DefaultKafkaGroupID,
			},
			Storage: StorageConfig{
				Path:      DefaultStoragePath,
				Retention: DefaultStorageRetention,
			},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	if s.Snapshot.TTL < 0 {
		return fmt.Errorf("server.snapshot.ttl must not be negative")
	}
	if s.Snapshot.BroadcastInterval <= 0 {
		return fmt.Errorf("server.snapshot.broadcast_interval must be positive")
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return fmt.Errorf("server.log_level %q unknown: want debug|info|warn|error", s.LogLevel)
	}
	if len(s.Kafka.Brokers) == 0 {
		return fmt.Errorf("server.kafka.brokers is required")
	}
	if s.Kafka.Topic == "" || s.Kafka.GroupID == "" {
		return fmt.Errorf("server.kafka.topic and server.kafka.group_id must not be empty")
	}
	if s.Storage.Path == "" {
		return fmt.Errorf("server.storage.path must not be empty")
	}
	if s.Storage.Retention < 0 {
		return fmt.Errorf("server.storage.retention must not be negative")
	}
	for i, r := range s.Alerts.Rules {
		if r.Name == "" || r.Condition == "" {
			return fmt.Errorf("server.alerts.rules[%d]: name and condition are required", i)
		}
	}
	for i, w := range s.Alerts.Webhooks {
		switch w.Type {
		case "teams", "slack", "http":
		default:
			return fmt.Errorf("server.alerts.webhooks[%d]: unknown type %q", i, w.Type)
		}
	}
	return nil
}
