package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultProbeInterval = 2 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
	DefaultOfflineAfter  = 3
	DefaultBufferSize    = 1000
	DefaultKafkaTopic    = "presence.observations"
	DefaultMetricsListen = ":9464"
	DefaultLatencyMetric = "probe_duration_seconds"
	DefaultMQTTQoS       = 1
)

// Config is the agent's view of config.yaml. The `server:` key in the same
// file is ignored.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// ProbeInterval controls how often each target is probed.
	ProbeInterval time.Duration `yaml:"probe_interval"`

	// ProbeTimeout bounds a single probe. A probe that does not complete in
	// time counts as a failure.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// OfflineAfter is the number of consecutive failed probes after which a
	// target is reported offline.
	OfflineAfter int `yaml:"offline_after"`

	// LogLevel is one of: debug | info | warn | error. Hot-reloadable.
	LogLevel string `yaml:"log_level"`

	// Targets is the list of endpoints to track.
	Targets []Target `yaml:"targets"`

	// Kafka configures where observations are published.
	Kafka KafkaConfig `yaml:"kafka"`

	// Metrics configures the Prometheus exposition listener.
	Metrics MetricsConfig `yaml:"metrics"`
}

// Level returns LogLevel as a slog.Level, defaulting to Info.
func (a AgentConfig) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(a.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Target describes one tracked endpoint.
type Target struct {
	// ID is a unique, human-readable identifier for this target.
	ID string `yaml:"id"`

	// Type is the probe kind: http | tcp | tls | prometheus | mqtt.
	Type string `yaml:"type"`

	// Endpoint is a URL for http and prometheus targets, host:port for tcp
	// and tls, and a broker URL (tcp://host:1883) for mqtt.
	Endpoint string `yaml:"endpoint"`

	// Method is the HTTP method used by http probes. Defaults to GET.
	Method string `yaml:"method"`

	// Metric is the latency gauge read by prometheus probes, in seconds.
	// Defaults to probe_duration_seconds.
	Metric string `yaml:"metric"`

	// Auth configures how the agent authenticates to this target.
	Auth AuthConfig `yaml:"auth"`

	// TLS holds optional TLS dial options.
	TLS TLSConfig `yaml:"tls"`

	// MQTT holds the echo topics for mqtt targets.
	MQTT MQTTConfig `yaml:"mqtt"`
}

// AuthConfig specifies the authentication mode for a target.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header is the HTTP header name the API key is sent in.
	Header string `yaml:"header"`
	// KeyEnv names the environment variable that holds the API key.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv names the environment variable that holds the bearer token.
	TokenEnv string `yaml:"token_env"`

	// Username is the literal basic-auth username. Also used as the MQTT
	// username when set.
	Username string `yaml:"username"`
	// PasswordEnv names the environment variable that holds the password.
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	return env(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	return env(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	return env(a.PasswordEnv)
}

func env(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// TLSConfig holds per-target TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`

	// ServerName overrides the SNI name sent by tls probes.
	ServerName string `yaml:"server_name"`
}

// MQTTConfig holds the topics an mqtt echo probe publishes to and listens on.
type MQTTConfig struct {
	RequestTopic string `yaml:"request_topic"`
	ReplyTopic   string `yaml:"reply_topic"`
	QoS          byte   `yaml:"qos"`
	ClientID     string `yaml:"client_id"`
}

// KafkaConfig selects the brokers and topic observations are written to.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`

	// BufferSize is the maximum number of observations held in memory while
	// the brokers are unreachable. The oldest are dropped first.
	BufferSize int `yaml:"buffer_size"`
}

// MetricsConfig configures the /metrics listener.
type MetricsConfig struct {
	// Listen is the host:port the exposition handler binds to. Empty disables it.
	Listen string `yaml:"listen"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	applyTargetDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			ProbeInterval: DefaultProbeInterval,
			ProbeTimeout:  DefaultProbeTimeout,
			OfflineAfter:  DefaultOfflineAfter,
			LogLevel:      "info",
			Kafka: KafkaConfig{
				Topic:      DefaultKafkaTopic,
				BufferSize: DefaultBufferSize,
			},
			Metrics: MetricsConfig{Listen: DefaultMetricsListen},
		},
	}
}

// applyTargetDefaults fills per-target fields that depend on the target type.
func applyTargetDefaults(cfg *Config) {
	for i := range cfg.Agent.Targets {
		t := &cfg.Agent.Targets[i]
		switch t.Type {
		case "http":
			if t.Method == "" {
				t.Method = "GET"
			}
			t.Method = strings.ToUpper(t.Method)
		case "prometheus":
			if t.Metric == "" {
				t.Metric = DefaultLatencyMetric
			}
		case "mqtt":
			if t.MQTT.QoS == 0 {
				t.MQTT.QoS = DefaultMQTTQoS
			}
		}
		if t.Auth.Mode == "apikey" && t.Auth.Header == "" {
			t.Auth.Header = "X-API-Key"
		}
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	if a.ProbeInterval <= 0 {
		return fmt.Errorf("agent.probe_interval must be positive")
	}
	if a.ProbeTimeout <= 0 {
		return fmt.Errorf("agent.probe_timeout must be positive")
	}
	if a.OfflineAfter <= 0 {
		return fmt.Errorf("agent.offline_after must be positive")
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(a.LogLevel)); err != nil {
		return fmt.Errorf("agent.log_level %q unknown: want debug|info|warn|error", a.LogLevel)
	}
	if len(a.Kafka.Brokers) == 0 {
		return fmt.Errorf("agent.kafka.brokers is required")
	}
	if a.Kafka.Topic == "" {
		return fmt.Errorf("agent.kafka.topic must not be empty")
	}
	if a.Kafka.BufferSize <= 0 {
		return fmt.Errorf("agent.kafka.buffer_size must be positive")
	}

	seen := make(map[string]bool, len(a.Targets))
	for i, t := range a.Targets {
		if t.ID == "" {
			return fmt.Errorf("targets[%d]: id is required", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("targets[%d]: duplicate id %q", i, t.ID)
		}
		seen[t.ID] = true
		if t.Endpoint == "" {
			return fmt.Errorf("targets[%d] %q: endpoint is required", i, t.ID)
		}
		switch t.Type {
		case "http", "tcp", "tls", "prometheus", "mqtt":
		default:
			return fmt.Errorf("targets[%d] %q: unknown type %q", i, t.ID, t.Type)
		}
		switch t.Auth.Mode {
		case "mtls", "apikey", "bearer", "basic", "none", "":
		default:
			return fmt.Errorf("targets[%d] %q: unknown auth mode %q", i, t.ID, t.Auth.Mode)
		}
		if t.Type == "mqtt" {
			if t.MQTT.RequestTopic == "" || t.MQTT.ReplyTopic == "" {
				return fmt.Errorf("targets[%d] %q: mqtt.request_topic and mqtt.reply_topic are required", i, t.ID)
			}
			if t.MQTT.QoS > 2 {
				return fmt.Errorf("targets[%d] %q: mqtt.qos %d out of range [0, 2]", i, t.ID, t.MQTT.QoS)
			}
		}
	}
	return nil
}
