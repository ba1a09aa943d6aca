package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoad_Valid(t *testing.T) {
	yaml := `
agent:
  probe_interval: 1s
  probe_timeout: 3s
  offline_after: 5
  log_level: debug
  kafka:
    brokers: ["kafka-1:9092", "kafka-2:9092"]
    topic: presence
    buffer_size: 500
  targets:
    - id: phone-alice
      type: http
      endpoint: "http://10.0.0.12:8080/ping"
      method: head
      auth:
        mode: bearer
        token_env: PHONE_TOKEN
    - id: sensor-hall
      type: mqtt
      endpoint: "tcp://broker:1883"
      mqtt:
        request_topic: echo/hall/req
        reply_topic: echo/hall/rep
`
	cfg := loadFromString(t, yaml)

	want := AgentConfig{
		ProbeInterval: time.Second,
		ProbeTimeout:  3 * time.Second,
		OfflineAfter:  5,
		LogLevel:      "debug",
		Kafka: KafkaConfig{
			Brokers:    []string{"kafka-1:9092", "kafka-2:9092"},
			Topic:      "presence",
			BufferSize: 500,
		},
		Metrics: MetricsConfig{Listen: DefaultMetricsListen},
		Targets: []Target{
			{
				ID:       "phone-alice",
				Type:     "http",
				Endpoint: "http://10.0.0.12:8080/ping",
				Method:   "HEAD",
				Auth:     AuthConfig{Mode: "bearer", TokenEnv: "PHONE_TOKEN"},
			},
			{
				ID:       "sensor-hall",
				Type:     "mqtt",
				Endpoint: "tcp://broker:1883",
				MQTT: MQTTConfig{
					RequestTopic: "echo/hall/req",
					ReplyTopic:   "echo/hall/rep",
					QoS:          DefaultMQTTQoS,
				},
			},
		},
	}
	if diff := cmp.Diff(want, cfg.Agent); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
	if cfg.Agent.Level() != slog.LevelDebug {
		t.Errorf("Level() = %v, want debug", cfg.Agent.Level())
	}
}

func TestLoad_Defaults(t *testing.T) {
	yaml := `
agent:
  kafka:
    brokers: ["localhost:9092"]
  targets:
    - id: exporter
      type: prometheus
      endpoint: "http://localhost:9115/probe?target=10.0.0.5"
    - id: api
      type: http
      endpoint: "http://localhost:8080/health"
      auth:
        mode: apikey
        key_env: API_KEY
`
	cfg := loadFromString(t, yaml)

	if cfg.Agent.ProbeInterval != DefaultProbeInterval {
		t.Errorf("default probe_interval: got %v, want %v", cfg.Agent.ProbeInterval, DefaultProbeInterval)
	}
	if cfg.Agent.ProbeTimeout != DefaultProbeTimeout {
		t.Errorf("default probe_timeout: got %v, want %v", cfg.Agent.ProbeTimeout, DefaultProbeTimeout)
	}
	if cfg.Agent.OfflineAfter != DefaultOfflineAfter {
		t.Errorf("default offline_after: got %d, want %d", cfg.Agent.OfflineAfter, DefaultOfflineAfter)
	}
	if cfg.Agent.Kafka.Topic != DefaultKafkaTopic {
		t.Errorf("default topic: got %q, want %q", cfg.Agent.Kafka.Topic, DefaultKafkaTopic)
	}
	if cfg.Agent.Kafka.BufferSize != DefaultBufferSize {
		t.Errorf("default buffer_size: got %d, want %d", cfg.Agent.Kafka.BufferSize, DefaultBufferSize)
	}
	if cfg.Agent.Level() != slog.LevelInfo {
		t.Errorf("default level: got %v", cfg.Agent.Level())
	}
	if got := cfg.Agent.Targets[0].Metric; got != DefaultLatencyMetric {
		t.Errorf("default metric: got %q, want %q", got, DefaultLatencyMetric)
	}
	if got := cfg.Agent.Targets[1].Method; got != "GET" {
		t.Errorf("default method: got %q, want GET", got)
	}
	if got := cfg.Agent.Targets[1].Auth.Header; got != "X-API-Key" {
		t.Errorf("default apikey header: got %q", got)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "missing brokers",
			yaml: `
agent:
  targets:
    - {id: a, type: tcp, endpoint: "10.0.0.1:22"}
`,
			wantErr: "kafka.brokers",
		},
		{
			name: "unknown target type",
			yaml: `
agent:
  kafka: {brokers: ["k:9092"]}
  targets:
    - {id: a, type: icmp, endpoint: "10.0.0.1"}
`,
			wantErr: "unknown type",
		},
		{
			name: "duplicate id",
			yaml: `
agent:
  kafka: {brokers: ["k:9092"]}
  targets:
    - {id: a, type: tcp, endpoint: "10.0.0.1:22"}
    - {id: a, type: tcp, endpoint: "10.0.0.2:22"}
`,
			wantErr: "duplicate id",
		},
		{
			name: "missing endpoint",
			yaml: `
agent:
  kafka: {brokers: ["k:9092"]}
  targets:
    - {id: a, type: tcp}
`,
			wantErr: "endpoint is required",
		},
		{
			name: "unknown auth mode",
			yaml: `
agent:
  kafka: {brokers: ["k:9092"]}
  targets:
    - {id: a, type: http, endpoint: "http://x", auth: {mode: magictoken}}
`,
			wantErr: "unknown auth mode",
		},
		{
			name: "mqtt without topics",
			yaml: `
agent:
  kafka: {brokers: ["k:9092"]}
  targets:
    - {id: a, type: mqtt, endpoint: "tcp://broker:1883"}
`,
			wantErr: "request_topic",
		},
		{
			name: "bad log level",
			yaml: `
agent:
  log_level: chatty
  kafka: {brokers: ["k:9092"]}
`,
			wantErr: "log_level",
		},
		{
			name: "zero offline_after",
			yaml: `
agent:
  offline_after: 0
  kafka: {brokers: ["k:9092"]}
`,
			wantErr: "offline_after",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadStringErr(t, tc.yaml)
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoad_IgnoresServerSection(t *testing.T) {
	yaml := `
agent:
  kafka: {brokers: ["k:9092"]}
server:
  http_port: 9999
  storage: {path: /tmp/x.db}
`
	if _, err := loadStringErr(t, yaml); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestAuthConfig_Secrets(t *testing.T) {
	t.Setenv("TEST_API_KEY", "supersecret")
	t.Setenv("TEST_BEARER_TOKEN", "mytoken")
	t.Setenv("TEST_PASSWORD", "hunter2")
	a := AuthConfig{KeyEnv: "TEST_API_KEY", TokenEnv: "TEST_BEARER_TOKEN", PasswordEnv: "TEST_PASSWORD"}

	if got := a.Key(); got != "supersecret" {
		t.Errorf("Key(): got %q", got)
	}
	if got := a.Token(); got != "mytoken" {
		t.Errorf("Token(): got %q", got)
	}
	if got := a.Password(); got != "hunter2" {
		t.Errorf("Password(): got %q", got)
	}
	if got := (AuthConfig{}).Key(); got != "" {
		t.Errorf("Key() with no KeyEnv: got %q, want empty", got)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	write := func(level string) {
		t.Helper()
		content := "agent:\n  log_level: " + level + "\n  kafka: {brokers: [\"k:9092\"]}\n"
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	write("info")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 16)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, func(c *Config) { got <- c }) }()

	// The watcher may not be registered yet; keep rewriting until a reload lands.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-got:
			if cfg.Agent.Level() != slog.LevelWarn {
				t.Fatalf("reloaded level = %v, want warn", cfg.Agent.Level())
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Watch() error = %v", err)
			}
			return
		case <-tick.C:
			write("warn")
		case <-deadline:
			t.Fatal("no reload within 5s")
		}
	}
}

// loadFromString writes yaml to a temp file and calls Load, failing on error.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return Load(path)
}
