// Package config loads and watches the agent configuration file (config.yaml).
//
// Top-level types:
//   - Config{Agent}: the `agent:` section; the `server:` section is ignored
//   - AgentConfig: probe_interval, probe_timeout, offline_after, log_level,
//     targets [], kafka, metrics
//   - Target: id, type (http|tcp|tls|prometheus|mqtt), endpoint, method,
//     metric, auth, tls, mqtt
//   - AuthConfig: mode (mtls|apikey|bearer|basic|none), cert/key/ca files,
//     header, key_env, token_env, password_env; secrets resolve from the
//     environment
//
// Load(path) reads the YAML file, applies defaults (2s probe interval, 5s
// probe timeout, offline after 3 failures, 1000 buffer, topic
// presence.observations, metrics on :9464), then validates required fields
// and enums.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config.
package config
