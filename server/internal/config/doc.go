// Package config loads the server-side configuration from the `server:` section
// of config.yaml (the `agent:` key is ignored by the server binary).
//
// Config fields:
//   - HTTPPort:          port for the REST API and WebSocket hub (default 8080)
//   - Auth.Mode:         "apikey" or "none"
//   - Auth.KeyEnv:       environment variable holding the expected API key
//   - Auth.Header:       HTTP header name (default "x-api-key")
//   - Snapshot.TTL:      how long a target's observation remains live (default 5m)
//   - Kafka:             brokers, topic (presence.observations), group_id
//   - Storage.Path:      SQLite history file (default presencewatch.db)
//   - Storage.Retention: history retention (default 168h)
//   - Alerts:            rules and webhooks
//
// Load(path) applies defaults before unmarshalling, then validates.
package config
