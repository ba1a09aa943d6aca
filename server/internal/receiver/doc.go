// Package receiver consumes observations published by agents to Kafka.
//
// Each message is decoded and validated, stored as the target's latest
// observation, recorded in history and handed to the registered sinks
// (alert evaluation, WebSocket fan-out). Malformed messages are logged and
// committed so they are not redelivered.
package receiver
