// Package types defines the shared Go types exchanged between the agent and
// the server. Observation is the JSON payload the agent publishes to Kafka and
// the server consumes, stores, and serves to dashboards.
package types
