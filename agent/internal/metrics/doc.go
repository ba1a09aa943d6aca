// Package metrics renders the agent's presence state in the Prometheus text
// exposition format.
//
// The handler builds client_model MetricFamily values from the compute
// engine's snapshot on every scrape and encodes them with expfmt, so there is
// no registry to keep in sync with the set of tracked targets.
package metrics
