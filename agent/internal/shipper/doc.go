// Package shipper publishes presence observations to Kafka.
//
// Shipper.Ship() is non-blocking: results are converted to types.Observation
// and placed in an in-memory channel (default capacity 1000). When the buffer
// is full the oldest entry is evicted so the latest presence is always kept.
//
// Shipper.Run() drains the buffer in batches through a kafka-go Writer. Each
// message is keyed by target ID and carries the observation as JSON. A batch
// that fails with a retryable error is retried with truncated exponential
// backoff (1s→60s, ±25% jitter); non-temporary broker errors discard it.
//
// The writer is injectable for testing.
package shipper
