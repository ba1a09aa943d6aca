// Package compute turns probe samples into presence results.
//
// engine.go holds the stateful Engine: one classifier per target, keyed by
// target ID, plus consecutive-failure and uptime tracking. Engine.Process
// accepts an injectable time.Time so tests are deterministic.
//
// presence.go maps classifier states to presence values:
// calibrating → calibrating, low → online, high → standby. A target whose
// last OfflineAfter probes all failed is offline regardless of its model.
package compute
