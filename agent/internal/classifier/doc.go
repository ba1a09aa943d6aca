// Package classifier infers whether a probed target is responsive or dormant
// from nothing but its round-trip latency.
//
// A Classifier is owned by exactly one target. It keeps the last WindowSize
// valid RTT samples and refits its model on every accepted sample:
//
//  1. window.go:  bounded FIFO of samples in (0, MaxRTT] ms
//  2. filter.go:  asymmetric IQR trimming ([Q1-1.5·IQR, Q3+2.0·IQR])
//  3. cluster.go: 1-D two-means seeded at the 10th/90th percentiles
//  4. model.go:   threshold and confidence from the two centroids, with a
//     synthetic low-confidence split when the data is unimodal
//  5. classifier.go: hysteresis; a Low/High change needs StabilityThreshold
//     consecutive agreeing samples, except the first exit from Calibrating
//
// The package does no I/O and has no error paths. A
// Classifier is not safe for concurrent use; callers serialize access.
package classifier
