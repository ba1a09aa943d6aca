// Package store keeps the latest observation of every target in memory, with
// TTL-based eviction of targets that stopped reporting.
package store
