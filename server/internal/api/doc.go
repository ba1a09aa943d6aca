// Package api serves the read-only REST API under /api/v1.
//
// Live presence comes from the in-memory store; measurements, transitions
// and the registry of every target ever seen come from the history database.
// Each target carries diagnostic hints derived from its latest observation.
package api
