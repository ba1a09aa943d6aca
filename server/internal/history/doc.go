// Package history persists observations and presence transitions in SQLite so
// the API can answer questions about the past after a restart.
//
// The schema is managed with golang-migrate from the embedded migrations
// directory and applied on Open.
package history
