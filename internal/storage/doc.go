// Package storage keeps the history of finished task runs.
//
// Two drivers exist: "file" appends JSON lines next to the configured
// path, and "sqlite" uses a pure-Go SQLite database. The queue itself is
// never persisted; only outcomes are.
package storage
