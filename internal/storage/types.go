package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage: closed")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file (<path without ext>.runs.jsonl)
//   - "sqlite": SQLite database file
//
// An empty driver or "none" disables storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only
}

// Run outcomes.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// RunRecord is one finished (or cancelled) task.
type RunRecord struct {
	At           time.Time `json:"at"`
	Queue        string    `json:"queue"`
	TaskID       string    `json:"task_id"`
	Job          string    `json:"job"`
	Priority     float64   `json:"priority"`
	Status       string    `json:"status"`
	QueueDelayMS int64     `json:"queue_delay_ms"`
	DurationMS   int64     `json:"duration_ms"`
	Error        string    `json:"error,omitempty"`
}

// Store persists run history.
type Store interface {
	AppendRun(ctx context.Context, r RunRecord) error
	// RecentRuns returns up to limit records, newest first. A non-empty job
	// filters by job name.
	RecentRuns(ctx context.Context, limit int, job string) ([]RunRecord, error)
	// Prune deletes records older than before and reports how many went.
	Prune(ctx context.Context, before time.Time) (int, error)
	Close() error
}
