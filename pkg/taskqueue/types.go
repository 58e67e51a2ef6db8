package taskqueue

import (
	"context"
	"time"

	"taskq/internal/eventbus"
	logx "taskq/pkg/logx"
)

// Unbounded disables the concurrency cap.
const Unbounded = 0

// Config controls a Queue.
type Config struct {
	// Concurrency caps how many tasks run at once. Unbounded (0) means no cap;
	// negative values are rejected by New.
	Concurrency int

	// PauseWhenDrained flips the queue to paused each time it drains, so
	// work pushed afterwards waits for Run.
	PauseWhenDrained bool

	// StartPaused creates the queue in the paused state.
	StartPaused bool
}

// Task is a unit of work. Its outcome is delivered through the future
// returned by Push.
type Task[R any] func(ctx context.Context) (R, error)

type Option func(*Queue)

// WithName labels logs and events emitted by the queue.
func WithName(name string) Option { return func(q *Queue) { q.name = name } }

func WithLogger(log logx.Logger) Option { return func(q *Queue) { q.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(q *Queue) { q.bus = bus } }

// WithContext sets the context handed to every task. Cancelling it does not
// stop the queue; tasks decide how to react.
func WithContext(ctx context.Context) Option { return func(q *Queue) { q.ctx = ctx } }

// Event types published on the bus.
const (
	EventTaskQueued    = "task.queued"
	EventTaskStarted   = "task.started"
	EventTaskFinished  = "task.finished"
	EventTaskFailed    = "task.failed"
	EventTaskCancelled = "task.cancelled"

	EventQueueDrained = "queue.drained"
	EventQueuePaused  = "queue.paused"
	EventQueueResumed = "queue.resumed"
)

// TaskEvent is emitted on the event bus for task lifecycle events.
type TaskEvent struct {
	Queue      string        `json:"queue"`
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Priority   float64       `json:"priority"`
	Enqueued   time.Time     `json:"enqueued"`
	Started    time.Time     `json:"started,omitempty"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// QueueEvent is emitted for queue state transitions.
type QueueEvent struct {
	Queue   string `json:"queue"`
	Pending int    `json:"pending"`
	Running int    `json:"running"`
	Paused  bool   `json:"paused"`
}

// TaskInfo describes the running task; see InfoFromContext.
type TaskInfo struct {
	ID       string
	Name     string
	Queue    string
	Priority float64
}

type taskInfoKey struct{}

// InfoFromContext returns the TaskInfo of the task owning ctx.
func InfoFromContext(ctx context.Context) (TaskInfo, bool) {
	if ctx == nil {
		return TaskInfo{}, false
	}
	ti, ok := ctx.Value(taskInfoKey{}).(TaskInfo)
	return ti, ok
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Name        string
	Concurrency int
	Pending     int
	Running     int
	Paused      bool
	Draining    bool

	Started   uint64
	Succeeded uint64
	Failed    uint64
	Cancelled uint64
	Drains    uint64
}
