package taskqueue

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	logx "taskq/pkg/logx"
)

const slowTaskThreshold = 750 * time.Millisecond

// execute runs one dequeued task. The task's future is settled before the
// running counter is released, so continuations registered with Then can push
// follow-up work that the next scheduling step will see.
func (q *Queue) execute(it *pendingItem) {
	start := time.Now()
	queueDelay := start.Sub(it.enqueuedAt)
	if queueDelay < 0 {
		queueDelay = 0
	}

	q.log.Debug("task.started", logx.String("task", it.name), logx.String("id", it.id), logx.Duration("queue_delay", queueDelay))
	q.publish(EventTaskStarted, q.taskEvent(it, start, 0, nil))

	ctx := context.WithValue(q.ctx, taskInfoKey{}, TaskInfo{ID: it.id, Name: it.name, Queue: q.name, Priority: it.priority})
	settle, err := it.run(ctx)
	dur := time.Since(start)

	if err != nil {
		var pe *PanicError
		if errors.As(err, &pe) {
			q.log.Error("task.panic", logx.String("task", it.name), logx.String("id", it.id), logx.Any("panic", pe.Value), logx.Stack(string(pe.Stack)))
		} else {
			q.log.Warn("task.failed", logx.String("task", it.name), logx.String("id", it.id), logx.Any("err", err), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
		}
		q.publish(EventTaskFailed, q.taskEvent(it, start, dur, err))
	} else {
		if dur >= slowTaskThreshold {
			q.log.Info("task.completed", logx.String("task", it.name), logx.String("id", it.id), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
		} else {
			q.log.Debug("task.completed", logx.String("task", it.name), logx.String("id", it.id), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
		}
		q.publish(EventTaskFinished, q.taskEvent(it, start, dur, nil))
	}

	settle()

	q.mu.Lock()
	q.numRunning--
	if err != nil {
		q.failed++
	} else {
		q.succeeded++
	}
	q.scheduleLocked(false)
	q.mu.Unlock()
}

// call runs task, converting a panic into a *PanicError so one bad task
// can't take the process down.
func call[R any](ctx context.Context, task Task[R]) (v R, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero R
			v = zero
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return task(ctx)
}

func (q *Queue) taskEvent(it *pendingItem, started time.Time, dur time.Duration, err error) TaskEvent {
	ev := TaskEvent{
		Queue:    q.name,
		ID:       it.id,
		Name:     it.name,
		Priority: it.priority,
		Enqueued: it.enqueuedAt,
		Started:  started,
		Duration: dur,
	}
	if !started.IsZero() {
		ev.QueueDelay = started.Sub(it.enqueuedAt)
		if ev.QueueDelay < 0 {
			ev.QueueDelay = 0
		}
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}
