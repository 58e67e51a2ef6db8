package app

import (
	"context"
	"time"

	"taskq/internal/eventbus"
	"taskq/internal/storage"
	logx "taskq/pkg/logx"
	"taskq/pkg/taskqueue"
)

const recordTimeout = 2 * time.Second

// recordRuns writes task outcomes from the bus into the run history until
// ctx is done, then flushes whatever is still buffered.
func recordRuns(ctx context.Context, events <-chan eventbus.Event, store storage.Store, log logx.Logger) {
	write := func(e eventbus.Event) {
		r, ok := runRecordFromEvent(e)
		if !ok {
			return
		}
		wctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := store.AppendRun(wctx, r); err != nil {
			log.Warn("run record failed", logx.String("job", r.Job), logx.String("task_id", r.TaskID), logx.Err(err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-events:
					if !ok {
						return
					}
					write(e)
				default:
					return
				}
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			write(e)
		}
	}
}

func runRecordFromEvent(e eventbus.Event) (storage.RunRecord, bool) {
	te, ok := e.Data.(taskqueue.TaskEvent)
	if !ok {
		return storage.RunRecord{}, false
	}
	var status string
	switch e.Type {
	case taskqueue.EventTaskFinished:
		status = storage.StatusSucceeded
	case taskqueue.EventTaskFailed:
		status = storage.StatusFailed
	case taskqueue.EventTaskCancelled:
		status = storage.StatusCancelled
	default:
		return storage.RunRecord{}, false
	}
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}
	return storage.RunRecord{
		At:           at,
		Queue:        te.Queue,
		TaskID:       te.ID,
		Job:          te.Name,
		Priority:     te.Priority,
		Status:       status,
		QueueDelayMS: te.QueueDelay.Milliseconds(),
		DurationMS:   te.Duration.Milliseconds(),
		Error:        te.Error,
	}, true
}

// logEvents mirrors bus traffic to the debug log.
func logEvents(ctx context.Context, events <-chan eventbus.Event, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if !log.Enabled(logx.LevelDebug) {
				continue
			}
			log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
		}
	}
}
