package app

import (
	"context"

	"taskq/pkg/taskqueue"
)

// adminBackend exposes the app to the admin HTTP server.
type adminBackend struct{ a *App }

func (b adminBackend) Status(context.Context) any { return b.a.Snapshot() }

func (b adminBackend) PauseQueue() { b.a.queue.Pause() }

func (b adminBackend) ResumeQueue() { b.a.queue.Run() }

func (b adminBackend) CancelPending() int { return b.a.queue.CancelAllPending(taskqueue.ErrCancelled) }

func (b adminBackend) RunJob(name string) error {
	_, err := b.a.jobs.RunNow(name)
	return err
}
