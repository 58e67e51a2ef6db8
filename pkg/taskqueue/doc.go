// Package taskqueue runs asynchronous tasks in priority order under a
// concurrency cap.
//
// Every Push returns a future for the task's result. Higher priorities start
// first; equal priorities start in push order. A queue can be paused, resumed
// and drained, and pending work can be cancelled in bulk.
//
// Drain detection waits one scheduling turn after the last task settles, so a
// chain where each task's continuation pushes the next one is reported as a
// single drain at the end of the chain:
//
//	q, _ := taskqueue.New(taskqueue.Config{Concurrency: 2})
//	f := taskqueue.Push(q, fetch, 10)
//	f.Then(func(v Page, err error) {
//		if err == nil {
//			taskqueue.Push(q, index(v), 5)
//		}
//	})
//	_, _ = q.Drain().Wait(ctx)
package taskqueue
