package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"taskq/internal/config"
	logx "taskq/pkg/logx"
	"taskq/pkg/taskqueue"
)

func newQueue(t *testing.T, cfg taskqueue.Config) *taskqueue.Queue {
	t.Helper()
	q, err := taskqueue.New(cfg)
	if err != nil {
		t.Fatalf("taskqueue.New: %v", err)
	}
	return q
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func noop(context.Context) error { return nil }

func TestApplyRejectsBadJobs(t *testing.T) {
	t.Parallel()
	s := New(Config{}, newQueue(t, taskqueue.Config{}), logx.Nop())
	if err := s.Apply(Config{}, []Job{{Name: "a", Schedule: "@daily", Run: noop}}); err != nil {
		t.Fatalf("Apply(valid): %v", err)
	}
	bad := [][]Job{
		{{Name: "", Schedule: "@daily", Run: noop}},
		{{Name: "x", Schedule: "whenever", Run: noop}},
		{{Name: "x", Schedule: "@daily"}},
		{{Name: "x", Schedule: "@daily", Run: noop}, {Name: "x", Schedule: "1h", Run: noop}},
	}
	for i, jobs := range bad {
		if err := s.Apply(Config{}, jobs); err == nil {
			t.Fatalf("Apply(bad[%d]) = nil, want error", i)
		}
	}
	if snap := s.Snapshot(); len(snap.Jobs) != 1 || snap.Jobs[0].Name != "a" {
		t.Fatalf("jobs after rejected apply = %+v, want [a]", snap.Jobs)
	}
}

func TestRunNowUsesPriority(t *testing.T) {
	t.Parallel()
	q := newQueue(t, taskqueue.Config{Concurrency: 1, StartPaused: true})
	s := New(Config{}, q, logx.Nop())

	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			order = append(order, name)
			return nil
		}
	}
	err := s.Apply(Config{}, []Job{
		{Name: "low", Schedule: "@daily", Priority: 1, Run: record("low")},
		{Name: "high", Schedule: "@daily", Priority: 9, Run: record("high")},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, err := s.RunNow("low"); err != nil {
		t.Fatalf("RunNow(low): %v", err)
	}
	if _, err := s.RunNow("high"); err != nil {
		t.Fatalf("RunNow(high): %v", err)
	}
	if _, err := s.RunNow("missing"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("RunNow(missing) = %v, want ErrUnknownJob", err)
	}

	q.Run()
	if _, err := q.Drain().Wait(waitCtx(t)); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(order) != 2 || order[0] != "high" || order[1] != "low" {
		t.Fatalf("order = %v, want [high low]", order)
	}
}

func TestSkipIfRunning(t *testing.T) {
	t.Parallel()
	q := newQueue(t, taskqueue.Config{})
	s := New(Config{}, q, logx.Nop())

	release := make(chan struct{})
	var runs atomic.Int32
	err := s.Apply(Config{}, []Job{{
		Name:          "slow",
		Schedule:      "1h",
		SkipIfRunning: true,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			<-release
			return nil
		},
	}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	first, err := s.RunNow("slow")
	if err != nil {
		t.Fatalf("first RunNow: %v", err)
	}
	if _, err := s.RunNow("slow"); !errors.Is(err, ErrSkipped) {
		t.Fatalf("second RunNow = %v, want ErrSkipped", err)
	}
	if snap := s.Snapshot(); !snap.Jobs[0].InFlight || snap.Skipped != 1 {
		t.Fatalf("snapshot = %+v, want in flight with 1 skip", snap)
	}

	close(release)
	if _, err := first.Wait(waitCtx(t)); err != nil {
		t.Fatalf("first run: %v", err)
	}
	f, err := s.RunNow("slow")
	if err != nil {
		t.Fatalf("RunNow after completion: %v", err)
	}
	if _, err := f.Wait(waitCtx(t)); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := runs.Load(); got != 2 {
		t.Fatalf("runs = %d, want 2", got)
	}
}

func TestTriggerThrottled(t *testing.T) {
	t.Parallel()
	q := newQueue(t, taskqueue.Config{})
	cfg := Config{MaxTriggersPerSec: 1}
	s := New(cfg, q, logx.Nop())
	if err := s.Apply(cfg, []Job{{Name: "burst", Schedule: "1s", Run: noop}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	d := s.defs[0]
	if _, err := s.trigger(d, true); err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	if _, err := s.trigger(d, true); !errors.Is(err, ErrThrottled) {
		t.Fatalf("second trigger = %v, want ErrThrottled", err)
	}
	// Manual runs ignore the limit.
	if _, err := s.trigger(d, false); err != nil {
		t.Fatalf("unthrottled trigger: %v", err)
	}
	if snap := s.Snapshot(); snap.Throttled != 1 || snap.Triggered != 2 {
		t.Fatalf("snapshot = %+v, want throttled=1 triggered=2", snap)
	}
}

func TestJobTimeout(t *testing.T) {
	t.Parallel()
	q := newQueue(t, taskqueue.Config{})
	cfg := Config{DefaultTimeout: 30 * time.Millisecond}
	s := New(cfg, q, logx.Nop())
	err := s.Apply(cfg, []Job{{
		Name:     "hang",
		Schedule: "@hourly",
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	f, err := s.RunNow("hang")
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if _, err := f.Wait(waitCtx(t)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestRunAll(t *testing.T) {
	t.Parallel()
	q := newQueue(t, taskqueue.Config{Concurrency: 2})
	s := New(Config{}, q, logx.Nop())
	boom := errors.New("boom")
	err := s.Apply(Config{}, []Job{
		{Name: "ok", Schedule: "@daily", Run: noop},
		{Name: "bad", Schedule: "@daily", Run: func(context.Context) error { return boom }},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	futures := s.RunAll()
	if len(futures) != 2 {
		t.Fatalf("RunAll futures = %d, want 2", len(futures))
	}
	ctx := waitCtx(t)
	if _, err := futures["ok"].Wait(ctx); err != nil {
		t.Fatalf("ok: %v", err)
	}
	if _, err := futures["bad"].Wait(ctx); !errors.Is(err, boom) {
		t.Fatalf("bad = %v, want boom", err)
	}
}

func TestCronFiresJobs(t *testing.T) {
	t.Parallel()
	q := newQueue(t, taskqueue.Config{})
	cfg := Config{Enabled: true, Timezone: "UTC"}
	s := New(cfg, q, logx.Nop())

	fired := make(chan struct{}, 4)
	err := s.Apply(cfg, []Job{{
		Name:     "tick",
		Schedule: "* * * * * *",
		Run: func(context.Context) error {
			fired <- struct{}{}
			return nil
		},
	}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	snap := s.Snapshot()
	if !snap.Running || snap.Timezone != "UTC" || snap.Jobs[0].Next.IsZero() {
		t.Fatalf("snapshot = %+v, want running with next time", snap)
	}
	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire")
	}

	// Disabling via Apply stops the cron.
	if err := s.Apply(Config{}, nil); err != nil {
		t.Fatalf("Apply(disabled): %v", err)
	}
	if s.Snapshot().Running {
		t.Fatal("cron still running after disable")
	}
}

func TestFromConfig(t *testing.T) {
	t.Parallel()
	jcs := []config.JobConfig{
		{Name: "echo", Schedule: "5m", Priority: 3, Command: []string{"echo hi"}, Shell: true, Timeout: "2s", SkipIfRunning: true},
		{Name: "off", Schedule: "@daily", Command: []string{"true"}, Disabled: true},
	}
	jobs, err := FromConfig(jcs, NewRunner(logx.Nop()))
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	j := jobs[0]
	if j.Name != "echo" || j.Priority != 3 || j.Timeout != 2*time.Second || !j.SkipIfRunning {
		t.Fatalf("job = %+v", j)
	}
	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := FromConfig([]config.JobConfig{{Name: "x", Schedule: "nope", Command: []string{"true"}}}, nil); err == nil {
		t.Fatal("FromConfig(bad schedule) = nil error")
	}
}
