package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"taskq/internal/storage"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "taskqd.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func onceConfig(dir string) string {
	return `
logging:
  level: error
  console: false
queue:
  concurrency: 1
  start_paused: true
scheduler:
  enabled: false
storage:
  driver: file
  path: ` + filepath.Join(dir, "history") + `
jobs:
  - name: ok
    schedule: every:1h
    priority: 5
    command: ["true"]
    shell: true
  - name: broken
    schedule: every:1h
    command: ["exit 3"]
    shell: true
`
}

func TestRunOnceReportsAndRecords(t *testing.T) {
	dir := t.TempDir()
	a, err := New(writeConfig(t, dir, onceConfig(dir)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rep, err := a.RunOnce(testCtx(t))
	if err == nil {
		t.Fatal("RunOnce() error = nil, want failure for broken job")
	}
	if rep.Failed != 1 || len(rep.Results) != 2 {
		t.Fatalf("report = %+v, want 2 results with 1 failure", rep)
	}
	for _, r := range rep.Results {
		switch r.Name {
		case "ok":
			if r.Err != "" {
				t.Fatalf("ok job error = %q", r.Err)
			}
		case "broken":
			if !strings.Contains(r.Err, "3") {
				t.Fatalf("broken job error = %q, want exit code", r.Err)
			}
		default:
			t.Fatalf("unexpected job %q", r.Name)
		}
	}
	if err := a.Stop(testCtx(t), StopOnceDone); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "history")}, a.log)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer st.Close()
	runs, err := st.RecentRuns(testCtx(t), 10, "")
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("recorded runs = %d, want 2 (%+v)", len(runs), runs)
	}
	got := map[string]string{}
	for _, r := range runs {
		got[r.Job] = r.Status
	}
	if got["ok"] != storage.StatusSucceeded || got["broken"] != storage.StatusFailed {
		t.Fatalf("statuses = %v", got)
	}
}

func TestStartAppliesReloadedQueueConfig(t *testing.T) {
	dir := t.TempDir()
	body := `
logging:
  level: error
  console: false
queue:
  concurrency: 1
scheduler:
  enabled: true
jobs:
  - name: tick
    schedule: every:1h
    command: ["true"]
`
	path := writeConfig(t, dir, body)
	a, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(testCtx(t)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = a.Stop(context.Background(), StopUnknown) })

	// Give the watcher a moment to register before the write.
	time.Sleep(200 * time.Millisecond)
	writeConfig(t, dir, strings.Replace(body, "concurrency: 1", "concurrency: 4", 1))

	deadline := time.Now().Add(5 * time.Second)
	for a.Queue().Concurrency() != 4 {
		if time.Now().After(deadline) {
			t.Fatalf("concurrency = %d after reload, want 4", a.Queue().Concurrency())
		}
		time.Sleep(20 * time.Millisecond)
	}
	if st := a.Snapshot(); len(st.Scheduler.Jobs) != 1 || !st.Scheduler.Running {
		t.Fatalf("scheduler snapshot = %+v", st.Scheduler)
	}
}

func TestStopCancelsPendingWork(t *testing.T) {
	dir := t.TempDir()
	body := `
logging:
  level: error
  console: false
queue:
  concurrency: 1
  start_paused: true
scheduler:
  enabled: false
storage:
  driver: file
  path: ` + filepath.Join(dir, "history") + `
jobs:
  - name: a
    schedule: every:1h
    command: ["true"]
  - name: b
    schedule: every:1h
    command: ["true"]
`
	a, err := New(writeConfig(t, dir, body))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(testCtx(t)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	futures := a.Jobs().RunAll()
	if len(futures) != 2 || a.Queue().Len() != 2 {
		t.Fatalf("pending = %d, want 2", a.Queue().Len())
	}
	if err := a.Stop(testCtx(t), StopSIGTERM); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	for name, f := range futures {
		if _, err := f.Wait(testCtx(t)); err == nil {
			t.Fatalf("job %s future resolved, want cancellation", name)
		}
	}

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "history")}, a.log)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer st.Close()
	runs, err := st.RecentRuns(testCtx(t), 10, "")
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].Status != storage.StatusCancelled {
		t.Fatalf("runs = %+v, want 2 cancelled", runs)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, dir, "queue:\n  concurrency: -1\njobs:\n  - name: x\n    schedule: nope\n    command: [\"true\"]\n")
	_, err := LoadConfig(p)
	if err == nil {
		t.Fatal("LoadConfig() = nil error, want validation failure")
	}
	msg := err.Error()
	if !strings.Contains(msg, "queue.concurrency") || !strings.Contains(msg, "schedule") {
		t.Fatalf("error = %q, want both problems reported", msg)
	}
}

func TestLoadConfigRejectsPublicAdminWithoutToken(t *testing.T) {
	dir := t.TempDir()
	body := `
logging:
  level: info
queue:
  concurrency: 1
admin:
  enabled: true
  addr: 0.0.0.0:6061
jobs: []
`
	if _, err := LoadConfig(writeConfig(t, dir, body)); err == nil || !strings.Contains(err.Error(), "token") {
		t.Fatalf("LoadConfig() error = %v, want token requirement", err)
	}
	body = strings.Replace(body, "addr: 0.0.0.0:6061", "addr: 127.0.0.1:6061", 1)
	if _, err := LoadConfig(writeConfig(t, dir, body)); err != nil {
		t.Fatalf("LoadConfig(loopback) = %v", err)
	}
}
