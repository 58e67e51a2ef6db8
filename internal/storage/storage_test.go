package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	logx "taskq/pkg/logx"
)

func openTest(t *testing.T, driver string) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "taskqd.db")
	st, err := Open(Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStores(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			t.Run("recent runs newest first", func(t *testing.T) { testRecentRuns(t, openTest(t, driver)) })
			t.Run("prune", func(t *testing.T) { testPrune(t, openTest(t, driver)) })
		})
	}
}

func testRecentRuns(t *testing.T, st Store) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		job := "backup"
		if i%2 == 1 {
			job = "cleanup"
		}
		r := RunRecord{
			At:         base.Add(time.Duration(i) * time.Minute),
			Queue:      "default",
			TaskID:     fmt.Sprintf("tsk-%d", i),
			Job:        job,
			Priority:   float64(i),
			Status:     StatusSucceeded,
			DurationMS: int64(i * 10),
		}
		if i == 4 {
			r.Status = StatusFailed
			r.Error = "exit status 1"
		}
		if err := st.AppendRun(ctx, r); err != nil {
			t.Fatalf("AppendRun(%d): %v", i, err)
		}
	}

	got, err := st.RecentRuns(ctx, 3, "")
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"tsk-4", "tsk-3", "tsk-2"} {
		if got[i].TaskID != want {
			t.Fatalf("got[%d].TaskID = %s, want %s", i, got[i].TaskID, want)
		}
	}
	if got[0].Status != StatusFailed || got[0].Error != "exit status 1" || !got[0].At.Equal(base.Add(4*time.Minute)) {
		t.Fatalf("newest = %+v", got[0])
	}

	cleanup, err := st.RecentRuns(ctx, 10, "cleanup")
	if err != nil {
		t.Fatalf("RecentRuns(cleanup): %v", err)
	}
	if len(cleanup) != 2 || cleanup[0].TaskID != "tsk-3" || cleanup[1].TaskID != "tsk-1" {
		t.Fatalf("cleanup runs = %+v", cleanup)
	}

	if none, err := st.RecentRuns(ctx, 0, ""); err != nil || len(none) != 0 {
		t.Fatalf("RecentRuns(0) = (%v, %v), want empty", none, err)
	}
}

func testPrune(t *testing.T, st Store) {
	ctx := context.Background()
	now := time.Now()
	for i, age := range []time.Duration{72 * time.Hour, 48 * time.Hour, time.Hour} {
		r := RunRecord{At: now.Add(-age), Job: "j", TaskID: fmt.Sprint(i), Status: StatusSucceeded}
		if err := st.AppendRun(ctx, r); err != nil {
			t.Fatalf("AppendRun: %v", err)
		}
	}
	n, err := st.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 2 {
		t.Fatalf("Prune removed %d, want 2", n)
	}
	left, err := st.RecentRuns(ctx, 10, "")
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(left) != 1 || left[0].TaskID != "2" {
		t.Fatalf("left = %+v, want only task 2", left)
	}
	// Appends still work after the file was rewritten.
	if err := st.AppendRun(ctx, RunRecord{Job: "j", TaskID: "3", Status: StatusCancelled}); err != nil {
		t.Fatalf("AppendRun after prune: %v", err)
	}
	if n, err := st.Prune(ctx, now.Add(-24*time.Hour)); err != nil || n != 0 {
		t.Fatalf("second Prune = (%d, %v), want (0, nil)", n, err)
	}
}

func TestOpenDisabledAndInvalid(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Logger{})
		if st != nil || err != nil {
			t.Fatalf("Open(%q) = (%v, %v), want (nil, nil)", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("Open(redis) error = nil")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("Open(file, no path) error = nil")
	}
}

func TestFileStoreClosed(t *testing.T) {
	t.Parallel()
	st := openTest(t, "file")
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := st.AppendRun(context.Background(), RunRecord{}); err != ErrClosed {
		t.Fatalf("AppendRun after Close = %v, want ErrClosed", err)
	}
}
