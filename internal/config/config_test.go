package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
queue:
  concurrency: 2
  pause_when_drained: false
scheduler:
  enabled: true
  timezone: UTC
  max_triggers_per_sec: 5
  default_timeout: 30s
storage:
  driver: sqlite
  path: ./taskqd.db
  retention: 168h
jobs:
  - name: backup
    schedule: "0 3 * * *"
    priority: 10
    command: ["/usr/local/bin/backup", "--all"]
    timeout: 1h
    skip_if_running: true
  - name: cleanup
    schedule: every:15m
    command: ["rm -rf /tmp/cache/*"]
    shell: true
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("taskqd.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Queue.Concurrency != 2 {
		t.Fatalf("queue.concurrency = %d, want 2", cfg.Queue.Concurrency)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v, want sqlite", cfg.Storage)
	}
	if len(cfg.Jobs) != 2 || cfg.Jobs[0].Priority != 10 || !cfg.Jobs[0].SkipIfRunning {
		t.Fatalf("jobs = %+v", cfg.Jobs)
	}
	if !cfg.Jobs[1].Shell {
		t.Fatalf("jobs[1].shell = false, want true")
	}
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		path string
		data string
	}{
		{"unknown json field", "c.json", `{"queue":{"concurrency":1,"workers":3}}`},
		{"trailing json", "c.json", `{"queue":{}} {"queue":{}}`},
		{"unknown yaml field", "c.yml", "queue:\n  threads: 4\n"},
		{"bad yaml", "c.yaml", "queue: [1, 2\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tc.path, []byte(tc.data)); err == nil {
				t.Fatalf("Decode(%q) error = nil, want error", tc.data)
			}
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Logging:   LoggingConfig{Level: "loud"},
		Queue:     QueueConfig{Concurrency: -1},
		Scheduler: SchedulerConfig{Timezone: "Mars/Olympus", DefaultTimeout: "soon"},
		Storage:   &StorageConfig{Driver: "redis"},
		Jobs: []JobConfig{
			{Name: "a", Schedule: "@daily", Command: []string{"true"}},
			{Name: "a", Schedule: "bogus", Command: []string{"true"}},
			{Schedule: "@hourly"},
		},
	}
	checkSchedule := func(raw string) error {
		if raw == "bogus" {
			return errors.New("unparseable")
		}
		return nil
	}
	err := Validate(cfg, checkSchedule)
	if err == nil {
		t.Fatal("Validate() = nil, want errors")
	}
	msg := err.Error()
	for _, want := range []string{
		"logging.level",
		"queue.concurrency",
		"scheduler.timezone",
		"scheduler.default_timeout",
		"storage.driver",
		"storage.path",
		"duplicate job name",
		"jobs[a].schedule: unparseable",
		"jobs[2].name: required",
		"jobs[2].command: required",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("Validate() error missing %q:\n%s", want, msg)
		}
	}
}

func TestValidateSample(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("taskqd.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := Validate(cfg, nil); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()
	base := &Config{
		Queue: QueueConfig{Concurrency: 1},
		Jobs:  []JobConfig{{Name: "a", Schedule: "@daily", Command: []string{"x"}}},
	}
	next := &Config{
		Queue:   QueueConfig{Concurrency: 4},
		Storage: &StorageConfig{Driver: "file", Path: "./runs"},
		Jobs: []JobConfig{
			{Name: "a", Schedule: "@hourly", Command: []string{"x"}},
			{Name: "b", Schedule: "@daily", Command: []string{"y"}},
		},
	}
	changed, attrs := Diff(base, next)
	want := []string{"jobs", "queue", "storage"}
	if strings.Join(changed, ",") != strings.Join(want, ",") {
		t.Fatalf("Diff sections = %v, want %v", changed, want)
	}
	if len(attrs) == 0 {
		t.Fatal("Diff attrs empty")
	}
	if got := ChangedJobs(base.Jobs, next.Jobs); strings.Join(got, ",") != "a,b" {
		t.Fatalf("ChangedJobs = %v, want [a b]", got)
	}
	if changed, _ := Diff(next, next); len(changed) != 0 {
		t.Fatalf("Diff(same) = %v, want none", changed)
	}
}

func TestManagerLoadAndWatch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "taskqd.json", `{"queue":{"concurrency":1},"jobs":[]}`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue.Concurrency != 1 || m.Get() != cfg {
		t.Fatalf("Get() = %+v, want loaded config", m.Get())
	}

	m.SetValidator(func(ctx context.Context, c *Config) error {
		if c.Queue.Concurrency > 100 {
			return errors.New("too many")
		}
		return nil
	})
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)

	writeFile(t, dir, "taskqd.json", `{"queue":{"concurrency":500},"jobs":[]}`)
	time.Sleep(600 * time.Millisecond)
	select {
	case c := <-ch:
		t.Fatalf("rejected config published: %+v", c.Queue)
	default:
	}

	writeFile(t, dir, "taskqd.json", `{"queue":{"concurrency":3},"jobs":[]}`)
	select {
	case c := <-ch:
		if c.Queue.Concurrency != 3 {
			t.Fatalf("published concurrency = %d, want 3", c.Queue.Concurrency)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no config published after change")
	}
	if m.Get().Queue.Concurrency != 3 {
		t.Fatalf("Get().Queue.Concurrency = %d, want 3", m.Get().Queue.Concurrency)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{" 1m ", time.Minute, false},
		{"-1s", 0, true},
		{"abc", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("x", tc.raw)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Fatalf("ParseDurationField(%q) = (%v, %v), want (%v, err=%v)", tc.raw, got, err, tc.want, tc.wantErr)
		}
	}
	if d, _ := ParseDurationOrDefault("x", "", time.Second); d != time.Second {
		t.Fatalf("ParseDurationOrDefault(empty) = %v, want 1s", d)
	}
}
