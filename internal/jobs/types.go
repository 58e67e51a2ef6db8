package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"taskq/internal/config"
)

var (
	ErrUnknownJob = errors.New("jobs: unknown job")
	// ErrSkipped is returned for a trigger dropped because the job's
	// previous run is still queued or running.
	ErrSkipped = errors.New("jobs: previous run still in flight")
	// ErrThrottled is returned for a trigger dropped by the rate limit.
	ErrThrottled = errors.New("jobs: trigger rate exceeded")
)

// Config controls the trigger service.
type Config struct {
	Enabled           bool
	Timezone          string // IANA name; empty means local time
	MaxTriggersPerSec float64
	DefaultTimeout    time.Duration
}

// ConfigFrom converts the scheduler config section.
func ConfigFrom(sc config.SchedulerConfig) (Config, error) {
	d, err := config.ParseDurationField("scheduler.default_timeout", sc.DefaultTimeout)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Enabled:           sc.Enabled,
		Timezone:          strings.TrimSpace(sc.Timezone),
		MaxTriggersPerSec: sc.MaxTriggersPerSec,
		DefaultTimeout:    d,
	}, nil
}

// Job is a named unit of scheduled work.
type Job struct {
	Name     string
	Schedule string
	Priority float64
	// Timeout bounds one run; zero falls back to Config.DefaultTimeout.
	Timeout       time.Duration
	SkipIfRunning bool
	Run           func(ctx context.Context) error
}

// FromConfig builds jobs that execute their configured command through
// runner. Disabled jobs are left out.
func FromConfig(jcs []config.JobConfig, runner *Runner) ([]Job, error) {
	out := make([]Job, 0, len(jcs))
	for _, jc := range jcs {
		if jc.Disabled {
			continue
		}
		name := strings.TrimSpace(jc.Name)
		timeout, err := config.ParseDurationField("jobs["+name+"].timeout", jc.Timeout)
		if err != nil {
			return nil, err
		}
		if _, err := ParseSchedule(jc.Schedule); err != nil {
			return nil, fmt.Errorf("jobs[%s].schedule: %w", name, err)
		}
		cmd := Command{Args: append([]string(nil), jc.Command...), Shell: jc.Shell, Dir: jc.Dir, Env: jc.Env}
		out = append(out, Job{
			Name:          name,
			Schedule:      jc.Schedule,
			Priority:      jc.Priority,
			Timeout:       timeout,
			SkipIfRunning: jc.SkipIfRunning,
			Run: func(ctx context.Context) error {
				_, err := runner.Run(ctx, name, cmd)
				return err
			},
		})
	}
	return out, nil
}

// runState counts queued or running instances of a job. It is shared
// across reloads so skip_if_running holds while a job is redefined.
type runState struct {
	mu       sync.Mutex
	inflight int
}

func (s *runState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *runState) acquire() {
	s.mu.Lock()
	s.inflight++
	s.mu.Unlock()
}

func (s *runState) release() {
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

func (s *runState) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight > 0
}

// JobInfo describes one registered job.
type JobInfo struct {
	Name          string
	Spec          string
	Priority      float64
	Timeout       time.Duration
	SkipIfRunning bool
	InFlight      bool
	Next          time.Time
	Prev          time.Time
}

type Snapshot struct {
	Enabled   bool
	Running   bool
	Timezone  string
	Triggered uint64
	Skipped   uint64
	Throttled uint64
	Jobs      []JobInfo
}
