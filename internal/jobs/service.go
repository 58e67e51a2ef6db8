package jobs

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"taskq/pkg/future"
	logx "taskq/pkg/logx"
	"taskq/pkg/taskqueue"
)

const skipWarnThrottle = 5 * time.Second

type jobDef struct {
	job     Job
	spec    Spec
	entryID cron.EntryID
	state   *runState
}

// Service fires jobs on their schedules and pushes them onto a queue.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	q   *taskqueue.Queue

	cfg     Config
	loc     *time.Location
	c       *cron.Cron
	started bool

	defs    []*jobDef
	states  map[string]*runState
	limiter *rate.Limiter

	triggered atomic.Uint64
	skipped   atomic.Uint64
	throttled atomic.Uint64

	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

func New(cfg Config, q *taskqueue.Queue, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:      log,
		q:        q,
		cfg:      cfg,
		states:   map[string]*runState{},
		lastWarn: map[string]time.Time{},
	}
	s.limiter = newLimiter(cfg.MaxTriggersPerSec)
	return s
}

func newLimiter(perSec float64) *rate.Limiter {
	if perSec <= 0 {
		return nil
	}
	burst := int(math.Ceil(perSec))
	return rate.NewLimiter(rate.Limit(perSec), max(burst, 1))
}

// Apply replaces the configuration and job set. Schedules are validated
// first; on error nothing changes. A running cron is rebuilt.
func (s *Service) Apply(cfg Config, jobs []Job) error {
	defs := make([]*jobDef, 0, len(jobs))
	seen := map[string]bool{}
	for _, j := range jobs {
		name := strings.TrimSpace(j.Name)
		if name == "" {
			return fmt.Errorf("job name required")
		}
		if seen[name] {
			return fmt.Errorf("duplicate job %q", name)
		}
		seen[name] = true
		if j.Run == nil {
			return fmt.Errorf("job %q: nil run func", name)
		}
		spec, err := ParseSchedule(j.Schedule)
		if err != nil {
			return fmt.Errorf("job %q: %w", name, err)
		}
		j.Name = name
		defs = append(defs, &jobDef{job: j, spec: spec})
	}

	s.mu.Lock()
	states := make(map[string]*runState, len(defs))
	for _, d := range defs {
		st := s.states[d.job.Name]
		if st == nil {
			st = &runState{}
		}
		d.state = st
		states[d.job.Name] = st
	}
	s.states = states
	s.defs = defs
	s.cfg = cfg
	s.limiter = newLimiter(cfg.MaxTriggersPerSec)

	// The old cron is stopped outside the lock: its in-flight triggers
	// need s.mu to finish.
	old := s.c
	s.c = nil
	if s.started && cfg.Enabled {
		s.startCronLocked()
	}
	s.mu.Unlock()

	if old != nil {
		<-old.Stop().Done()
	}
	s.log.Debug("jobs applied", logx.Int("jobs", len(defs)), logx.Bool("enabled", cfg.Enabled))
	return nil
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Start begins cron triggering when the service is enabled. ctx is unused;
// Stop ends triggering.
func (s *Service) Start(ctx context.Context) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	if s.cfg.Enabled {
		s.startCronLocked()
	} else {
		s.log.Info("scheduler disabled; jobs run only on demand")
	}
}

// Stop ends triggering. Work already pushed to the queue is unaffected.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	s.started = false
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) startCronLocked() {
	s.loc = s.location()
	s.c = cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cronLogger{s.log})),
		cron.WithLogger(cronLogger{s.log}),
	)
	now := time.Now().In(s.loc)
	for _, d := range s.defs {
		d := d
		job := cron.FuncJob(func() { _, _ = s.trigger(d, true) })
		if d.spec.Kind == SpecInterval {
			sched, jitter := intervalWithSpread(d.spec.Every, now, d.job.Name)
			d.entryID = s.c.Schedule(sched, job)
			s.log.Debug("job registered", logx.String("job", d.job.Name), logx.String("spec", d.spec.String()), logx.Duration("spread", jitter))
			continue
		}
		id, err := s.c.AddJob(d.spec.Cron, job)
		if err != nil {
			s.log.Error("job register failed", logx.String("job", d.job.Name), logx.String("spec", d.spec.Cron), logx.Err(err))
			continue
		}
		d.entryID = id
		s.log.Debug("job registered", logx.String("job", d.job.Name), logx.String("spec", d.spec.Cron))
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.defs)))
}

func (s *Service) location() *time.Location {
	if s.cfg.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(s.cfg.Timezone)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", s.cfg.Timezone), logx.Err(err))
		return time.Local
	}
	return loc
}

// RunNow pushes the named job immediately, bypassing the rate limit but
// honoring skip_if_running.
func (s *Service) RunNow(name string) (*future.Future[struct{}], error) {
	s.mu.Lock()
	var def *jobDef
	for _, d := range s.defs {
		if d.job.Name == name {
			def = d
			break
		}
	}
	s.mu.Unlock()
	if def == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	return s.trigger(def, false)
}

// RunAll pushes every job once and returns their futures by name. Jobs
// skipped because they are already in flight are left out.
func (s *Service) RunAll() map[string]*future.Future[struct{}] {
	s.mu.Lock()
	defs := append([]*jobDef(nil), s.defs...)
	s.mu.Unlock()

	out := make(map[string]*future.Future[struct{}], len(defs))
	for _, d := range defs {
		f, err := s.trigger(d, false)
		if err != nil {
			continue
		}
		out[d.job.Name] = f
	}
	return out
}

func (s *Service) trigger(d *jobDef, throttle bool) (*future.Future[struct{}], error) {
	name := d.job.Name
	if throttle {
		s.mu.Lock()
		lim := s.limiter
		s.mu.Unlock()
		if lim != nil && !lim.Allow() {
			s.throttled.Add(1)
			s.warnThrottled(name)
			return nil, ErrThrottled
		}
	}

	if d.job.SkipIfRunning {
		if !d.state.tryAcquire() {
			s.skipped.Add(1)
			s.log.Debug("job trigger skipped", logx.String("job", name), logx.Err(ErrSkipped))
			return nil, ErrSkipped
		}
	} else {
		d.state.acquire()
	}

	timeout := d.job.Timeout
	if timeout <= 0 {
		s.mu.Lock()
		timeout = s.cfg.DefaultTimeout
		s.mu.Unlock()
	}
	run := d.job.Run
	task := func(ctx context.Context) (struct{}, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return struct{}{}, run(ctx)
	}

	f := taskqueue.PushNamed(s.q, name, task, d.job.Priority)
	f.Then(func(struct{}, error) { d.state.release() })
	s.triggered.Add(1)
	return f, nil
}

// warnThrottled logs at most one warning per job per skipWarnThrottle.
func (s *Service) warnThrottled(name string) {
	now := time.Now()
	s.warnMu.Lock()
	last := s.lastWarn[name]
	if !last.IsZero() && now.Sub(last) < skipWarnThrottle {
		s.warnMu.Unlock()
		return
	}
	s.lastWarn[name] = now
	s.warnMu.Unlock()
	s.log.Warn("job trigger throttled", logx.String("job", name), logx.Uint64("throttled_total", s.throttled.Load()))
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defs := append([]*jobDef(nil), s.defs...)
	snap := Snapshot{
		Enabled:  s.cfg.Enabled,
		Running:  s.c != nil,
		Timezone: s.cfg.Timezone,
	}
	c := s.c
	entries := make(map[cron.EntryID]cron.Entry, len(defs))
	if c != nil {
		for _, d := range defs {
			if d.entryID != 0 {
				entries[d.entryID] = c.Entry(d.entryID)
			}
		}
	}
	timeouts := s.cfg.DefaultTimeout
	s.mu.Unlock()

	if snap.Timezone == "" {
		snap.Timezone = time.Local.String()
	}
	snap.Triggered = s.triggered.Load()
	snap.Skipped = s.skipped.Load()
	snap.Throttled = s.throttled.Load()

	for _, d := range defs {
		ji := JobInfo{
			Name:          d.job.Name,
			Spec:          d.spec.String(),
			Priority:      d.job.Priority,
			Timeout:       d.job.Timeout,
			SkipIfRunning: d.job.SkipIfRunning,
			InFlight:      d.state.busy(),
		}
		if ji.Timeout <= 0 {
			ji.Timeout = timeouts
		}
		if e, ok := entries[d.entryID]; ok {
			ji.Next = e.Next
			ji.Prev = e.Prev
		}
		snap.Jobs = append(snap.Jobs, ji)
	}
	sort.Slice(snap.Jobs, func(i, j int) bool { return snap.Jobs[i].Name < snap.Jobs[j].Name })
	return snap
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	if !l.log.Enabled(logx.LevelTrace) {
		return
	}
	l.log.Trace("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
