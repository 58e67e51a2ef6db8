package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/hashicorp/go-multierror"

	"taskq/internal/config"
	"taskq/internal/eventbus"
	"taskq/internal/jobs"
	"taskq/internal/observability/admin"
	"taskq/internal/runtime/supervisor"
	"taskq/internal/storage"
	logx "taskq/pkg/logx"
	"taskq/pkg/taskqueue"
)

const pruneInterval = time.Hour

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	queue  *taskqueue.Queue
	runner *jobs.Runner
	jobs   *jobs.Service

	// taskCtx is handed to every task; Stop cancels it once the drain
	// grace period runs out.
	taskCtx    context.Context
	taskCancel context.CancelFunc
}

// New loads the config at cfgPath and wires every component. Nothing runs
// until Start or RunOnce.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	store, err := OpenStore(cfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", cfg.Storage.Driver))
	}

	taskCtx, taskCancel := context.WithCancel(context.Background())
	q, err := taskqueue.New(mapQueueConfig(cfg),
		taskqueue.WithName("default"),
		taskqueue.WithLogger(log.With(logx.String("comp", "queue"))),
		taskqueue.WithBus(bus),
		taskqueue.WithContext(taskCtx),
	)
	if err != nil {
		taskCancel()
		closeQuietly(store)
		_ = logSvc.Close()
		return nil, err
	}

	runner := jobs.NewRunner(log.With(logx.String("comp", "runner")))
	jc, js, err := mapJobs(cfg, runner)
	if err != nil {
		taskCancel()
		closeQuietly(store)
		_ = logSvc.Close()
		return nil, err
	}
	jobSvc := jobs.New(jc, q, log.With(logx.String("comp", "scheduler")))
	if err := jobSvc.Apply(jc, js); err != nil {
		taskCancel()
		closeQuietly(store)
		_ = logSvc.Close()
		return nil, err
	}

	return &App{
		cfgPath:    cfgPath,
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		queue:      q,
		runner:     runner,
		jobs:       jobSvc,
		taskCtx:    taskCtx,
		taskCancel: taskCancel,
	}, nil
}

func closeQuietly(store storage.Store) {
	if store != nil {
		_ = store.Close()
	}
}

func (a *App) Queue() *taskqueue.Queue { return a.queue }

func (a *App) Jobs() *jobs.Service { return a.jobs }

func (a *App) Store() storage.Store { return a.store }

func (a *App) Bus() eventbus.Bus { return a.bus }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Status is a point-in-time view of the running daemon.
type Status struct {
	Queue      taskqueue.Snapshot  `json:"queue"`
	Scheduler  jobs.Snapshot       `json:"scheduler"`
	Supervisor supervisor.Snapshot `json:"supervisor"`
	Dropped    uint64              `json:"dropped_events"`
}

func (a *App) Snapshot() Status {
	st := Status{
		Queue:     a.queue.Snapshot(),
		Scheduler: a.jobs.Snapshot(),
		Dropped:   a.bus.Dropped(),
	}
	if a.sup != nil {
		st.Supervisor = a.sup.Snapshot()
	}
	return st
}

// startCore starts the loops shared by Start and RunOnce: the run recorder
// and the debug event logger. The loops outlive ctx cancellation so the
// recorder still sees tasks cancelled during Stop; Stop ends them.
func (a *App) startCore(ctx context.Context) {
	a.sup = supervisor.New(context.WithoutCancel(ctx),
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)

	if a.store != nil {
		events, unsub := a.bus.Subscribe(256,
			taskqueue.EventTaskFinished, taskqueue.EventTaskFailed, taskqueue.EventTaskCancelled)
		store := a.store
		log := a.log.With(logx.String("comp", "recorder"))
		a.sup.Go0("history.record", func(c context.Context) {
			defer unsub()
			recordRuns(c, events, store, log)
		})
	}

	if a.log.Enabled(logx.LevelDebug) {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			logEvents(c, events, a.log)
		})
	}
}

// Start runs the daemon: cron triggering, config hot reload, history
// pruning and systemd notifications.
func (a *App) Start(ctx context.Context) error {
	a.startCore(ctx)

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := validate(cfg); err != nil {
			return err
		}
		_, _, err := mapJobs(cfg, a.runner)
		return err
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	}, supervisor.WithBackoff(time.Second, 30*time.Second))

	if a.store != nil {
		a.sup.Go0("history.prune", a.pruneLoop)
	}

	if ac, enabled, err := mapAdminConfig(a.cfgm.Get()); err != nil {
		return err
	} else if enabled {
		srv := admin.New(ac, adminBackend{a}, a.log.With(logx.String("comp", "admin")))
		a.sup.GoRestart("admin.serve", srv.Serve, supervisor.WithBackoff(500*time.Millisecond, 10*time.Second))
	}

	a.jobs.Start(a.sup.Context())

	a.sup.Go("systemd.watchdog", a.watchdog)
	a.notifySystemd(daemon.SdNotifyReady)

	snap := a.queue.Snapshot()
	a.log.Info("app started",
		logx.String("config", a.cfgPath),
		logx.Int("concurrency", snap.Concurrency),
		logx.Bool("paused", snap.Paused),
		logx.Int("jobs", len(a.jobs.Snapshot().Jobs)),
	)
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			if newCfg == nil {
				continue
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig pushes a committed config into the live components.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.Diff(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := map[string]bool{}
	for _, s := range sections {
		changed[s] = true
	}

	if changed["logging"] {
		a.logs.Apply(mapLoggingConfig(newCfg))
	}
	if changed["queue"] {
		if err := a.queue.SetConcurrency(newCfg.Queue.Concurrency); err != nil {
			a.log.Warn("invalid queue config; keeping previous", logx.Err(err))
		}
		a.queue.SetPauseWhenDrained(newCfg.Queue.PauseWhenDrained)
	}
	if changed["scheduler"] || changed["jobs"] {
		jc, js, err := mapJobs(newCfg, a.runner)
		if err == nil {
			err = a.jobs.Apply(jc, js)
		}
		if err != nil {
			a.log.Warn("invalid jobs config; keeping previous", logx.Err(err))
		} else if changed["jobs"] {
			a.log.Debug("jobs changed", logx.Any("jobs", config.ChangedJobs(oldCfg.Jobs, newCfg.Jobs)))
		}
	}
	for _, sec := range []string{"storage", "admin"} {
		if changed[sec] {
			a.log.Warn(sec + " config changed; restart required for changes to take effect")
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) pruneLoop(ctx context.Context) {
	prune := func() {
		cfg := a.cfgm.Get()
		if cfg == nil || cfg.Storage == nil {
			return
		}
		keep, err := config.ParseDurationField("storage.retention", cfg.Storage.Retention)
		if err != nil || keep <= 0 {
			return
		}
		pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		n, err := a.store.Prune(pctx, time.Now().Add(-keep))
		if err != nil {
			a.log.Warn("history prune failed", logx.Err(err))
			return
		}
		if n > 0 {
			a.log.Info("history pruned", logx.Int("removed", n), logx.Duration("retention", keep))
		}
	}

	prune()
	t := time.NewTicker(pruneInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			prune()
		}
	}
}

// JobResult is the outcome of one job in RunOnce.
type JobResult struct {
	Name     string        `json:"name"`
	Err      string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report summarizes a RunOnce pass.
type Report struct {
	Results []JobResult `json:"results"`
	Failed  int         `json:"failed"`
}

// RunOnce triggers every configured job once, waits for the queue to drain
// and reports per-job outcomes. The returned error is non-nil when any job
// failed or ctx ended first.
func (a *App) RunOnce(ctx context.Context) (Report, error) {
	a.startCore(ctx)

	start := time.Now()
	futures := a.jobs.RunAll()
	// A queue configured to start paused still runs a once pass.
	a.queue.Run()
	names := make([]string, 0, len(futures))
	for name := range futures {
		names = append(names, name)
	}
	sort.Strings(names)

	var rep Report
	var errs *multierror.Error
	for _, name := range names {
		_, err := futures[name].Wait(ctx)
		r := JobResult{Name: name, Duration: time.Since(start)}
		if err != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			r.Err = err.Error()
			rep.Failed++
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", name, err))
		}
		rep.Results = append(rep.Results, r)
	}
	if _, err := a.queue.Drain().Wait(ctx); err != nil {
		return rep, err
	}
	a.log.Info("once pass finished", logx.Int("jobs", len(rep.Results)), logx.Int("failed", rep.Failed))
	return rep, errs.ErrorOrNil()
}

// Stop shuts the daemon down in dependency order. Every step is bounded;
// step errors are collected and returned together.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.taskCancel()
		return multierror.Append(nil, closeStore(a.store), a.logs.Close()).ErrorOrNil()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notifySystemd(daemon.SdNotifyStopping)

	var errs *multierror.Error

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = max0(rem)
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", name, err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Err(stepCtx.Err()), logx.Duration("elapsed", time.Since(start)))
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", name, stepCtx.Err()))
		}
	}

	// Stop producing work first, then let what is running finish.
	step("scheduler", 2*time.Second, func(c context.Context) error { a.jobs.Stop(c); return nil })
	step("queue", 0, func(context.Context) error {
		a.queue.Pause()
		if n := a.queue.CancelAllPending(taskqueue.ErrCancelled); n > 0 {
			a.log.Info("pending tasks cancelled", logx.Int("count", n))
		}
		return nil
	})
	step("drain", 5*time.Second, func(c context.Context) error {
		_, err := a.queue.Drain().Wait(c)
		return err
	})
	// Tasks still running past the grace period get their context cancelled.
	a.taskCancel()
	if a.queue.NumRunning() > 0 {
		step("drain.cancelled", 2*time.Second, func(c context.Context) error {
			_, err := a.queue.Drain().Wait(c)
			return err
		})
	}

	// Loops next: the recorder flushes buffered events on cancel.
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Stop(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("storage", time.Second, func(context.Context) error { return closeStore(a.store) })

	a.log.Info("stopped", logx.String("reason", string(reason)))
	if err := a.logs.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

func closeStore(store storage.Store) error {
	if store == nil {
		return nil
	}
	return store.Close()
}

func max0(d time.Duration) time.Duration {
	if d < time.Millisecond {
		return time.Millisecond
	}
	return d
}
