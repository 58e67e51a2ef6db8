package config

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	logx "taskq/pkg/logx"
)

var storageDrivers = map[string]bool{"file": true, "sqlite": true}

// Validate checks cfg and reports every problem at once. checkSchedule, if
// non-nil, validates job schedule strings (the jobs package owns the
// grammar).
func Validate(cfg *Config, checkSchedule func(raw string) error) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	var errs *multierror.Error
	add := func(format string, args ...any) {
		errs = multierror.Append(errs, fmt.Errorf(format, args...))
	}

	if !logx.ValidLevel(cfg.Logging.Level) {
		add("logging.level: unknown level %q", cfg.Logging.Level)
	}

	if cfg.Queue.Concurrency < 0 {
		add("queue.concurrency: must be >= 0 (got %d)", cfg.Queue.Concurrency)
	}

	if _, err := cfg.Scheduler.Location(); err != nil {
		add("scheduler.timezone: %v", err)
	}
	if cfg.Scheduler.MaxTriggersPerSec < 0 {
		add("scheduler.max_triggers_per_sec: must be >= 0")
	}
	if _, err := ParseDurationField("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout); err != nil {
		errs = multierror.Append(errs, err)
	}

	if s := cfg.Storage; s != nil {
		driver := strings.ToLower(strings.TrimSpace(s.Driver))
		if !storageDrivers[driver] {
			add("storage.driver: unsupported driver %q", s.Driver)
		}
		if strings.TrimSpace(s.Path) == "" {
			add("storage.path: required")
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = multierror.Append(errs, err)
		}
		if _, err := ParseDurationField("storage.retention", s.Retention); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	seen := map[string]bool{}
	for i, j := range cfg.Jobs {
		path := fmt.Sprintf("jobs[%d]", i)
		name := strings.TrimSpace(j.Name)
		if name == "" {
			add("%s.name: required", path)
		} else {
			path = fmt.Sprintf("jobs[%s]", name)
			if seen[name] {
				add("%s.name: duplicate job name", path)
			}
			seen[name] = true
		}
		if strings.TrimSpace(j.Schedule) == "" {
			add("%s.schedule: required", path)
		} else if checkSchedule != nil {
			if err := checkSchedule(j.Schedule); err != nil {
				add("%s.schedule: %v", path, err)
			}
		}
		if len(j.Command) == 0 || strings.TrimSpace(j.Command[0]) == "" {
			add("%s.command: required", path)
		}
		if j.Shell && len(j.Command) > 1 {
			add("%s.command: shell jobs take a single command string", path)
		}
		if _, err := ParseDurationField(path+".timeout", j.Timeout); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	return errs.ErrorOrNil()
}
