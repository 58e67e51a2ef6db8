package config

import (
	"reflect"
	"sort"
	"strings"

	logx "taskq/pkg/logx"
)

// Diff returns the changed top-level sections, sorted, plus compact log
// fields describing the new values. Env values are never logged.
func Diff(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Queue != newCfg.Queue {
		changed = append(changed, "queue")
		attrs = append(attrs,
			logx.Int("queue.concurrency", newCfg.Queue.Concurrency),
			logx.Bool("queue.pause_when_drained", newCfg.Queue.PauseWhenDrained),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.Float64("scheduler.max_triggers_per_sec", newCfg.Scheduler.MaxTriggersPerSec),
		)
	}

	var oldS, newS StorageConfig
	if oldCfg.Storage != nil {
		oldS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newS = *newCfg.Storage
	}
	if (oldCfg.Storage == nil) != (newCfg.Storage == nil) || oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
		)
	}

	var oldA, newA AdminConfig
	if oldCfg.Admin != nil {
		oldA = *oldCfg.Admin
	}
	if newCfg.Admin != nil {
		newA = *newCfg.Admin
	}
	if oldA != newA {
		changed = append(changed, "admin")
		attrs = append(attrs,
			logx.Bool("admin.enabled", newA.Enabled),
			logx.String("admin.addr", strings.TrimSpace(newA.Addr)),
			logx.Bool("admin.token_set", newA.Token != ""),
		)
	}

	if jobs := ChangedJobs(oldCfg.Jobs, newCfg.Jobs); len(jobs) > 0 {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Int("jobs.changed_count", len(jobs)),
			logx.Int("jobs.count", len(newCfg.Jobs)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// ChangedJobs returns the names of jobs added, removed or modified, sorted.
func ChangedJobs(oldJobs, newJobs []JobConfig) []string {
	index := func(js []JobConfig) map[string]JobConfig {
		m := make(map[string]JobConfig, len(js))
		for _, j := range js {
			m[strings.TrimSpace(j.Name)] = j
		}
		return m
	}
	o, n := index(oldJobs), index(newJobs)

	var out []string
	for name, nj := range n {
		if oj, ok := o[name]; !ok || !reflect.DeepEqual(oj, nj) {
			out = append(out, name)
		}
	}
	for name := range o {
		if _, ok := n[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
