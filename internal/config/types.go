package config

import (
	"time"
)

// Config is the taskqd configuration file. Durations are Go duration
// strings ("500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Queue     QueueConfig     `json:"queue"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Admin     *AdminConfig    `json:"admin,omitempty"`
	Jobs      []JobConfig     `json:"jobs"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// QueueConfig maps onto taskqueue.Config. Concurrency 0 means unbounded.
type QueueConfig struct {
	Concurrency      int  `json:"concurrency"`
	PauseWhenDrained bool `json:"pause_when_drained,omitempty"`
	StartPaused      bool `json:"start_paused,omitempty"`
}

// SchedulerConfig controls the cron trigger service.
//
// Defaults:
//   - timezone: local
//   - max_triggers_per_sec: 0 (no limit)
//   - default_timeout: "0s" (jobs run until they return)
type SchedulerConfig struct {
	Enabled           bool    `json:"enabled"`
	Timezone          string  `json:"timezone,omitempty"`
	MaxTriggersPerSec float64 `json:"max_triggers_per_sec,omitempty"`
	DefaultTimeout    string  `json:"default_timeout,omitempty"`
}

// StorageConfig controls the run history store. A nil section disables it.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./taskqd.db", "retention": "168h" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	Retention   string `json:"retention,omitempty"`
}

// AdminConfig controls the optional HTTP endpoint serving /healthz,
// /status and (when pprof is set) /debug/pprof/. A nil section or
// enabled=false disables it. Binding to a non-loopback address requires a
// token unless allow_insecure is set.
type AdminConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default 127.0.0.1:6061
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

// JobConfig is one scheduled command.
type JobConfig struct {
	Name     string  `json:"name"`
	Schedule string  `json:"schedule"`
	Priority float64 `json:"priority,omitempty"`

	// Command is run directly (argv) unless Shell is set, in which case
	// Command[0] is handed to "sh -c".
	Command []string          `json:"command"`
	Shell   bool              `json:"shell,omitempty"`
	Dir     string            `json:"dir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	Timeout       string `json:"timeout,omitempty"`
	SkipIfRunning bool   `json:"skip_if_running,omitempty"`
	Disabled      bool   `json:"disabled,omitempty"`
}

// DefaultStorageBusyTimeout applies when storage.busy_timeout is empty.
const DefaultStorageBusyTimeout = 5 * time.Second

// Location resolves scheduler.timezone. Empty means time.Local.
func (s SchedulerConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}
