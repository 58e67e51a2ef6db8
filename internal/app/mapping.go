package app

import (
	"fmt"
	"strings"

	"taskq/internal/config"
	"taskq/internal/jobs"
	"taskq/internal/observability/admin"
	"taskq/internal/storage"
	logx "taskq/pkg/logx"
	"taskq/pkg/taskqueue"
)

// LoadConfig reads and validates the config file at path.
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.NewManager(path).Parse()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate runs the config checks plus those owned by other packages.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg, jobs.CheckSchedule); err != nil {
		return err
	}
	_, _, err := mapAdminConfig(cfg)
	return err
}

// OpenStore opens the run history store configured in cfg. It returns
// (nil, nil) when storage is disabled.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil || !enabled {
		return nil, err
	}
	return storage.Open(sc, log)
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapQueueConfig(cfg *config.Config) taskqueue.Config {
	return taskqueue.Config{
		Concurrency:      cfg.Queue.Concurrency,
		PauseWhenDrained: cfg.Queue.PauseWhenDrained,
		StartPaused:      cfg.Queue.StartPaused,
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, config.DefaultStorageBusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
}

func mapJobs(cfg *config.Config, runner *jobs.Runner) (jobs.Config, []jobs.Job, error) {
	jc, err := jobs.ConfigFrom(cfg.Scheduler)
	if err != nil {
		return jobs.Config{}, nil, err
	}
	js, err := jobs.FromConfig(cfg.Jobs, runner)
	if err != nil {
		return jobs.Config{}, nil, err
	}
	return jc, js, nil
}

func mapAdminConfig(cfg *config.Config) (admin.Config, bool, error) {
	if cfg == nil || cfg.Admin == nil || !cfg.Admin.Enabled {
		return admin.Config{}, false, nil
	}
	ac := admin.Config{
		Addr:          strings.TrimSpace(cfg.Admin.Addr),
		Token:         strings.TrimSpace(cfg.Admin.Token),
		AllowInsecure: cfg.Admin.AllowInsecure,
		Pprof:         cfg.Admin.Pprof,
	}
	if err := admin.Check(ac); err != nil {
		return admin.Config{}, false, err
	}
	return ac, true, nil
}
