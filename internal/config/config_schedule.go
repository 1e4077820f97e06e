package config

import "time"

// ReloadConfig controls whether orchestratord watches its own config file
// for changes and live-applies the subset of settings that are safe to
// change without a restart (currently: logging.level).
type ReloadConfig struct {
	Enabled          bool          `yaml:"enabled"`
	DebounceInterval time.Duration `yaml:"debounce_interval"`
}

// ScheduleConfig lists cron-triggered runs orchestratord starts on its own
// clock, independent of any run-control API caller.
type ScheduleConfig struct {
	// PollInterval is how often due schedules are checked.
	PollInterval time.Duration `yaml:"poll_interval"`

	Runs []ScheduledRun `yaml:"runs"`
}

// ScheduledRun is one cron-triggered run definition: the same inputs
// orchestrator.StartRequest takes, plus the cron expression that triggers it.
type ScheduledRun struct {
	Name          string `yaml:"name"`
	CronExpr      string `yaml:"cron"`
	ThreadID      string `yaml:"thread_id"`
	Model         string `yaml:"model"`
	ReasoningHint string `yaml:"reasoning_effort"`
	Message       string `yaml:"message"`
}
