package config

import "time"

// WorkerConfig tunes a worker runtime's poll/claim/heartbeat cadence and
// workspace-mode execution.
type WorkerConfig struct {
	// PollInterval is how often the runtime tries to claim a queued job.
	PollInterval time.Duration `yaml:"poll_interval"`

	// MaxConcurrency bounds how many jobs this runtime processes at once.
	MaxConcurrency int `yaml:"max_concurrency"`

	// HeartbeatInterval is how often a running job's heartbeat is refreshed.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// StandardMaxIterations bounds the standard-mode ReAct loop.
	StandardMaxIterations int `yaml:"standard_max_iterations"`

	// WorkspaceTimeout bounds a workspace-mode coding-agent subprocess.
	WorkspaceTimeout time.Duration `yaml:"workspace_timeout"`

	// WorkspaceAgentCommand is the external coding-agent argv invoked inside
	// the cloned repository; argv[0] is resolved via PATH.
	WorkspaceAgentCommand []string `yaml:"workspace_agent_command"`

	// CloneRoot is the base directory workspace-mode clones are created
	// under, one subdirectory per job id.
	CloneRoot string `yaml:"clone_root"`
}

// JobsConfig configures the job queue.
type JobsConfig struct {
	// ClaimTimeout is how long a claimed-but-not-heartbeating job is
	// considered abandoned and eligible for reclaim.
	ClaimTimeout time.Duration `yaml:"claim_timeout"`

	// ReclaimInterval is how often the store sweeps for abandoned jobs.
	ReclaimInterval time.Duration `yaml:"reclaim_interval"`

	// MaxAttempts bounds how many times a reclaimed job may be requeued
	// before it fails outright.
	MaxAttempts int `yaml:"max_attempts"`
}

// BarrierConfig configures the parallel worker barrier.
type BarrierConfig struct {
	// SweepInterval is how often the sweeper checks barriers for timeout or
	// all-resolved completion.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// DefaultDeadline bounds how long a barrier waits before the sweeper may
	// resolve it with partial results. Zero means no deadline.
	DefaultDeadline time.Duration `yaml:"default_deadline"`
}
