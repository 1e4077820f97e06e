package config

import "time"

// ReactConfig tunes the ReAct loop's guardrails.
type ReactConfig struct {
	// MaxIterations bounds the number of stream/execute cycles.
	MaxIterations int `yaml:"max_iterations"`

	// MaxWorkersPerRun caps total spawned workers across a run's lifetime.
	MaxWorkersPerRun int `yaml:"max_workers_per_run"`

	// MaxAdmitRetries caps retries of a single spawn_worker call's barrier
	// admission before it is replaced with a synthetic error result.
	MaxAdmitRetries int `yaml:"max_admit_retries"`

	// MaxTokens is the default completion token budget.
	MaxTokens int `yaml:"max_tokens"`

	// BarrierDeadline bounds how long a barrier waits before the sweeper
	// may time it out with partial results. Zero means no deadline.
	BarrierDeadline time.Duration `yaml:"barrier_deadline"`

	// SystemPreamble is static, stable content that leads every prompt so
	// upstream prompt caches can match it.
	SystemPreamble string `yaml:"system_preamble"`

	// HistoryLimit bounds how many prior thread messages are loaded.
	HistoryLimit int `yaml:"history_limit"`
}
