package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Run lifecycle (started, completed, failed) and iteration counts
//   - Worker job throughput and queue depth
//   - Barrier wait times and fan-out width
//   - LLM request performance and token usage
//   - Tool invocation patterns and latencies
//   - Error rates categorized by type and component
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RunStarted()
//	defer metrics.LLMRequestDuration.WithLabelValues("anthropic", "claude-3-opus").Observe(time.Since(start).Seconds())
type Metrics struct {
	// RunCounter tracks supervisor runs by outcome.
	// Labels: outcome (started|complete|failed|interrupted)
	RunCounter *prometheus.CounterVec

	// RunIterations measures ReAct loop iterations per run.
	RunIterations prometheus.Histogram

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider (anthropic|openai|bedrock), model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// LLMCostUSD tracks estimated cost in USD.
	// Labels: provider, model
	LLMCostUSD *prometheus.CounterVec

	// ToolInvocationCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolInvocationCounter *prometheus.CounterVec

	// ToolInvocationDuration measures tool invocation time in seconds.
	// Labels: tool_name
	ToolInvocationDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by component and error kind.
	// Labels: component (react|worker|barrier|jobs|emitter), error_kind
	ErrorCounter *prometheus.CounterVec

	// ActiveWorkers is a gauge tracking currently running worker jobs.
	ActiveWorkers prometheus.Gauge

	// WorkerJobDuration measures worker job lifetime in seconds.
	// Labels: mode (standard|workspace), status (complete|failed|timeout)
	WorkerJobDuration *prometheus.HistogramVec

	// HTTPRequestDuration measures run-control HTTP API latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts run-control HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// DatabaseQueryDuration measures event/job store query latency.
	// Labels: operation (select|insert|update|delete), table
	DatabaseQueryDuration *prometheus.HistogramVec

	// DatabaseQueryCounter counts event/job store queries.
	// Labels: operation, table, status (success|error)
	DatabaseQueryCounter *prometheus.CounterVec

	// JobQueueDepth tracks the number of queued-but-unclaimed worker jobs.
	JobQueueDepth prometheus.Gauge

	// JobQueueWait measures time a job spends queued before being claimed.
	JobQueueWait prometheus.Histogram

	// JobOutcome counts completed jobs by outcome.
	// Labels: outcome (success|error|canceled)
	JobOutcome *prometheus.CounterVec

	// BarrierWidth records the number of jobs created per barrier.
	BarrierWidth prometheus.Histogram

	// BarrierWait measures how long a barrier waits for its jobs to settle.
	BarrierWait prometheus.Histogram

	// RunStuck counts runs detected as stuck awaiting a barrier or resume.
	RunStuck prometheus.Counter

	// RunAttempts counts run attempts (for retry tracking).
	// Labels: status (success|retry|failed)
	RunAttempts *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are automatically registered with Prometheus's default registry
// and will be available at the /metrics endpoint when using prometheus HTTP handler.
func NewMetrics() *Metrics {
	return &Metrics{
		RunCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_runs_total",
				Help: "Total number of runs by outcome",
			},
			[]string{"outcome"},
		),

		RunIterations: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orchestrator_run_iterations",
				Help:    "Number of ReAct loop iterations per run",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
			},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		LLMCostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_llm_cost_usd_total",
				Help: "Estimated LLM API cost in USD",
			},
			[]string{"provider", "model"},
		),

		ToolInvocationCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_tool_invocations_total",
				Help: "Total number of tool invocations by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolInvocationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_tool_invocation_duration_seconds",
				Help:    "Duration of tool invocations in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_errors_total",
				Help: "Total number of errors by component and error kind",
			},
			[]string{"component", "error_kind"},
		),

		ActiveWorkers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "orchestrator_active_workers",
				Help: "Current number of running worker jobs",
			},
		),

		WorkerJobDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_worker_job_duration_seconds",
				Help:    "Duration of worker jobs in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"mode", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		DatabaseQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_database_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "table"},
		),

		DatabaseQueryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_database_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"operation", "table", "status"},
		),

		JobQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "orchestrator_job_queue_depth",
				Help: "Current number of queued, unclaimed worker jobs",
			},
		),

		JobQueueWait: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orchestrator_job_queue_wait_seconds",
				Help:    "Time a worker job spends queued before being claimed",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),

		JobOutcome: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_job_outcome_total",
				Help: "Total number of worker jobs by outcome",
			},
			[]string{"outcome"},
		),

		BarrierWidth: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orchestrator_barrier_width",
				Help:    "Number of jobs created per barrier",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
			},
		),

		BarrierWait: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orchestrator_barrier_wait_seconds",
				Help:    "Time a barrier spends waiting for its jobs to settle",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		),

		RunStuck: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "orchestrator_run_stuck_total",
				Help: "Number of runs detected as stuck awaiting a barrier or resume",
			},
		),

		RunAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_run_attempts_total",
				Help: "Total number of run attempts by status",
			},
			[]string{"status"},
		),
	}
}

// RunStarted increments the run counter for a newly created run.
func (m *Metrics) RunStarted() {
	m.RunCounter.WithLabelValues("started").Inc()
}

// RunCompleted records a run reaching a terminal outcome and its iteration count.
//
// Example:
//
//	metrics.RunCompleted("complete", run.Iteration)
//	metrics.RunCompleted("failed", run.Iteration)
func (m *Metrics) RunCompleted(outcome string, iterations int) {
	m.RunCounter.WithLabelValues(outcome).Inc()
	m.RunIterations.Observe(float64(iterations))
}

// RecordLLMRequest records metrics for an LLM API request.
//
// Example:
//
//	start := time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("anthropic", "claude-3-opus", "success", time.Since(start).Seconds(), 100, 500)
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordLLMCost records estimated API cost.
func (m *Metrics) RecordLLMCost(provider, model string, costUSD float64) {
	m.LLMCostUSD.WithLabelValues(provider, model).Add(costUSD)
}

// RecordToolInvocation records metrics for a tool invocation.
//
// Example:
//
//	start := time.Now()
//	// ... invoke tool ...
//	metrics.RecordToolInvocation("web_search", "success", time.Since(start).Seconds())
func (m *Metrics) RecordToolInvocation(toolName, status string, durationSeconds float64) {
	m.ToolInvocationCounter.WithLabelValues(toolName, status).Inc()
	m.ToolInvocationDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and error kind.
//
// Example:
//
//	metrics.RecordError("react", "llm_timeout")
//	metrics.RecordError("worker", "git_checkout_failed")
func (m *Metrics) RecordError(component, errorKind string) {
	m.ErrorCounter.WithLabelValues(component, errorKind).Inc()
}

// WorkerJobStarted increments the active worker gauge.
func (m *Metrics) WorkerJobStarted() {
	m.ActiveWorkers.Inc()
}

// WorkerJobFinished decrements the active worker gauge and records job duration.
//
// Example:
//
//	start := time.Now()
//	// ... run worker job ...
//	metrics.WorkerJobFinished("workspace", "complete", time.Since(start).Seconds())
func (m *Metrics) WorkerJobFinished(mode, status string, durationSeconds float64) {
	m.ActiveWorkers.Dec()
	m.WorkerJobDuration.WithLabelValues(mode, status).Observe(durationSeconds)
}

// RecordHTTPRequest records metrics for a run-control HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordDatabaseQuery records metrics for an event/job store query.
func (m *Metrics) RecordDatabaseQuery(operation, table, status string, durationSeconds float64) {
	m.DatabaseQueryCounter.WithLabelValues(operation, table, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(durationSeconds)
}

// SetJobQueueDepth sets the current number of queued, unclaimed jobs.
func (m *Metrics) SetJobQueueDepth(depth int) {
	m.JobQueueDepth.Set(float64(depth))
}

// RecordJobQueued records the time a job spent queued before being claimed.
func (m *Metrics) RecordJobClaimed(waitSeconds float64) {
	m.JobQueueWait.Observe(waitSeconds)
}

// RecordJobOutcome records a worker job reaching a terminal outcome.
//
// Example:
//
//	metrics.RecordJobOutcome("success")
//	metrics.RecordJobOutcome("error")
//	metrics.RecordJobOutcome("canceled")
func (m *Metrics) RecordJobOutcome(outcome string) {
	m.JobOutcome.WithLabelValues(outcome).Inc()
}

// RecordBarrier records a barrier's fan-out width and total wait duration.
func (m *Metrics) RecordBarrier(width int, waitSeconds float64) {
	m.BarrierWidth.Observe(float64(width))
	m.BarrierWait.Observe(waitSeconds)
}

// RecordRunStuck records a run detected as stuck awaiting a barrier or resume.
func (m *Metrics) RecordRunStuck() {
	m.RunStuck.Inc()
}

// RecordRunAttempt records a run attempt.
//
// Example:
//
//	metrics.RecordRunAttempt("success")
//	metrics.RecordRunAttempt("retry")
//	metrics.RecordRunAttempt("failed")
func (m *Metrics) RecordRunAttempt(status string) {
	m.RunAttempts.WithLabelValues(status).Inc()
}
