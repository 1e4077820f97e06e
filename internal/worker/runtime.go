// Package worker implements the Worker Runtime (component E): the process
// that claims jobs from the Job Queue and drives them to completion in one
// of two modes (standard or workspace), reporting the outcome back to the
// Barrier Coordinator. It generalizes tasks.Scheduler —
// acquireLoop's poll-claim-dispatch shape and executeTask's
// timeout-then-complete shape — from cron-triggered prompt executions to
// barrier-gated worker jobs.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opscore/orchestrator/internal/barrier"
	"github.com/opscore/orchestrator/internal/emitter"
	"github.com/opscore/orchestrator/internal/errs"
	"github.com/opscore/orchestrator/internal/events"
	"github.com/opscore/orchestrator/internal/jobs"
	"github.com/opscore/orchestrator/internal/react"
	"github.com/opscore/orchestrator/pkg/models"
	"github.com/opscore/orchestrator/internal/artifacts"
)

// RunLookup is the slice of orchestrator.RunStore the runtime needs: enough
// to resolve a job's owning run for emitter construction and branch naming.
// Declared locally so this package does not import internal/orchestrator;
// both the in-memory and Cockroach run stores already satisfy it.
type RunLookup interface {
	GetByID(ctx context.Context, id int64) (*models.Run, error)
}

// Config tunes the runtime's poll/claim/heartbeat cadence and workspace-mode
// execution.
type Config struct {
	// PollInterval is how often the runtime tries to claim a queued job.
	// Default 1s.
	PollInterval time.Duration
	// MaxConcurrency bounds how many jobs this runtime processes at once.
	// Default 1 — most deployments run one job per process.
	MaxConcurrency int
	// HeartbeatInterval is how often a running job's last_heartbeat is
	// refreshed. Default 30s.
	HeartbeatInterval time.Duration
	// StandardMaxIterations bounds the standard-mode ReAct loop. Default 25.
	StandardMaxIterations int
	// WorkspaceTimeout bounds a workspace-mode coding-agent subprocess.
	// Default 30m.
	WorkspaceTimeout time.Duration
	// WorkspaceAgentCommand is the external coding-agent argv invoked inside
	// the cloned repository; argv[0] is resolved via PATH.
	WorkspaceAgentCommand []string
	// CloneRoot is the base directory workspace-mode clones are created
	// under, one subdirectory per job id.
	CloneRoot string
	Logger    *slog.Logger
}

func sanitize(cfg Config) Config {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.StandardMaxIterations <= 0 {
		cfg.StandardMaxIterations = 25
	}
	if cfg.WorkspaceTimeout <= 0 {
		cfg.WorkspaceTimeout = 30 * time.Minute
	}
	if cfg.CloneRoot == "" {
		cfg.CloneRoot = "./workspaces"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "worker-runtime")
	}
	return cfg
}

// Runtime claims and executes worker jobs. id is this process's worker
// identity, stamped onto every job it claims and every event it emits.
type Runtime struct {
	id        string
	jobStore  jobs.Store
	barriers  barrier.Store
	artifacts artifacts.Store
	eventLog  events.Store
	runs      RunLookup
	threads   react.ThreadStore
	engine    *react.Engine // standard mode; its tool schema/registry must already exclude spawn_worker
	cfg       Config

	sem    chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc
	mu     sync.Mutex
	active bool
}

// WorkerID returns the id this runtime claims jobs under.
func (r *Runtime) WorkerID() string { return r.id }

// New constructs a Worker Runtime. engine drives standard-mode jobs and must
// have been built with a worker-role-scoped tool allowlist that does not
// include spawn_worker (the "no nested spawn_worker" rule is
// enforced at tool-schema construction, not inside this package).
func New(id string, jobStore jobs.Store, barriers barrier.Store, artifactStore artifacts.Store, eventLog events.Store, runs RunLookup, threads react.ThreadStore, engine *react.Engine, cfg Config) *Runtime {
	cfg = sanitize(cfg)
	return &Runtime{
		id:        id,
		jobStore:  jobStore,
		barriers:  barriers,
		artifacts: artifactStore,
		eventLog:  eventLog,
		runs:      runs,
		threads:   threads,
		engine:    engine,
		cfg:       cfg,
		sem:       make(chan struct{}, cfg.MaxConcurrency),
	}
}

// Start begins the poll loop until ctx is cancelled or Stop is called.
func (r *Runtime) Start(ctx context.Context) {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return
	}
	r.active = true
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	r.cfg.Logger.Info("worker runtime started", "worker_id", r.id, "poll_interval", r.cfg.PollInterval)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.tryClaim(ctx)
	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			return
		case <-ticker.C:
			r.tryClaim(ctx)
		}
	}
}

// Stop signals the poll loop to exit and waits for in-flight jobs to finish.
func (r *Runtime) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.active = false
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

func (r *Runtime) tryClaim(ctx context.Context) {
	select {
	case r.sem <- struct{}{}:
	default:
		return
	}

	job, err := r.jobStore.Claim(ctx, r.id)
	if err != nil {
		<-r.sem
		r.cfg.Logger.Error("claim failed", "error", err)
		return
	}
	if job == nil {
		<-r.sem
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() { <-r.sem }()
		r.process(ctx, job)
	}()
}

// process drives one claimed job to completion: heartbeat, dispatch by
// mode, persist artifacts, report to the Job Queue and the Barrier
// Coordinator.
func (r *Runtime) process(ctx context.Context, job *models.WorkerJob) {
	run, err := r.runs.GetByID(ctx, job.RunID)
	if err != nil || run == nil {
		r.cfg.Logger.Error("load run for job failed", "job_id", job.ID, "error", err)
		_ = r.jobStore.Fail(ctx, job.ID, errs.Internal, fmt.Sprintf("load run: %v", err))
		return
	}

	em := emitter.NewWorker(r.eventLog, job.RunID, run.PublicID, run.OwnerID, job.ID)
	if _, err := em.Started(ctx); err != nil {
		r.cfg.Logger.Error("emit worker_started failed", "job_id", job.ID, "error", err)
	}

	stopHeartbeat := make(chan struct{})
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go func() {
		defer hbWG.Done()
		r.heartbeatLoop(ctx, job.ID, stopHeartbeat)
	}()

	var resultText string
	var runErr error
	switch job.Mode {
	case models.ModeWorkspace:
		resultText, runErr = r.runWorkspace(ctx, job, run, em)
	default:
		resultText, runErr = r.runStandard(ctx, job, run, em)
	}

	close(stopHeartbeat)
	hbWG.Wait()

	r.finish(ctx, job, em, resultText, runErr)
}

func (r *Runtime) heartbeatLoop(ctx context.Context, jobID string, stop <-chan struct{}) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if err := r.jobStore.Heartbeat(ctx, jobID); err != nil {
				r.cfg.Logger.Warn("heartbeat failed", "job_id", jobID, "error", err)
			}
		}
	}
}

// finish records the job's terminal status against the Job Queue, emits the
// worker's terminal event, and reports the outcome to the job's barrier so a
// waiting supervisor run can resume once every sibling job has reported in.
func (r *Runtime) finish(ctx context.Context, job *models.WorkerJob, em *emitter.Emitter, resultText string, runErr error) {
	status := models.BarrierJobComplete
	errKind := ""
	errMsg := ""

	if runErr != nil {
		status = models.BarrierJobFailed
		errKind = string(errs.As(runErr))
		errMsg = runErr.Error()
		if err := r.jobStore.Fail(ctx, job.ID, errs.Kind(errKind), errMsg); err != nil {
			r.cfg.Logger.Error("mark job failed failed", "job_id", job.ID, "error", err)
		}
		if _, err := em.Failed(ctx, job.ID, errKind, errMsg); err != nil {
			r.cfg.Logger.Error("emit worker_failed failed", "job_id", job.ID, "error", err)
		}
	} else {
		if err := r.jobStore.Complete(ctx, job.ID, resultText); err != nil {
			r.cfg.Logger.Error("mark job complete failed", "job_id", job.ID, "error", err)
		}
		if _, err := em.Complete(ctx, job.ID, resultText); err != nil {
			r.cfg.Logger.Error("emit worker_complete failed", "job_id", job.ID, "error", err)
		}
	}

	b, err := r.barriers.GetByRun(ctx, job.RunID)
	if err != nil || b == nil {
		r.cfg.Logger.Error("resolve barrier for run failed", "run_id", job.RunID, "job_id", job.ID, "error", err)
		return
	}
	if _, err := r.barriers.ReportResult(ctx, b.ID, models.WorkerResult{
		ToolCallID: job.ToolCallID,
		JobID:      job.ID,
		Status:     status,
		ResultText: resultText,
		ErrorKind:  errKind,
		Error:      errMsg,
	}); err != nil {
		r.cfg.Logger.Error("report barrier result failed", "barrier_id", b.ID, "job_id", job.ID, "error", err)
	}
}
