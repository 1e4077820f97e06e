package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opscore/orchestrator/internal/barrier"
	"github.com/opscore/orchestrator/internal/emitter"
	"github.com/opscore/orchestrator/internal/errs"
	"github.com/opscore/orchestrator/internal/events"
	"github.com/opscore/orchestrator/internal/react"
	"github.com/opscore/orchestrator/pkg/models"
)

// StartRequest is the input to Runner.Start: a new user turn on a thread.
type StartRequest struct {
	OwnerID       string
	ThreadID      string
	Model         string
	ReasoningHint string
	Message       string
}

// Runner drives a run's lifecycle state machine: start,
// interrupt/wait, resume on barrier signal, finalize. It wraps react.Engine
// the way an AgenticRuntime wraps an AgenticLoop, but unlike that
// in-process channel wrapper — Start and BarrierResume may be invoked from
// separate processes, since all state they need lives in RunStore,
// react.ThreadStore, events.Store and barrier.Store.
type Runner struct {
	engine   *react.Engine
	runs     RunStore
	threads  react.ThreadStore
	eventLog events.Store
	barriers barrier.Store

	mu      sync.Mutex
	cancels map[int64]context.CancelFunc
}

// New constructs a Runner.
func New(engine *react.Engine, runs RunStore, threads react.ThreadStore, eventLog events.Store, barriers barrier.Store) *Runner {
	return &Runner{
		engine:   engine,
		runs:     runs,
		threads:  threads,
		eventLog: eventLog,
		barriers: barriers,
		cancels:  make(map[int64]context.CancelFunc),
	}
}

// Start creates a run, appends the triggering user message, and drives the
// ReAct loop until it either completes or interrupts for a worker barrier
// (the queued -> running -> {success | waiting} transition).
func (o *Runner) Start(ctx context.Context, req StartRequest) (*models.Run, error) {
	run := &models.Run{
		PublicID:      uuid.NewString(),
		OwnerID:       req.OwnerID,
		ThreadID:      req.ThreadID,
		Status:        models.RunStatusQueued,
		Model:         req.Model,
		ReasoningHint: req.ReasoningHint,
		CreatedAt:     time.Now(),
	}
	if err := o.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	if err := o.threads.Append(ctx, &models.ThreadMessage{
		ThreadID: run.ThreadID, OwnerID: run.OwnerID, Role: models.RoleUser, Content: req.Message, SentAt: time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("append triggering message: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.registerCancel(run.ID, cancel)
	defer o.clearCancel(run.ID)

	em := emitter.New(o.eventLog, run.ID, run.PublicID, run.OwnerID)
	if _, err := em.Started(runCtx); err != nil {
		return nil, fmt.Errorf("emit supervisor_started: %w", err)
	}
	run.Status = models.RunStatusRunning
	run.StartedAt = time.Now()
	if err := o.runs.Update(runCtx, run); err != nil {
		return nil, fmt.Errorf("persist run transition to running: %w", err)
	}

	outcome, err := o.engine.Run(runCtx, run, em, run.OwnerID)
	return o.settle(runCtx, run, outcome, err)
}

// BarrierResume re-enters a waiting run once G's ReportResult has signaled
// that the barrier's last expected worker reported in (the
// "barrier resume" transition). barrierID identifies the barrier that just
// flipped to resuming.
func (o *Runner) BarrierResume(ctx context.Context, barrierID int64) (*models.Run, error) {
	b, err := o.barriers.Get(ctx, barrierID)
	if err != nil {
		return nil, fmt.Errorf("load barrier %d: %w", barrierID, err)
	}
	if b == nil {
		return nil, fmt.Errorf("barrier %d not found", barrierID)
	}
	run, err := o.runs.GetByID(ctx, b.RunID)
	if err != nil {
		return nil, fmt.Errorf("load run %d for barrier %d: %w", b.RunID, barrierID, err)
	}
	if run.Status != models.RunStatusWaiting {
		return nil, fmt.Errorf("run %s is %s, not waiting on a barrier", run.PublicID, run.Status)
	}

	results, err := o.barriers.ResumeDirective(ctx, barrierID)
	if err != nil {
		return nil, fmt.Errorf("load resume directive for barrier %d: %w", barrierID, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.registerCancel(run.ID, cancel)
	defer o.clearCancel(run.ID)

	run.Status = models.RunStatusRunning
	if err := o.runs.Update(runCtx, run); err != nil {
		return nil, fmt.Errorf("persist run transition to running: %w", err)
	}

	em := emitter.New(o.eventLog, run.ID, run.PublicID, run.OwnerID)
	outcome, err := o.engine.Resume(runCtx, run, em, run.OwnerID, barrierID, results)
	return o.settle(runCtx, run, outcome, err)
}

// settle finalizes a run after one Run/Resume call: terminal completion,
// a fresh wait on a new barrier, or a fatal/cancelled error.
func (o *Runner) settle(ctx context.Context, run *models.Run, outcome *react.Outcome, err error) (*models.Run, error) {
	if err != nil {
		run.Status = terminalStatusFor(err)
		run.FinishedAt = time.Now()
		_ = o.runs.Update(ctx, run)
		return run, err
	}

	if outcome.Interrupt != nil {
		run.Status = models.RunStatusWaiting
		if uerr := o.runs.Update(ctx, run); uerr != nil {
			return nil, fmt.Errorf("persist run transition to waiting: %w", uerr)
		}
		return run, nil
	}

	run.Status = models.RunStatusSuccess
	run.FinishedAt = time.Now()
	if uerr := o.runs.Update(ctx, run); uerr != nil {
		return nil, fmt.Errorf("persist run completion: %w", uerr)
	}
	return run, nil
}

func terminalStatusFor(err error) models.RunStatus {
	switch errs.As(err) {
	case errs.Cancelled:
		return models.RunStatusCancelled
	case errs.IterationLimit:
		return models.RunStatusFailed
	default:
		return models.RunStatusFailed
	}
}

// Cancel marks a run cancelled, cancels its in-flight context (if this
// process holds one), and force-completes any barrier it is waiting on so
// a worker reporting in afterward finds nothing to resume (the
// cancellation transition).
func (o *Runner) Cancel(ctx context.Context, publicID string) error {
	run, err := o.runs.Get(ctx, publicID)
	if err != nil {
		return fmt.Errorf("load run %q: %w", publicID, err)
	}
	if run.Status.Terminal() {
		return nil
	}

	if fn := o.lookupCancel(run.ID); fn != nil {
		fn()
	}

	if b, berr := o.barriers.GetByRun(ctx, run.ID); berr == nil && b != nil {
		_ = o.barriers.MarkCompleted(ctx, b.ID)
	}

	run.Status = models.RunStatusCancelled
	run.FinishedAt = time.Now()
	if err := o.runs.Update(ctx, run); err != nil {
		return fmt.Errorf("persist run cancellation: %w", err)
	}

	em := emitter.New(o.eventLog, run.ID, run.PublicID, run.OwnerID)
	_, _ = em.SupervisorFailed(ctx, string(errs.Cancelled), "run cancelled")
	return nil
}

func (o *Runner) registerCancel(runID int64, fn context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancels[runID] = fn
}

func (o *Runner) clearCancel(runID int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.cancels, runID)
}

func (o *Runner) lookupCancel(runID int64) context.CancelFunc {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancels[runID]
}
