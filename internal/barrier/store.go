// Package barrier implements the Barrier Coordinator (component G): the
// two-phase creation of a parallel-worker barrier plus the jobs it gates,
// and the atomic single-resume transaction that flips the barrier exactly
// once when the last worker reports in. Grounded on
// tasks.CockroachStore.AcquireExecution's lock-then-mutate shape for the
// single-resume path, and on the same store's create-then-mutate idiom for
// two-phase admission.
package barrier

import (
	"context"
	"time"

	"github.com/opscore/orchestrator/pkg/models"
)

// Store is the Barrier Coordinator contract.
type Store interface {
	// CreateBarrier installs a waiting barrier and its N barrier_jobs rows,
	// then admits the underlying worker jobs into the job queue — all
	// within one transaction, so a worker can never complete a job the
	// barrier does not yet know to expect (the two-phase admission rule).
	CreateBarrier(ctx context.Context, runID int64, expectedCount int, deadline time.Time, jobs []BarrierJobSpec) (*models.Barrier, error)

	// ReportResult records one worker's outcome against its barrier_jobs
	// row and, within the same transaction, increments the barrier's
	// completed_count and flips it to resuming exactly once the count
	// reaches expected_count. The returned bool reports whether this call
	// was the one that triggered the flip.
	ReportResult(ctx context.Context, barrierID int64, result models.WorkerResult) (resumed bool, err error)

	// Get returns a barrier by id.
	Get(ctx context.Context, barrierID int64) (*models.Barrier, error)

	// GetByRun returns the run's single non-terminal barrier, if any.
	GetByRun(ctx context.Context, runID int64) (*models.Barrier, error)

	// ResumeDirective returns the recorded results for every job belonging
	// to a barrier, in the tuple shape the ReAct engine replays into the
	// tool-message history on resume.
	ResumeDirective(ctx context.Context, barrierID int64) ([]models.WorkerResult, error)

	// MarkCompleted transitions a resuming barrier to completed once the
	// ReAct engine has consumed its resume directive.
	MarkCompleted(ctx context.Context, barrierID int64) error

	// SweepDeadlines finds waiting barriers past their deadline and times
	// out every still-incomplete barrier_jobs row, then flips the barrier
	// to resuming so the run can proceed with partial results.
	SweepDeadlines(ctx context.Context) ([]int64, error)
}

// BarrierJobSpec is the input to CreateBarrier: one worker job to admit,
// paired with the tool_call_id it answers.
type BarrierJobSpec struct {
	JobID      string
	ToolCallID string
}
