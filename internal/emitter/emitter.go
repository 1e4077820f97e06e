// Package emitter implements the Emitter (component B): an in-memory,
// role-tagged object that publishes events into the Event Log. It
// generalizes internal/agent.EventEmitter, which carried a
// single implicit role; here role is a required constructor argument
// carried by the value itself, never looked up from ambient context — any
// tool-call path that infers role from a context key is non-conforming.
package emitter

import (
	"context"

	"github.com/opscore/orchestrator/internal/events"
	"github.com/opscore/orchestrator/pkg/models"
)

// Emitter carries role, identifiers and a sink. It never holds a database
// session or a live client connection.
type Emitter struct {
	role        models.Role
	runID       int64
	runPublicID string
	workerID    string
	ownerID     string
	store       events.Store
}

// New constructs an Emitter for the supervisor path.
func New(store events.Store, runID int64, runPublicID, ownerID string) *Emitter {
	return &Emitter{role: models.RoleSupervisor, runID: runID, runPublicID: runPublicID, ownerID: ownerID, store: store}
}

// NewWorker constructs an Emitter for a worker path, additionally tagged
// with the worker's identifier.
func NewWorker(store events.Store, runID int64, runPublicID, ownerID, workerID string) *Emitter {
	return &Emitter{role: models.RoleWorker, runID: runID, runPublicID: runPublicID, ownerID: ownerID, workerID: workerID, store: store}
}

// Role reports the emitter's baked-in identity.
func (e *Emitter) Role() models.Role { return e.role }

// WorkerID returns the worker identifier this emitter is tagged with, or
// the empty string for a supervisor emitter.
func (e *Emitter) WorkerID() string { return e.workerID }

func (e *Emitter) eventType(subtype string) models.EventType {
	return models.EventType(e.role.EventPrefix() + subtype)
}

// ToolStarted emits {role}_tool_started.
func (e *Emitter) ToolStarted(ctx context.Context, toolCallID, name, argsPreview string) (*models.RunEvent, error) {
	return e.store.Append(ctx, e.runID, e.runPublicID, e.eventType("tool_started"), models.ToolEventPayload{
		ToolCallID: toolCallID, Name: name, ArgsPreview: argsPreview, WorkerID: e.workerID,
	})
}

// ToolCompleted emits {role}_tool_completed.
func (e *Emitter) ToolCompleted(ctx context.Context, toolCallID, name, resultPreview string, elapsedMillis int64) (*models.RunEvent, error) {
	return e.store.Append(ctx, e.runID, e.runPublicID, e.eventType("tool_completed"), models.ToolEventPayload{
		ToolCallID: toolCallID, Name: name, ResultPreview: resultPreview, WorkerID: e.workerID, ElapsedMillis: elapsedMillis,
	})
}

// ToolFailed emits {role}_tool_failed.
func (e *Emitter) ToolFailed(ctx context.Context, toolCallID, name, errKind, errMsg string) (*models.RunEvent, error) {
	return e.store.Append(ctx, e.runID, e.runPublicID, e.eventType("tool_failed"), models.ToolEventPayload{
		ToolCallID: toolCallID, Name: name, ErrorKind: errKind, ErrorMessage: errMsg, WorkerID: e.workerID,
	})
}

// Complete emits worker_complete (workers only).
func (e *Emitter) Complete(ctx context.Context, jobID, resultText string) (*models.RunEvent, error) {
	return e.store.Append(ctx, e.runID, e.runPublicID, e.eventType("complete"), models.WorkerLifecyclePayload{
		WorkerID: e.workerID, JobID: jobID, ResultText: resultText,
	})
}

// Failed emits worker_failed (workers only).
func (e *Emitter) Failed(ctx context.Context, jobID, errKind, errMsg string) (*models.RunEvent, error) {
	return e.store.Append(ctx, e.runID, e.runPublicID, e.eventType("failed"), models.WorkerLifecyclePayload{
		WorkerID: e.workerID, JobID: jobID, ErrorKind: errKind, ErrorMessage: errMsg,
	})
}

// Heartbeat emits a droppable heartbeat event.
func (e *Emitter) Heartbeat(ctx context.Context, jobID string) (*models.RunEvent, error) {
	return e.store.Append(ctx, e.runID, e.runPublicID, models.EventHeartbeat, models.HeartbeatPayload{
		WorkerID: e.workerID, JobID: jobID,
	})
}

// Started emits worker_started / supervisor_started depending on role.
func (e *Emitter) Started(ctx context.Context) (*models.RunEvent, error) {
	if e.role == models.RoleWorker {
		return e.store.Append(ctx, e.runID, e.runPublicID, models.EventWorkerStarted, models.WorkerLifecyclePayload{WorkerID: e.workerID})
	}
	return e.store.Append(ctx, e.runID, e.runPublicID, models.EventSupervisorStarted, models.SupervisorLifecyclePayload{})
}

// Iteration emits supervisor_iteration, marking the start of one ReAct
// step. A worker-role emitter is a no-op here: worker runs reuse the same
// react.Engine internally, but supervisor_iteration is not in a worker's
// documented event set (worker_started, worker_tool_*, and its terminal
// event) — emitting it would inject a supervisor-typed event into the
// shared run log with no worker_id to attribute it by.
func (e *Emitter) Iteration(ctx context.Context, iteration int) (*models.RunEvent, error) {
	if e.role == models.RoleWorker {
		return nil, nil
	}
	return e.store.Append(ctx, e.runID, e.runPublicID, models.EventSupervisorIteration, models.SupervisorIterationPayload{Iteration: iteration})
}

// Spawned emits worker_spawned when a spawn_worker call admits a job.
func (e *Emitter) Spawned(ctx context.Context, jobID, toolCallID, mode string) (*models.RunEvent, error) {
	return e.store.Append(ctx, e.runID, e.runPublicID, models.EventWorkerSpawned, models.WorkerLifecyclePayload{
		JobID: jobID, ToolCallID: toolCallID, Mode: mode,
	})
}

// Interrupted emits supervisor_interrupted when the ReAct loop suspends for
// a parallel-worker barrier.
func (e *Emitter) Interrupted(ctx context.Context, barrierID int64, expectedJobs int) (*models.RunEvent, error) {
	return e.store.Append(ctx, e.runID, e.runPublicID, models.EventSupervisorInterrupted, models.SupervisorLifecyclePayload{
		BarrierID: barrierID, ExpectedJobs: expectedJobs,
	})
}

// Resumed emits supervisor_resumed when the barrier releases the run.
func (e *Emitter) Resumed(ctx context.Context, barrierID int64) (*models.RunEvent, error) {
	return e.store.Append(ctx, e.runID, e.runPublicID, models.EventSupervisorResumed, models.SupervisorLifecyclePayload{BarrierID: barrierID})
}

// SupervisorComplete emits supervisor_complete.
func (e *Emitter) SupervisorComplete(ctx context.Context, resultText string) (*models.RunEvent, error) {
	return e.store.Append(ctx, e.runID, e.runPublicID, models.EventSupervisorComplete, models.SupervisorLifecyclePayload{ResultText: resultText})
}

// SupervisorFailed emits supervisor_failed.
func (e *Emitter) SupervisorFailed(ctx context.Context, errKind, errMsg string) (*models.RunEvent, error) {
	return e.store.Append(ctx, e.runID, e.runPublicID, models.EventSupervisorFailed, models.SupervisorLifecyclePayload{ErrorKind: errKind, ErrorMessage: errMsg})
}
