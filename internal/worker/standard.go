package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/opscore/orchestrator/internal/emitter"
	"github.com/opscore/orchestrator/internal/errs"
	"github.com/opscore/orchestrator/pkg/models"
)

// runStandard drives a bounded react.Engine reuse for a standard-mode job:
// seed the job's thread with its task as the triggering message, run the
// loop to completion, then persist the full thread, each tool call, and the
// result to the artifact directory.
func (r *Runtime) runStandard(ctx context.Context, job *models.WorkerJob, run *models.Run, em *emitter.Emitter) (string, error) {
	threadID := "worker:" + job.ID

	if err := r.threads.Append(ctx, &models.ThreadMessage{
		ThreadID: threadID,
		OwnerID:  run.OwnerID,
		Role:     models.RoleUser,
		Content:  job.Task,
		SentAt:   time.Now(),
	}); err != nil {
		return "", errs.New(errs.Internal, "seed worker thread", err)
	}

	workerRun := &models.Run{
		PublicID: job.ID,
		OwnerID:  run.OwnerID,
		ThreadID: threadID,
		Model:    run.Model,
	}

	outcome, err := r.engine.Run(ctx, workerRun, em, run.OwnerID)
	if err != nil {
		r.writeStandardArtifacts(ctx, job, threadID, "")
		return "", err
	}
	if outcome.Interrupt != nil {
		// Standard-mode workers must never nest spawn_worker; reaching this
		// means a tool schema leaked spawn_worker into a worker allowlist.
		r.writeStandardArtifacts(ctx, job, threadID, "")
		return "", errs.New(errs.Internal, "standard-mode worker produced a nested worker interrupt", nil)
	}

	r.writeStandardArtifacts(ctx, job, threadID, outcome.ResultText)
	return outcome.ResultText, nil
}

// writeStandardArtifacts replays the job's thread back out of the
// ThreadStore and records it, one tool call at a time, plus the final
// result, under the worker's artifact directory. Best-effort: artifact
// persistence failures are logged, not returned, so they never mask the
// job's actual outcome.
func (r *Runtime) writeStandardArtifacts(ctx context.Context, job *models.WorkerJob, threadID, resultText string) {
	history, err := r.threads.History(ctx, threadID, 10000)
	if err != nil {
		r.cfg.Logger.Error("load worker thread for artifacts failed", "job_id", job.ID, "error", err)
		return
	}

	resultByCallID := make(map[string]string, len(history))
	for _, msg := range history {
		if msg.Role == models.RoleTool && msg.ToolCallID != "" {
			resultByCallID[msg.ToolCallID] = msg.Content
		}
	}

	var threadLog bytes.Buffer
	enc := json.NewEncoder(&threadLog)
	for _, msg := range history {
		if err := enc.Encode(msg); err != nil {
			r.cfg.Logger.Error("encode thread message failed", "job_id", job.ID, "error", err)
			continue
		}
		for _, call := range msg.ToolCalls {
			r.writeToolCallArtifact(ctx, job, call, resultByCallID[call.ID])
		}
	}
	r.putArtifact(ctx, job.ID, models.ArtifactThreadLog, threadLog.Bytes())

	if resultText != "" {
		r.putArtifact(ctx, job.ID, models.ArtifactResult, []byte(resultText))
	}

	meta, err := json.MarshalIndent(map[string]any{
		"job_id":    job.ID,
		"run_id":    job.RunID,
		"mode":      job.Mode,
		"task":      job.Task,
		"attempt":   job.Attempt,
		"timestamp": time.Now().UTC(),
	}, "", "  ")
	if err == nil {
		r.putArtifact(ctx, job.ID, models.ArtifactMetadata, meta)
	}
}

// writeToolCallArtifact persists the full tool call result alongside the
// call itself (id/name/args) — the call's arguments alone aren't useful
// without the output they produced.
func (r *Runtime) writeToolCallArtifact(ctx context.Context, job *models.WorkerJob, call models.ToolCallRef, result string) {
	data, err := json.MarshalIndent(struct {
		models.ToolCallRef
		Result string `json:"result"`
	}{ToolCallRef: call, Result: result}, "", "  ")
	if err != nil {
		return
	}
	r.putArtifact(ctx, job.ID, models.ToolCallArtifactPath(call.ID), data)
}

func (r *Runtime) putArtifact(ctx context.Context, workerID, relPath string, data []byte) {
	if r.artifacts == nil {
		return
	}
	if _, err := r.artifacts.Put(ctx, workerID, relPath, bytes.NewReader(data)); err != nil {
		r.cfg.Logger.Error("write artifact failed", "worker_id", workerID, "rel_path", relPath, "error", err)
	}
}
