package models

import "time"

// BarrierStatus is the state of a run's worker-completion barrier.
type BarrierStatus string

const (
	BarrierWaiting  BarrierStatus = "waiting"
	BarrierResuming BarrierStatus = "resuming"
	BarrierComplete BarrierStatus = "completed"
)

// Barrier gates the supervisor's resume on N parallel worker completions.
type Barrier struct {
	ID             int64         `json:"id"`
	RunID          int64         `json:"run_id"`
	ExpectedCount  int           `json:"expected_count"`
	CompletedCount int           `json:"completed_count"`
	Status         BarrierStatus `json:"status"`
	Deadline       time.Time     `json:"deadline,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// BarrierJobStatus is the state of one worker's contribution to a barrier.
type BarrierJobStatus string

const (
	BarrierJobCreated  BarrierJobStatus = "created"
	BarrierJobQueued   BarrierJobStatus = "queued"
	BarrierJobComplete BarrierJobStatus = "completed"
	BarrierJobFailed   BarrierJobStatus = "failed"
	BarrierJobTimeout  BarrierJobStatus = "timeout"
)

// BarrierJob is one row per worker belonging to a barrier.
type BarrierJob struct {
	ID          int64            `json:"id"`
	BarrierID   int64            `json:"barrier_id"`
	JobID       string           `json:"job_id"`
	ToolCallID  string           `json:"tool_call_id"`
	Status      BarrierJobStatus `json:"status"`
	ResultText  string           `json:"result_text,omitempty"`
	ErrorKind   string           `json:"error_kind,omitempty"`
	Error       string           `json:"error,omitempty"`
	CompletedAt time.Time        `json:"completed_at,omitempty"`
	Attempt     int              `json:"attempt"`
}

// WorkerResult is one tuple in a barrier's resume directive, matching
// a "(tool_call_id, result, error, status)" shape.
type WorkerResult struct {
	ToolCallID string
	JobID      string
	Status     BarrierJobStatus
	ResultText string
	ErrorKind  string
	Error      string
}
