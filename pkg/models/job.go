package models

import "time"

// WorkerJobStatus is the state of a durable worker job row.
type WorkerJobStatus string

const (
	JobCreated   WorkerJobStatus = "created"
	JobQueued    WorkerJobStatus = "queued"
	JobRunning   WorkerJobStatus = "running"
	JobCompleted WorkerJobStatus = "completed"
	JobFailed    WorkerJobStatus = "failed"
	JobTimeout   WorkerJobStatus = "timeout"
	JobCancelled WorkerJobStatus = "cancelled"
)

// WorkerMode selects a worker's execution path.
type WorkerMode string

const (
	ModeStandard  WorkerMode = "standard"
	ModeWorkspace WorkerMode = "workspace"
)

// WorkerJob is a durable row in the job queue (component F).
type WorkerJob struct {
	ID            string          `json:"id"`
	RunID         int64           `json:"run_id"`
	ToolCallID    string          `json:"tool_call_id"`
	Task          string          `json:"task"`
	Mode          WorkerMode      `json:"mode"`
	RepoURL       string          `json:"repo_url,omitempty"`
	Branch        string          `json:"branch,omitempty"`
	Status        WorkerJobStatus `json:"status"`
	Priority      int             `json:"priority"`
	WorkerID      string          `json:"worker_id,omitempty"`
	Attempt       int             `json:"attempt"`
	ResultText    string          `json:"result_text,omitempty"`
	Error         string          `json:"error,omitempty"`
	ErrorKind     string          `json:"error_kind,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	StartedAt     time.Time       `json:"started_at,omitempty"`
	FinishedAt    time.Time       `json:"finished_at,omitempty"`
	LastHeartbeat time.Time       `json:"last_heartbeat,omitempty"`
}
