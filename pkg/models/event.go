package models

import (
	"encoding/json"
	"time"
)

// EventType is a member of the closed run-event taxonomy.
type EventType string

const (
	EventSupervisorStarted     EventType = "supervisor_started"
	EventSupervisorIteration   EventType = "supervisor_iteration"
	EventSupervisorToolStarted EventType = "supervisor_tool_started"
	EventSupervisorToolDone    EventType = "supervisor_tool_completed"
	EventSupervisorToolFailed  EventType = "supervisor_tool_failed"
	EventWorkerSpawned         EventType = "worker_spawned"
	EventWorkerStarted         EventType = "worker_started"
	EventWorkerToolStarted     EventType = "worker_tool_started"
	EventWorkerToolDone        EventType = "worker_tool_completed"
	EventWorkerToolFailed      EventType = "worker_tool_failed"
	EventWorkerComplete        EventType = "worker_complete"
	EventWorkerFailed          EventType = "worker_failed"
	EventSupervisorInterrupted EventType = "supervisor_interrupted"
	EventSupervisorResumed     EventType = "supervisor_resumed"
	EventSupervisorComplete    EventType = "supervisor_complete"
	EventSupervisorFailed      EventType = "supervisor_failed"
	EventHeartbeat             EventType = "heartbeat"
)

// droppable reports whether a subscriber queue may coalesce repeats of this
// type under backpressure: heartbeats coalesce, structural events never
// drop.
func (t EventType) droppable() bool {
	return t == EventHeartbeat
}

// Droppable is the package-level predicate used by the stream gateway.
func Droppable(t EventType) bool { return t.droppable() }

// RunEvent is the canonical, append-only timeline record for a run.
type RunEvent struct {
	EventID     int64           `json:"event_id"`
	RunPublicID string          `json:"run_public_id"`
	Type        EventType       `json:"type"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

// EventPayload is implemented by every concrete payload struct so that
// append() can marshal it and reject non-JSON-serialisable values early.
type EventPayload interface {
	eventPayload()
}

// SupervisorIterationPayload accompanies supervisor_iteration events.
type SupervisorIterationPayload struct {
	Iteration int `json:"iteration"`
}

func (SupervisorIterationPayload) eventPayload() {}

// ToolEventPayload accompanies *_tool_started / *_tool_completed / *_tool_failed.
type ToolEventPayload struct {
	ToolCallID    string `json:"tool_call_id"`
	Name          string `json:"name"`
	ArgsPreview   string `json:"args_preview,omitempty"`
	ResultPreview string `json:"result_preview,omitempty"`
	ErrorKind     string `json:"error_kind,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	WorkerID      string `json:"worker_id,omitempty"`
	JobID         string `json:"job_id,omitempty"`
	ElapsedMillis int64  `json:"elapsed_ms,omitempty"`
}

func (ToolEventPayload) eventPayload() {}

// WorkerLifecyclePayload accompanies worker_spawned/worker_started/worker_complete/worker_failed.
type WorkerLifecyclePayload struct {
	WorkerID     string `json:"worker_id,omitempty"`
	JobID        string `json:"job_id,omitempty"`
	ToolCallID   string `json:"tool_call_id,omitempty"`
	Mode         string `json:"mode,omitempty"`
	ResultText   string `json:"result_text,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (WorkerLifecyclePayload) eventPayload() {}

// SupervisorLifecyclePayload accompanies supervisor_started/interrupted/resumed/complete/failed.
type SupervisorLifecyclePayload struct {
	BarrierID    int64  `json:"barrier_id,omitempty"`
	ExpectedJobs int    `json:"expected_jobs,omitempty"`
	ResultText   string `json:"result_text,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (SupervisorLifecyclePayload) eventPayload() {}

// HeartbeatPayload accompanies heartbeat events (droppable under backpressure).
type HeartbeatPayload struct {
	WorkerID string `json:"worker_id,omitempty"`
	JobID    string `json:"job_id,omitempty"`
}

func (HeartbeatPayload) eventPayload() {}
