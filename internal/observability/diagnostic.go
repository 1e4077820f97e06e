// Package observability provides diagnostic event types and emission.
package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// DiagnosticRunState represents the state of a run.
type DiagnosticRunState string

const (
	RunStateIdle       DiagnosticRunState = "idle"
	RunStateProcessing DiagnosticRunState = "processing"
	RunStateWaiting    DiagnosticRunState = "waiting"
)

// DiagnosticEventType identifies the type of diagnostic event.
type DiagnosticEventType string

const (
	EventTypeModelUsage           DiagnosticEventType = "model.usage"
	EventTypeRunRequestReceived   DiagnosticEventType = "run_request.received"
	EventTypeRunRequestProcessed  DiagnosticEventType = "run_request.processed"
	EventTypeRunRequestError      DiagnosticEventType = "run_request.error"
	EventTypeJobQueued            DiagnosticEventType = "job.queued"
	EventTypeJobProcessed         DiagnosticEventType = "job.processed"
	EventTypeRunState             DiagnosticEventType = "run.state"
	EventTypeRunStuck             DiagnosticEventType = "run.stuck"
	EventTypeLaneEnqueue          DiagnosticEventType = "queue.lane.enqueue"
	EventTypeLaneDequeue          DiagnosticEventType = "queue.lane.dequeue"
	EventTypeRunAttempt           DiagnosticEventType = "run.attempt"
	EventTypeDiagnosticHeartbeat  DiagnosticEventType = "diagnostic.heartbeat"
)

// DiagnosticEvent is the base event structure.
type DiagnosticEvent struct {
	Type DiagnosticEventType `json:"type"`
	Seq  int64               `json:"seq"`
	Ts   int64               `json:"ts"`
}

// ModelUsageEvent tracks token usage for a model request.
type ModelUsageEvent struct {
	DiagnosticEvent
	RunID      string          `json:"run_id,omitempty"`
	OwnerID    string          `json:"owner_id,omitempty"`
	Provider   string          `json:"provider,omitempty"`
	Model      string          `json:"model,omitempty"`
	Usage      UsageDetails    `json:"usage"`
	Context    *ContextDetails `json:"context,omitempty"`
	CostUSD    float64         `json:"cost_usd,omitempty"`
	DurationMs int64           `json:"duration_ms,omitempty"`
}

// UsageDetails contains token usage breakdown.
type UsageDetails struct {
	Input        int64 `json:"input,omitempty"`
	Output       int64 `json:"output,omitempty"`
	CacheRead    int64 `json:"cache_read,omitempty"`
	CacheWrite   int64 `json:"cache_write,omitempty"`
	PromptTokens int64 `json:"prompt_tokens,omitempty"`
	Total        int64 `json:"total,omitempty"`
}

// ContextDetails contains context window information.
type ContextDetails struct {
	Limit int64 `json:"limit,omitempty"`
	Used  int64 `json:"used,omitempty"`
}

// RunRequestReceivedEvent tracks incoming run-control requests (e.g. POST /runs).
type RunRequestReceivedEvent struct {
	DiagnosticEvent
	Source string `json:"source"`
	Kind   string `json:"kind,omitempty"`
	RunID  string `json:"run_id,omitempty"`
}

// RunRequestProcessedEvent tracks processed run-control requests.
type RunRequestProcessedEvent struct {
	DiagnosticEvent
	Source     string `json:"source"`
	Kind       string `json:"kind,omitempty"`
	RunID      string `json:"run_id,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// RunRequestErrorEvent tracks run-control request errors.
type RunRequestErrorEvent struct {
	DiagnosticEvent
	Source string `json:"source"`
	Kind   string `json:"kind,omitempty"`
	RunID  string `json:"run_id,omitempty"`
	Error  string `json:"error"`
}

// JobQueuedEvent tracks worker jobs entering the queue.
type JobQueuedEvent struct {
	DiagnosticEvent
	RunID      string `json:"run_id,omitempty"`
	JobID      string `json:"job_id,omitempty"`
	Source     string `json:"source"`
	QueueDepth int    `json:"queue_depth,omitempty"`
}

// JobProcessedEvent tracks worker jobs reaching a terminal outcome.
type JobProcessedEvent struct {
	DiagnosticEvent
	RunID      string `json:"run_id,omitempty"`
	JobID      string `json:"job_id,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Outcome    string `json:"outcome"` // "success", "error", "canceled"
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RunStateEvent tracks run state changes.
type RunStateEvent struct {
	DiagnosticEvent
	RunID      string             `json:"run_id,omitempty"`
	OwnerID    string             `json:"owner_id,omitempty"`
	PrevState  DiagnosticRunState `json:"prev_state,omitempty"`
	State      DiagnosticRunState `json:"state"`
	Reason     string             `json:"reason,omitempty"`
	QueueDepth int                `json:"queue_depth,omitempty"`
}

// RunStuckEvent tracks runs stuck awaiting a barrier or resume.
type RunStuckEvent struct {
	DiagnosticEvent
	RunID      string             `json:"run_id,omitempty"`
	OwnerID    string             `json:"owner_id,omitempty"`
	State      DiagnosticRunState `json:"state"`
	AgeMs      int64              `json:"age_ms"`
	QueueDepth int                `json:"queue_depth,omitempty"`
}

// LaneEnqueueEvent tracks queue lane enqueues.
type LaneEnqueueEvent struct {
	DiagnosticEvent
	Lane      string `json:"lane"`
	QueueSize int    `json:"queue_size"`
}

// LaneDequeueEvent tracks queue lane dequeues.
type LaneDequeueEvent struct {
	DiagnosticEvent
	Lane      string `json:"lane"`
	QueueSize int    `json:"queue_size"`
	WaitMs    int64  `json:"wait_ms"`
}

// RunAttemptEvent tracks run attempts.
type RunAttemptEvent struct {
	DiagnosticEvent
	OwnerID string `json:"owner_id,omitempty"`
	RunID   string `json:"run_id"`
	Attempt int    `json:"attempt"`
}

// DiagnosticHeartbeatEvent tracks diagnostic heartbeats.
type DiagnosticHeartbeatEvent struct {
	DiagnosticEvent
	Requests RequestStats `json:"requests"`
	Active   int          `json:"active"`
	Waiting  int          `json:"waiting"`
	Queued   int          `json:"queued"`
}

// RequestStats contains run-control request statistics.
type RequestStats struct {
	Received  int64 `json:"received"`
	Processed int64 `json:"processed"`
	Errors    int64 `json:"errors"`
}

// DiagnosticEventPayload is a union type for all diagnostic events.
type DiagnosticEventPayload interface {
	EventType() DiagnosticEventType
	Sequence() int64
	Timestamp() int64
}

// Implement DiagnosticEventPayload for all event types
func (e *DiagnosticEvent) EventType() DiagnosticEventType { return e.Type }
func (e *DiagnosticEvent) Sequence() int64                { return e.Seq }
func (e *DiagnosticEvent) Timestamp() int64               { return e.Ts }

// DiagnosticListener receives diagnostic events.
type DiagnosticListener func(event DiagnosticEventPayload)

// DiagnosticEmitter manages diagnostic event emission.
type DiagnosticEmitter struct {
	mu        sync.RWMutex
	seq       int64
	enabled   bool
	listeners []DiagnosticListener
}

var globalEmitter = &DiagnosticEmitter{}

// SetDiagnosticsEnabled enables or disables diagnostic events.
func SetDiagnosticsEnabled(enabled bool) {
	globalEmitter.mu.Lock()
	defer globalEmitter.mu.Unlock()
	globalEmitter.enabled = enabled
}

// IsDiagnosticsEnabled returns whether diagnostics are enabled.
func IsDiagnosticsEnabled() bool {
	globalEmitter.mu.RLock()
	defer globalEmitter.mu.RUnlock()
	return globalEmitter.enabled
}

// OnDiagnosticEvent registers a listener for diagnostic events.
func OnDiagnosticEvent(listener DiagnosticListener) func() {
	globalEmitter.mu.Lock()
	defer globalEmitter.mu.Unlock()
	globalEmitter.listeners = append(globalEmitter.listeners, listener)

	// Return unsubscribe function
	return func() {
		globalEmitter.mu.Lock()
		defer globalEmitter.mu.Unlock()
		for i, l := range globalEmitter.listeners {
			// Compare function pointers (this is a simplification)
			if &l == &listener {
				globalEmitter.listeners = append(globalEmitter.listeners[:i], globalEmitter.listeners[i+1:]...)
				break
			}
		}
	}
}

// nextSeq returns the next sequence number.
func nextSeq() int64 {
	return atomic.AddInt64(&globalEmitter.seq, 1)
}

// emit sends an event to all listeners.
func emit(event DiagnosticEventPayload) {
	globalEmitter.mu.RLock()
	if !globalEmitter.enabled {
		globalEmitter.mu.RUnlock()
		return
	}
	listeners := make([]DiagnosticListener, len(globalEmitter.listeners))
	copy(listeners, globalEmitter.listeners)
	globalEmitter.mu.RUnlock()

	for _, listener := range listeners {
		func() {
			defer func() {
				if recovered := recover(); recovered != nil {
					_ = recovered
				}
			}() // Ignore listener panics
			listener(event)
		}()
	}
}

// EmitModelUsage emits a model usage event.
func EmitModelUsage(e *ModelUsageEvent) {
	e.Type = EventTypeModelUsage
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitRunRequestReceived emits a run-control request received event.
func EmitRunRequestReceived(e *RunRequestReceivedEvent) {
	e.Type = EventTypeRunRequestReceived
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitRunRequestProcessed emits a run-control request processed event.
func EmitRunRequestProcessed(e *RunRequestProcessedEvent) {
	e.Type = EventTypeRunRequestProcessed
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitRunRequestError emits a run-control request error event.
func EmitRunRequestError(e *RunRequestErrorEvent) {
	e.Type = EventTypeRunRequestError
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitJobQueued emits a job queued event.
func EmitJobQueued(e *JobQueuedEvent) {
	e.Type = EventTypeJobQueued
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitJobProcessed emits a job processed event.
func EmitJobProcessed(e *JobProcessedEvent) {
	e.Type = EventTypeJobProcessed
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitRunState emits a run state event.
func EmitRunState(e *RunStateEvent) {
	e.Type = EventTypeRunState
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitRunStuck emits a run stuck event.
func EmitRunStuck(e *RunStuckEvent) {
	e.Type = EventTypeRunStuck
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitLaneEnqueue emits a lane enqueue event.
func EmitLaneEnqueue(e *LaneEnqueueEvent) {
	e.Type = EventTypeLaneEnqueue
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitLaneDequeue emits a lane dequeue event.
func EmitLaneDequeue(e *LaneDequeueEvent) {
	e.Type = EventTypeLaneDequeue
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitRunAttempt emits a run attempt event.
func EmitRunAttempt(e *RunAttemptEvent) {
	e.Type = EventTypeRunAttempt
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitDiagnosticHeartbeat emits a diagnostic heartbeat event.
func EmitDiagnosticHeartbeat(e *DiagnosticHeartbeatEvent) {
	e.Type = EventTypeDiagnosticHeartbeat
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// ResetDiagnosticsForTest resets diagnostic state for testing.
func ResetDiagnosticsForTest() {
	globalEmitter.mu.Lock()
	defer globalEmitter.mu.Unlock()
	atomic.StoreInt64(&globalEmitter.seq, 0)
	globalEmitter.listeners = nil
}
