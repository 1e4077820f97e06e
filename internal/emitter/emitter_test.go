package emitter

import (
	"context"
	"testing"

	"github.com/opscore/orchestrator/internal/events"
	"github.com/opscore/orchestrator/pkg/models"
)

func TestIterationSupervisorEmitsSupervisorIteration(t *testing.T) {
	store := events.NewMemoryStore()
	em := New(store, 1, "run-1", "owner-1")

	ev, err := em.Iteration(context.Background(), 3)
	if err != nil {
		t.Fatalf("Iteration: %v", err)
	}
	if ev == nil || ev.Type != models.EventSupervisorIteration {
		t.Fatalf("expected supervisor_iteration event, got %+v", ev)
	}

	id, err := store.LatestEventID(context.Background(), 1)
	if err != nil {
		t.Fatalf("LatestEventID: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected one event appended, high-water mark %d", id)
	}
}

// TestIterationWorkerIsANoop guards against a worker's internal ReAct loop
// (standard-mode workers reuse the same engine as the supervisor) leaking a
// supervisor_iteration event into the shared run log: not in a worker's
// documented event set and carrying no worker_id for a client to attribute
// it by.
func TestIterationWorkerIsANoop(t *testing.T) {
	store := events.NewMemoryStore()
	em := NewWorker(store, 1, "run-1", "owner-1", "worker-1")

	ev, err := em.Iteration(context.Background(), 3)
	if err != nil {
		t.Fatalf("Iteration: %v", err)
	}
	if ev != nil {
		t.Fatalf("expected no event for a worker-role emitter, got %+v", ev)
	}

	id, err := store.LatestEventID(context.Background(), 1)
	if err != nil {
		t.Fatalf("LatestEventID: %v", err)
	}
	if id != 0 {
		t.Fatalf("expected no event appended to the log, high-water mark %d", id)
	}
}
