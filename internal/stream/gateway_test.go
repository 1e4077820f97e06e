package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opscore/orchestrator/internal/events"
	"github.com/opscore/orchestrator/pkg/models"
)

type fakeRuns struct {
	runs map[string]*models.Run
}

func (f *fakeRuns) Get(ctx context.Context, publicID string) (*models.Run, error) {
	r, ok := f.runs[publicID]
	if !ok {
		return nil, errors.New("not found")
	}
	return r, nil
}

type fakeWorkers struct {
	jobs []*models.WorkerJob
}

func (f *fakeWorkers) ListByRun(ctx context.Context, runID int64) ([]*models.WorkerJob, error) {
	return f.jobs, nil
}

type fakeThreads struct {
	history []models.ThreadMessage
}

func (f *fakeThreads) History(ctx context.Context, threadID string, limit int) ([]models.ThreadMessage, error) {
	return f.history, nil
}

func TestSnapshot_ReportsLastEventIDAssistantContentAndLiveWorkers(t *testing.T) {
	store := events.NewMemoryStore()
	runID := int64(1)
	runs := &fakeRuns{runs: map[string]*models.Run{"run-1": {ID: runID, PublicID: "run-1", ThreadID: "thread-1", Status: models.RunStatusWaiting}}}

	if _, err := store.Append(context.Background(), runID, "run-1", models.EventSupervisorStarted, models.SupervisorLifecyclePayload{}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := store.Append(context.Background(), runID, "run-1", models.EventSupervisorInterrupted, models.SupervisorLifecyclePayload{BarrierID: 7, ExpectedJobs: 2}); err != nil {
		t.Fatalf("append: %v", err)
	}

	workers := &fakeWorkers{jobs: []*models.WorkerJob{
		{ID: "job-1", WorkerID: "worker-1", Status: models.JobRunning, Task: "do thing one"},
		{ID: "job-2", WorkerID: "worker-2", Status: models.JobQueued, Task: "do thing two"},
		{ID: "job-3", WorkerID: "worker-3", Status: models.JobCompleted, Task: "already done"},
	}}
	threads := &fakeThreads{history: []models.ThreadMessage{
		{Role: models.RoleUser, Content: "please do two things"},
		{Role: models.RoleAssistant, Content: "spawning two workers"},
		{Role: models.RoleTool, Content: "{}"},
	}}

	gw := New(store, runs, workers, threads, 0)
	snap, err := gw.Snapshot(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.LastEventID != 2 {
		t.Fatalf("expected last_event_id 2, got %d", snap.LastEventID)
	}
	if snap.LastAssistantContent != "spawning two workers" {
		t.Fatalf("expected last assistant content, got %q", snap.LastAssistantContent)
	}
	if len(snap.Workers) != 2 {
		t.Fatalf("expected 2 live workers, got %d: %+v", len(snap.Workers), snap.Workers)
	}
	for _, w := range snap.Workers {
		if w.Status == models.JobCompleted {
			t.Fatalf("completed job leaked into live worker map: %+v", w)
		}
	}
}

func TestSubscribe_ReplaysThenLive(t *testing.T) {
	store := events.NewMemoryStore()
	runID := int64(1)
	runs := &fakeRuns{runs: map[string]*models.Run{"run-1": {ID: runID, PublicID: "run-1"}}}

	if _, err := store.Append(context.Background(), runID, "run-1", models.EventSupervisorStarted, models.SupervisorLifecyclePayload{}); err != nil {
		t.Fatalf("append: %v", err)
	}

	gw := New(store, runs, nil, nil, 0)
	sub, err := gw.Subscribe(context.Background(), "run-1", 0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	first := <-sub.Events()
	if first.Type != models.EventSupervisorStarted {
		t.Fatalf("expected replayed supervisor_started, got %+v", first)
	}

	if _, err := store.Append(context.Background(), runID, "run-1", models.EventSupervisorComplete, models.SupervisorLifecyclePayload{ResultText: "done"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	select {
	case ev := <-sub.Events():
		if ev.Type != models.EventSupervisorComplete {
			t.Fatalf("expected live supervisor_complete, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live event")
	}
}

func TestSubscribe_StructuralOverflowTerminatesLaggingConsumer(t *testing.T) {
	store := events.NewMemoryStore()
	runID := int64(1)
	runs := &fakeRuns{runs: map[string]*models.Run{"run-1": {ID: runID, PublicID: "run-1"}}}

	gw := New(store, runs, nil, nil, 2)
	sub, err := gw.Subscribe(context.Background(), "run-1", 0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	for i := 0; i < 5; i++ {
		if _, err := store.Append(context.Background(), runID, "run-1", models.EventSupervisorIteration, models.SupervisorIterationPayload{Iteration: i}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	drained := 0
	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				if sub.Err() != ErrLaggingConsumer {
					t.Fatalf("expected ErrLaggingConsumer, got %v (drained %d)", sub.Err(), drained)
				}
				return
			}
			drained++
		case <-timeout:
			t.Fatal("timed out waiting for subscription to terminate")
		}
	}
}

func TestSubscribe_DroppableOverflowCoalescesInsteadOfTerminating(t *testing.T) {
	store := events.NewMemoryStore()
	runID := int64(1)
	runs := &fakeRuns{runs: map[string]*models.Run{"run-1": {ID: runID, PublicID: "run-1"}}}

	gw := New(store, runs, nil, nil, 2)
	sub, err := gw.Subscribe(context.Background(), "run-1", 0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	for i := 0; i < 10; i++ {
		if _, err := store.Append(context.Background(), runID, "run-1", models.EventHeartbeat, models.HeartbeatPayload{}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := store.Append(context.Background(), runID, "run-1", models.EventSupervisorComplete, models.SupervisorLifecyclePayload{}); err != nil {
		t.Fatalf("append: %v", err)
	}

	var lastType models.EventType
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				t.Fatalf("subscription closed unexpectedly: %v", sub.Err())
			}
			lastType = ev.Type
			if ev.Type == models.EventSupervisorComplete {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for supervisor_complete, last seen %s", lastType)
		}
	}
}
