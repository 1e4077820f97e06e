package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opscore/orchestrator/internal/config"
	"github.com/opscore/orchestrator/internal/observability"
	"github.com/opscore/orchestrator/internal/orchestrator"
	"github.com/opscore/orchestrator/pkg/models"
)

type fakeRunStarter struct {
	mu    sync.Mutex
	calls []orchestrator.StartRequest
	err   error
}

func (f *fakeRunStarter) Start(ctx context.Context, req orchestrator.StartRequest) (*models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return &models.Run{PublicID: "run-1"}, nil
}

func (f *fakeRunStarter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{Level: "error"})
}

func TestNewRejectsInvalidCron(t *testing.T) {
	_, err := New(config.ScheduleConfig{
		Runs: []config.ScheduledRun{{Name: "bad", CronExpr: "not a cron expression", ThreadID: "t1", Message: "hi"}},
	}, &fakeRunStarter{}, testLogger())
	if err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}

func TestSchedulerTriggersDueEntry(t *testing.T) {
	runner := &fakeRunStarter{}
	sched, err := New(config.ScheduleConfig{
		PollInterval: time.Millisecond,
		Runs:         []config.ScheduledRun{{Name: "every-tick", CronExpr: "* * * * * *", ThreadID: "t1", Message: "hi"}},
	}, runner, testLogger())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	deadline := time.After(time.Second)
	for {
		if runner.callCount() > 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("expected scheduler to trigger at least one run before the deadline")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestSchedulerLogsStartFailureWithoutPanicking(t *testing.T) {
	runner := &fakeRunStarter{err: context.DeadlineExceeded}
	sched, err := New(config.ScheduleConfig{
		PollInterval: time.Millisecond,
		Runs:         []config.ScheduledRun{{Name: "always-fails", CronExpr: "* * * * * *", ThreadID: "t1", Message: "hi"}},
	}, runner, testLogger())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	sched.Stop()

	if runner.callCount() == 0 {
		t.Fatal("expected at least one attempted start even though it errors")
	}
}
