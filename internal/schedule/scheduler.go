// Package schedule drives cron-triggered runs: orchestratord's own clock
// starting a run on a thread, independent of any run-control API caller.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opscore/orchestrator/internal/config"
	"github.com/opscore/orchestrator/internal/observability"
	"github.com/opscore/orchestrator/internal/orchestrator"
	"github.com/opscore/orchestrator/pkg/models"
)

// RunStarter is the subset of *orchestrator.Runner a Scheduler needs;
// *orchestrator.Runner satisfies it directly.
type RunStarter interface {
	Start(ctx context.Context, req orchestrator.StartRequest) (*models.Run, error)
}

// cronParser mirrors internal/config's parser configuration so a schedule
// that validated at config-load time parses identically here.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type entry struct {
	spec     config.ScheduledRun
	schedule cron.Schedule
	next     time.Time
}

// Scheduler polls its entries on a fixed interval and starts a run whenever
// one is due: a poll-then-compute-Next loop rather than relying on the cron
// library's own goroutine scheduler, so a missed tick (the process was
// stopped) just triggers on the next poll instead of queuing a backlog of
// catch-up runs.
type Scheduler struct {
	runner RunStarter
	logger *observability.Logger

	pollInterval time.Duration
	entries      []*entry

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Scheduler from already-validated configuration. Invalid cron
// expressions are rejected by config.Load before this is ever called, so any
// parse failure here indicates the config and schedule packages have
// drifted out of sync.
func New(cfg config.ScheduleConfig, runner RunStarter, logger *observability.Logger) (*Scheduler, error) {
	s := &Scheduler{
		runner:       runner,
		logger:       logger,
		pollInterval: cfg.PollInterval,
	}
	if s.pollInterval <= 0 {
		s.pollInterval = 10 * time.Second
	}

	now := time.Now()
	for _, spec := range cfg.Runs {
		sched, err := cronParser.Parse(spec.CronExpr)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: parse cron %q: %w", spec.Name, spec.CronExpr, err)
		}
		s.entries = append(s.entries, &entry{spec: spec, schedule: sched, next: sched.Next(now)})
	}
	return s, nil
}

// Start runs the poll loop in a goroutine until ctx is cancelled or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.tick(ctx, now)
			}
		}
	}()
}

// Stop cancels the poll loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	for _, e := range s.entries {
		if now.Before(e.next) {
			continue
		}
		due := e.next
		e.next = e.schedule.Next(now)

		go s.trigger(ctx, e.spec, due)
	}
}

func (s *Scheduler) trigger(ctx context.Context, spec config.ScheduledRun, due time.Time) {
	req := orchestrator.StartRequest{
		ThreadID:      spec.ThreadID,
		Model:         spec.Model,
		ReasoningHint: spec.ReasoningHint,
		Message:       spec.Message,
	}
	if _, err := s.runner.Start(ctx, req); err != nil {
		s.logger.Error(ctx, "scheduled run failed to start", "schedule", spec.Name, "due", due, "error", err)
		return
	}
	s.logger.Info(ctx, "scheduled run started", "schedule", spec.Name, "due", due)
}
