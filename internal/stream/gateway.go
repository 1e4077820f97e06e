// Package stream implements the Stream Gateway (component J):
// replay-then-live subscription to a run's event log behind a bounded
// per-subscriber queue. It generalizes internal/agent/event_sink.go's
// BackpressureSink two-lane (high/low priority) design, but — since the
// gateway has exactly one producer sequence per subscription (first the
// replayed backlog, then the live feed) rather than two
// concurrently-writing goroutines, the two lanes collapse into a single
// ordered queue with a per-event-type overflow policy instead of a
// separate merge goroutine over two channels.
package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/opscore/orchestrator/internal/events"
	"github.com/opscore/orchestrator/pkg/models"
)

// ErrLaggingConsumer is the terminal error a Subscription surfaces when its
// bounded queue overflows on a non-droppable (structural) event, matching
// the "terminate with lagging_consumer" policy.
var ErrLaggingConsumer = fmt.Errorf("stream: consumer fell too far behind, reconnect with last event_id")

// RunResolver looks up a run's internal id from its public id. Satisfied
// directly by internal/orchestrator.RunStore without this package
// depending on it.
type RunResolver interface {
	Get(ctx context.Context, publicID string) (*models.Run, error)
}

// WorkerLister lists a run's worker jobs. Satisfied directly by
// internal/jobs.Store without this package depending on it.
type WorkerLister interface {
	ListByRun(ctx context.Context, runID int64) ([]*models.WorkerJob, error)
}

// ThreadReader reads a thread's message history. Satisfied directly by
// internal/react.ThreadStore without this package depending on it.
type ThreadReader interface {
	History(ctx context.Context, threadID string, limit int) ([]models.ThreadMessage, error)
}

// DefaultQueueCapacity is the default bound on a subscription's queue.
const DefaultQueueCapacity = 256

// snapshotHistoryLookback bounds how far back Snapshot scans a thread's
// history for the last assistant message. Zero is not a safe "fetch all"
// sentinel here: ThreadStore.History's SQL-backed implementation takes
// limit as a literal LIMIT clause, so 0 would return no rows at all.
// A run's iteration count is bounded well under this (MaxIterations
// defaults to 25), so this comfortably covers any live run.
const snapshotHistoryLookback = 200

// Gateway mediates replay-then-live subscriptions over an events.Store.
type Gateway struct {
	eventLog events.Store
	runs     RunResolver
	workers  WorkerLister
	threads  ThreadReader
	capacity int
}

// New constructs a Gateway. capacity <= 0 uses DefaultQueueCapacity.
func New(eventLog events.Store, runs RunResolver, workers WorkerLister, threads ThreadReader, capacity int) *Gateway {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Gateway{eventLog: eventLog, runs: runs, workers: workers, threads: threads, capacity: capacity}
}

// LiveWorker is one worker job still in flight at snapshot time.
type LiveWorker struct {
	JobID    string                 `json:"job_id"`
	WorkerID string                 `json:"worker_id"`
	Status   models.WorkerJobStatus `json:"status"`
	Task     string                 `json:"task"`
}

func isLive(status models.WorkerJobStatus) bool {
	return status == models.JobQueued || status == models.JobRunning
}

// Snapshot is the authoritative current-state read offered as
// a recovery path once a client's last event_id has been pruned: status,
// last assistant content, the live worker map, and the last event_id.
type Snapshot struct {
	RunPublicID          string
	Status               models.RunStatus
	LastAssistantContent string
	Workers              []LiveWorker
	LastEventID          int64
}

// Snapshot returns a run's authoritative current state.
func (g *Gateway) Snapshot(ctx context.Context, runPublicID string) (*Snapshot, error) {
	run, err := g.runs.Get(ctx, runPublicID)
	if err != nil {
		return nil, fmt.Errorf("resolve run %q: %w", runPublicID, err)
	}

	lastEventID, err := g.eventLog.LatestEventID(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("read last event id for run %q: %w", runPublicID, err)
	}

	snap := &Snapshot{RunPublicID: run.PublicID, Status: run.Status, LastEventID: lastEventID}

	if g.workers != nil {
		jobs, err := g.workers.ListByRun(ctx, run.ID)
		if err != nil {
			return nil, fmt.Errorf("list workers for run %q: %w", runPublicID, err)
		}
		for _, job := range jobs {
			if !isLive(job.Status) {
				continue
			}
			snap.Workers = append(snap.Workers, LiveWorker{JobID: job.ID, WorkerID: job.WorkerID, Status: job.Status, Task: job.Task})
		}
	}

	if g.threads != nil && run.ThreadID != "" {
		history, err := g.threads.History(ctx, run.ThreadID, snapshotHistoryLookback)
		if err != nil {
			return nil, fmt.Errorf("read thread history for run %q: %w", runPublicID, err)
		}
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].Role == models.RoleAssistant {
				snap.LastAssistantContent = history[i].Content
				break
			}
		}
	}

	return snap, nil
}

// Subscribe replays every event after sinceEventID, then attaches the
// subscription to the live feed, preserving global order. Returns
// events.ErrPruned unchanged when sinceEventID predates the retained
// window — the caller must fall back to Snapshot plus a fresh subscribe
// from event_id 0.
func (g *Gateway) Subscribe(ctx context.Context, runPublicID string, sinceEventID int64) (*Subscription, error) {
	run, err := g.runs.Get(ctx, runPublicID)
	if err != nil {
		return nil, fmt.Errorf("resolve run %q: %w", runPublicID, err)
	}

	replay, err := g.eventLog.Stream(ctx, run.ID, sinceEventID)
	if err != nil {
		return nil, err
	}
	live, cancelLive := g.eventLog.Subscribe(run.ID)

	sub := newSubscription(g.capacity, cancelLive)
	go sub.pump(ctx, replay, live)
	return sub, nil
}

// Subscription is one bounded, ordered feed of RunEvents. Callers read
// Events() until it closes, then inspect Err() to distinguish a clean
// unsubscribe (ctx cancelled, nil error) from lagging_consumer termination.
type Subscription struct {
	mu         sync.Mutex
	queue      []models.RunEvent
	wake       chan struct{}
	out        chan models.RunEvent
	err        error
	closed     bool
	cancelLive func()

	stop     chan struct{}
	stopOnce sync.Once
}

func newSubscription(capacity int, cancelLive func()) *Subscription {
	return &Subscription{
		queue:      make([]models.RunEvent, 0, capacity),
		wake:       make(chan struct{}, 1),
		out:        make(chan models.RunEvent, capacity),
		cancelLive: cancelLive,
		stop:       make(chan struct{}),
	}
}

// halt releases the live-feed goroutine; safe to call more than once.
func (s *Subscription) halt() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Events returns the ordered output channel. It closes when the
// subscription ends, whether cleanly or via lagging_consumer.
func (s *Subscription) Events() <-chan models.RunEvent { return s.out }

// Err returns the reason Events() closed, or nil for a clean unsubscribe.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close unsubscribes from the live feed and stops the pump.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.cancelLive()
	s.halt()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// push enqueues ev under the queue's capacity bound, applying an
// overflow policy: a droppable event (heartbeat, future token
// deltas) coalesces by evicting the oldest queued event of the same type;
// a structural event at capacity terminates the subscription instead of
// blocking the producer. Returns false once the subscription has ended.
func (s *Subscription) push(ev models.RunEvent) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if len(s.queue) >= cap(s.queue) {
		if models.Droppable(ev.Type) {
			if !s.evictOldestOfType(ev.Type) {
				s.mu.Unlock()
				return true // queue saturated with non-matching types; drop this one silently
			}
		} else {
			s.err = ErrLaggingConsumer
			s.closed = true
			s.mu.Unlock()
			s.cancelLive()
			s.signal()
			return false
		}
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.signal()
	return true
}

func (s *Subscription) evictOldestOfType(t models.EventType) bool {
	for i, e := range s.queue {
		if e.Type == t {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Subscription) popAll() ([]models.RunEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, s.closed
	}
	out := s.queue
	s.queue = make([]models.RunEvent, 0, cap(out))
	return out, s.closed
}

// pump drains the replayed backlog, then the live channel, into the
// bounded queue, and separately drains the queue into the public output
// channel. It owns the queue exclusively except for push(), which is
// called from the live-feed goroutine below.
func (s *Subscription) pump(ctx context.Context, replay []models.RunEvent, live <-chan models.RunEvent) {
	defer close(s.out)

	for _, ev := range replay {
		if !s.push(ev) {
			s.drainOnce()
			return
		}
		// Flush immediately rather than after the whole backlog: a replay
		// larger than the queue's capacity must not be mistaken for a
		// structural overflow before the consumer has had a chance to read.
		s.drainOnce()
	}

	liveDone := make(chan struct{})
	go func() {
		defer close(liveDone)
		for {
			select {
			case ev, ok := <-live:
				if !ok {
					return
				}
				if !s.push(ev) {
					return
				}
			case <-ctx.Done():
				s.mu.Lock()
				s.closed = true
				s.mu.Unlock()
				s.signal()
				return
			case <-s.stop:
				return
			}
		}
	}()

	for {
		s.drainOnce()
		s.mu.Lock()
		done := s.closed && len(s.queue) == 0
		s.mu.Unlock()
		if done {
			<-liveDone
			return
		}
		select {
		case <-s.wake:
		case <-ctx.Done():
		}
	}
}

func (s *Subscription) drainOnce() {
	batch, _ := s.popAll()
	for _, ev := range batch {
		s.out <- ev
	}
}
