// Package events implements the Event Log (component A): the per-run
// append-only timeline that is the single source of truth for observable
// run state. It is grounded on jobs.Store / tasks.CockroachStore's
// dual in-memory/SQL pattern, generalized from a job-status ledger to an
// ordered, replayable event timeline with live in-process fan-out.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/opscore/orchestrator/internal/errs"
	"github.com/opscore/orchestrator/pkg/models"
)

// ErrPruned is returned by Stream when since_event_id predates the earliest
// retained event for a run, forcing the caller onto the snapshot-recovery
// path (replay degrades via forced snapshot when pruning kicks in).
var ErrPruned = fmt.Errorf("events: requested cutoff has been pruned")

// Store is the Event Log contract: append(run, type, payload) -> event_id
// and stream(run, since_event_id) -> subscription.
type Store interface {
	// Append assigns the next event_id for runID under a run-scoped lock
	// and persists the event. Payload must already be JSON-serialisable;
	// Append rejects it with errs.InvalidInput if it is not.
	Append(ctx context.Context, runID int64, runPublicID string, typ models.EventType, payload models.EventPayload) (*models.RunEvent, error)

	// Stream returns every event for runID with event_id > sinceEventID,
	// in strictly increasing order.
	Stream(ctx context.Context, runID int64, sinceEventID int64) ([]models.RunEvent, error)

	// Subscribe attaches a live, in-process feed of events appended for
	// runID from this moment forward. The returned func unsubscribes.
	Subscribe(runID int64) (<-chan models.RunEvent, func())

	// LatestEventID returns runID's current high-water mark, or 0 if no
	// event has been appended yet. Used by the snapshot-recovery path to
	// tell a client where subsequent replay should resume from.
	LatestEventID(ctx context.Context, runID int64) (int64, error)

	// Prune discards events older than cutoff, after which Stream calls
	// whose sinceEventID predates the new floor return ErrPruned.
	Prune(ctx context.Context, runID int64, keepAfterEventID int64) error
}

func marshalPayload(payload models.EventPayload) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage("null"), nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.New(errs.InvalidInput, "event payload is not JSON-serialisable", err)
	}
	// Round-trip through a generic map to catch values json.Marshal
	// accepts structurally but that are not legal JSON once normalised
	// (e.g. NaN floats nested in an interface{} field).
	var probe interface{}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, errs.New(errs.InvalidInput, "event payload failed round-trip validation", err)
	}
	return raw, nil
}

type subscriber struct {
	ch chan models.RunEvent
}

// MemoryStore is an in-process implementation used in tests and in the
// single-process embedded deployment mode.
type MemoryStore struct {
	mu          sync.RWMutex
	events      map[int64][]models.RunEvent
	highWater   map[int64]int64
	prunedFloor map[int64]int64
	subs        map[int64]map[*subscriber]struct{}
}

// NewMemoryStore creates an empty in-memory event log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:      make(map[int64][]models.RunEvent),
		highWater:   make(map[int64]int64),
		prunedFloor: make(map[int64]int64),
		subs:        make(map[int64]map[*subscriber]struct{}),
	}
}

func (m *MemoryStore) Append(ctx context.Context, runID int64, runPublicID string, typ models.EventType, payload models.EventPayload) (*models.RunEvent, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.highWater[runID]++
	event := models.RunEvent{
		EventID:     m.highWater[runID],
		RunPublicID: runPublicID,
		Type:        typ,
		Timestamp:   time.Now().UTC(),
		Payload:     raw,
	}
	m.events[runID] = append(m.events[runID], event)
	subs := make([]*subscriber, 0, len(m.subs[runID]))
	for s := range m.subs[runID] {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- event:
		default:
			// Live fan-out is advisory; the stream gateway (internal/stream)
			// owns backpressure policy and durable replay covers the gap.
		}
	}
	return &event, nil
}

func (m *MemoryStore) Stream(ctx context.Context, runID int64, sinceEventID int64) ([]models.RunEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if floor, ok := m.prunedFloor[runID]; ok && sinceEventID < floor {
		return nil, ErrPruned
	}
	all := m.events[runID]
	out := make([]models.RunEvent, 0, len(all))
	for _, e := range all {
		if e.EventID > sinceEventID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) LatestEventID(ctx context.Context, runID int64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.highWater[runID], nil
}

func (m *MemoryStore) Subscribe(runID int64) (<-chan models.RunEvent, func()) {
	s := &subscriber{ch: make(chan models.RunEvent, 256)}
	m.mu.Lock()
	if m.subs[runID] == nil {
		m.subs[runID] = make(map[*subscriber]struct{})
	}
	m.subs[runID][s] = struct{}{}
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		delete(m.subs[runID], s)
		m.mu.Unlock()
	}
	return s.ch, cancel
}

func (m *MemoryStore) Prune(ctx context.Context, runID int64, keepAfterEventID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.events[runID]
	kept := all[:0:0]
	for _, e := range all {
		if e.EventID > keepAfterEventID {
			kept = append(kept, e)
		}
	}
	m.events[runID] = kept
	m.prunedFloor[runID] = keepAfterEventID
	return nil
}
