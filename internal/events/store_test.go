package events

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/opscore/orchestrator/pkg/models"
)

func TestMemoryStoreLatestEventIDTracksHighWaterMark(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	runID := int64(1)

	id, err := store.LatestEventID(ctx, runID)
	if err != nil {
		t.Fatalf("LatestEventID on empty run: %v", err)
	}
	if id != 0 {
		t.Fatalf("expected 0 for a run with no events, got %d", id)
	}

	if _, err := store.Append(ctx, runID, "run-1", models.EventSupervisorStarted, models.SupervisorLifecyclePayload{}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := store.Append(ctx, runID, "run-1", models.EventSupervisorComplete, models.SupervisorLifecyclePayload{}); err != nil {
		t.Fatalf("append: %v", err)
	}

	id, err = store.LatestEventID(ctx, runID)
	if err != nil {
		t.Fatalf("LatestEventID: %v", err)
	}
	if id != 2 {
		t.Fatalf("expected 2, got %d", id)
	}
}

func TestCockroachStoreLatestEventIDReadsRunsTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer db.Close()
	store := &CockroachStore{db: db, subs: make(map[int64]map[*subscriber]struct{})}

	mock.ExpectQuery(`SELECT last_event_id FROM runs WHERE id = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"last_event_id"}).AddRow(int64(7)))

	id, err := store.LatestEventID(context.Background(), 42)
	if err != nil {
		t.Fatalf("LatestEventID: %v", err)
	}
	if id != 7 {
		t.Fatalf("expected 7, got %d", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
