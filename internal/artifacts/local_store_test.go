package artifacts

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"
)

func TestPut_WritesUnderWorkerDirectoryAndComputesHash(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	art, err := store.Put(context.Background(), "worker-1", "result.txt", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if art.SHA256 == "" || art.Size != 5 {
		t.Fatalf("unexpected artifact: %+v", art)
	}

	rc, err := store.Get(context.Background(), "worker-1", "result.txt")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "hello" {
		t.Fatalf("expected hello, got %q", data)
	}
}

func TestPut_SameContentTwiceIsNoop(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	if _, err := store.Put(context.Background(), "worker-1", "thread.jsonl", strings.NewReader("a")); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if _, err := store.Put(context.Background(), "worker-1", "thread.jsonl", strings.NewReader("a")); err != nil {
		t.Fatalf("expected idempotent rewrite to succeed, got %v", err)
	}
}

func TestPut_DifferentContentSamePathFailsImmutable(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	if _, err := store.Put(context.Background(), "worker-1", "result.txt", strings.NewReader("a")); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if _, err := store.Put(context.Background(), "worker-1", "result.txt", strings.NewReader("b")); err != ErrImmutable {
		t.Fatalf("expected ErrImmutable, got %v", err)
	}
}

func TestPut_ToolCallArtifactNestedPath(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	relPath := "tool_calls/call-1.json"
	if _, err := store.Put(context.Background(), "worker-1", relPath, strings.NewReader(`{"ok":true}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	exists, err := store.Exists(context.Background(), "worker-1", relPath)
	if err != nil || !exists {
		t.Fatalf("expected exists, got %v err=%v", exists, err)
	}
}

func TestList_ReturnsOnlyMatchingWorker(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	if _, err := store.Put(context.Background(), "worker-1", "result.txt", strings.NewReader("a")); err != nil {
		t.Fatalf("put worker-1: %v", err)
	}
	if _, err := store.Put(context.Background(), "worker-2", "result.txt", strings.NewReader("b")); err != nil {
		t.Fatalf("put worker-2: %v", err)
	}

	artifacts, err := store.List(context.Background(), "worker-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(artifacts) != 1 || artifacts[0].RelPath != "result.txt" {
		t.Fatalf("unexpected list result: %+v", artifacts)
	}
}

func TestDeleteWorker_RemovesAllArtifacts(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	if _, err := store.Put(context.Background(), "worker-1", "result.txt", strings.NewReader("a")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(context.Background(), "worker-1", "tool_calls/x.json", strings.NewReader("{}")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.DeleteWorker(context.Background(), "worker-1"); err != nil {
		t.Fatalf("DeleteWorker: %v", err)
	}
	artifacts, err := store.List(context.Background(), "worker-1")
	if err != nil || len(artifacts) != 0 {
		t.Fatalf("expected empty list after delete, got %+v err=%v", artifacts, err)
	}
	if exists, _ := store.Exists(context.Background(), "worker-1", "result.txt"); exists {
		t.Fatal("expected artifact gone after DeleteWorker")
	}
}

func TestIndex_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store1, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	if _, err := store1.Put(context.Background(), "worker-1", "result.txt", strings.NewReader("a")); err != nil {
		t.Fatalf("put: %v", err)
	}

	store2, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("reopen NewLocalStore: %v", err)
	}
	exists, err := store2.Exists(context.Background(), "worker-1", "result.txt")
	if err != nil || !exists {
		t.Fatalf("expected artifact to survive reopen, got %v err=%v", exists, err)
	}
}

type fakeEnumerator struct {
	oldest  map[string]time.Time
	deleted []string
}

func (f *fakeEnumerator) OldestArtifactAge(ctx context.Context, workerID string) (time.Time, error) {
	t, ok := f.oldest[workerID]
	if !ok {
		return time.Time{}, io.EOF
	}
	return t, nil
}

func (f *fakeEnumerator) DeleteWorker(ctx context.Context, workerID string) error {
	f.deleted = append(f.deleted, workerID)
	return nil
}

func TestRetentionSweeper_PurgesOnlyWorkersPastRetention(t *testing.T) {
	enum := &fakeEnumerator{oldest: map[string]time.Time{
		"worker-old": time.Now().Add(-48 * time.Hour),
		"worker-new": time.Now(),
	}}
	sweeper := NewRetentionSweeper(enum, 24*time.Hour, time.Hour, nil)
	sweeper.SetWorkers([]string{"worker-old", "worker-new"})

	sweeper.sweepOnce(context.Background())

	if len(enum.deleted) != 1 || enum.deleted[0] != "worker-old" {
		t.Fatalf("expected only worker-old purged, got %v", enum.deleted)
	}
}
