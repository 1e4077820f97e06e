// Package artifacts implements the Artifact Store (component D): a
// content-addressed (SHA-256) blob store for worker output, laid out on
// disk exactly per the per-worker directory tree
// (thread.jsonl, result.txt, metadata.json, metrics.jsonl,
// tool_calls/<id>.json, diff.patch), with a filesystem backend by default
// and an S3-compatible backend for multi-process deployments.
package artifacts

import (
	"context"
	"fmt"
	"io"

	"github.com/opscore/orchestrator/pkg/models"
)

// ErrImmutable is returned by Put when a relative path under a worker's
// directory has already been written with different content — artifacts
// are immutable once written.
var ErrImmutable = fmt.Errorf("artifacts: path already written with different content")

// Store is the Artifact Store contract. workerID scopes every call to one
// worker's directory; relPath is one of the well-known names in
// pkg/models (models.ArtifactThreadLog, etc.) or a tool_calls/<id>.json
// path built with models.ToolCallArtifactPath.
type Store interface {
	// Put writes data under workerID/relPath, computing its SHA-256 as it
	// streams to the backend. Writing the same relPath twice with
	// identical bytes is a no-op; with different bytes it fails with
	// ErrImmutable.
	Put(ctx context.Context, workerID, relPath string, data io.Reader) (*models.Artifact, error)

	// Get opens a previously written artifact for reading.
	Get(ctx context.Context, workerID, relPath string) (io.ReadCloser, error)

	// Exists reports whether workerID/relPath has been written.
	Exists(ctx context.Context, workerID, relPath string) (bool, error)

	// List returns every artifact recorded for workerID.
	List(ctx context.Context, workerID string) ([]models.Artifact, error)

	// DeleteWorker removes every artifact under workerID's directory.
	DeleteWorker(ctx context.Context, workerID string) error

	// Close releases any resources held by the store.
	Close() error
}
