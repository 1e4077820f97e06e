package models

import "time"

// Artifact is a blob written under a worker's directory tree, addressed by
// SHA-256 hash with a human-readable relative path (an
// thread.jsonl/result.txt/diff.patch/tool_calls/<id>.json family).
// Immutable once written.
type Artifact struct {
	WorkerID  string    `json:"worker_id"`
	RelPath   string    `json:"rel_path"`
	SHA256    string    `json:"sha256"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Well-known relative paths under a worker's artifact directory.
const (
	ArtifactThreadLog    = "thread.jsonl"
	ArtifactResult       = "result.txt"
	ArtifactMetadata     = "metadata.json"
	ArtifactMetrics      = "metrics.jsonl"
	ArtifactDiff         = "diff.patch"
	ArtifactToolCallsDir = "tool_calls"
)

// ToolCallArtifactPath returns the relative path for one tool call's
// captured invocation record.
func ToolCallArtifactPath(toolCallID string) string {
	return ArtifactToolCallsDir + "/" + toolCallID + ".json"
}
