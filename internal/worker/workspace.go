package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/opscore/orchestrator/internal/emitter"
	"github.com/opscore/orchestrator/internal/errs"
	"github.com/opscore/orchestrator/pkg/models"
)

// runWorkspace clones a validated repository, creates a per-run branch,
// invokes the external coding-agent subprocess in its own process group so a
// timeout can kill the whole tree, and captures stdout plus a final git
// diff as artifacts. Only worker_started (emitted by the
// caller) and the terminal event leave the event log for this mode.
func (r *Runtime) runWorkspace(ctx context.Context, job *models.WorkerJob, run *models.Run, em *emitter.Emitter) (string, error) {
	if err := ValidateRepoURL(job.RepoURL); err != nil {
		return "", err
	}
	branch := job.Branch
	if branch == "" {
		b, err := WorkspaceBranchName(run.PublicID, job.ID)
		if err != nil {
			return "", err
		}
		branch = b
	} else if err := ValidateBranchName(branch); err != nil {
		return "", err
	}

	cloneDir := filepath.Join(r.cfg.CloneRoot, job.ID)
	if err := os.MkdirAll(filepath.Dir(cloneDir), 0o755); err != nil {
		return "", errs.New(errs.Internal, "create clone parent dir", err)
	}
	defer os.RemoveAll(cloneDir) //nolint:errcheck

	if err := r.gitClone(ctx, job.RepoURL, cloneDir); err != nil {
		return "", err
	}
	if err := r.gitCheckoutBranch(ctx, cloneDir, branch); err != nil {
		return "", err
	}

	stdout, runErr := r.runCodingAgent(ctx, job, cloneDir)

	diff, diffErr := r.gitDiff(ctx, cloneDir)
	if diffErr != nil {
		r.cfg.Logger.Warn("git diff failed", "job_id", job.ID, "error", diffErr)
	} else {
		r.putArtifact(ctx, job.ID, models.ArtifactDiff, []byte(diff))
	}
	r.putArtifact(ctx, job.ID, models.ArtifactResult, []byte(stdout))
	if meta, err := json.MarshalIndent(map[string]any{
		"job_id":    job.ID,
		"run_id":    job.RunID,
		"mode":      job.Mode,
		"repo_url":  job.RepoURL,
		"branch":    branch,
		"timestamp": time.Now().UTC(),
	}, "", "  "); err == nil {
		r.putArtifact(ctx, job.ID, models.ArtifactMetadata, meta)
	}

	if runErr != nil {
		return stdout, runErr
	}
	return stdout, nil
}

func (r *Runtime) gitClone(ctx context.Context, repoURL, dest string) error {
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", repoURL, dest)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return errs.New(errs.WorkerCrashed, fmt.Sprintf("git clone failed: %s", stderr.String()), err)
	}
	return nil
}

func (r *Runtime) gitCheckoutBranch(ctx context.Context, dir, branch string) error {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "checkout", "-b", branch)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return errs.New(errs.WorkerCrashed, fmt.Sprintf("git checkout -b %s failed: %s", branch, stderr.String()), err)
	}
	return nil
}

func (r *Runtime) gitDiff(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "diff")
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// runCodingAgent execs the configured coding-agent command inside dir with
// its own process group (Setpgid), so that a timeout expiry can
// syscall.Kill the whole group rather than leaving orphaned children behind
// the way a plain exec.CommandContext cancellation would (it only signals
// the direct child).
func (r *Runtime) runCodingAgent(ctx context.Context, job *models.WorkerJob, dir string) (string, error) {
	if len(r.cfg.WorkspaceAgentCommand) == 0 {
		return "", errs.New(errs.Internal, "no workspace agent command configured", nil)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.cfg.WorkspaceTimeout)
	defer cancel()

	name := r.cfg.WorkspaceAgentCommand[0]
	args := r.cfg.WorkspaceAgentCommand[1:]
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Stdin = bytes.NewBufferString(job.Task)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout := newLimitedBuffer(workspaceMaxOutput)
	stderr := newLimitedBuffer(workspaceMaxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return "", errs.New(errs.WorkerCrashed, "start coding agent", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return stdout.String(), errs.New(errs.WorkerCrashed, fmt.Sprintf("coding agent failed: %s", stderr.String()), err)
		}
		return stdout.String(), nil
	case <-timeoutCtx.Done():
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		<-done
		return stdout.String(), errs.New(errs.WorkerTimeout, fmt.Sprintf("coding agent exceeded %s", r.cfg.WorkspaceTimeout), timeoutCtx.Err())
	}
}

const workspaceMaxOutput = 256 * 1024

// limitedBuffer caps captured subprocess output, grounded on
// exec.Manager's buffer of the same name and purpose.
type limitedBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && len(b.buf) >= b.max {
		return len(p), nil
	}
	remaining := b.max - len(b.buf)
	if b.max > 0 && len(p) > remaining {
		b.buf = append(b.buf, p[:remaining]...)
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
