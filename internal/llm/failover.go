package llm

import (
	"context"
	"time"

	"github.com/opscore/orchestrator/internal/errs"
	"github.com/opscore/orchestrator/internal/retry"
)

// FailoverProvider tries each configured Provider in order, advancing to the
// next one when the current provider's first chunk reports a retryable
// error kind. It owns no retry-within-provider logic itself — that lives in
// retry.Do, configured with the same retry policy (3 attempts, 250ms initial
// delay, 5s cap, factor 2, jitter). Grounded on internal/retry.Do, reused
// as-is, composed here at the provider-selection layer
// instead of a single-provider request layer.
type FailoverProvider struct {
	providers []Provider
	retry     retry.Config
}

// DefaultRetryConfig returns the stated LLM retry policy defaults.
func DefaultRetryConfig() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialDelay: 250 * time.Millisecond, MaxDelay: 5 * time.Second, Factor: 2.0, Jitter: true}
}

// NewFailoverProvider builds a provider that falls through its list in
// order. providers must be non-empty; the first is tried first on every
// call.
func NewFailoverProvider(providers []Provider, cfg retry.Config) *FailoverProvider {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig()
	}
	return &FailoverProvider{providers: providers, retry: cfg}
}

func (f *FailoverProvider) Name() string { return "failover" }

func (f *FailoverProvider) Models() []Model {
	if len(f.providers) == 0 {
		return nil
	}
	return f.providers[0].Models()
}

func (f *FailoverProvider) SupportsTools() bool {
	for _, p := range f.providers {
		if !p.SupportsTools() {
			return false
		}
	}
	return true
}

// Complete tries each provider in turn. A provider "fails" for failover
// purposes when Complete itself errors, or when its very first streamed
// chunk carries a retryable error kind (transport/connector failures that
// happen before any tokens were produced — once output has started,
// switching providers mid-stream would corrupt the transcript, so later
// chunk errors propagate as-is rather than triggering failover).
func (f *FailoverProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	var lastErr error
	for _, p := range f.providers {
		var out <-chan *CompletionChunk
		result := retry.Do(ctx, f.retry, func() error {
			chunks, err := p.Complete(ctx, req)
			if err != nil {
				lastErr = err
				return err
			}
			out = chunks
			return nil
		})
		if result.Err == nil {
			return out, nil
		}
		lastErr = result.Err
		if !errs.As(lastErr).Retryable() {
			return nil, lastErr
		}
		// Retryable across attempts within this provider but still failing —
		// fall through to the next provider in the list.
	}
	return nil, lastErr
}
