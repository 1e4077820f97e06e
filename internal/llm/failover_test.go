package llm

import (
	"context"
	"testing"
	"time"

	"github.com/opscore/orchestrator/internal/errs"
	"github.com/opscore/orchestrator/internal/retry"
)

type fakeProvider struct {
	name    string
	err     error
	chunks  []*CompletionChunk
	calls   int
	support bool
}

func (f *fakeProvider) Name() string          { return f.name }
func (f *fakeProvider) Models() []Model       { return []Model{{ID: f.name}} }
func (f *fakeProvider) SupportsTools() bool   { return f.support }
func (f *fakeProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan *CompletionChunk, len(f.chunks))
	for _, c := range f.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func noSleepRetry() retry.Config {
	return retry.Config{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Factor: 2}
}

func TestFailoverProviderUsesFirstHealthyProvider(t *testing.T) {
	primary := &fakeProvider{name: "primary", chunks: []*CompletionChunk{{Text: "hi"}, {Done: true}}}
	secondary := &fakeProvider{name: "secondary", chunks: []*CompletionChunk{{Text: "unused"}}}

	f := NewFailoverProvider([]Provider{primary, secondary}, noSleepRetry())
	chunks, err := f.Complete(context.Background(), &CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}

	var texts []string
	for c := range chunks {
		if c.Text != "" {
			texts = append(texts, c.Text)
		}
	}
	if len(texts) != 1 || texts[0] != "hi" {
		t.Fatalf("expected primary's chunk, got %v", texts)
	}
	if secondary.calls != 0 {
		t.Fatalf("secondary should not have been called, got %d calls", secondary.calls)
	}
}

func TestFailoverProviderFallsThroughOnConnectError(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errs.New(errs.ConnectorUnavailable, "down", nil)}
	secondary := &fakeProvider{name: "secondary", chunks: []*CompletionChunk{{Done: true}}}

	f := NewFailoverProvider([]Provider{primary, secondary}, noSleepRetry())
	chunks, err := f.Complete(context.Background(), &CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if primary.calls == 0 || secondary.calls == 0 {
		t.Fatalf("expected both providers to be tried, got primary=%d secondary=%d", primary.calls, secondary.calls)
	}

	var gotDone bool
	for c := range chunks {
		if c.Done {
			gotDone = true
		}
	}
	if !gotDone {
		t.Fatal("expected to read secondary's stream after failover")
	}
}

func TestFailoverProviderPropagatesNonRetryableError(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errs.New(errs.InvalidInput, "bad request", nil)}
	secondary := &fakeProvider{name: "secondary", chunks: []*CompletionChunk{{Done: true}}}

	f := NewFailoverProvider([]Provider{primary, secondary}, noSleepRetry())
	_, err := f.Complete(context.Background(), &CompletionRequest{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if secondary.calls != 0 {
		t.Fatalf("non-retryable error should not trigger failover, got %d calls", secondary.calls)
	}
}

func TestFailoverProviderExhaustsAllProviders(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errs.New(errs.LLMTransportError, "down", nil)}
	secondary := &fakeProvider{name: "secondary", err: errs.New(errs.ConnectorUnavailable, "also down", nil)}

	f := NewFailoverProvider([]Provider{primary, secondary}, noSleepRetry())
	_, err := f.Complete(context.Background(), &CompletionRequest{})
	if err == nil {
		t.Fatal("expected an error once every provider has failed")
	}
}

func TestFailoverProviderSupportsToolsRequiresAll(t *testing.T) {
	a := &fakeProvider{name: "a", support: true}
	b := &fakeProvider{name: "b", support: false}
	f := NewFailoverProvider([]Provider{a, b}, DefaultRetryConfig())
	if f.SupportsTools() {
		t.Fatal("expected SupportsTools to be false when any provider lacks support")
	}
}

func TestNewFailoverProviderDefaultsRetryConfig(t *testing.T) {
	f := NewFailoverProvider([]Provider{&fakeProvider{name: "a"}}, retry.Config{})
	if f.retry.MaxAttempts != DefaultRetryConfig().MaxAttempts {
		t.Fatalf("expected default retry config to be applied when MaxAttempts is 0")
	}
}
