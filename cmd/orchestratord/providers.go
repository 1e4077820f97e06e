package main

import (
	"context"
	"fmt"

	"github.com/opscore/orchestrator/internal/config"
	"github.com/opscore/orchestrator/internal/llm"
	"github.com/opscore/orchestrator/internal/retry"
)

// buildProvider constructs the failover-wrapped LLM provider from config:
// the default provider first, then each entry in the fallback chain, in
// order, skipping any name that doesn't resolve to a configured provider.
func buildProvider(ctx context.Context, cfg config.LLMConfig) (llm.Provider, error) {
	if cfg.DefaultProvider == "" {
		return nil, fmt.Errorf("llm.default_provider is required")
	}

	order := append([]string{cfg.DefaultProvider}, cfg.FallbackChain...)
	seen := make(map[string]bool, len(order))

	var providers []llm.Provider
	for _, name := range order {
		if seen[name] {
			continue
		}
		seen[name] = true
		entry, ok := cfg.Providers[name]
		if !ok {
			continue
		}
		provider, err := buildOneProvider(ctx, name, entry, cfg.Bedrock)
		if err != nil {
			return nil, fmt.Errorf("build provider %q: %w", name, err)
		}
		providers = append(providers, provider)
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no usable llm providers configured (default_provider %q not found)", cfg.DefaultProvider)
	}

	return llm.NewFailoverProvider(providers, retry.Config{}), nil
}

func buildOneProvider(ctx context.Context, name string, entry config.LLMProviderConfig, bedrock config.BedrockConfig) (llm.Provider, error) {
	switch name {
	case "anthropic":
		return llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey:       entry.APIKey,
			BaseURL:      entry.BaseURL,
			DefaultModel: entry.DefaultModel,
		})
	case "openai":
		return llm.NewOpenAIProvider(entry.APIKey, entry.DefaultModel)
	case "bedrock":
		return llm.NewBedrockProvider(ctx, llm.BedrockConfig{
			Region:       bedrock.Region,
			DefaultModel: entry.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
