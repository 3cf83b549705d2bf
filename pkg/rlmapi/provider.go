package rlmapi

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/rlm/internal/config"
	"github.com/haasonsaas/rlm/internal/llm"
	"github.com/haasonsaas/rlm/internal/retry"
)

// providerSettings is the per-provider shape expected inside
// LLMConfig.ProviderConfig, e.g.:
//
//	llm:
//	  provider_config:
//	    anthropic: {api_key: "...", base_url: "..."}
//	    openai:    {api_key: "...", base_url: "..."}
type providerSettings struct {
	APIKey  string
	BaseURL string
}

func settingsFor(pc map[string]any, name string) providerSettings {
	var out providerSettings
	raw, ok := pc[name]
	if !ok {
		return out
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return out
	}
	if v, ok := m["api_key"].(string); ok {
		out.APIKey = v
	}
	if v, ok := m["base_url"].(string); ok {
		out.BaseURL = v
	}
	return out
}

// providerNameForModel infers which backend serves a model ID, the same
// prefix-sniffing the teacher's router uses to pick a provider before a
// completion call, narrowed here to the two adapters rlmapi ships plus
// the deterministic mock used by tests.
func providerNameForModel(model string) string {
	switch {
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gpt"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"):
		return "openai"
	case strings.HasPrefix(model, "mock"):
		return "mock"
	default:
		return "anthropic"
	}
}

// buildProvider resolves and constructs the llm.Provider that should
// serve modelID, wrapped in the teacher's bounded-retry decorator so a
// transient provider failure is retried before becoming a terminal
// model_error (spec.md §7).
func buildProvider(cfg config.LLMConfig, modelID string) (llm.Provider, error) {
	name := providerNameForModel(modelID)
	settings := settingsFor(cfg.ProviderConfig, name)

	var inner llm.Provider
	var err error
	switch name {
	case "anthropic":
		inner, err = llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey:       settings.APIKey,
			BaseURL:      settings.BaseURL,
			DefaultModel: modelID,
		})
	case "openai":
		inner, err = llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:       settings.APIKey,
			BaseURL:      settings.BaseURL,
			DefaultModel: modelID,
		})
	case "mock":
		inner = llm.NewMockProvider()
	default:
		return nil, fmt.Errorf("rlmapi: unknown provider %q for model %q", name, modelID)
	}
	if err != nil {
		return nil, fmt.Errorf("rlmapi: build %s provider: %w", name, err)
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = 3 // one initial attempt + 2 retries, per spec.md §7's "bounded number of retries"
	return llm.NewRetryingProvider(inner, retryCfg), nil
}
