package ai

import (
	"strings"
	"sync"

	"support-triage/backend/internal/ai/contract"
	"support-triage/backend/internal/ai/providers"
)

type Provider = contract.Provider

type ProviderConfig = contract.ProviderConfig

// Factory builds provider clients and reuses them across processing cycles;
// SDK clients are safe for concurrent use.
type Factory struct {
	mu        sync.Mutex
	instances map[string]Provider
}

func NewFactory() *Factory {
	return &Factory{instances: map[string]Provider{}}
}

func (f *Factory) CreateProvider(config *ProviderConfig) Provider {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := config.ProviderName + ":" + config.ModelName + ":" + config.BaseURL
	if provider, ok := f.instances[key]; ok {
		return provider
	}

	var provider Provider
	switch strings.ToLower(config.ProviderName) {
	case "claude", "anthropic":
		provider = providers.NewClaudeProvider(config)
	case "openai", "azure_openai", "azureopenai", "google", "gemini":
		// Azure and Gemini go through an OpenAI-compatible base URL.
		provider = providers.NewOpenAIProvider(config)
	case "cohere":
		provider = providers.NewCohereProvider(config)
	default:
		return nil
	}
	f.instances[key] = provider
	return provider
}
