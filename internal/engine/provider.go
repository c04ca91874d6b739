package engine

import (
	"fmt"
	"strings"
)

const (
	ProviderOllama     = "ollama"
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
)

// ProviderConfig selects and configures an inference provider.
type ProviderConfig struct {
	Provider string
	BaseURL  string
	APIKey   string
}

// New returns the Engine for cfg.Provider. There is no fallback between
// providers: an unknown name fails with ErrUnsupportedProvider.
func New(cfg ProviderConfig) (Engine, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderOllama:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return NewOllamaEngine(baseURL), nil
	case ProviderOpenAI:
		return NewOpenAIEngine(cfg.APIKey, cfg.BaseURL), nil
	case ProviderOpenRouter:
		return NewOpenRouterEngine(cfg.APIKey, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}
}

// Providers lists the accepted provider names.
func Providers() []string {
	return []string{ProviderOllama, ProviderOpenAI, ProviderOpenRouter}
}
