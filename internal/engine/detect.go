package engine

import (
	"context"
	"fmt"
	"time"
)

// Supported providers.
const (
	ProviderGroq       = "groq"
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
	ProviderOllama     = "ollama"
	ProviderGemini     = "gemini"
)

type providerDefaults struct {
	baseURL string
	model   string
	keyEnv  string
}

var providers = map[string]providerDefaults{
	ProviderGroq:       {baseURL: "https://api.groq.com/openai/v1", model: "openai/gpt-oss-20b", keyEnv: "GROQ_API_KEY"},
	ProviderOpenRouter: {baseURL: "https://openrouter.ai/api/v1", model: "openai/gpt-oss-20b", keyEnv: "OPENROUTER_API_KEY"},
	ProviderOpenAI:     {baseURL: "https://api.openai.com/v1", model: "gpt-4o-mini", keyEnv: "OPENAI_API_KEY"},
	ProviderOllama:     {baseURL: "http://localhost:11434", model: "llama3.2"},
	ProviderGemini:     {baseURL: "https://generativelanguage.googleapis.com/v1beta", model: "gemini-2.0-flash", keyEnv: "GEMINI_API_KEY"},
}

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Provider string
	APIKey   string
	// BaseURL overrides the provider's default endpoint.
	BaseURL string
	Timeout time.Duration
}

// Detect returns the Engine for cfg.Provider. Hosted providers require an
// API key; without one ErrNotConfigured is returned.
func Detect(cfg DetectConfig) (Engine, error) {
	def, ok := providers[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q: %w", cfg.Provider, ErrNotConfigured)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = def.baseURL
	}

	if def.keyEnv != "" && cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: no API key (set %s or CAMPUSNAV_LLM_API_KEY): %w", cfg.Provider, def.keyEnv, ErrNotConfigured)
	}

	switch cfg.Provider {
	case ProviderOllama:
		return NewOllamaEngine(baseURL, cfg.Timeout), nil
	case ProviderGemini:
		return NewGeminiEngine(cfg.APIKey, baseURL, cfg.Timeout), nil
	default:
		return NewOpenAICompatEngine(cfg.Provider, cfg.APIKey, baseURL, cfg.Timeout), nil
	}
}

// DefaultModel returns the model used for provider when none is configured.
func DefaultModel(provider string) string {
	return providers[provider].model
}

// KeyEnv returns the conventional API key variable for provider, or "" when
// the provider needs no key.
func KeyEnv(provider string) string {
	return providers[provider].keyEnv
}

// Providers lists the supported provider names.
func Providers() []string {
	return []string{ProviderGroq, ProviderOpenRouter, ProviderOpenAI, ProviderOllama, ProviderGemini}
}

func hasModel(ctx context.Context, e Engine, name string) bool {
	models, err := e.ListModels(ctx)
	if err != nil {
		return false
	}
	for _, m := range models {
		if m == name {
			return true
		}
	}
	return false
}
