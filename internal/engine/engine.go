package engine

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by Detect when the selected provider cannot be
// used, typically because no API key is available.
var ErrNotConfigured = errors.New("language model backend not configured")

// Engine abstracts a chat-completion backend (Ollama, any OpenAI-compatible
// API such as Groq or OpenRouter, or Gemini). The gateway talks to this
// interface instead of a concrete client.
type Engine interface {
	// Name identifies the backend, e.g. "groq" or "ollama".
	Name() string

	// Chat sends messages to the given model and returns the assistant's reply.
	Chat(ctx context.Context, model string, messages []Message) (Reply, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of the models the backend offers.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available.
	HasModel(ctx context.Context, name string) bool
}

// Puller is implemented by backends that can download models on demand.
type Puller interface {
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
