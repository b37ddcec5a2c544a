package engine

import (
	"context"
	"strings"
	"time"

	"github.com/kalambet/campusnav/internal/gemini"
)

// GeminiEngine adapts the Gemini generateContent API to the Engine interface.
type GeminiEngine struct {
	client *gemini.Client
}

// NewGeminiEngine creates a GeminiEngine. An empty baseURL uses the public API.
func NewGeminiEngine(apiKey, baseURL string, timeout time.Duration) *GeminiEngine {
	return &GeminiEngine{client: gemini.New(apiKey, baseURL, timeout)}
}

func (e *GeminiEngine) Name() string { return ProviderGemini }

// Chat folds system messages into the system instruction and the remaining
// messages into a single user turn.
func (e *GeminiEngine) Chat(ctx context.Context, model string, messages []Message) (Reply, error) {
	var system, user []string
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m.Content)
		} else {
			user = append(user, m.Content)
		}
	}

	res, err := e.client.Generate(ctx, model, strings.Join(system, "\n\n"), strings.Join(user, "\n\n"))
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: res.Text, Raw: res.Raw, ModelVersion: res.ModelVersion}, nil
}

func (e *GeminiEngine) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := e.client.ListModels(ctx)
	return err == nil
}

func (e *GeminiEngine) ListModels(ctx context.Context) ([]string, error) {
	return e.client.ListModels(ctx)
}

func (e *GeminiEngine) HasModel(ctx context.Context, name string) bool {
	return hasModel(ctx, e, strings.TrimPrefix(name, "models/"))
}
