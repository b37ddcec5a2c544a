package engine

import (
	"context"
	"time"

	"github.com/kalambet/campusnav/internal/openaicompat"
)

// OpenAICompatEngine serves Groq, OpenRouter and OpenAI through their shared
// chat completions API.
type OpenAICompatEngine struct {
	name   string
	client *openaicompat.Client
}

// NewOpenAICompatEngine creates an engine named name against baseURL.
func NewOpenAICompatEngine(name, apiKey, baseURL string, timeout time.Duration) *OpenAICompatEngine {
	return &OpenAICompatEngine{
		name:   name,
		client: openaicompat.NewClient(apiKey, baseURL, timeout),
	}
}

func (e *OpenAICompatEngine) Name() string { return e.name }

func (e *OpenAICompatEngine) Chat(ctx context.Context, model string, messages []Message) (Reply, error) {
	msgs := make([]openaicompat.Message, len(messages))
	for i, m := range messages {
		msgs[i] = openaicompat.Message{Role: m.Role, Content: m.Content}
	}

	res, err := e.client.Chat(ctx, openaicompat.ChatRequest{Model: model, Messages: msgs})
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: res.Text, Raw: res.Raw, ModelVersion: res.Model}, nil
}

// IsRunning probes the models endpoint, which also validates the key.
func (e *OpenAICompatEngine) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := e.client.ListModels(ctx)
	return err == nil
}

func (e *OpenAICompatEngine) ListModels(ctx context.Context) ([]string, error) {
	models, err := e.client.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.ID
	}
	return names, nil
}

func (e *OpenAICompatEngine) HasModel(ctx context.Context, name string) bool {
	return hasModel(ctx, e, name)
}
