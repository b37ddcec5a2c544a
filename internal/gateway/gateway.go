// Package gateway is the single point through which the pipeline talks to a
// language model. Every call returns a Completion; failures never escape as
// errors, they degrade to FallbackText.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/campusnav/internal/engine"
)

// FallbackText is returned as the completion text whenever the model could
// not be reached or produced nothing.
const FallbackText = "I'm having trouble processing that right now. Please try again."

// Completion is the outcome of one model call.
type Completion struct {
	Text         string `json:"text"`
	Raw          string `json:"raw,omitempty"`
	OK           bool   `json:"ok"`
	Error        string `json:"error,omitempty"`
	ModelVersion string `json:"model_version,omitempty"`
}

// Completer produces a completion for a system/user prompt pair.
type Completer interface {
	Complete(ctx context.Context, system, user string) Completion
}

// Gateway sends prompts to one engine and model. It keeps no per-call state
// and is safe for concurrent use.
type Gateway struct {
	eng     engine.Engine
	model   string
	initErr error
}

// New returns a Gateway for eng and model. A nil eng yields a gateway that
// always answers with the fallback; initErr, when set, is reported as the
// reason.
func New(eng engine.Engine, model string, initErr error) *Gateway {
	return &Gateway{eng: eng, model: model, initErr: initErr}
}

// Model returns the configured model identifier.
func (g *Gateway) Model() string { return g.model }

// Provider returns the backend name, or "" when no backend is configured.
func (g *Gateway) Provider() string {
	if g.eng == nil {
		return ""
	}
	return g.eng.Name()
}

// Ready reports whether a backend is configured.
func (g *Gateway) Ready() bool { return g.eng != nil }

// Complete sends a two-message exchange (system, user) to the model exactly
// once.
func (g *Gateway) Complete(ctx context.Context, system, user string) (c Completion) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("language model call panicked", "panic", r)
			c = fallback(fmt.Errorf("backend panic: %v", r))
		}
	}()

	if g.eng == nil {
		err := engine.ErrNotConfigured
		if g.initErr != nil {
			err = g.initErr
		}
		slog.Warn("language model unavailable", "error", err)
		return fallback(err)
	}

	reply, err := g.eng.Chat(ctx, g.model, []engine.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	})
	if err != nil {
		slog.Warn("language model call failed", "provider", g.eng.Name(), "model", g.model, "error", err)
		return fallback(err)
	}

	if strings.TrimSpace(reply.Text) == "" {
		slog.Warn("language model returned an empty completion", "provider", g.eng.Name(), "model", g.model)
		c = fallback(errors.New("empty completion"))
		c.Raw = reply.Raw
		return c
	}

	return Completion{
		Text:         reply.Text,
		Raw:          reply.Raw,
		OK:           true,
		ModelVersion: reply.ModelVersion,
	}
}

func fallback(err error) Completion {
	return Completion{Text: FallbackText, OK: false, Error: err.Error()}
}
