package composer

import (
	"context"

	"github.com/kalambet/campusnav/internal/gateway"
	"github.com/kalambet/campusnav/internal/intent"
	"github.com/kalambet/campusnav/internal/storage"
)

// Synthesizer turns resolved campus facts into a natural-language answer.
type Synthesizer struct {
	llm gateway.Completer
}

// NewSynthesizer creates a Synthesizer that answers through llm.
func NewSynthesizer(llm gateway.Completer) *Synthesizer {
	return &Synthesizer{llm: llm}
}

// Synthesize makes exactly one model call and returns its completion as is.
// On failure the completion carries gateway.FallbackText.
func (s *Synthesizer) Synthesize(ctx context.Context, in intent.Intent, building *storage.Building, route *storage.Route, origin *storage.Building) gateway.Completion {
	system, user := BuildPrompt(in, building, route, origin)
	return s.llm.Complete(ctx, system, user)
}
