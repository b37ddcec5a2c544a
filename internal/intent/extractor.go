package intent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/kalambet/campusnav/internal/gateway"
)

// Query types.
const (
	TypeLocation   = "location"
	TypeDirections = "directions"
	TypeHours      = "hours"
	TypeInfo       = "info"
)

// Intent is the structured reading of a user query.
type Intent struct {
	Location      string `json:"location"`
	FromLocation  string `json:"from_location,omitempty"`
	QueryType     string `json:"query_type"`
	OriginalQuery string `json:"original_query,omitempty"`
}

// Degraded is the intent used whenever the model output cannot be read: no
// location, informational query.
func Degraded() Intent {
	return Intent{Location: "", QueryType: TypeInfo}
}

// Extractor asks the language model to turn a free-text query into an Intent.
type Extractor struct {
	llm gateway.Completer
}

// NewExtractor creates an Extractor that calls llm once per query.
func NewExtractor(llm gateway.Completer) *Extractor {
	return &Extractor{llm: llm}
}

// Extract returns the intent of query. It never fails: a blank query, a
// model failure or unreadable output all yield Degraded(). OriginalQuery is
// left for the caller to set.
func (e *Extractor) Extract(ctx context.Context, query string) Intent {
	if strings.TrimSpace(query) == "" {
		return Degraded()
	}

	system, user := BuildPrompt(query)
	c := e.llm.Complete(ctx, system, user)
	if !c.OK {
		slog.Warn("intent extraction call failed", "error", c.Error)
		return Degraded()
	}

	in, ok := ParseIntent(c.Text)
	if !ok {
		slog.Warn("failed to parse intent from LLM response", "response", c.Text)
	}
	return in
}

type rawIntent struct {
	Location     *string         `json:"location"`
	QueryType    *string         `json:"query_type"`
	FromLocation json.RawMessage `json:"from_location"`
}

// ParseIntent reads an intent out of model text. The JSON object is taken
// from the first '{' to the last '}', so prose or code fences around it are
// ignored. The object must carry string "location" and "query_type" fields;
// otherwise Degraded() is returned with ok=false. A query_type outside the
// known set becomes "info", and a non-string from_location is dropped.
func ParseIntent(text string) (in Intent, ok bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return Degraded(), false
	}

	var raw rawIntent
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return Degraded(), false
	}
	if raw.Location == nil || raw.QueryType == nil {
		return Degraded(), false
	}

	in = Intent{
		Location:  strings.TrimSpace(*raw.Location),
		QueryType: normalizeType(*raw.QueryType),
	}
	if len(raw.FromLocation) > 0 {
		var from string
		if err := json.Unmarshal(raw.FromLocation, &from); err == nil {
			in.FromLocation = strings.TrimSpace(from)
		}
	}
	return in, true
}

func normalizeType(t string) string {
	switch t = strings.ToLower(strings.TrimSpace(t)); t {
	case TypeLocation, TypeDirections, TypeHours, TypeInfo:
		return t
	default:
		return TypeInfo
	}
}
