package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/campusnav/internal/composer"
	"github.com/kalambet/campusnav/internal/gateway"
	"github.com/kalambet/campusnav/internal/intent"
	"github.com/kalambet/campusnav/internal/resolve"
	"github.com/kalambet/campusnav/internal/storage"
)

// Response sources.
const (
	SourceLLM      = "llm"
	SourceFallback = "fallback"
)

// KnowledgeStore is the read surface of the campus database the pipeline needs.
type KnowledgeStore interface {
	FindBuilding(ctx context.Context, name string) (*storage.Building, error)
	GetRoute(ctx context.Context, fromID, toID int64) (*storage.Route, error)
	GetPOIs(ctx context.Context, buildingID int64) ([]storage.POI, error)
}

// QueryResult is the answer to one query plus its provenance.
type QueryResult struct {
	Success        bool              `json:"success"`
	RequestID      string            `json:"request_id"`
	Timestamp      string            `json:"timestamp"`
	Response       string            `json:"response"`
	ResponseSource string            `json:"response_source"`
	Model          *string           `json:"model"`
	ModelVersion   *string           `json:"model_version"`
	Building       *storage.Building `json:"building"`
	Route          *storage.Route    `json:"route"`
	POIs           []storage.POI     `json:"pois"`
	LLMRaw         json.RawMessage   `json:"llm_raw,omitempty"`
}

// Navigator runs the query pipeline: intent extraction, building resolution,
// route and POI lookup, response synthesis. It holds no per-request state and
// is safe for concurrent use.
type Navigator struct {
	extractor *intent.Extractor
	resolver  *resolve.Resolver
	store     KnowledgeStore
	synth     *composer.Synthesizer
	model     string

	now   func() time.Time
	newID func() string
}

// NewNavigator wires a Navigator. model is reported in every result; pass ""
// when no backend is configured.
func NewNavigator(llm gateway.Completer, store KnowledgeStore, model string) *Navigator {
	return &Navigator{
		extractor: intent.NewExtractor(llm),
		resolver:  resolve.New(store),
		store:     store,
		synth:     composer.NewSynthesizer(llm),
		model:     model,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Process answers query in a single pass. Model failures never fail the
// call: they surface as response_source "fallback" with Success still true.
// Only knowledge store failures return an error. The raw model payload is
// attached when debug is set and the final model call succeeded.
func (n *Navigator) Process(ctx context.Context, query string, debug bool) (QueryResult, error) {
	start := n.now()
	requestID := n.newID()
	log := slog.With("request_id", requestID)

	in := n.extractor.Extract(ctx, query)
	in.OriginalQuery = query
	log.Debug("intent extracted", "location", in.Location, "from_location", in.FromLocation, "query_type", in.QueryType)

	building, err := n.resolver.Resolve(ctx, in.Location)
	if err != nil {
		return QueryResult{}, fmt.Errorf("resolving destination %q: %w", in.Location, err)
	}

	var origin *storage.Building
	if in.QueryType == intent.TypeDirections && in.FromLocation != "" {
		origin, err = n.resolver.Resolve(ctx, in.FromLocation)
		if err != nil {
			return QueryResult{}, fmt.Errorf("resolving origin %q: %w", in.FromLocation, err)
		}
	}

	var route *storage.Route
	if in.QueryType == intent.TypeDirections && building != nil && origin != nil {
		route, err = n.store.GetRoute(ctx, origin.ID, building.ID)
		if err != nil {
			return QueryResult{}, fmt.Errorf("looking up route: %w", err)
		}
	}

	pois := []storage.POI{}
	if building != nil {
		pois, err = n.store.GetPOIs(ctx, building.ID)
		if err != nil {
			return QueryResult{}, fmt.Errorf("looking up points of interest: %w", err)
		}
		if pois == nil {
			pois = []storage.POI{}
		}
	}

	completion := n.synth.Synthesize(ctx, in, building, route, origin)

	res := QueryResult{
		Success:        true,
		RequestID:      requestID,
		Timestamp:      n.now().UTC().Format(time.RFC3339Nano),
		Response:       completion.Text,
		ResponseSource: SourceFallback,
		Model:          optional(n.model),
		ModelVersion:   optional(completion.ModelVersion),
		Building:       building,
		Route:          route,
		POIs:           pois,
	}
	if completion.OK {
		res.ResponseSource = SourceLLM
	}
	if debug && completion.OK && completion.Raw != "" {
		res.LLMRaw = rawJSON(completion.Raw)
	}

	log.Info("query processed",
		"query_type", in.QueryType,
		"building_found", building != nil,
		"route_found", route != nil,
		"source", res.ResponseSource,
		"duration_ms", n.now().Sub(start).Milliseconds(),
	)
	return res, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// rawJSON embeds payload as is when it is JSON, and as a JSON string otherwise.
func rawJSON(payload string) json.RawMessage {
	if json.Valid([]byte(payload)) {
		return json.RawMessage(payload)
	}
	b, _ := json.Marshal(payload)
	return b
}
