package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/campusnav/internal/gateway"
	"github.com/kalambet/campusnav/internal/storage"
)

// scriptedLLM answers intent prompts with a canned JSON object keyed by the
// user query and synthesis prompts with a fixed sentence.
type scriptedLLM struct {
	mu      sync.Mutex
	intents map[string]string
	answer  func(user string) gateway.Completion
	prompts []string
}

func (s *scriptedLLM) Complete(_ context.Context, system, user string) gateway.Completion {
	s.mu.Lock()
	s.prompts = append(s.prompts, user)
	s.mu.Unlock()

	if strings.Contains(system, "Extract the location") {
		if js, ok := s.intents[user]; ok {
			return gateway.Completion{Text: js, OK: true}
		}
		return gateway.Completion{Text: "no idea", OK: true}
	}
	if s.answer != nil {
		return s.answer(user)
	}
	return gateway.Completion{Text: "Here is your answer.", Raw: `{"id":"resp-1"}`, OK: true, ModelVersion: "test-model-001"}
}

// failingLLM simulates an unreachable backend.
type failingLLM struct{}

func (failingLLM) Complete(context.Context, string, string) gateway.Completion {
	return gateway.Completion{Text: gateway.FallbackText, Error: "dial tcp: connection refused"}
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestProcess_WhereIsTheLibrary(t *testing.T) {
	llm := &scriptedLLM{intents: map[string]string{
		"Where is the library?": `{"location": "library", "query_type": "location"}`,
	}}
	n := NewNavigator(llm, openStore(t), "openai/gpt-oss-20b")

	res, err := n.Process(context.Background(), "Where is the library?", false)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if !res.Success || res.ResponseSource != SourceLLM {
		t.Errorf("success=%v source=%q", res.Success, res.ResponseSource)
	}
	if res.Building == nil || res.Building.Name != "Main Library" {
		t.Fatalf("building = %+v, want Main Library", res.Building)
	}
	if res.Route != nil {
		t.Errorf("route = %+v, want nil", res.Route)
	}
	if len(res.POIs) != 2 {
		t.Errorf("got %d POIs, want 2", len(res.POIs))
	}
	if res.Model == nil || *res.Model != "openai/gpt-oss-20b" {
		t.Errorf("model = %v", res.Model)
	}
	if res.ModelVersion == nil || *res.ModelVersion != "test-model-001" {
		t.Errorf("model_version = %v", res.ModelVersion)
	}
	if res.LLMRaw != nil {
		t.Errorf("llm_raw must be absent without debug, got %s", res.LLMRaw)
	}
	if _, err := time.Parse(time.RFC3339Nano, res.Timestamp); err != nil {
		t.Errorf("timestamp %q not RFC 3339: %v", res.Timestamp, err)
	}
	if res.RequestID == "" {
		t.Error("request_id is empty")
	}
}

func TestProcess_LibraryToStudentCenter(t *testing.T) {
	q := "How do I get from the library to the student center?"
	llm := &scriptedLLM{intents: map[string]string{
		q: `{"location": "student center", "from_location": "library", "query_type": "directions"}`,
	}}
	n := NewNavigator(llm, openStore(t), "m")

	res, err := n.Process(context.Background(), q, true)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if res.Building == nil || res.Building.Name != "Student Center" {
		t.Fatalf("building = %+v, want Student Center", res.Building)
	}
	if res.Route == nil {
		t.Fatal("expected a route")
	}
	if res.Route.DistanceMeters != 150 || res.Route.WalkTimeMinutes != 2 {
		t.Errorf("route = %dm/%dmin, want 150m/2min", res.Route.DistanceMeters, res.Route.WalkTimeMinutes)
	}
	if string(res.LLMRaw) != `{"id":"resp-1"}` {
		t.Errorf("llm_raw = %s", res.LLMRaw)
	}

	last := llm.prompts[len(llm.prompts)-1]
	if !strings.Contains(last, "walking directions from Main Library to Student Center") {
		t.Errorf("synthesis prompt did not use directions template: %q", last)
	}
}

func TestProcess_DirectionsWithoutOriginHasNoRoute(t *testing.T) {
	q := "How do I get to the gym?"
	llm := &scriptedLLM{intents: map[string]string{
		q: `{"location": "gym", "query_type": "directions"}`,
	}}
	res, err := NewNavigator(llm, openStore(t), "m").Process(context.Background(), q, false)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Building == nil || res.Building.ID != 5 {
		t.Fatalf("building = %+v", res.Building)
	}
	if res.Route != nil {
		t.Errorf("route must be nil without an origin, got %+v", res.Route)
	}
}

func TestProcess_DirectionsNoStoredRoute(t *testing.T) {
	q := "How do I get from the gym to admin?"
	llm := &scriptedLLM{intents: map[string]string{
		q: `{"location": "admin", "from_location": "gym", "query_type": "directions"}`,
	}}
	res, err := NewNavigator(llm, openStore(t), "m").Process(context.Background(), q, false)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Building == nil || res.Building.ID != 6 {
		t.Fatalf("building = %+v, want Administration Building", res.Building)
	}
	if res.Route != nil {
		t.Errorf("route = %+v, want nil when no route is stored", res.Route)
	}
	if res.ResponseSource != SourceLLM || strings.TrimSpace(res.Response) == "" {
		t.Errorf("source=%q response=%q", res.ResponseSource, res.Response)
	}

	last := llm.prompts[len(llm.prompts)-1]
	if !strings.Contains(last, "Tell them about Administration Building location") {
		t.Errorf("synthesis prompt did not fall back to the informational template: %q", last)
	}
	if strings.Contains(last, "Route Information") || strings.Contains(last, "walking directions") {
		t.Errorf("synthesis prompt mentions a route: %q", last)
	}
}

func TestProcess_OriginIgnoredForNonDirections(t *testing.T) {
	q := "What's near the library in the student center?"
	llm := &scriptedLLM{intents: map[string]string{
		q: `{"location": "student center", "from_location": "library", "query_type": "info"}`,
	}}
	res, err := NewNavigator(llm, openStore(t), "m").Process(context.Background(), q, false)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Route != nil {
		t.Errorf("route must be nil for info intent, got %+v", res.Route)
	}
}

func TestProcess_UnknownLocation(t *testing.T) {
	q := "Where is the observatory?"
	llm := &scriptedLLM{intents: map[string]string{
		q: `{"location": "observatory", "query_type": "location"}`,
	}}
	res, err := NewNavigator(llm, openStore(t), "m").Process(context.Background(), q, false)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Building != nil || res.Route != nil {
		t.Errorf("expected nothing resolved, got %+v / %+v", res.Building, res.Route)
	}
	if res.POIs == nil || len(res.POIs) != 0 {
		t.Errorf("pois = %v, want empty list", res.POIs)
	}
	if res.Response == "" {
		t.Error("response must not be empty")
	}
}

func TestProcess_TransportFailure(t *testing.T) {
	n := NewNavigator(failingLLM{}, openStore(t), "")

	res, err := n.Process(context.Background(), "Where is the library?", true)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !res.Success {
		t.Error("success = false, want true")
	}
	if res.ResponseSource != SourceFallback {
		t.Errorf("response_source = %q, want fallback", res.ResponseSource)
	}
	if res.Response != gateway.FallbackText {
		t.Errorf("response = %q, want fallback text", res.Response)
	}
	if res.Model != nil || res.ModelVersion != nil {
		t.Errorf("model fields should be null, got %v / %v", res.Model, res.ModelVersion)
	}
	if res.LLMRaw != nil {
		t.Errorf("llm_raw must be absent on failure, got %s", res.LLMRaw)
	}
}

func TestProcess_ResponseNeverEmpty(t *testing.T) {
	queries := []string{"", "   ", "asdfghjkl", "Where is the library?", "{{{", "}"}
	llms := []gateway.Completer{
		failingLLM{},
		&scriptedLLM{intents: map[string]string{}},
	}
	for _, llm := range llms {
		n := NewNavigator(llm, openStore(t), "m")
		for _, q := range queries {
			res, err := n.Process(context.Background(), q, false)
			if err != nil {
				t.Fatalf("Process(%q): %v", q, err)
			}
			if strings.TrimSpace(res.Response) == "" {
				t.Errorf("Process(%q) returned an empty response", q)
			}
		}
	}
}

type brokenStore struct{}

func (brokenStore) FindBuilding(context.Context, string) (*storage.Building, error) {
	return nil, errors.New("database is locked")
}
func (brokenStore) GetRoute(context.Context, int64, int64) (*storage.Route, error) { return nil, nil }
func (brokenStore) GetPOIs(context.Context, int64) ([]storage.POI, error)         { return nil, nil }

// nilPOIStore resolves every name to one building and has no POI rows.
type nilPOIStore struct{}

func (nilPOIStore) FindBuilding(context.Context, string) (*storage.Building, error) {
	return &storage.Building{ID: 9, Name: "Music Hall"}, nil
}
func (nilPOIStore) GetRoute(context.Context, int64, int64) (*storage.Route, error) { return nil, nil }
func (nilPOIStore) GetPOIs(context.Context, int64) ([]storage.POI, error)         { return nil, nil }

func TestProcess_NilPOIsEncodeAsEmptyList(t *testing.T) {
	llm := &scriptedLLM{intents: map[string]string{
		"Where is the music hall?": `{"location": "music hall", "query_type": "location"}`,
	}}
	res, err := NewNavigator(llm, nilPOIStore{}, "m").Process(context.Background(), "Where is the music hall?", false)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	out, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(out), `"pois":[]`) {
		t.Errorf("pois should encode as an empty list: %s", out)
	}
}

func TestProcess_StoreErrorIsReturned(t *testing.T) {
	llm := &scriptedLLM{intents: map[string]string{
		"Where is the library?": `{"location": "library", "query_type": "location"}`,
	}}
	_, err := NewNavigator(llm, brokenStore{}, "m").Process(context.Background(), "Where is the library?", false)
	if err == nil {
		t.Fatal("expected store error")
	}
	if !strings.Contains(err.Error(), "database is locked") {
		t.Errorf("error = %q, want wrapped store error", err)
	}
}

func TestProcess_DebugRawNonJSON(t *testing.T) {
	llm := &scriptedLLM{
		intents: map[string]string{"q": `{"location":"gym","query_type":"hours"}`},
		answer: func(string) gateway.Completion {
			return gateway.Completion{Text: "Open late.", Raw: "plain text payload", OK: true}
		},
	}
	res, err := NewNavigator(llm, openStore(t), "m").Process(context.Background(), "q", true)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	var s string
	if err := json.Unmarshal(res.LLMRaw, &s); err != nil || s != "plain text payload" {
		t.Errorf("llm_raw = %s, want JSON string", res.LLMRaw)
	}
}

func TestProcess_ConcurrentRequestsKeepOwnProvenance(t *testing.T) {
	const workers = 16
	intents := make(map[string]string, workers)
	for i := range workers {
		intents[fmt.Sprintf("query %d", i)] = `{"location":"library","query_type":"location"}`
	}
	llm := &scriptedLLM{
		intents: intents,
		answer: func(user string) gateway.Completion {
			// Echo the original query back so each result can be checked.
			start := strings.Index(user, "'")
			end := strings.Index(user[start+1:], "'")
			q := user[start+1 : start+1+end]
			if strings.HasSuffix(q, "3") || strings.HasSuffix(q, "7") {
				return gateway.Completion{Text: gateway.FallbackText, Error: "boom"}
			}
			raw, _ := json.Marshal(map[string]string{"query": q})
			return gateway.Completion{Text: "answer for " + q, Raw: string(raw), OK: true}
		},
	}
	n := NewNavigator(llm, openStore(t), "m")

	var wg sync.WaitGroup
	results := make([]QueryResult, workers)
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = n.Process(context.Background(), fmt.Sprintf("query %d", i), true)
		}(i)
	}
	wg.Wait()

	ids := make(map[string]bool)
	for i, res := range results {
		if errs[i] != nil {
			t.Fatalf("query %d: %v", i, errs[i])
		}
		q := fmt.Sprintf("query %d", i)
		failed := strings.HasSuffix(q, "3") || strings.HasSuffix(q, "7")
		if failed {
			if res.ResponseSource != SourceFallback || res.LLMRaw != nil {
				t.Errorf("%s: source=%q raw=%s, want fallback without raw", q, res.ResponseSource, res.LLMRaw)
			}
			continue
		}
		if res.ResponseSource != SourceLLM || res.Response != "answer for "+q {
			t.Errorf("%s: got source=%q response=%q", q, res.ResponseSource, res.Response)
		}
		var raw map[string]string
		if err := json.Unmarshal(res.LLMRaw, &raw); err != nil || raw["query"] != q {
			t.Errorf("%s: llm_raw = %s belongs to another request", q, res.LLMRaw)
		}
		if ids[res.RequestID] {
			t.Errorf("duplicate request_id %s", res.RequestID)
		}
		ids[res.RequestID] = true
	}
}
