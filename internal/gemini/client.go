package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultBaseURL is the public Generative Language API root.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

const defaultTimeout = 60 * time.Second

// Part is a single piece of content. Only text parts are used.
type Part struct {
	Text string `json:"text"`
}

// Content is a role-tagged list of parts.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type generateRequest struct {
	SystemInstruction *Content  `json:"systemInstruction,omitempty"`
	Contents          []Content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content Content `json:"content"`
	} `json:"candidates"`
	ModelVersion string `json:"modelVersion"`
}

type modelsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Result is a completed generateContent call.
type Result struct {
	Text         string
	Raw          string
	ModelVersion string
}

// Client calls the Gemini generateContent REST endpoint.
type Client struct {
	http *resty.Client
}

// New creates a Gemini client. An empty baseURL uses DefaultBaseURL and a
// zero timeout uses 60s.
func New(apiKey, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("x-goog-api-key", apiKey)

	return &Client{http: client}
}

// Generate sends one system instruction and one user turn to model.
func (c *Client) Generate(ctx context.Context, model, system, user string) (Result, error) {
	req := generateRequest{
		Contents: []Content{{Role: "user", Parts: []Part{{Text: user}}}},
	}
	if system != "" {
		req.SystemInstruction = &Content{Parts: []Part{{Text: system}}}
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("model", strings.TrimPrefix(model, "models/")).
		SetBody(req).
		Post("/models/{model}:generateContent")
	if err != nil {
		return Result{}, fmt.Errorf("calling generateContent: %w", err)
	}
	if resp.IsError() {
		return Result{}, fmt.Errorf("generateContent: unexpected status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	return extract(resp.Body()), nil
}

// extract concatenates the text parts of the first candidate, falling back
// to the payload itself.
func extract(raw []byte) Result {
	res := Result{Raw: string(raw), Text: string(raw)}

	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return res
	}
	res.ModelVersion = gr.ModelVersion

	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return res
	}
	var sb strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	res.Text = sb.String()
	return res
}

// ListModels returns the model ids available to the key, without the
// "models/" prefix.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	var mr modelsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&mr).
		Get("/models")
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("listing models: unexpected status %d", resp.StatusCode())
	}

	names := make([]string, 0, len(mr.Models))
	for _, m := range mr.Models {
		names = append(names, strings.TrimPrefix(m.Name, "models/"))
	}
	return names, nil
}
