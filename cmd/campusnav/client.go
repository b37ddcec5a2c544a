package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kalambet/campusnav/internal/pipeline"
	"github.com/kalambet/campusnav/internal/storage"
)

// apiClient talks to a running campusnav server.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable at %s, is campusnav serve running? (%w)", c.baseURL, err)
	}
	return resp, nil
}

// ask sends a query to POST /api.
func (c *apiClient) ask(ctx context.Context, query string, debug bool) (pipeline.QueryResult, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api", map[string]any{"query": query, "debug": debug})
	if err != nil {
		return pipeline.QueryResult{}, err
	}
	var result pipeline.QueryResult
	if err := decodeJSON(resp, &result); err != nil {
		return pipeline.QueryResult{}, err
	}
	return result, nil
}

// buildings lists all buildings, or searches them when q is set.
func (c *apiClient) buildings(ctx context.Context, q string) ([]storage.Building, error) {
	path := "/api/buildings"
	if q != "" {
		path = "/api/search?q=" + url.QueryEscape(q)
	}
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Buildings []storage.Building `json:"buildings"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return out.Buildings, nil
}

// decodeJSON decodes a success body into v. Error bodies carry the
// {"success":false,"error":...} envelope; its message is surfaced.
func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		var env struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &env) == nil && env.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, env.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
