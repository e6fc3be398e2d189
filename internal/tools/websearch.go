package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/promptlyagentai/promptlyagent-sub003/internal/model"
)

const (
	defaultSearchResults = 5
	maxSearchResults     = 20
	searchBodyLimit      = 2 << 20
)

// SearchHit is one result row returned to the model.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearch queries a SearxNG-compatible JSON endpoint.
type WebSearch struct {
	endpoint string
	client   *http.Client
}

func NewWebSearch(endpoint string) *WebSearch {
	return &WebSearch{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *WebSearch) Definition() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        "web_search",
		Description: "Search the web and return a list of result titles, URLs and snippets.",
		InputSchema: objectSchema(map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query",
			},
			"max_results": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results to return (default 5)",
			},
		}, "query"),
	}
}

func (w *WebSearch) Run(ctx context.Context, args, cfg map[string]any) (*Result, error) {
	query := argString(args, "query")
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	maxResults := argInt(args, "max_results", defaultSearchResults)
	if maxResults < 1 {
		maxResults = defaultSearchResults
	}
	if maxResults > maxSearchResults {
		maxResults = maxSearchResults
	}

	endpoint := w.endpoint
	if v, ok := cfg["endpoint"].(string); ok && v != "" {
		endpoint = strings.TrimSuffix(v, "/")
	}
	if endpoint == "" {
		return nil, fmt.Errorf("no search endpoint configured")
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	searchURL := endpoint + "/search?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, searchBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var parsed struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	hits := make([]SearchHit, 0, maxResults)
	for _, r := range parsed.Results {
		if r.URL == "" || r.Title == "" {
			continue
		}
		hits = append(hits, SearchHit{Title: r.Title, URL: r.URL, Snippet: r.Content})
		if len(hits) >= maxResults {
			break
		}
	}

	return &Result{Payload: hits, Count: len(hits), HasCount: true}, nil
}
