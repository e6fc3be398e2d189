package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/promptlyagentai/promptlyagent-sub003/internal/model"
)

// HTTPFetch retrieves a single URL and hands the (size-capped) body to the
// model. It never follows non-http(s) schemes.
type HTTPFetch struct {
	client   *http.Client
	maxBytes int64
}

func NewHTTPFetch(maxBytes int64) *HTTPFetch {
	if maxBytes <= 0 {
		maxBytes = 256 * 1024
	}
	return &HTTPFetch{
		client:   &http.Client{Timeout: 60 * time.Second},
		maxBytes: maxBytes,
	}
}

func (f *HTTPFetch) Definition() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        "http_fetch",
		Description: "Fetch the content of a URL. Returns status, content type and the response body (truncated to a size limit).",
		InputSchema: objectSchema(map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The http(s) URL to fetch",
			},
		}, "url"),
	}
}

func (f *HTTPFetch) Run(ctx context.Context, args, cfg map[string]any) (*Result, error) {
	target := argString(args, "url")
	if target == "" {
		return nil, fmt.Errorf("url is required")
	}
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		return nil, fmt.Errorf("unsupported url scheme: %s", target)
	}

	maxBytes := f.maxBytes
	if v := argInt(cfg, "max_bytes", 0); v > 0 {
		maxBytes = int64(v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "promptly/1.0")
	req.Header.Set("Accept", "text/html,application/json,text/plain,*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	truncated := int64(len(body)) == maxBytes

	payload := map[string]any{
		"url":          target,
		"status":       resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"body":         string(body),
		"truncated":    truncated,
	}

	count := 0
	if resp.StatusCode < 400 && len(body) > 0 {
		count = 1
	}

	return &Result{Payload: payload, Count: count, HasCount: true}, nil
}
