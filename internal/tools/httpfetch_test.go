package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	f := NewHTTPFetch(1024)
	res, err := f.Run(context.Background(), map[string]any{"url": srv.URL}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	payload := res.Payload.(map[string]any)
	if payload["body"] != "hello world" {
		t.Errorf("unexpected body: %v", payload["body"])
	}
	if payload["status"] != 200 {
		t.Errorf("unexpected status: %v", payload["status"])
	}
	if res.Count != 1 {
		t.Errorf("expected count 1, got %d", res.Count)
	}
}

func TestHTTPFetchTruncation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("a", 4096)))
	}))
	defer srv.Close()

	f := NewHTTPFetch(100)
	res, err := f.Run(context.Background(), map[string]any{"url": srv.URL}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	payload := res.Payload.(map[string]any)
	if len(payload["body"].(string)) != 100 {
		t.Errorf("expected 100 byte body, got %d", len(payload["body"].(string)))
	}
	if payload["truncated"] != true {
		t.Error("expected truncated flag")
	}
}

func TestHTTPFetchErrorStatusCountsZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewHTTPFetch(1024)
	res, err := f.Run(context.Background(), map[string]any{"url": srv.URL}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Count != 0 {
		t.Errorf("404 should produce zero results, got %d", res.Count)
	}
}

func TestHTTPFetchRejectsBadScheme(t *testing.T) {
	f := NewHTTPFetch(1024)
	if _, err := f.Run(context.Background(), map[string]any{"url": "file:///etc/passwd"}, nil); err == nil {
		t.Fatal("expected error for non-http scheme")
	}
}
