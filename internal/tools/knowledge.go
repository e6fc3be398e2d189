package tools

import (
	"context"
	"fmt"

	"github.com/promptlyagentai/promptlyagent-sub003/internal/model"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/store"
)

// KnowledgeSearch queries the local full-text knowledge base.
type KnowledgeSearch struct {
	store *store.Store
}

func NewKnowledgeSearch(st *store.Store) *KnowledgeSearch {
	return &KnowledgeSearch{store: st}
}

func (k *KnowledgeSearch) Definition() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        "knowledge_search",
		Description: "Search the local knowledge base for previously ingested documents and notes.",
		InputSchema: objectSchema(map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Full-text search query",
			},
			"collection": map[string]any{
				"type":        "string",
				"description": "Restrict the search to one collection (optional)",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of hits (default 10)",
			},
		}, "query"),
	}
}

func (k *KnowledgeSearch) Run(ctx context.Context, args, cfg map[string]any) (*Result, error) {
	query := argString(args, "query")
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	collection := argString(args, "collection")
	if collection == "" {
		collection = argString(cfg, "collection")
	}
	limit := argInt(args, "limit", 10)

	hits, err := k.store.SearchKnowledge(query, collection, limit)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}

	return &Result{Payload: hits, Count: len(hits), HasCount: true}, nil
}
