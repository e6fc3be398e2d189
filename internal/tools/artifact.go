package tools

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/model"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/store"
)

// ArtifactStore persists a named piece of agent output (report, code, data)
// so it survives the turn and is retrievable over the API.
type ArtifactStore struct {
	store *store.Store
}

func NewArtifactStore(st *store.Store) *ArtifactStore {
	return &ArtifactStore{store: st}
}

func (a *ArtifactStore) Definition() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        "artifact_store",
		Description: "Save a titled artifact (document, code, data) produced during this turn for later retrieval.",
		InputSchema: objectSchema(map[string]any{
			"title": map[string]any{
				"type":        "string",
				"description": "Short human-readable title",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "The artifact body",
			},
			"kind": map[string]any{
				"type":        "string",
				"description": "Artifact kind: text, markdown, code or data (default text)",
			},
		}, "title", "content"),
	}
}

func (a *ArtifactStore) Run(ctx context.Context, args, cfg map[string]any) (*Result, error) {
	title := argString(args, "title")
	content := argString(args, "content")
	if title == "" || content == "" {
		return nil, fmt.Errorf("title and content are required")
	}

	artifact := &store.Artifact{
		ID:      uuid.NewString(),
		TurnID:  argString(cfg, "turn_id"),
		Title:   title,
		Kind:    argString(args, "kind"),
		Content: content,
	}

	if err := a.store.SaveArtifact(artifact); err != nil {
		return nil, fmt.Errorf("save artifact: %w", err)
	}

	payload := map[string]any{
		"artifact_id": artifact.ID,
		"title":       artifact.Title,
	}
	return &Result{Payload: payload, Count: 1, HasCount: true}, nil
}

// ArtifactGet retrieves one stored artifact by id.
type ArtifactGet struct {
	store *store.Store
}

func NewArtifactGet(st *store.Store) *ArtifactGet {
	return &ArtifactGet{store: st}
}

func (a *ArtifactGet) Definition() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        "artifact_get",
		Description: "Retrieve a previously stored artifact by its id.",
		InputSchema: objectSchema(map[string]any{
			"artifact_id": map[string]any{
				"type":        "string",
				"description": "Id of the artifact to retrieve",
			},
		}, "artifact_id"),
	}
}

func (a *ArtifactGet) Run(ctx context.Context, args, cfg map[string]any) (*Result, error) {
	id := argString(args, "artifact_id")
	if id == "" {
		return nil, fmt.Errorf("artifact_id is required")
	}

	artifact, err := a.store.GetArtifact(id)
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	if artifact == nil {
		return &Result{Count: 0, HasCount: true}, nil
	}
	return &Result{Payload: artifact, Count: 1, HasCount: true}, nil
}

// ArtifactList lists stored artifacts without their bodies.
type ArtifactList struct {
	store *store.Store
}

func NewArtifactList(st *store.Store) *ArtifactList {
	return &ArtifactList{store: st}
}

func (a *ArtifactList) Definition() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        "artifact_list",
		Description: "List stored artifacts (id, title, kind) most recent first.",
		InputSchema: objectSchema(map[string]any{
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of artifacts (default 20)",
			},
		}),
	}
}

func (a *ArtifactList) Run(ctx context.Context, args, cfg map[string]any) (*Result, error) {
	artifacts, err := a.store.ListArtifacts(argInt(args, "limit", 20))
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}

	summaries := make([]map[string]any, 0, len(artifacts))
	for _, art := range artifacts {
		summaries = append(summaries, map[string]any{
			"artifact_id": art.ID,
			"title":       art.Title,
			"kind":        art.Kind,
			"created_at":  art.CreatedAt,
		})
	}
	return &Result{Payload: summaries, Count: len(summaries), HasCount: true}, nil
}
