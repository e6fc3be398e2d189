package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/promptlyagentai/promptlyagent-sub003/internal/model"
)

const routeTimeout = 30 * time.Second

// Router picks the agent for a turn. Explicit selections are honored, an
// "@agent" query prefix addresses an agent directly, and everything else is
// routed by a model call over the catalog descriptions, falling back to the
// default agent.
type Router struct {
	models  *model.Registry
	catalog Catalog
}

func NewRouter(models *model.Registry, catalog Catalog) *Router {
	return &Router{models: models, catalog: catalog}
}

// Route returns the selected agent and the query stripped of any addressing
// prefix. It fails only when no default agent is configured.
func (r *Router) Route(ctx context.Context, req TurnRequest) (*AgentDescriptor, string, error) {
	query := req.Query

	if req.AgentID != "" {
		if agent, ok := r.catalog.Get(req.AgentID); ok {
			return agent, query, nil
		}
		slog.Warn("requested agent not found, routing instead", "agent", req.AgentID)
	}

	if strings.HasPrefix(query, "@") {
		parts := strings.SplitN(query, " ", 2)
		name := strings.TrimPrefix(parts[0], "@")
		if agent, ok := r.catalog.Get(name); ok && routable(agent) {
			cleaned := ""
			if len(parts) > 1 {
				cleaned = parts[1]
			}
			return agent, cleaned, nil
		}
		// Unknown agent name in prefix falls through to smart routing.
	}

	candidates := r.candidates()
	if len(candidates) > 1 {
		if agent := r.routeByModel(ctx, candidates, query); agent != nil {
			return agent, query, nil
		}
	}

	agent := r.catalog.DefaultAgent()
	if agent == nil {
		return nil, query, ErrNoDefaultAgent
	}
	return agent, query, nil
}

// routable reports whether an agent may be addressed by a user turn.
// Synthesizer and qa agents only serve internal pipeline passes.
func routable(a *AgentDescriptor) bool {
	switch a.Type {
	case AgentSynthesizer, AgentQA:
		return false
	default:
		return true
	}
}

func (r *Router) candidates() []*AgentDescriptor {
	var out []*AgentDescriptor
	for _, a := range r.catalog.All() {
		if routable(a) {
			out = append(out, a)
		}
	}
	return out
}

func (r *Router) routeByModel(ctx context.Context, candidates []*AgentDescriptor, query string) *AgentDescriptor {
	client, modelID, err := r.models.Resolve("")
	if err != nil {
		slog.Debug("route model unavailable, using default agent", "error", err)
		return nil
	}

	rctx, cancel := context.WithTimeout(ctx, routeTimeout)
	defer cancel()

	resp, err := client.Complete(rctx, model.Request{
		Model:    modelID,
		Messages: []model.Message{model.UserMessage(buildRoutingInput(candidates, query))},
	})
	if err != nil {
		slog.Debug("route query failed, using default agent", "error", err)
		return nil
	}

	picked := strings.Trim(strings.TrimSpace(resp.Text), "`\"'")
	if agent, ok := r.catalog.Get(picked); ok && routable(agent) {
		return agent
	}
	slog.Debug("route query returned unknown agent, using default", "agent", picked)
	return nil
}

func buildRoutingInput(candidates []*AgentDescriptor, query string) string {
	var sb strings.Builder
	sb.WriteString("You are a query router. Given the user's query, determine which agent should handle it.\n\n")
	sb.WriteString("Available agents:\n")
	for _, a := range candidates {
		fmt.Fprintf(&sb, "- %s: %s\n", a.ID, a.Description)
	}
	sb.WriteString("\nUser query: ")
	sb.WriteString(query)
	sb.WriteString("\n\nRespond with ONLY the agent id, nothing else.")
	return sb.String()
}
