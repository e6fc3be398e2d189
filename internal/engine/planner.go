package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/promptlyagentai/promptlyagent-sub003/internal/config"
)

// Planner turns a user query into a WorkflowPlan by invoking the designated
// workflow agent. Invalid plans are rejected with feedback and retried; when
// every attempt fails the planner degrades to a simple single-node plan
// against the default agent.
type Planner struct {
	invoker  *Invoker
	catalog  Catalog
	attempts int
}

func NewPlanner(invoker *Invoker, catalog Catalog, cfg config.EngineConfig) *Planner {
	attempts := cfg.PlannerAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Planner{invoker: invoker, catalog: catalog, attempts: attempts}
}

// Plan never fails outright short of context cancellation: a planner that
// cannot produce a valid plan yields the fallback simple plan.
func (p *Planner) Plan(ctx context.Context, tctx TurnContext, query string) (*WorkflowPlan, error) {
	research := p.researchAgents()
	synthesizers := p.catalog.ByType(AgentSynthesizer)

	planners := p.catalog.ByType(AgentWorkflow)
	if len(planners) == 0 || len(research) == 0 {
		slog.Warn("no workflow agent available, using simple plan")
		return p.fallback(query), nil
	}
	plannerAgent := planners[0]

	input := buildPlannerInput(query, research, synthesizers)

	for attempt := 1; attempt <= p.attempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		res, err := p.invoker.Invoke(ctx, plannerAgent, tctx, input)
		if err != nil {
			slog.Warn("planner invocation failed", "attempt", attempt, "error", err)
			continue
		}

		plan, err := parsePlan(res.Output)
		if err == nil {
			err = validatePlan(plan, research, synthesizers)
		}
		if err != nil {
			slog.Warn("plan rejected", "attempt", attempt, "error", err)
			input = fmt.Sprintf("%s\n\nYour previous plan was rejected: %v.\nProduce a corrected plan. Output only the JSON object.", input, err)
			continue
		}

		p.normalize(plan, query)
		slog.Info("plan accepted",
			"strategy", plan.Strategy,
			"stages", len(plan.Stages),
			"nodes", plan.NodeCount(),
			"attempt", attempt)
		return plan, nil
	}

	slog.Warn("planning failed, using simple plan", "attempts", p.attempts)
	return p.fallback(query), nil
}

func (p *Planner) researchAgents() []*AgentDescriptor {
	var out []*AgentDescriptor
	for _, t := range []AgentType{AgentIndividual, AgentDirect, AgentPromptly} {
		out = append(out, p.catalog.ByType(t)...)
	}
	return out
}

func (p *Planner) fallback(query string) *WorkflowPlan {
	node := Node{Input: query}
	if agent := p.catalog.DefaultAgent(); agent != nil {
		node.AgentID = agent.ID
		node.AgentName = agent.Name
	}
	return &WorkflowPlan{
		OriginalQuery: query,
		Strategy:      PlanSimple,
		Stages: []Stage{{
			Type:  StageSequential,
			Nodes: []Node{node},
		}},
	}
}

func (p *Planner) normalize(plan *WorkflowPlan, query string) {
	plan.OriginalQuery = query
	for si := range plan.Stages {
		for ni := range plan.Stages[si].Nodes {
			node := &plan.Stages[si].Nodes[ni]
			if agent, ok := p.catalog.Get(node.AgentID); ok && node.AgentName == "" {
				node.AgentName = agent.Name
			}
		}
	}
}

func buildPlannerInput(query string, research, synthesizers []*AgentDescriptor) string {
	var sb strings.Builder

	sb.WriteString("Plan the execution of the user query below.\n\nResearch agents:\n")
	for _, a := range research {
		fmt.Fprintf(&sb, "- %s (%s): %s\n", a.ID, a.Type, a.Description)
	}

	sb.WriteString("\nSynthesizer agents:\n")
	if len(synthesizers) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, a := range synthesizers {
		fmt.Fprintf(&sb, "- %s: %s\n", a.ID, a.Description)
	}

	sb.WriteString(`
Respond with a single JSON object:
{
  "strategy": "simple" | "sequential" | "parallel" | "mixed",
  "stages": [{"type": "parallel" | "sequential", "nodes": [{"agent_id": "...", "input": "...", "rationale": "..."}]}],
  "synthesizer_agent_id": "...",
  "estimated_duration_seconds": 60
}

Rules:
- "simple": one stage with one node and no synthesizer_agent_id.
- "parallel": one parallel stage with two or more independent nodes and a synthesizer_agent_id.
- "sequential": one or more sequential stages of exactly one node each; later nodes receive earlier output.
- "mixed": two or more stages mixing both types.
- agent_id values must come from the research agent list; synthesizer_agent_id from the synthesizer list.
- Nodes inside a parallel stage must not depend on each other's output.

User query: `)
	sb.WriteString(query)
	return sb.String()
}

// parsePlan extracts the first balanced JSON object from the model output and
// decodes it. Planner agents are told to emit bare JSON, but prose or code
// fences around the object are tolerated.
func parsePlan(output string) (*WorkflowPlan, error) {
	raw, err := extractJSONObject(output)
	if err != nil {
		return nil, err
	}

	var plan WorkflowPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &plan, nil
}

// extractJSONObject returns the first {...} with balanced braces, skipping
// brace characters inside JSON strings.
func extractJSONObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object in output")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in output")
}

// validatePlan enforces the per-strategy shape rules and agent references.
func validatePlan(plan *WorkflowPlan, research, synthesizers []*AgentDescriptor) error {
	var violations []string
	add := func(format string, args ...any) {
		violations = append(violations, fmt.Sprintf(format, args...))
	}

	researchIDs := make(map[string]bool, len(research))
	for _, a := range research {
		researchIDs[a.ID] = true
	}
	synthIDs := make(map[string]bool, len(synthesizers))
	for _, a := range synthesizers {
		synthIDs[a.ID] = true
	}

	if len(plan.Stages) == 0 {
		add("plan has no stages")
	}
	for si, stage := range plan.Stages {
		if stage.Type != StageParallel && stage.Type != StageSequential {
			add("stage %d has invalid type %q", si, stage.Type)
		}
		if len(stage.Nodes) == 0 {
			add("stage %d has no nodes", si)
		}
		for ni, node := range stage.Nodes {
			if node.AgentID == "" {
				add("stage %d node %d has no agent_id", si, ni)
			} else if !researchIDs[node.AgentID] {
				add("stage %d node %d references unknown research agent %q", si, ni, node.AgentID)
			}
			if strings.TrimSpace(node.Input) == "" {
				add("stage %d node %d has empty input", si, ni)
			}
		}
	}

	switch plan.Strategy {
	case PlanSimple:
		if len(plan.Stages) != 1 || plan.NodeCount() != 1 {
			add("simple strategy requires exactly one stage with one node")
		}
		if plan.SynthesizerAgentID != "" {
			add("simple strategy must not set synthesizer_agent_id")
		}
	case PlanParallel:
		if len(plan.Stages) != 1 || plan.Stages[0].Type != StageParallel {
			add("parallel strategy requires exactly one parallel stage")
		} else if len(plan.Stages[0].Nodes) < 2 {
			add("parallel strategy requires at least two nodes")
		}
		if plan.NodeCount() > 1 && plan.SynthesizerAgentID == "" {
			add("parallel strategy with multiple nodes requires synthesizer_agent_id")
		}
	case PlanSequential:
		for si, stage := range plan.Stages {
			if stage.Type != StageSequential {
				add("sequential strategy stage %d must be sequential", si)
			}
			if len(stage.Nodes) != 1 {
				add("sequential strategy stage %d must have exactly one node", si)
			}
		}
	case PlanMixed:
		if len(plan.Stages) < 2 {
			add("mixed strategy requires at least two stages")
		}
		var hasParallel, hasSequential bool
		for _, stage := range plan.Stages {
			switch stage.Type {
			case StageParallel:
				hasParallel = true
			case StageSequential:
				hasSequential = true
			}
		}
		if !hasParallel || !hasSequential {
			add("mixed strategy requires both parallel and sequential stages")
		}
	default:
		add("unknown strategy %q", plan.Strategy)
	}

	// The synthesizer must come from the synthesizer catalog, never from the
	// research roster, regardless of what the planner picked.
	if plan.SynthesizerAgentID != "" && !synthIDs[plan.SynthesizerAgentID] {
		add("synthesizer_agent_id %q is not a synthesizer agent", plan.SynthesizerAgentID)
	}

	if len(violations) > 0 {
		return fmt.Errorf("%w: %s", ErrPlanValidation, strings.Join(violations, "; "))
	}
	return nil
}
