package engine

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/promptlyagentai/promptlyagent-sub003/internal/model"
)

// testCatalog is an in-memory Catalog preserving registration order.
type testCatalog struct {
	order     []*AgentDescriptor
	byID      map[string]*AgentDescriptor
	defaultID string
}

func newTestCatalog(defaultID string, agents ...*AgentDescriptor) *testCatalog {
	c := &testCatalog{byID: make(map[string]*AgentDescriptor), defaultID: defaultID}
	for _, a := range agents {
		c.order = append(c.order, a)
		c.byID[a.ID] = a
	}
	return c
}

func (c *testCatalog) Get(id string) (*AgentDescriptor, bool) {
	a, ok := c.byID[id]
	return a, ok
}

func (c *testCatalog) ByType(t AgentType) []*AgentDescriptor {
	var out []*AgentDescriptor
	for _, a := range c.order {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}

func (c *testCatalog) All() []*AgentDescriptor {
	return c.order
}

func (c *testCatalog) DefaultAgent() *AgentDescriptor {
	if a, ok := c.byID[c.defaultID]; ok {
		return a
	}
	return nil
}

func plannerCatalog() *testCatalog {
	return newTestCatalog("general",
		&AgentDescriptor{ID: "planner", Name: "Planner", Type: AgentWorkflow},
		&AgentDescriptor{ID: "ra", Name: "Researcher A", Type: AgentIndividual, Description: "researches topics"},
		&AgentDescriptor{ID: "rb", Name: "Researcher B", Type: AgentIndividual, Description: "researches topics"},
		&AgentDescriptor{ID: "general", Name: "General", Type: AgentPromptly, Description: "general assistant"},
		&AgentDescriptor{ID: "synth", Name: "Synthesizer", Type: AgentSynthesizer, Description: "merges results"},
	)
}

func TestPlanParallelCompareQuery(t *testing.T) {
	planJSON := `{"strategy":"parallel","stages":[{"type":"parallel","nodes":[
		{"agent_id":"ra","input":"research A"},
		{"agent_id":"rb","input":"research B"}
	]}],"synthesizer_agent_id":"synth","estimated_duration_seconds":90}`

	client := &scriptedClient{responses: []*model.Response{textResponse(planJSON)}}
	planner := NewPlanner(newTestInvoker(client), plannerCatalog(), testEngineConfig())

	plan, err := planner.Plan(context.Background(), TurnContext{}, "Compare A and B")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	if plan.Strategy != PlanParallel {
		t.Errorf("expected parallel strategy, got %s", plan.Strategy)
	}
	if len(plan.Stages) != 1 || len(plan.Stages[0].Nodes) != 2 {
		t.Fatalf("expected 1 stage with 2 nodes, got %+v", plan.Stages)
	}
	if plan.SynthesizerAgentID != "synth" {
		t.Errorf("expected synthesizer synth, got %s", plan.SynthesizerAgentID)
	}
	if plan.OriginalQuery != "Compare A and B" {
		t.Errorf("original query not set: %q", plan.OriginalQuery)
	}
	if plan.Stages[0].Nodes[0].AgentName != "Researcher A" {
		t.Errorf("agent name not filled in: %+v", plan.Stages[0].Nodes[0])
	}
}

func TestPlanRetriesWithFeedback(t *testing.T) {
	// First plan picks a research agent as synthesizer; second is corrected.
	bad := `{"strategy":"parallel","stages":[{"type":"parallel","nodes":[
		{"agent_id":"ra","input":"a"},{"agent_id":"rb","input":"b"}
	]}],"synthesizer_agent_id":"ra"}`
	good := `{"strategy":"parallel","stages":[{"type":"parallel","nodes":[
		{"agent_id":"ra","input":"a"},{"agent_id":"rb","input":"b"}
	]}],"synthesizer_agent_id":"synth"}`

	client := &scriptedClient{responses: []*model.Response{textResponse(bad), textResponse(good)}}
	planner := NewPlanner(newTestInvoker(client), plannerCatalog(), testEngineConfig())

	plan, err := planner.Plan(context.Background(), TurnContext{}, "q")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	if client.calls != 2 {
		t.Fatalf("expected 2 planner calls, got %d", client.calls)
	}
	if plan.SynthesizerAgentID != "synth" {
		t.Errorf("expected corrected synthesizer, got %s", plan.SynthesizerAgentID)
	}

	// The retry input must carry the rejection feedback.
	retryInput := client.requests[1].Messages[0].Content
	if !strings.Contains(retryInput, "rejected") || !strings.Contains(retryInput, "synthesizer") {
		t.Errorf("retry input missing feedback: %q", retryInput)
	}
}

func TestPlanFallsBackToSimple(t *testing.T) {
	client := &scriptedClient{responses: []*model.Response{
		textResponse("I cannot plan this."),
		textResponse("still no JSON here"),
	}}
	planner := NewPlanner(newTestInvoker(client), plannerCatalog(), testEngineConfig())

	plan, err := planner.Plan(context.Background(), TurnContext{}, "hello")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	if plan.Strategy != PlanSimple {
		t.Fatalf("expected simple fallback, got %s", plan.Strategy)
	}
	if plan.NodeCount() != 1 || plan.Stages[0].Nodes[0].AgentID != "general" {
		t.Errorf("fallback must route to the default agent: %+v", plan.Stages)
	}
	if plan.Stages[0].Nodes[0].Input != "hello" {
		t.Errorf("fallback input must be the original query: %+v", plan.Stages[0].Nodes[0])
	}
}

func TestPlanWithoutWorkflowAgent(t *testing.T) {
	catalog := newTestCatalog("general",
		&AgentDescriptor{ID: "general", Name: "General", Type: AgentPromptly},
	)
	client := &scriptedClient{}
	planner := NewPlanner(newTestInvoker(client), catalog, testEngineConfig())

	plan, err := planner.Plan(context.Background(), TurnContext{}, "q")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Strategy != PlanSimple || client.calls != 0 {
		t.Errorf("expected immediate simple plan without model calls, got %s after %d calls", plan.Strategy, client.calls)
	}
}

func TestValidatePlanShapes(t *testing.T) {
	research := []*AgentDescriptor{
		{ID: "ra", Type: AgentIndividual},
		{ID: "rb", Type: AgentIndividual},
	}
	synths := []*AgentDescriptor{{ID: "synth", Type: AgentSynthesizer}}

	node := func(id string) Node { return Node{AgentID: id, Input: "work"} }

	tests := []struct {
		name    string
		plan    WorkflowPlan
		wantErr bool
	}{
		{
			name: "valid simple",
			plan: WorkflowPlan{Strategy: PlanSimple, Stages: []Stage{
				{Type: StageSequential, Nodes: []Node{node("ra")}},
			}},
		},
		{
			name: "simple with synthesizer",
			plan: WorkflowPlan{Strategy: PlanSimple, SynthesizerAgentID: "synth", Stages: []Stage{
				{Type: StageSequential, Nodes: []Node{node("ra")}},
			}},
			wantErr: true,
		},
		{
			name: "simple with two nodes",
			plan: WorkflowPlan{Strategy: PlanSimple, Stages: []Stage{
				{Type: StageSequential, Nodes: []Node{node("ra"), node("rb")}},
			}},
			wantErr: true,
		},
		{
			name: "parallel single node",
			plan: WorkflowPlan{Strategy: PlanParallel, SynthesizerAgentID: "synth", Stages: []Stage{
				{Type: StageParallel, Nodes: []Node{node("ra")}},
			}},
			wantErr: true,
		},
		{
			name: "parallel without synthesizer",
			plan: WorkflowPlan{Strategy: PlanParallel, Stages: []Stage{
				{Type: StageParallel, Nodes: []Node{node("ra"), node("rb")}},
			}},
			wantErr: true,
		},
		{
			name: "valid sequential chain",
			plan: WorkflowPlan{Strategy: PlanSequential, Stages: []Stage{
				{Type: StageSequential, Nodes: []Node{node("ra")}},
				{Type: StageSequential, Nodes: []Node{node("rb")}},
			}},
		},
		{
			name: "sequential stage with two nodes",
			plan: WorkflowPlan{Strategy: PlanSequential, Stages: []Stage{
				{Type: StageSequential, Nodes: []Node{node("ra"), node("rb")}},
			}},
			wantErr: true,
		},
		{
			name: "valid mixed",
			plan: WorkflowPlan{Strategy: PlanMixed, SynthesizerAgentID: "synth", Stages: []Stage{
				{Type: StageParallel, Nodes: []Node{node("ra"), node("rb")}},
				{Type: StageSequential, Nodes: []Node{node("ra")}},
			}},
		},
		{
			name: "mixed all parallel",
			plan: WorkflowPlan{Strategy: PlanMixed, SynthesizerAgentID: "synth", Stages: []Stage{
				{Type: StageParallel, Nodes: []Node{node("ra"), node("rb")}},
				{Type: StageParallel, Nodes: []Node{node("ra"), node("rb")}},
			}},
			wantErr: true,
		},
		{
			name: "unknown agent",
			plan: WorkflowPlan{Strategy: PlanSimple, Stages: []Stage{
				{Type: StageSequential, Nodes: []Node{node("ghost")}},
			}},
			wantErr: true,
		},
		{
			name: "research agent as synthesizer",
			plan: WorkflowPlan{Strategy: PlanParallel, SynthesizerAgentID: "ra", Stages: []Stage{
				{Type: StageParallel, Nodes: []Node{node("ra"), node("rb")}},
			}},
			wantErr: true,
		},
		{
			name: "empty node input",
			plan: WorkflowPlan{Strategy: PlanSimple, Stages: []Stage{
				{Type: StageSequential, Nodes: []Node{{AgentID: "ra", Input: "  "}}},
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePlan(&tt.plan, research, synths)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected validation error")
				}
				if !errors.Is(err, ErrPlanValidation) {
					t.Errorf("expected ErrPlanValidation, got %v", err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, false},
		{"code fence", "```json\n{\"a\":1}\n```", `{"a":1}`, false},
		{"prose around", `Here is the plan: {"a":{"b":2}} hope it helps`, `{"a":{"b":2}}`, false},
		{"braces in strings", `{"text":"not a } brace {"}`, `{"text":"not a } brace {"}`, false},
		{"escaped quotes", `{"text":"say \"}\" loud"}`, `{"text":"say \"}\" loud"}`, false},
		{"no object", "just words", "", true},
		{"unbalanced", `{"a":1`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSONObject(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPlanJSONRoundTrip(t *testing.T) {
	plan := &WorkflowPlan{
		OriginalQuery:      "compare",
		Strategy:           PlanMixed,
		SynthesizerAgentID: "synth",
		Stages: []Stage{
			{Type: StageParallel, Nodes: []Node{
				{AgentID: "ra", AgentName: "A", Input: "first", Rationale: "because"},
				{AgentID: "rb", AgentName: "B", Input: "second"},
			}},
			{Type: StageSequential, Nodes: []Node{
				{AgentID: "ra", Input: "follow up"},
			}},
		},
		EstimatedDurationSeconds: 120,
	}

	data, err := json.Marshal(plan)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded WorkflowPlan
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if !reflect.DeepEqual(plan, &decoded) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", decoded, plan)
	}
}
