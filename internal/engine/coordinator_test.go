package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/promptlyagentai/promptlyagent-sub003/internal/model"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/tools"
)

// routingClient answers based on request content, which keeps parallel-stage
// tests deterministic regardless of completion order.
type routingClient struct {
	mu       sync.Mutex
	requests []model.Request
	respond  func(req model.Request) (*model.Response, error)
}

func (c *routingClient) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	return c.respond(req)
}

func (c *routingClient) Stream(ctx context.Context, req model.Request, fn func(model.Chunk)) (*model.Response, error) {
	return nil, model.ErrStreamingUnsupported
}

func (c *routingClient) recorded() []model.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Request, len(c.requests))
	copy(out, c.requests)
	return out
}

// userContent returns the latest user message of a request.
func userContent(req model.Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == model.RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}

func coordinatorCatalog() *testCatalog {
	return newTestCatalog("general",
		&AgentDescriptor{ID: "ra", Name: "Researcher A", Type: AgentIndividual, SystemPrompt: "AGENT:ra"},
		&AgentDescriptor{ID: "rb", Name: "Researcher B", Type: AgentIndividual, SystemPrompt: "AGENT:rb"},
		&AgentDescriptor{ID: "rc", Name: "Researcher C", Type: AgentIndividual, SystemPrompt: "AGENT:rc"},
		&AgentDescriptor{ID: "general", Name: "General", Type: AgentPromptly, SystemPrompt: "AGENT:general"},
		&AgentDescriptor{ID: "synth", Name: "Synthesizer", Type: AgentSynthesizer, SystemPrompt: "AGENT:synth"},
	)
}

func newTestCoordinator(client model.Client, publish EventFunc) *Coordinator {
	models := model.NewRegistry("test/m1")
	models.Register("test", client)
	inv := NewInvoker(models, tools.NewRegistry(), testEngineConfig())
	return NewCoordinator(inv, coordinatorCatalog(), testEngineConfig(), publish)
}

// agentOf extracts the agent marker from a request's system prompt. Rendered
// prompts may carry more below the marker line.
func agentOf(req model.Request) string {
	rest := strings.TrimPrefix(req.System, "AGENT:")
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

func TestExecutePlanParallelFailureIsolation(t *testing.T) {
	client := &routingClient{respond: func(req model.Request) (*model.Response, error) {
		switch agentOf(req) {
		case "rc":
			return nil, fmt.Errorf("model exploded")
		default:
			return textResponse("output from " + agentOf(req)), nil
		}
	}}

	var mu sync.Mutex
	var events []string
	coord := newTestCoordinator(client, func(event string, data map[string]any) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	})

	plan := &WorkflowPlan{
		OriginalQuery: "q",
		Strategy:      PlanMixed,
		Stages: []Stage{
			{Type: StageParallel, Nodes: []Node{
				{AgentID: "ra", Input: "task a"},
				{AgentID: "rb", Input: "task b"},
				{AgentID: "rc", Input: "task c"},
			}},
			{Type: StageSequential, Nodes: []Node{
				{AgentID: "general", Input: "wrap up"},
			}},
		},
	}

	results := coord.ExecutePlan(context.Background(), TurnContext{TurnID: "t1"}, plan)

	if len(results) != 2 {
		t.Fatalf("expected both stages to run, got %d", len(results))
	}

	first := results[0]
	if first.Status != StageStatusPartial {
		t.Errorf("expected partial stage, got %s", first.Status)
	}
	if len(first.Nodes) != 3 {
		t.Fatalf("expected 3 node results, got %d", len(first.Nodes))
	}

	var failed, ok int
	for _, n := range first.Nodes {
		if n.Failed() {
			failed++
		} else {
			ok++
		}
	}
	if failed != 1 || ok != 2 {
		t.Errorf("expected 2 successes and 1 failure, got %d/%d", ok, failed)
	}

	if results[1].Status != StageStatusCompleted {
		t.Errorf("second stage should complete, got %s", results[1].Status)
	}

	mu.Lock()
	defer mu.Unlock()
	var sawStageStarted, sawNodeFailed bool
	for _, e := range events {
		if e == "stage_started" {
			sawStageStarted = true
		}
		if e == "node_failed" {
			sawNodeFailed = true
		}
	}
	if !sawStageStarted || !sawNodeFailed {
		t.Errorf("missing progress events: %v", events)
	}
}

func TestExecutePlanSequentialChaining(t *testing.T) {
	client := &routingClient{respond: func(req model.Request) (*model.Response, error) {
		switch agentOf(req) {
		case "ra":
			return textResponse("FIRST RESULT"), nil
		default:
			return textResponse("second done"), nil
		}
	}}
	coord := newTestCoordinator(client, nil)

	plan := &WorkflowPlan{
		OriginalQuery: "q",
		Strategy:      PlanSequential,
		Stages: []Stage{
			{Type: StageSequential, Nodes: []Node{
				{AgentID: "ra", Input: "gather facts"},
				{AgentID: "rb", Input: "analyze them"},
			}},
		},
	}

	results := coord.ExecutePlan(context.Background(), TurnContext{TurnID: "t1"}, plan)
	if results[0].Status != StageStatusCompleted {
		t.Fatalf("stage failed: %+v", results[0])
	}

	var second string
	for _, req := range client.recorded() {
		if agentOf(req) == "rb" {
			second = userContent(req)
		}
	}

	if !strings.Contains(second, "Based on the following result:") {
		t.Errorf("chaining template missing: %q", second)
	}
	if !strings.Contains(second, "FIRST RESULT") {
		t.Errorf("prior output must pass through verbatim: %q", second)
	}
	if !strings.Contains(second, "Now: analyze them") {
		t.Errorf("node input missing from chained prompt: %q", second)
	}
}

func TestExecutePlanSequentialSkipsFailedOutput(t *testing.T) {
	client := &routingClient{respond: func(req model.Request) (*model.Response, error) {
		switch agentOf(req) {
		case "ra":
			return textResponse("GOOD OUTPUT"), nil
		case "rb":
			return nil, fmt.Errorf("down")
		default:
			return textResponse("done"), nil
		}
	}}
	coord := newTestCoordinator(client, nil)

	plan := &WorkflowPlan{
		Strategy: PlanSequential,
		Stages: []Stage{{Type: StageSequential, Nodes: []Node{
			{AgentID: "ra", Input: "one"},
			{AgentID: "rb", Input: "two"},
			{AgentID: "rc", Input: "three"},
		}}},
	}

	results := coord.ExecutePlan(context.Background(), TurnContext{}, plan)
	if results[0].Status != StageStatusPartial {
		t.Fatalf("expected partial, got %s", results[0].Status)
	}

	// rc chains from ra's output because rb produced nothing.
	var third string
	for _, req := range client.recorded() {
		if agentOf(req) == "rc" {
			third = userContent(req)
		}
	}
	if !strings.Contains(third, "GOOD OUTPUT") {
		t.Errorf("chain must fall back to last good output: %q", third)
	}
}

func TestExecutePlanAbortsWhenAllNodesFail(t *testing.T) {
	client := &routingClient{respond: func(req model.Request) (*model.Response, error) {
		return nil, fmt.Errorf("everything is down")
	}}
	coord := newTestCoordinator(client, nil)

	plan := &WorkflowPlan{
		Strategy: PlanMixed,
		Stages: []Stage{
			{Type: StageParallel, Nodes: []Node{
				{AgentID: "ra", Input: "a"},
				{AgentID: "rb", Input: "b"},
			}},
			{Type: StageSequential, Nodes: []Node{{AgentID: "rc", Input: "never runs"}}},
		},
	}

	results := coord.ExecutePlan(context.Background(), TurnContext{}, plan)

	if len(results) != 1 {
		t.Fatalf("expected abort after failed stage, got %d stage results", len(results))
	}
	if results[0].Status != StageStatusFailed {
		t.Errorf("expected failed status, got %s", results[0].Status)
	}

	for _, req := range client.recorded() {
		if agentOf(req) == "rc" {
			t.Error("aborted stage must not invoke its nodes")
		}
	}
}

func TestExecutePlanCarriesParallelOutputsForward(t *testing.T) {
	client := &routingClient{respond: func(req model.Request) (*model.Response, error) {
		switch agentOf(req) {
		case "ra":
			return textResponse("ALPHA FINDINGS"), nil
		case "rb":
			return textResponse("BETA FINDINGS"), nil
		default:
			return textResponse("combined"), nil
		}
	}}
	coord := newTestCoordinator(client, nil)

	plan := &WorkflowPlan{
		Strategy: PlanMixed,
		Stages: []Stage{
			{Type: StageParallel, Nodes: []Node{
				{AgentID: "ra", Input: "a"},
				{AgentID: "rb", Input: "b"},
			}},
			{Type: StageSequential, Nodes: []Node{{AgentID: "rc", Input: "compare"}}},
		},
	}

	coord.ExecutePlan(context.Background(), TurnContext{}, plan)

	var third string
	for _, req := range client.recorded() {
		if agentOf(req) == "rc" {
			third = userContent(req)
		}
	}
	if !strings.Contains(third, "ALPHA FINDINGS") || !strings.Contains(third, "BETA FINDINGS") {
		t.Errorf("parallel outputs must flow into the next stage: %q", third)
	}
}

func TestExecutePlanUnknownAgentFailsNode(t *testing.T) {
	client := &routingClient{respond: func(req model.Request) (*model.Response, error) {
		return textResponse("ok"), nil
	}}
	coord := newTestCoordinator(client, nil)

	plan := &WorkflowPlan{
		Strategy: PlanSimple,
		Stages:   []Stage{{Type: StageSequential, Nodes: []Node{{AgentID: "ghost", Input: "x"}}}},
	}

	results := coord.ExecutePlan(context.Background(), TurnContext{}, plan)
	if results[0].Status != StageStatusFailed {
		t.Errorf("expected failed stage for unknown agent, got %s", results[0].Status)
	}
	if !strings.Contains(results[0].Nodes[0].Error, "unknown agent") {
		t.Errorf("unexpected error: %q", results[0].Nodes[0].Error)
	}
}

func TestSynthesizeWithAgent(t *testing.T) {
	client := &routingClient{respond: func(req model.Request) (*model.Response, error) {
		if agentOf(req) == "synth" {
			return textResponse("merged answer"), nil
		}
		return textResponse("?"), nil
	}}
	coord := newTestCoordinator(client, nil)

	plan := &WorkflowPlan{OriginalQuery: "compare A and B", SynthesizerAgentID: "synth"}
	stages := []StageResult{{
		Stage: 0,
		Type:  StageParallel,
		Nodes: []NodeResult{
			{AgentID: "ra", AgentName: "Researcher A", Output: "about A"},
			{AgentID: "rb", AgentName: "Researcher B", Output: "about B"},
			{AgentID: "rc", Error: "failed"},
		},
	}}

	answer, ok := coord.Synthesize(context.Background(), TurnContext{}, plan, stages)
	if !ok || answer != "merged answer" {
		t.Fatalf("unexpected synthesis: %q ok=%v", answer, ok)
	}

	var synthInput string
	for _, req := range client.recorded() {
		if agentOf(req) == "synth" {
			synthInput = userContent(req)
		}
	}
	for _, want := range []string{"compare A and B", "Researcher A", "about A", "Researcher B", "about B", "stage 1"} {
		if !strings.Contains(synthInput, want) {
			t.Errorf("synthesis input missing %q: %q", want, synthInput)
		}
	}
	if strings.Contains(synthInput, "failed") {
		t.Error("failed nodes must not feed the synthesizer")
	}
}

func TestSynthesizeSingleOutputPassThrough(t *testing.T) {
	client := &routingClient{respond: func(req model.Request) (*model.Response, error) {
		t.Error("no model call expected")
		return nil, fmt.Errorf("unexpected")
	}}
	coord := newTestCoordinator(client, nil)

	plan := &WorkflowPlan{OriginalQuery: "q"}
	stages := []StageResult{{Nodes: []NodeResult{{AgentID: "ra", Output: "only answer"}}}}

	answer, ok := coord.Synthesize(context.Background(), TurnContext{}, plan, stages)
	if !ok || answer != "only answer" {
		t.Errorf("expected pass-through, got %q ok=%v", answer, ok)
	}
}

func TestSynthesizeConcatWithoutSynthesizer(t *testing.T) {
	coord := newTestCoordinator(&routingClient{respond: func(req model.Request) (*model.Response, error) {
		return nil, fmt.Errorf("unexpected")
	}}, nil)

	plan := &WorkflowPlan{OriginalQuery: "q"}
	stages := []StageResult{{Nodes: []NodeResult{
		{AgentID: "ra", AgentName: "A", Output: "first"},
		{AgentID: "rb", AgentName: "B", Output: "second"},
	}}}

	answer, ok := coord.Synthesize(context.Background(), TurnContext{}, plan, stages)
	if !ok {
		t.Fatal("expected ok")
	}
	if !strings.Contains(answer, "first") || !strings.Contains(answer, "second") {
		t.Errorf("concat missing outputs: %q", answer)
	}
}

func TestSynthesizeNothing(t *testing.T) {
	coord := newTestCoordinator(&routingClient{respond: func(req model.Request) (*model.Response, error) {
		return nil, fmt.Errorf("unexpected")
	}}, nil)

	stages := []StageResult{{Nodes: []NodeResult{{AgentID: "ra", Error: "boom"}}}}
	if _, ok := coord.Synthesize(context.Background(), TurnContext{}, &WorkflowPlan{}, stages); ok {
		t.Fatal("expected not ok with no outputs")
	}
}

func TestSynthesizeFallsBackOnModelError(t *testing.T) {
	client := &routingClient{respond: func(req model.Request) (*model.Response, error) {
		return nil, fmt.Errorf("synth down")
	}}
	coord := newTestCoordinator(client, nil)

	plan := &WorkflowPlan{OriginalQuery: "q", SynthesizerAgentID: "synth"}
	stages := []StageResult{{Nodes: []NodeResult{
		{AgentID: "ra", AgentName: "A", Output: "first"},
		{AgentID: "rb", AgentName: "B", Output: "second"},
	}}}

	answer, ok := coord.Synthesize(context.Background(), TurnContext{}, plan, stages)
	if !ok {
		t.Fatal("expected ok from degraded concat")
	}
	if !strings.Contains(answer, "first") || !strings.Contains(answer, "second") {
		t.Errorf("degraded concat missing outputs: %q", answer)
	}
}
