package catalog

import (
	"path/filepath"
	"testing"

	"github.com/promptlyagentai/promptlyagent-sub003/internal/config"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/engine"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/store"
)

func testAgents() map[string]config.AgentDefinition {
	enabled := false
	return map[string]config.AgentDefinition{
		"promptly": {
			Type:        "promptly",
			Description: "General assistant",
		},
		"researcher": {
			Name:        "Researcher",
			Type:        "individual",
			Description: "Deep research specialist",
			Model:       "anthropic/claude-sonnet-4-5",
			Tools: []config.ToolBindingConfig{
				{Tool: "web_search", Priority: "preferred", Strategy: "always"},
				{Tool: "knowledge_search"},
				{Tool: "browser", Enabled: &enabled, Priority: "fallback"},
			},
		},
		"planner": {
			Type:        "workflow",
			Description: "Plans multi-agent workflows",
		},
		"synth": {
			Type:        "synthesizer",
			Description: "Merges results",
		},
	}
}

func newTestCatalog(t *testing.T) (*Catalog, *store.Store) {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	c := New(s, testAgents(), config.RouterConfig{DefaultAgent: "promptly"})
	return c, s
}

func TestGet(t *testing.T) {
	c, _ := newTestCatalog(t)

	a, ok := c.Get("researcher")
	if !ok {
		t.Fatal("expected researcher to exist")
	}
	if a.Name != "Researcher" {
		t.Errorf("expected name 'Researcher', got %q", a.Name)
	}
	if a.Type != engine.AgentIndividual {
		t.Errorf("expected type individual, got %q", a.Type)
	}
	if a.Model != "anthropic/claude-sonnet-4-5" {
		t.Errorf("unexpected model %q", a.Model)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("expected missing agent to not exist")
	}
}

func TestNameFallsBackToID(t *testing.T) {
	c, _ := newTestCatalog(t)

	a, ok := c.Get("promptly")
	if !ok {
		t.Fatal("expected promptly to exist")
	}
	if a.Name != "promptly" {
		t.Errorf("expected name to fall back to id, got %q", a.Name)
	}
}

func TestToolBindingDefaults(t *testing.T) {
	c, _ := newTestCatalog(t)

	a, _ := c.Get("researcher")
	if len(a.Tools) != 3 {
		t.Fatalf("expected 3 tool bindings, got %d", len(a.Tools))
	}

	// Omitted enabled defaults to true, explicit false sticks.
	byTool := map[string]engine.ToolBinding{}
	for _, b := range a.Tools {
		byTool[b.Tool] = b
	}
	if !byTool["web_search"].Enabled {
		t.Error("expected web_search enabled by default")
	}
	if byTool["browser"].Enabled {
		t.Error("expected browser disabled")
	}
	if byTool["knowledge_search"].Priority != engine.PriorityStandard {
		t.Errorf("expected standard priority default, got %q", byTool["knowledge_search"].Priority)
	}
	if byTool["knowledge_search"].Strategy != engine.StrategyAlways {
		t.Errorf("expected always strategy default, got %q", byTool["knowledge_search"].Strategy)
	}
	if byTool["web_search"].Priority != engine.PriorityPreferred {
		t.Errorf("expected preferred priority, got %q", byTool["web_search"].Priority)
	}
}

func TestByType(t *testing.T) {
	c, _ := newTestCatalog(t)

	workflows := c.ByType(engine.AgentWorkflow)
	if len(workflows) != 1 || workflows[0].ID != "planner" {
		t.Fatalf("expected [planner], got %v", workflows)
	}

	if got := c.ByType(engine.AgentQA); len(got) != 0 {
		t.Fatalf("expected no qa agents, got %d", len(got))
	}
}

func TestAllSorted(t *testing.T) {
	c, _ := newTestCatalog(t)

	all := c.All()
	if len(all) != 4 {
		t.Fatalf("expected 4 agents, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].ID >= all[i].ID {
			t.Fatalf("expected ids sorted, got %q before %q", all[i-1].ID, all[i].ID)
		}
	}
}

func TestDefaultAgent(t *testing.T) {
	c, _ := newTestCatalog(t)

	d := c.DefaultAgent()
	if d == nil || d.ID != "promptly" {
		t.Fatalf("expected default promptly, got %v", d)
	}
}

func TestDefaultAgentFallsBackToPromptlyType(t *testing.T) {
	c := New(nil, testAgents(), config.RouterConfig{DefaultAgent: "nonexistent"})

	d := c.DefaultAgent()
	if d == nil || d.ID != "promptly" {
		t.Fatalf("expected fallback to promptly-type agent, got %v", d)
	}
}

func TestDefaultAgentNone(t *testing.T) {
	agents := map[string]config.AgentDefinition{
		"coder": {Type: "individual"},
	}
	c := New(nil, agents, config.RouterConfig{})

	if d := c.DefaultAgent(); d != nil {
		t.Fatalf("expected no default agent, got %v", d)
	}
}

func TestReplaceSwapsRoster(t *testing.T) {
	c, _ := newTestCatalog(t)

	next := map[string]config.AgentDefinition{
		"analyst": {Type: "individual", Description: "Data analyst"},
	}
	c.Replace(next, config.RouterConfig{})

	if _, ok := c.Get("researcher"); ok {
		t.Error("expected researcher to be gone after replace")
	}
	a, ok := c.Get("analyst")
	if !ok {
		t.Fatal("expected analyst to exist after replace")
	}
	if a.Description != "Data analyst" {
		t.Errorf("unexpected description %q", a.Description)
	}
}

func TestSync(t *testing.T) {
	c, s := newTestCatalog(t)

	if err := c.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	agents, err := s.ListAgents()
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if len(agents) != 4 {
		t.Fatalf("expected 4 agents, got %d", len(agents))
	}

	rec, err := s.GetAgent("researcher")
	if err != nil {
		t.Fatalf("get researcher: %v", err)
	}
	if rec == nil {
		t.Fatal("expected researcher row")
	}
	if rec.Type != "individual" {
		t.Errorf("expected type individual, got %q", rec.Type)
	}
	if len(rec.Definition) == 0 {
		t.Error("expected marshaled definition")
	}
}

func TestSyncDeletesStale(t *testing.T) {
	c, s := newTestCatalog(t)

	if err := s.SaveAgent(&store.AgentRecord{ID: "stale", Name: "Stale", Type: "individual"}); err != nil {
		t.Fatalf("seed stale agent: %v", err)
	}

	if err := c.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	stale, err := s.GetAgent("stale")
	if err != nil {
		t.Fatalf("get stale: %v", err)
	}
	if stale != nil {
		t.Error("expected stale agent to be deleted")
	}
}
