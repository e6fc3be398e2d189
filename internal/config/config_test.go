package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.Server.Listen != ":8080" {
		t.Errorf("expected default listen :8080, got %s", cfg.Server.Listen)
	}
	if cfg.Bus.Port != 4222 {
		t.Errorf("expected bus port 4222, got %d", cfg.Bus.Port)
	}
	if cfg.Store.Path != "data/promptly.db" {
		t.Errorf("expected store path data/promptly.db, got %s", cfg.Store.Path)
	}
	if cfg.Engine.MaxSteps != 8 {
		t.Errorf("expected max_steps 8, got %d", cfg.Engine.MaxSteps)
	}
	if cfg.Engine.StepTimeout != 90*time.Second {
		t.Errorf("expected step_timeout 90s, got %v", cfg.Engine.StepTimeout)
	}
	if cfg.Engine.Thresholds.Accuracy != 85 {
		t.Errorf("expected accuracy threshold 85, got %d", cfg.Engine.Thresholds.Accuracy)
	}
	if cfg.Router.DefaultAgent != "promptly" {
		t.Errorf("expected default agent promptly, got %s", cfg.Router.DefaultAgent)
	}

	// Built-in catalog covers every role the engine needs.
	for _, id := range []string{"promptly", "researcher", "analyst", "planner", "synthesizer", "qa"} {
		if _, ok := cfg.Agents[id]; !ok {
			t.Errorf("expected default agent %s", id)
		}
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	// Point config to a non-existent file so we use defaults
	t.Setenv("PROMPTLY_CONFIG", "/nonexistent/config.yaml")
	t.Setenv("PROMPTLY_LISTEN", ":9090")
	t.Setenv("PROMPTLY_ANTHROPIC_API_KEY", "sk-test-key")
	t.Setenv("PROMPTLY_VAULT_PASSPHRASE", "hunter2")
	t.Setenv("PROMPTLY_BUS_PORT", "14222")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Listen != ":9090" {
		t.Errorf("expected listen :9090, got %s", cfg.Server.Listen)
	}
	if cfg.Providers.Anthropic.APIKey != "sk-test-key" {
		t.Errorf("expected anthropic key override, got %s", cfg.Providers.Anthropic.APIKey)
	}
	if cfg.Vault.Passphrase != "hunter2" {
		t.Errorf("expected vault passphrase override")
	}
	if cfg.Bus.Port != 14222 {
		t.Errorf("expected bus port 14222, got %d", cfg.Bus.Port)
	}
}

func TestLoadDataDirDerivesPaths(t *testing.T) {
	t.Setenv("PROMPTLY_CONFIG", "/nonexistent/config.yaml")
	t.Setenv("PROMPTLY_DATA_DIR", "/var/lib/promptly")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Store.Path != filepath.Join("/var/lib/promptly", "promptly.db") {
		t.Errorf("store path not derived: %s", cfg.Store.Path)
	}
	if cfg.Bus.DataDir != filepath.Join("/var/lib/promptly", "nats") {
		t.Errorf("bus data dir not derived: %s", cfg.Bus.DataDir)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "promptly.yaml")
	content := `
server:
  listen: ":7070"
engine:
  default_model: openai/gpt-4o
router:
  default_agent: helper
agents:
  helper:
    name: Helper
    type: promptly
    description: test agent
    tools:
      - tool: web_search
        priority: preferred
        strategy: always
        min_results: 2
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PROMPTLY_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Listen != ":7070" {
		t.Errorf("expected listen :7070, got %s", cfg.Server.Listen)
	}
	if cfg.Engine.DefaultModel != "openai/gpt-4o" {
		t.Errorf("expected model override, got %s", cfg.Engine.DefaultModel)
	}

	helper, ok := cfg.Agents["helper"]
	if !ok {
		t.Fatal("expected helper agent from file")
	}
	if len(helper.Tools) != 1 || helper.Tools[0].Tool != "web_search" {
		t.Fatalf("unexpected tools: %+v", helper.Tools)
	}
	if helper.Tools[0].MinResults != 2 {
		t.Errorf("expected min_results 2, got %d", helper.Tools[0].MinResults)
	}
	// enabled omitted defaults to nil (normalized to true by the catalog)
	if helper.Tools[0].Enabled != nil {
		t.Errorf("expected enabled to be unset, got %v", *helper.Tools[0].Enabled)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max steps", func(c *Config) { c.Engine.MaxSteps = 0 }},
		{"bad model ref", func(c *Config) { c.Engine.DefaultModel = "claude" }},
		{"threshold out of range", func(c *Config) { c.Engine.Thresholds.Depth = 101 }},
		{"bad agent type", func(c *Config) {
			c.Agents["x"] = AgentDefinition{Type: "wizard"}
		}},
		{"bad strategy", func(c *Config) {
			c.Agents["x"] = AgentDefinition{Type: "individual", Tools: []ToolBindingConfig{{Tool: "t", Strategy: "sometimes"}}}
		}},
		{"unknown default agent", func(c *Config) { c.Router.DefaultAgent = "ghost" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
