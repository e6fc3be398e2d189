package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig               `yaml:"server"`
	Bus       BusConfig                  `yaml:"bus"`
	Store     StoreConfig                `yaml:"store"`
	Providers ProvidersConfig            `yaml:"providers"`
	Engine    EngineConfig               `yaml:"engine"`
	Router    RouterConfig               `yaml:"router"`
	Scheduler SchedulerConfig            `yaml:"scheduler"`
	Sandbox   SandboxConfig              `yaml:"sandbox"`
	Knowledge KnowledgeConfig            `yaml:"knowledge"`
	Notify    NotifyConfig               `yaml:"notify"`
	Vault     VaultConfig                `yaml:"vault"`
	Tools     ToolsConfig                `yaml:"tools"`
	Agents    map[string]AgentDefinition `yaml:"agents"`
}

type ServerConfig struct {
	Listen  string `yaml:"listen"`
	DataDir string `yaml:"data_dir"`
}

type BusConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type ProvidersConfig struct {
	Anthropic ProviderConfig `yaml:"anthropic"`
	OpenAI    ProviderConfig `yaml:"openai"`
}

type ProviderConfig struct {
	APIKey    string `yaml:"api_key"`
	MaxTokens int    `yaml:"max_tokens"`
}

type EngineConfig struct {
	DefaultModel    string           `yaml:"default_model"`
	MaxSteps        int              `yaml:"max_steps"`
	StepTimeout     time.Duration    `yaml:"step_timeout"`
	StageTimeout    time.Duration    `yaml:"stage_timeout"`
	PlannerAttempts int              `yaml:"planner_attempts"`
	ReviewRounds    int              `yaml:"review_rounds"`
	Thresholds      ThresholdsConfig `yaml:"thresholds"`
}

type ThresholdsConfig struct {
	Completeness int `yaml:"completeness"`
	Depth        int `yaml:"depth"`
	Accuracy     int `yaml:"accuracy"`
	Coherence    int `yaml:"coherence"`
}

type RouterConfig struct {
	DefaultAgent string `yaml:"default_agent"`
}

type SchedulerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type SandboxConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Image    string `yaml:"image"`
	BuildDir string `yaml:"build_dir"`
}

type KnowledgeConfig struct {
	BasePath string `yaml:"base_path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

type ToolsConfig struct {
	SearchEndpoint string `yaml:"search_endpoint"`
	FetchMaxBytes  int    `yaml:"fetch_max_bytes"`
}

// AgentDefinition is the YAML shape of one agent. The catalog normalizes
// definitions into engine descriptors at startup.
type AgentDefinition struct {
	Name         string              `yaml:"name"`
	Type         string              `yaml:"type"`
	Description  string              `yaml:"description"`
	SystemPrompt string              `yaml:"system_prompt"`
	Model        string              `yaml:"model"`
	MaxSteps     int                 `yaml:"max_steps"`
	Streaming    bool                `yaml:"streaming"`
	Tools        []ToolBindingConfig `yaml:"tools"`
}

// ToolBindingConfig is the YAML shape of one tool binding. Enabled defaults
// to true when omitted.
type ToolBindingConfig struct {
	Tool             string         `yaml:"tool"`
	Enabled          *bool          `yaml:"enabled"`
	Priority         string         `yaml:"priority"`
	ExecutionOrder   int            `yaml:"execution_order"`
	Strategy         string         `yaml:"strategy"`
	MinResults       int            `yaml:"min_results"`
	MaxExecutionTime int            `yaml:"max_execution_time"`
	Config           map[string]any `yaml:"config"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Listen:  ":8080",
			DataDir: "data",
		},
		Bus: BusConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/promptly.db",
		},
		Providers: ProvidersConfig{
			Anthropic: ProviderConfig{MaxTokens: 4096},
			OpenAI:    ProviderConfig{MaxTokens: 4096},
		},
		Engine: EngineConfig{
			DefaultModel:    "anthropic/claude-sonnet-4-5",
			MaxSteps:        8,
			StepTimeout:     90 * time.Second,
			StageTimeout:    10 * time.Minute,
			PlannerAttempts: 2,
			ReviewRounds:    2,
			Thresholds: ThresholdsConfig{
				Completeness: 80,
				Depth:        70,
				Accuracy:     85,
				Coherence:    75,
			},
		},
		Router: RouterConfig{
			DefaultAgent: "promptly",
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			PollInterval: 30 * time.Second,
		},
		Sandbox: SandboxConfig{
			Enabled: false,
			Image:   "python:3.12-alpine",
		},
		Knowledge: KnowledgeConfig{
			BasePath: "data/knowledge",
		},
		Tools: ToolsConfig{
			FetchMaxBytes: 256 * 1024,
		},
		Agents: defaultAgents(),
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("PROMPTLY_CONFIG")
	if path == "" {
		path = "config/promptly.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	// Data dir first: derived paths follow it, specific overrides below win.
	if v := os.Getenv("PROMPTLY_DATA_DIR"); v != "" {
		cfg.Server.DataDir = v
		cfg.Store.Path = filepath.Join(v, "promptly.db")
		cfg.Bus.DataDir = filepath.Join(v, "nats")
		cfg.Knowledge.BasePath = filepath.Join(v, "knowledge")
	}
	if v := os.Getenv("PROMPTLY_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if v := os.Getenv("PROMPTLY_BUS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Bus.Port = port
		}
	}
	if v := os.Getenv("PROMPTLY_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("PROMPTLY_ANTHROPIC_API_KEY"); v != "" {
		cfg.Providers.Anthropic.APIKey = v
	} else if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Providers.Anthropic.APIKey = v
	}
	if v := os.Getenv("PROMPTLY_OPENAI_API_KEY"); v != "" {
		cfg.Providers.OpenAI.APIKey = v
	} else if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Providers.OpenAI.APIKey = v
	}
	if v := os.Getenv("PROMPTLY_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
	if v := os.Getenv("PROMPTLY_TELEGRAM_TOKEN"); v != "" {
		cfg.Notify.Telegram.Token = v
	}
	if v := os.Getenv("PROMPTLY_SEARCH_ENDPOINT"); v != "" {
		cfg.Tools.SearchEndpoint = v
	}
}

var validAgentTypes = map[string]bool{
	"individual":  true,
	"direct":      true,
	"workflow":    true,
	"promptly":    true,
	"synthesizer": true,
	"qa":          true,
}

var validPriorities = map[string]bool{
	"":          true,
	"preferred": true,
	"standard":  true,
	"fallback":  true,
}

var validStrategies = map[string]bool{
	"":                            true,
	"always":                      true,
	"if_preferred_fails":          true,
	"if_no_preferred_results":     true,
	"never_if_preferred_succeeds": true,
}

func (c *Config) Validate() error {
	if c.Engine.MaxSteps <= 0 {
		return fmt.Errorf("engine.max_steps must be positive")
	}
	if !strings.Contains(c.Engine.DefaultModel, "/") {
		return fmt.Errorf("engine.default_model %q must be provider/model-id", c.Engine.DefaultModel)
	}
	th := c.Engine.Thresholds
	for name, v := range map[string]int{
		"completeness": th.Completeness,
		"depth":        th.Depth,
		"accuracy":     th.Accuracy,
		"coherence":    th.Coherence,
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("engine.thresholds.%s must be between 0 and 100", name)
		}
	}

	for id, def := range c.Agents {
		if !validAgentTypes[def.Type] {
			return fmt.Errorf("agent %s: invalid type %q", id, def.Type)
		}
		for _, b := range def.Tools {
			if b.Tool == "" {
				return fmt.Errorf("agent %s: tool binding without a tool name", id)
			}
			if !validPriorities[b.Priority] {
				return fmt.Errorf("agent %s: tool %s: invalid priority %q", id, b.Tool, b.Priority)
			}
			if !validStrategies[b.Strategy] {
				return fmt.Errorf("agent %s: tool %s: invalid strategy %q", id, b.Tool, b.Strategy)
			}
		}
	}

	if c.Router.DefaultAgent != "" {
		if _, ok := c.Agents[c.Router.DefaultAgent]; !ok {
			return fmt.Errorf("router.default_agent %q is not a configured agent", c.Router.DefaultAgent)
		}
	}

	return nil
}
