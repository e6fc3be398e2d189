// Package tools holds the runnable tool implementations agents can invoke,
// plus the per-turn executor that applies timeouts and result caching.
package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/promptlyagentai/promptlyagent-sub003/internal/model"
)

// Result is what a tool run produced. Count carries the number of discrete
// results for tools where that is meaningful (search hits, sandbox success);
// tools without a natural count leave HasCount false.
type Result struct {
	Payload  any
	Count    int
	HasCount bool
}

// Runner is a single named tool. Run receives the model-supplied args and the
// per-agent binding config (endpoint overrides, limits, invocation metadata).
type Runner interface {
	Definition() model.ToolDefinition
	Run(ctx context.Context, args, cfg map[string]any) (*Result, error)
}

// Registry maps tool names to runners. Registration happens at startup;
// lookups are concurrent.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]Runner)}
}

func (r *Registry) Register(runner Runner) {
	def := runner.Definition()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[def.Name] = runner
}

func (r *Registry) Get(name string) (Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.runners[name]
	return runner, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.runners))
	for name := range r.runners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns the tool's description, or "" for unknown tools.
func (r *Registry) Describe(name string) string {
	runner, ok := r.Get(name)
	if !ok {
		return ""
	}
	return runner.Definition().Description
}

// Definitions resolves the named tools to their model-facing definitions,
// silently skipping names with no registered runner.
func (r *Registry) Definitions(names []string) []model.ToolDefinition {
	defs := make([]model.ToolDefinition, 0, len(names))
	for _, name := range names {
		if runner, ok := r.Get(name); ok {
			defs = append(defs, runner.Definition())
		}
	}
	return defs
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// argInt reads an integer arg, accepting the float64 that json decoding
// produces for numbers.
func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}
