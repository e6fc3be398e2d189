// Package catalog turns configured agent definitions into the immutable
// descriptors the engine plans against, and mirrors them into the store so
// API clients can list the roster.
package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/promptlyagentai/promptlyagent-sub003/internal/config"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/engine"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/store"
)

// Catalog implements engine.Catalog over the configured agent set. Replace
// swaps the whole roster at once; readers always see a consistent snapshot.
type Catalog struct {
	store *store.Store

	mu        sync.RWMutex
	order     []*engine.AgentDescriptor
	byID      map[string]*engine.AgentDescriptor
	defaultID string
}

func New(s *store.Store, agents map[string]config.AgentDefinition, router config.RouterConfig) *Catalog {
	c := &Catalog{store: s}
	c.Replace(agents, router)
	return c
}

// Replace rebuilds the roster from configuration. Turns already running keep
// the descriptors they loaded; new turns see the new roster.
func (c *Catalog) Replace(agents map[string]config.AgentDefinition, router config.RouterConfig) {
	ids := make([]string, 0, len(agents))
	for id := range agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	order := make([]*engine.AgentDescriptor, 0, len(ids))
	byID := make(map[string]*engine.AgentDescriptor, len(ids))
	for _, id := range ids {
		d := descriptor(id, agents[id])
		order = append(order, d)
		byID[id] = d
	}

	defaultID := router.DefaultAgent
	if _, ok := byID[defaultID]; !ok {
		defaultID = ""
		for _, d := range order {
			if d.Type == engine.AgentPromptly {
				defaultID = d.ID
				break
			}
		}
	}

	c.mu.Lock()
	c.order = order
	c.byID = byID
	c.defaultID = defaultID
	c.mu.Unlock()

	slog.Info("agent catalog loaded", "agents", len(order), "default", defaultID)
}

// descriptor normalizes one configured agent. Omitted model and step limits
// stay zero so the engine falls back to its defaults.
func descriptor(id string, def config.AgentDefinition) *engine.AgentDescriptor {
	name := def.Name
	if name == "" {
		name = id
	}

	bindings := make([]engine.ToolBinding, 0, len(def.Tools))
	for _, t := range def.Tools {
		enabled := true
		if t.Enabled != nil {
			enabled = *t.Enabled
		}
		priority := engine.Priority(t.Priority)
		if priority == "" {
			priority = engine.PriorityStandard
		}
		strategy := engine.Strategy(t.Strategy)
		if strategy == "" {
			strategy = engine.StrategyAlways
		}
		bindings = append(bindings, engine.ToolBinding{
			Tool:             t.Tool,
			Enabled:          enabled,
			Priority:         priority,
			ExecutionOrder:   t.ExecutionOrder,
			Strategy:         strategy,
			MinResults:       t.MinResults,
			MaxExecutionTime: t.MaxExecutionTime,
			Config:           t.Config,
		})
	}

	return &engine.AgentDescriptor{
		ID:           id,
		Name:         name,
		Type:         engine.AgentType(def.Type),
		Description:  def.Description,
		SystemPrompt: def.SystemPrompt,
		Tools:        bindings,
		MaxSteps:     def.MaxSteps,
		Streaming:    def.Streaming,
		Model:        def.Model,
	}
}

func (c *Catalog) Get(id string) (*engine.AgentDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.byID[id]
	return d, ok
}

func (c *Catalog) ByType(t engine.AgentType) []*engine.AgentDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*engine.AgentDescriptor
	for _, d := range c.order {
		if d.Type == t {
			out = append(out, d)
		}
	}
	return out
}

func (c *Catalog) All() []*engine.AgentDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*engine.AgentDescriptor, len(c.order))
	copy(out, c.order)
	return out
}

func (c *Catalog) DefaultAgent() *engine.AgentDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if d, ok := c.byID[c.defaultID]; ok {
		return d
	}
	return nil
}

// Sync mirrors the roster into the store and purges rows for agents no
// longer configured.
func (c *Catalog) Sync() error {
	if c.store == nil {
		return nil
	}

	c.mu.RLock()
	order := c.order
	c.mu.RUnlock()

	ids := make([]string, 0, len(order))
	for _, d := range order {
		ids = append(ids, d.ID)

		def, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("marshal agent %s: %w", d.ID, err)
		}
		rec := &store.AgentRecord{
			ID:          d.ID,
			Name:        d.Name,
			Type:        string(d.Type),
			Description: d.Description,
			Model:       d.Model,
			Definition:  def,
		}
		if err := c.store.SaveAgent(rec); err != nil {
			return fmt.Errorf("save agent %s: %w", d.ID, err)
		}
	}

	if err := c.store.DeleteAgentsNotIn(ids); err != nil {
		return fmt.Errorf("delete stale agents: %w", err)
	}
	return nil
}
