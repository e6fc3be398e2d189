package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/promptlyagentai/promptlyagent-sub003/internal/config"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/model"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/tools"
)

// Invoker drives a single agent through its model/tool loop. Tool calls the
// model requests are checked against the agent's bindings; ineligible calls
// are skipped with an explanatory observation instead of executing.
type Invoker struct {
	models   *model.Registry
	registry *tools.Registry
	cfg      config.EngineConfig
}

func NewInvoker(models *model.Registry, registry *tools.Registry, cfg config.EngineConfig) *Invoker {
	return &Invoker{models: models, registry: registry, cfg: cfg}
}

// InvokeResult is one agent invocation's outcome. Incomplete means the step
// budget ran out before the model produced a final answer; Output then holds
// the best text seen so far.
type InvokeResult struct {
	Output     string
	ToolRuns   []ToolRunRecord
	Steps      int
	Incomplete bool
	Usage      model.Usage
}

func (inv *Invoker) Invoke(ctx context.Context, agent *AgentDescriptor, tctx TurnContext, query string) (*InvokeResult, error) {
	ref := agent.Model
	if ref == "" {
		ref = inv.cfg.DefaultModel
	}
	client, modelID, err := inv.models.Resolve(ref)
	if err != nil {
		return nil, fmt.Errorf("resolve model for agent %s: %w", agent.ID, err)
	}

	bindings := EffectiveOrder(agent)
	names := make([]string, len(bindings))
	for i, b := range bindings {
		names[i] = b.Tool
	}
	defs := inv.registry.Definitions(names)

	instructions := toolInstructions(agent, inv.registry.Describe)
	system := renderPrompt(agent.SystemPrompt, promptSlots(tctx, instructions, query))
	if len(defs) > 0 && !strings.Contains(agent.SystemPrompt, SlotToolInstructions) {
		system = strings.TrimSpace(system + "\n\n" + instructions)
	}

	maxSteps := agent.MaxSteps
	if maxSteps <= 0 {
		maxSteps = inv.cfg.MaxSteps
	}
	if maxSteps <= 0 {
		maxSteps = 1
	}

	// Overall invocation deadline: the step budget times the per-step
	// allowance, covering model calls and tool runs alike.
	if inv.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(maxSteps)*inv.cfg.StepTimeout)
		defer cancel()
	}

	executor := tools.NewExecutor(inv.registry)
	messages := []model.Message{model.UserMessage(query)}

	var (
		runs     []ToolRunRecord
		usage    model.Usage
		lastText string
	)

	for step := 0; step < maxSteps; step++ {
		req := model.Request{
			Model:    modelID,
			System:   system,
			Messages: messages,
			Tools:    defs,
		}

		resp, err := inv.complete(ctx, client, agent, req)
		if err != nil {
			return nil, fmt.Errorf("model call for agent %s: %w", agent.ID, err)
		}

		usage.InputTokens += resp.Usage.InputTokens
		usage.OutputTokens += resp.Usage.OutputTokens
		if resp.Text != "" {
			lastText = resp.Text
		}

		if len(resp.ToolCalls) == 0 {
			return &InvokeResult{
				Output:   resp.Text,
				ToolRuns: runs,
				Steps:    step + 1,
				Usage:    usage,
			}, nil
		}

		messages = append(messages, model.Message{
			Role:      model.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			record, observation := inv.runTool(ctx, executor, agent, tctx, call, runs)
			runs = append(runs, record)

			isError := record.Status == RunFailed || record.Status == RunTimedOut || record.Status == RunSkipped
			messages = append(messages, model.ToolResultMessage(call.ID, call.Name, observation, isError))
		}
	}

	slog.Warn("step budget exhausted", "agent", agent.ID, "max_steps", maxSteps)
	return &InvokeResult{
		Output:     lastText,
		ToolRuns:   runs,
		Steps:      maxSteps,
		Incomplete: true,
		Usage:      usage,
	}, nil
}

// complete runs one model call under the step timeout. Agents flagged for
// streaming fall back to Complete when the adapter declines.
func (inv *Invoker) complete(ctx context.Context, client model.Client, agent *AgentDescriptor, req model.Request) (*model.Response, error) {
	sctx := ctx
	if inv.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, inv.cfg.StepTimeout)
		defer cancel()
	}

	if agent.Streaming {
		resp, err := client.Stream(sctx, req, func(model.Chunk) {})
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, model.ErrStreamingUnsupported) {
			return nil, err
		}
	}
	return client.Complete(sctx, req)
}

// runTool executes (or skips) one requested call and returns the run record
// plus the observation text handed back to the model.
func (inv *Invoker) runTool(ctx context.Context, executor *tools.Executor, agent *AgentDescriptor, tctx TurnContext, call model.ToolCall, runs []ToolRunRecord) (ToolRunRecord, string) {
	binding, eligible := Eligible(agent, call.Name, runs)
	if binding == nil {
		return ToolRunRecord{Tool: call.Name, Status: RunSkipped},
			fmt.Sprintf("Tool %s is not available for this agent.", call.Name)
	}

	if !eligible {
		obs := fmt.Sprintf("Tool %s was skipped: its execution policy does not allow it right now.", call.Name)
		if next := Resolve(agent, runs); next != nil && next.Tool != call.Name {
			obs += fmt.Sprintf(" Use %s instead.", next.Tool)
		}
		return ToolRunRecord{Tool: call.Name, Priority: binding.Priority, Status: RunSkipped}, obs
	}

	cfg := mergeBindingConfig(binding.Config, tctx)
	outcome := executor.Execute(ctx, call.Name, call.Args, cfg, binding.Timeout())

	var count int
	var hasCount bool
	if outcome.Result != nil {
		count, hasCount = outcome.Result.Count, outcome.Result.HasCount
	}
	status := classifyRun(binding, count, hasCount, outcome.Err, outcome.TimedOut)

	record := ToolRunRecord{
		Tool:       call.Name,
		Priority:   binding.Priority,
		Status:     status,
		DurationMS: outcome.Duration.Milliseconds(),
	}
	if hasCount {
		c := count
		record.ResultCount = &c
	}
	if outcome.Result != nil {
		record.Payload = outcome.Result.Payload
	}

	slog.Debug("tool run",
		"agent", agent.ID,
		"tool", call.Name,
		"status", status,
		"duration_ms", record.DurationMS,
		"cached", outcome.Cached)

	obs := observation(outcome, binding, status)
	if status != RunSucceeded {
		if next := Resolve(agent, append(runs, record)); next != nil {
			obs += fmt.Sprintf("\nNext tool in the execution order: %s.", next.Tool)
		}
	}
	return record, obs
}

func observation(outcome *tools.Outcome, binding *ToolBinding, status RunStatus) string {
	var sb strings.Builder
	if outcome.Cached {
		sb.WriteString("Identical call already ran this turn; this is the stored result. Vary the arguments to get new information.\n")
	}

	switch status {
	case RunTimedOut:
		fmt.Fprintf(&sb, "Tool timed out after %s.", binding.Timeout())
	case RunFailed:
		fmt.Fprintf(&sb, "Tool failed: %v", outcome.Err)
	default:
		sb.WriteString(payloadText(outcome))
		if status == RunEmpty {
			if binding.MinResults > 0 {
				fmt.Fprintf(&sb, "\nResult count below the required minimum of %d; treat this as no results.", binding.MinResults)
			} else {
				sb.WriteString("\nThe tool returned no results.")
			}
		}
	}
	return sb.String()
}

func payloadText(outcome *tools.Outcome) string {
	if outcome.Result == nil || outcome.Result.Payload == nil {
		return "(no output)"
	}
	data, err := json.Marshal(outcome.Result.Payload)
	if err != nil {
		return fmt.Sprint(outcome.Result.Payload)
	}
	return string(data)
}

func mergeBindingConfig(cfg map[string]any, tctx TurnContext) map[string]any {
	merged := make(map[string]any, len(cfg)+2)
	for k, v := range cfg {
		merged[k] = v
	}
	merged["turn_id"] = tctx.TurnID
	if tctx.ConversationID != "" {
		merged["conversation_id"] = tctx.ConversationID
	}
	return merged
}
