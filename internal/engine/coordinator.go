package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/promptlyagentai/promptlyagent-sub003/internal/config"
)

// EventFunc receives progress events for live display. A nil EventFunc
// silences events.
type EventFunc func(event string, data map[string]any)

// Coordinator executes workflow plans: stages in order, nodes within a stage
// concurrently or chained depending on the stage type, plus the synthesis
// pass that merges node outputs into one answer.
type Coordinator struct {
	invoker *Invoker
	catalog Catalog
	cfg     config.EngineConfig
	publish EventFunc
}

func NewCoordinator(invoker *Invoker, catalog Catalog, cfg config.EngineConfig, publish EventFunc) *Coordinator {
	return &Coordinator{invoker: invoker, catalog: catalog, cfg: cfg, publish: publish}
}

func (c *Coordinator) event(event string, data map[string]any) {
	if c.publish != nil {
		c.publish(event, data)
	}
}

func (c *Coordinator) stageTimeout() time.Duration {
	if c.cfg.StageTimeout > 0 {
		return c.cfg.StageTimeout
	}
	return 10 * time.Minute
}

// ExecutePlan runs the plan's stages in order. A stage where every node
// failed aborts the remaining stages; partial stages carry on with the
// successful subset. Output of each stage is threaded into the next one.
func (c *Coordinator) ExecutePlan(ctx context.Context, tctx TurnContext, plan *WorkflowPlan) []StageResult {
	results := make([]StageResult, 0, len(plan.Stages))
	carry := ""

	for si, stage := range plan.Stages {
		sr := c.executeStage(ctx, tctx, si, stage, carry)
		results = append(results, sr)

		if sr.Status == StageStatusFailed {
			slog.Warn("stage failed, aborting remaining stages",
				"turn", tctx.TurnID, "stage", si, "remaining", len(plan.Stages)-si-1)
			break
		}
		carry = stageCarry(sr)
	}
	return results
}

func (c *Coordinator) executeStage(ctx context.Context, tctx TurnContext, idx int, stage Stage, carry string) StageResult {
	start := time.Now()
	slog.Info("executing stage", "turn", tctx.TurnID, "stage", idx, "type", stage.Type, "nodes", len(stage.Nodes))
	c.event("stage_started", map[string]any{
		"turn_id": tctx.TurnID,
		"stage":   idx,
		"type":    stage.Type,
		"nodes":   len(stage.Nodes),
	})

	var nodes []NodeResult
	if stage.Type == StageParallel {
		nodes = c.runParallel(ctx, tctx, stage.Nodes, carry)
	} else {
		nodes = c.runSequential(ctx, tctx, stage.Nodes, carry)
	}

	sr := StageResult{
		Stage:      idx,
		Type:       stage.Type,
		Status:     stageStatus(nodes),
		Nodes:      nodes,
		DurationMS: time.Since(start).Milliseconds(),
	}

	c.event("stage_completed", map[string]any{
		"turn_id": tctx.TurnID,
		"stage":   idx,
		"status":  sr.Status,
	})
	return sr
}

// runParallel launches every node concurrently and collects all results.
// One node's failure never cancels its siblings; the stage deadline bounds
// the slowest node.
func (c *Coordinator) runParallel(ctx context.Context, tctx TurnContext, specs []Node, carry string) []NodeResult {
	sctx, cancel := context.WithTimeout(ctx, c.stageTimeout())
	defer cancel()

	// The channel is buffered to the node count so a straggler finishing
	// after the deadline parks its result there instead of writing into a
	// slice the caller is already reading.
	type indexed struct {
		i int
		r NodeResult
	}
	ch := make(chan indexed, len(specs))

	for i, spec := range specs {
		go func(i int, spec Node) {
			ch <- indexed{i, c.runNode(sctx, tctx, spec, carry)}
		}(i, spec)
	}

	out := make([]NodeResult, len(specs))
	got := make([]bool, len(specs))

	collected := 0
collect:
	for collected < len(specs) {
		select {
		case r := <-ch:
			out[r.i] = r.r
			got[r.i] = true
			collected++
		case <-sctx.Done():
			break collect
		}
	}

	if collected < len(specs) {
		reason := "stage canceled"
		if errors.Is(sctx.Err(), context.DeadlineExceeded) {
			reason = "stage timed out"
		}
		for i := range out {
			if !got[i] {
				out[i] = failedNode(specs[i], reason)
			}
		}
	}
	return out
}

// runSequential runs nodes one at a time, feeding each node the prior
// successful output. A failed node is recorded and skipped over; the chain
// continues from the last good output.
func (c *Coordinator) runSequential(ctx context.Context, tctx TurnContext, specs []Node, carry string) []NodeResult {
	sctx, cancel := context.WithTimeout(ctx, c.stageTimeout())
	defer cancel()

	out := make([]NodeResult, 0, len(specs))
	prior := carry

	for _, spec := range specs {
		if sctx.Err() != nil {
			reason := "stage canceled"
			if errors.Is(sctx.Err(), context.DeadlineExceeded) {
				reason = "stage timed out"
			}
			out = append(out, failedNode(spec, reason))
			continue
		}

		res := c.runNode(sctx, tctx, spec, prior)
		out = append(out, res)
		if !res.Failed() && res.Output != "" {
			prior = res.Output
		}
	}
	return out
}

func (c *Coordinator) runNode(ctx context.Context, tctx TurnContext, spec Node, carry string) NodeResult {
	start := time.Now()
	input := chainInput(carry, spec.Input)

	result := NodeResult{AgentID: spec.AgentID, AgentName: spec.AgentName, Input: input}

	agent, ok := c.catalog.Get(spec.AgentID)
	if !ok {
		result.Error = fmt.Sprintf("unknown agent %s", spec.AgentID)
		result.DurationMS = time.Since(start).Milliseconds()
		return result
	}
	if result.AgentName == "" {
		result.AgentName = agent.Name
	}

	c.event("node_started", map[string]any{
		"turn_id": tctx.TurnID,
		"agent":   spec.AgentID,
	})

	res, err := c.invoker.Invoke(ctx, agent, tctx, input)
	result.DurationMS = time.Since(start).Milliseconds()

	if err != nil {
		slog.Warn("node failed", "turn", tctx.TurnID, "agent", spec.AgentID, "error", err)
		result.Error = err.Error()
		c.event("node_failed", map[string]any{
			"turn_id": tctx.TurnID,
			"agent":   spec.AgentID,
			"error":   err.Error(),
		})
		return result
	}

	result.Output = res.Output
	result.ToolRuns = res.ToolRuns
	result.Incomplete = res.Incomplete

	c.event("node_completed", map[string]any{
		"turn_id":    tctx.TurnID,
		"agent":      spec.AgentID,
		"incomplete": res.Incomplete,
		"tool_runs":  len(res.ToolRuns),
	})
	return result
}

// Synthesize merges stage outputs into the final answer. With a synthesizer
// agent it runs a model pass over the labeled outputs; without one, a single
// output passes through and multiple outputs are concatenated. The bool is
// false when no node produced anything to merge.
func (c *Coordinator) Synthesize(ctx context.Context, tctx TurnContext, plan *WorkflowPlan, stages []StageResult) (string, bool) {
	outputs := successfulOutputs(stages)
	if len(outputs) == 0 {
		return "", false
	}

	if plan.SynthesizerAgentID == "" {
		if len(outputs) == 1 {
			return outputs[0].output, true
		}
		return labeledConcat(outputs), true
	}

	agent, ok := c.catalog.Get(plan.SynthesizerAgentID)
	if !ok {
		slog.Warn("synthesizer agent missing, concatenating outputs", "agent", plan.SynthesizerAgentID)
		return labeledConcat(outputs), true
	}

	res, err := c.invoker.Invoke(ctx, agent, tctx, synthesisInput(plan.OriginalQuery, outputs))
	if err != nil || strings.TrimSpace(res.Output) == "" {
		slog.Warn("synthesis failed, concatenating outputs", "turn", tctx.TurnID, "error", err)
		return labeledConcat(outputs), true
	}
	return res.Output, true
}

type stageOutput struct {
	stage  int
	agent  string
	output string
}

func successfulOutputs(stages []StageResult) []stageOutput {
	var out []stageOutput
	for _, sr := range stages {
		for _, n := range sr.Nodes {
			if n.Failed() || strings.TrimSpace(n.Output) == "" {
				continue
			}
			name := n.AgentName
			if name == "" {
				name = n.AgentID
			}
			out = append(out, stageOutput{stage: sr.Stage, agent: name, output: n.Output})
		}
	}
	return out
}

func synthesisInput(query string, outputs []stageOutput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Original query: %s\n\n", query)
	for _, o := range outputs {
		fmt.Fprintf(&sb, "Result from %s (stage %d):\n%s\n\n", o.agent, o.stage+1, o.output)
	}
	sb.WriteString("Synthesize these results into one coherent answer to the original query.")
	return sb.String()
}

func labeledConcat(outputs []stageOutput) string {
	var sb strings.Builder
	for _, o := range outputs {
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", o.agent, o.output)
	}
	return strings.TrimSpace(sb.String())
}

func chainInput(prior, input string) string {
	if prior == "" {
		return input
	}
	return fmt.Sprintf("Based on the following result:\n\n%s\n\nNow: %s", prior, input)
}

func failedNode(spec Node, reason string) NodeResult {
	return NodeResult{
		AgentID:   spec.AgentID,
		AgentName: spec.AgentName,
		Input:     spec.Input,
		Error:     reason,
	}
}

func stageStatus(nodes []NodeResult) string {
	failed := 0
	for _, n := range nodes {
		if n.Failed() {
			failed++
		}
	}
	switch {
	case failed == 0:
		return StageStatusCompleted
	case failed == len(nodes):
		return StageStatusFailed
	default:
		return StageStatusPartial
	}
}

// stageCarry is the text handed to the next stage: a sequential stage hands
// over its last good output, a parallel stage the labeled set of outputs.
func stageCarry(sr StageResult) string {
	if sr.Type == StageParallel {
		var outputs []stageOutput
		for _, n := range sr.Nodes {
			if n.Failed() || strings.TrimSpace(n.Output) == "" {
				continue
			}
			name := n.AgentName
			if name == "" {
				name = n.AgentID
			}
			outputs = append(outputs, stageOutput{agent: name, output: n.Output})
		}
		return labeledConcat(outputs)
	}

	for i := len(sr.Nodes) - 1; i >= 0; i-- {
		if !sr.Nodes[i].Failed() && strings.TrimSpace(sr.Nodes[i].Output) != "" {
			return sr.Nodes[i].Output
		}
	}
	return ""
}
