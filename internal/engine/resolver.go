package engine

import "sort"

// EffectiveOrder returns the agent's enabled bindings sorted into their
// execution order: priority tier first, then execution_order, then
// declaration order. The sort is stable so equal keys keep declaration
// order.
func EffectiveOrder(agent *AgentDescriptor) []ToolBinding {
	out := make([]ToolBinding, 0, len(agent.Tools))
	for _, b := range agent.Tools {
		if b.Enabled {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if ri, rj := out[i].Priority.Rank(), out[j].Priority.Rank(); ri != rj {
			return ri < rj
		}
		return out[i].ExecutionOrder < out[j].ExecutionOrder
	})
	return out
}

// Resolve returns the next binding to attempt given the runs recorded so far
// in this invocation, or nil when every eligible binding has been attempted.
// Pure; the invoker re-evaluates it after every run.
func Resolve(agent *AgentDescriptor, runs []ToolRunRecord) *ToolBinding {
	attempted := make(map[string]bool, len(runs))
	for _, r := range runs {
		// Skipped records mean the tool never executed; it may still run
		// later once its strategy allows it.
		if r.Status != RunSkipped {
			attempted[r.Tool] = true
		}
	}

	for _, b := range EffectiveOrder(agent) {
		if attempted[b.Tool] {
			continue
		}
		if strategyAllows(b.Strategy, runs) {
			bc := b
			return &bc
		}
	}
	return nil
}

// Eligible looks up the named tool's binding and reports whether its
// strategy allows it to run now. Unknown and disabled tools return (nil,
// false).
func Eligible(agent *AgentDescriptor, tool string, runs []ToolRunRecord) (*ToolBinding, bool) {
	for _, b := range EffectiveOrder(agent) {
		if b.Tool != tool {
			continue
		}
		bc := b
		return &bc, strategyAllows(b.Strategy, runs)
	}
	return nil, false
}

func strategyAllows(s Strategy, runs []ToolRunRecord) bool {
	switch s {
	case StrategyIfPreferredFails:
		last := lastPreferredRun(runs)
		return last != nil && (last.Status == RunFailed || last.Status == RunTimedOut)
	case StrategyIfNoPreferredResults:
		last := lastPreferredRun(runs)
		return last == nil || last.Status == RunEmpty
	case StrategyNeverIfPreferredSucceeds:
		return !preferredSucceeded(runs)
	default:
		// StrategyAlways and anything unrecognized.
		return true
	}
}

// lastPreferredRun returns the most recent preferred-tier record that
// actually executed.
func lastPreferredRun(runs []ToolRunRecord) *ToolRunRecord {
	for i := len(runs) - 1; i >= 0; i-- {
		if runs[i].Priority == PriorityPreferred && runs[i].Status != RunSkipped {
			return &runs[i]
		}
	}
	return nil
}

// preferredSucceeded reports whether any preferred-tier run succeeded. A
// succeeded record already implies the run met its binding's min_results
// threshold.
func preferredSucceeded(runs []ToolRunRecord) bool {
	for _, r := range runs {
		if r.Priority == PriorityPreferred && r.Status == RunSucceeded {
			return true
		}
	}
	return false
}

// classifyRun turns a tool outcome into a run status. A nil err with a
// reported count below the binding's threshold is empty, not a success.
func classifyRun(b *ToolBinding, count int, hasCount bool, err error, timedOut bool) RunStatus {
	switch {
	case timedOut:
		return RunTimedOut
	case err != nil:
		return RunFailed
	case hasCount && count == 0:
		return RunEmpty
	case hasCount && b.MinResults > 0 && count < b.MinResults:
		return RunEmpty
	default:
		return RunSucceeded
	}
}
