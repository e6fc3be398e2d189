package engine

import (
	"fmt"
	"strings"
	"time"
)

// System prompt template slots.
const (
	SlotConversationContext = "{CONVERSATION_CONTEXT}"
	SlotToolInstructions    = "{TOOL_INSTRUCTIONS}"
	SlotCurrentDate         = "{CURRENT_DATE}"
	SlotUserQuery           = "{USER_QUERY}"
)

// renderPrompt replaces known {SLOT} placeholders in a template. Placeholders
// without a value in slots are left intact.
func renderPrompt(template string, slots map[string]string) string {
	if template == "" || len(slots) == 0 {
		return template
	}
	pairs := make([]string, 0, len(slots)*2)
	for k, v := range slots {
		pairs = append(pairs, k, v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// toolInstructions renders the agent's tool bindings, in effective order,
// into the text filled into {TOOL_INSTRUCTIONS}.
func toolInstructions(agent *AgentDescriptor, describe func(tool string) string) string {
	bindings := EffectiveOrder(agent)
	if len(bindings) == 0 {
		return "No tools are available for this task."
	}

	var sb strings.Builder
	sb.WriteString("Available tools, in order of preference:\n")
	for _, b := range bindings {
		desc := describe(b.Tool)
		if desc == "" {
			desc = "no description"
		}
		fmt.Fprintf(&sb, "- %s (%s): %s\n", b.Tool, b.Priority, desc)
		if b.MinResults > 0 {
			fmt.Fprintf(&sb, "  Results below %d are treated as no results.\n", b.MinResults)
		}
	}
	return sb.String()
}

// promptSlots builds the slot values for one invocation.
func promptSlots(tctx TurnContext, tools, query string) map[string]string {
	ctxText := "No prior conversation."
	if len(tctx.History) > 0 {
		var sb strings.Builder
		for _, m := range tctx.History {
			fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
		}
		ctxText = sb.String()
	}
	return map[string]string{
		SlotConversationContext: ctxText,
		SlotToolInstructions:    tools,
		SlotCurrentDate:         time.Now().UTC().Format("2006-01-02"),
		SlotUserQuery:           query,
	}
}
