// Package engine implements the workflow and tool orchestration core: tool
// resolution, agent invocation, workflow planning, stage execution, synthesis
// and QA review. The engine owns turn execution end to end; transport and
// persistence live in gateway, bus and store.
package engine

import (
	"time"

	"github.com/promptlyagentai/promptlyagent-sub003/internal/model"
)

// AgentType is an agent's capability class.
type AgentType string

const (
	AgentIndividual  AgentType = "individual"
	AgentDirect      AgentType = "direct"
	AgentWorkflow    AgentType = "workflow"
	AgentPromptly    AgentType = "promptly"
	AgentSynthesizer AgentType = "synthesizer"
	AgentQA          AgentType = "qa"
)

// Priority is a tool binding's tier. Preferred tools run first; standard
// and fallback tools run depending on their strategy.
type Priority string

const (
	PriorityPreferred Priority = "preferred"
	PriorityStandard  Priority = "standard"
	PriorityFallback  Priority = "fallback"
)

// Rank orders tiers for sorting. Unknown tiers sort with standard.
func (p Priority) Rank() int {
	switch p {
	case PriorityPreferred:
		return 0
	case PriorityFallback:
		return 2
	default:
		return 1
	}
}

// Strategy controls when a binding becomes eligible, evaluated against the
// outcome of the preferred tier so far.
type Strategy string

const (
	StrategyAlways                   Strategy = "always"
	StrategyIfPreferredFails         Strategy = "if_preferred_fails"
	StrategyIfNoPreferredResults     Strategy = "if_no_preferred_results"
	StrategyNeverIfPreferredSucceeds Strategy = "never_if_preferred_succeeds"
)

// ToolBinding attaches a tool to an agent with its execution policy.
type ToolBinding struct {
	Tool             string         `json:"tool" yaml:"tool"`
	Enabled          bool           `json:"enabled" yaml:"enabled"`
	Priority         Priority       `json:"priority" yaml:"priority"`
	ExecutionOrder   int            `json:"execution_order" yaml:"execution_order"`
	Strategy         Strategy       `json:"strategy" yaml:"strategy"`
	MinResults       int            `json:"min_results,omitempty" yaml:"min_results"`
	MaxExecutionTime int            `json:"max_execution_time,omitempty" yaml:"max_execution_time"`
	Config           map[string]any `json:"config,omitempty" yaml:"config"`
}

// Timeout returns the binding's per-call deadline.
func (b ToolBinding) Timeout() time.Duration {
	if b.MaxExecutionTime <= 0 {
		return 30 * time.Second
	}
	return time.Duration(b.MaxExecutionTime) * time.Millisecond
}

// AgentDescriptor is an immutable agent definition. The catalog owns
// descriptors; the engine only ever reads them.
type AgentDescriptor struct {
	ID           string        `json:"id" yaml:"id"`
	Name         string        `json:"name" yaml:"name"`
	Type         AgentType     `json:"type" yaml:"type"`
	Description  string        `json:"description,omitempty" yaml:"description"`
	SystemPrompt string        `json:"system_prompt,omitempty" yaml:"system_prompt"`
	Tools        []ToolBinding `json:"tools,omitempty" yaml:"tools"`
	MaxSteps     int           `json:"max_steps,omitempty" yaml:"max_steps"`
	Streaming    bool          `json:"streaming,omitempty" yaml:"streaming"`
	Model        string        `json:"model,omitempty" yaml:"model"`
}

// RunStatus classifies one tool run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunEmpty     RunStatus = "empty"
	RunFailed    RunStatus = "failed"
	RunSkipped   RunStatus = "skipped"
	RunTimedOut  RunStatus = "timed_out"
)

// ToolRunRecord is the outcome of a single tool run within one invocation.
// Status is classified at record time: succeeded already implies the result
// count met the binding's min_results threshold.
type ToolRunRecord struct {
	Tool        string    `json:"tool"`
	Priority    Priority  `json:"priority"`
	Status      RunStatus `json:"status"`
	ResultCount *int      `json:"result_count,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	Payload     any       `json:"payload,omitempty"`
}

// PlanStrategy is the overall shape of a workflow plan.
type PlanStrategy string

const (
	PlanSimple     PlanStrategy = "simple"
	PlanSequential PlanStrategy = "sequential"
	PlanParallel   PlanStrategy = "parallel"
	PlanMixed      PlanStrategy = "mixed"
)

// StageType says whether a stage's nodes run concurrently or in series.
type StageType string

const (
	StageParallel   StageType = "parallel"
	StageSequential StageType = "sequential"
)

// Node is one agent task inside a stage.
type Node struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name,omitempty"`
	Input     string `json:"input"`
	Rationale string `json:"rationale,omitempty"`
}

// Stage is an ordered group of nodes executed together.
type Stage struct {
	Type  StageType `json:"type"`
	Nodes []Node    `json:"nodes"`
}

// WorkflowPlan is the planner's output and the wire format shown to clients.
// Plans are immutable during execution; review rounds build a new plan.
type WorkflowPlan struct {
	OriginalQuery            string       `json:"original_query"`
	Strategy                 PlanStrategy `json:"strategy"`
	Stages                   []Stage      `json:"stages"`
	SynthesizerAgentID       string       `json:"synthesizer_agent_id,omitempty"`
	EstimatedDurationSeconds int          `json:"estimated_duration_seconds,omitempty"`
}

// NodeCount returns the total number of nodes across all stages.
func (p *WorkflowPlan) NodeCount() int {
	n := 0
	for _, s := range p.Stages {
		n += len(s.Nodes)
	}
	return n
}

// NodeResult is the outcome of executing one node.
type NodeResult struct {
	AgentID    string          `json:"agent_id"`
	AgentName  string          `json:"agent_name,omitempty"`
	Input      string          `json:"input,omitempty"`
	Output     string          `json:"output,omitempty"`
	ToolRuns   []ToolRunRecord `json:"tool_runs,omitempty"`
	Incomplete bool            `json:"incomplete,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMS int64           `json:"duration_ms"`
}

// Failed reports whether the node produced no usable output.
func (r NodeResult) Failed() bool {
	return r.Error != ""
}

// Stage statuses. A stage is failed only when every node failed.
const (
	StageStatusRunning   = "running"
	StageStatusCompleted = "completed"
	StageStatusPartial   = "partial"
	StageStatusFailed    = "failed"
)

// StageResult collects the node results of one stage.
type StageResult struct {
	Stage      int          `json:"stage"`
	Type       StageType    `json:"type"`
	Status     string       `json:"status"`
	Nodes      []NodeResult `json:"nodes"`
	DurationMS int64        `json:"duration_ms"`
}

// Verdict statuses.
const (
	VerdictPass = "pass"
	VerdictFail = "fail"
)

// RequirementCheck is one requirement the QA validator extracted from the
// query and checked against the answer.
type RequirementCheck struct {
	Requirement string `json:"requirement"`
	Addressed   bool   `json:"addressed"`
	Evidence    string `json:"evidence,omitempty"`
}

// GapImportance grades how much a gap matters.
type GapImportance string

const (
	GapCritical   GapImportance = "critical"
	GapImportant  GapImportance = "important"
	GapNiceToHave GapImportance = "nice-to-have"
)

// Gap is a missing piece of the answer with a suggested follow-up.
type Gap struct {
	Missing            string        `json:"missing"`
	Importance         GapImportance `json:"importance"`
	Impact             string        `json:"impact,omitempty"`
	SuggestedQuery     string        `json:"suggested_query,omitempty"`
	SuggestedAgentType string        `json:"suggested_agent_type,omitempty"`
}

// QAVerdict is the validator's scoring of an answer. Status is recomputed
// from the thresholds by the engine, never trusted from the model.
type QAVerdict struct {
	Status       string             `json:"status"`
	Completeness int                `json:"completeness"`
	Depth        int                `json:"depth"`
	Accuracy     int                `json:"accuracy"`
	Coherence    int                `json:"coherence"`
	Requirements []RequirementCheck `json:"requirements,omitempty"`
	Gaps         []Gap              `json:"gaps,omitempty"`
}

// CriticalGaps returns the verdict's critical gaps.
func (v *QAVerdict) CriticalGaps() []Gap {
	var out []Gap
	for _, g := range v.Gaps {
		if g.Importance == GapCritical {
			out = append(out, g)
		}
	}
	return out
}

// TurnStatus is the lifecycle state of a turn.
type TurnStatus string

const (
	TurnQueued    TurnStatus = "queued"
	TurnRunning   TurnStatus = "running"
	TurnCompleted TurnStatus = "completed"
	TurnPartial   TurnStatus = "partial"
	TurnFailed    TurnStatus = "failed"
)

// TurnRequest submits one user query.
type TurnRequest struct {
	ID             string `json:"id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	AgentID        string `json:"agent_id,omitempty"`
	Query          string `json:"query"`
}

// TurnResult is the full outcome of a turn. Partial results always carry a
// best-effort answer plus a machine readable status; raw errors never reach
// clients.
type TurnResult struct {
	TurnID         string        `json:"turn_id"`
	ConversationID string        `json:"conversation_id,omitempty"`
	AgentID        string        `json:"agent_id,omitempty"`
	Query          string        `json:"query"`
	Status         TurnStatus    `json:"status"`
	Answer         string        `json:"answer,omitempty"`
	Plan           *WorkflowPlan `json:"plan,omitempty"`
	Stages         []StageResult `json:"stages,omitempty"`
	Verdict        *QAVerdict    `json:"verdict,omitempty"`
	ReviewRounds   int           `json:"review_rounds,omitempty"`
	Caveat         bool          `json:"caveat,omitempty"`
	Error          string        `json:"error,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
}

// TurnContext carries per-turn state into agent invocations.
type TurnContext struct {
	TurnID         string
	ConversationID string
	History        []model.Message
}

// Catalog is the read-only agent registry the engine plans against.
// Implementations must not mutate descriptors while a turn runs.
type Catalog interface {
	Get(id string) (*AgentDescriptor, bool)
	ByType(t AgentType) []*AgentDescriptor
	All() []*AgentDescriptor
	DefaultAgent() *AgentDescriptor
}
