package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/config"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/model"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/store"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/tools"
)

const (
	historyLimit     = 20
	maxFollowUpNodes = 3
)

// pipeline bundles the per-config components so a reload swaps them
// atomically while in-flight turns keep the set they started with.
type pipeline struct {
	invoker     *Invoker
	planner     *Planner
	coordinator *Coordinator
	validator   *Validator
	router      *Router
	cfg         config.EngineConfig
}

// Engine is the turn orchestrator. It routes each turn to an agent, runs
// either a single invocation or the full plan/execute/synthesize/review
// pipeline, persists the outcome and publishes progress events. Turns for
// the same conversation run one at a time; conversations run concurrently.
type Engine struct {
	models  *model.Registry
	tools   *tools.Registry
	catalog Catalog
	store   *store.Store
	publish EventFunc

	mu     sync.Mutex
	pipe   *pipeline
	queues map[string]*ConversationQueue

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewEngine(models *model.Registry, registry *tools.Registry, catalog Catalog, st *store.Store, cfg config.EngineConfig, publish EventFunc) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		models:  models,
		tools:   registry,
		catalog: catalog,
		store:   st,
		publish: publish,
		queues:  make(map[string]*ConversationQueue),
		baseCtx: ctx,
		cancel:  cancel,
	}
	e.pipe = e.buildPipeline(cfg)
	return e
}

func (e *Engine) buildPipeline(cfg config.EngineConfig) *pipeline {
	inv := NewInvoker(e.models, e.tools, cfg)
	return &pipeline{
		invoker:     inv,
		planner:     NewPlanner(inv, e.catalog, cfg),
		coordinator: NewCoordinator(inv, e.catalog, cfg, e.publish),
		validator:   NewValidator(inv, e.catalog, cfg),
		router:      NewRouter(e.models, e.catalog),
		cfg:         cfg,
	}
}

// UpdateConfig replaces the engine configuration. In-flight turns finish
// with the components they started with.
func (e *Engine) UpdateConfig(cfg config.EngineConfig) {
	pipe := e.buildPipeline(cfg)
	e.mu.Lock()
	e.pipe = pipe
	e.mu.Unlock()
	slog.Info("engine config updated", "max_steps", cfg.MaxSteps, "review_rounds", cfg.ReviewRounds)
}

func (e *Engine) pipeline() *pipeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pipe
}

// Close stops accepting queued turns and waits for in-flight ones.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// Submit enqueues a turn for asynchronous execution and returns the request
// with its identifiers assigned. Progress and the final answer are delivered
// through the event stream.
func (e *Engine) Submit(req TurnRequest) (TurnRequest, error) {
	if strings.TrimSpace(req.Query) == "" {
		return req, fmt.Errorf("empty query")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.ConversationID == "" {
		req.ConversationID = req.ID
	}

	if e.store != nil {
		_ = e.store.SaveTurn(&store.TurnRun{
			ID:             req.ID,
			ConversationID: req.ConversationID,
			AgentID:        req.AgentID,
			Query:          req.Query,
			Status:         string(TurnQueued),
			StartedAt:      time.Now(),
		})
	}
	e.event("turn_queued", map[string]any{
		"turn_id":         req.ID,
		"conversation_id": req.ConversationID,
		"query":           req.Query,
	})

	e.enqueue(req)
	e.wg.Add(1)
	go e.drain(req.ConversationID)
	return req, nil
}

// Queued returns the number of turns waiting across all conversations.
func (e *Engine) Queued() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, q := range e.queues {
		n += q.Len()
	}
	return n
}

func (e *Engine) enqueue(req TurnRequest) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.queues[req.ConversationID]
	if !ok {
		q = NewConversationQueue(req.ConversationID)
		e.queues[req.ConversationID] = q
	}
	q.Enqueue(req)
}

func (e *Engine) queue(conversationID string) *ConversationQueue {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.queues[conversationID]
	if !ok {
		q = NewConversationQueue(conversationID)
		e.queues[conversationID] = q
	}
	return q
}

func (e *Engine) evictIfIdle(conversationID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if q, ok := e.queues[conversationID]; ok && q.Idle() {
		delete(e.queues, conversationID)
	}
}

func (e *Engine) drain(conversationID string) {
	defer e.wg.Done()

	q := e.queue(conversationID)
	if !q.TryLock() {
		return // another drainer owns this conversation
	}
	for {
		req, ok := q.Dequeue()
		if !ok {
			break
		}
		if e.baseCtx.Err() != nil {
			break
		}
		e.RunTurn(e.baseCtx, req)
	}
	q.Unlock()
	e.evictIfIdle(conversationID)
}

// RunTurn executes one turn synchronously and returns its result. Failures
// degrade to the best available partial answer with a machine readable
// status; RunTurn never returns an error.
func (e *Engine) RunTurn(ctx context.Context, req TurnRequest) *TurnResult {
	p := e.pipeline()

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.ConversationID == "" {
		req.ConversationID = req.ID
	}

	res := &TurnResult{
		TurnID:         req.ID,
		ConversationID: req.ConversationID,
		Query:          req.Query,
		Status:         TurnRunning,
		StartedAt:      time.Now(),
	}
	e.saveTurn(res)
	e.event("turn_started", map[string]any{
		"turn_id":         res.TurnID,
		"conversation_id": res.ConversationID,
		"query":           req.Query,
	})

	// History is loaded before the incoming message is saved so the turn's
	// own query is not duplicated into its context.
	tctx := TurnContext{
		TurnID:         req.ID,
		ConversationID: req.ConversationID,
		History:        e.history(req.ConversationID),
	}
	e.saveMessage(req.ConversationID, req.ID, model.RoleUser, req.Query)

	agent, query, err := p.router.Route(ctx, req)
	if err != nil {
		res.Status = TurnFailed
		res.Error = err.Error()
		return e.finish(res)
	}
	res.AgentID = agent.ID

	slog.Info("turn started", "turn", req.ID, "agent", agent.ID, "type", agent.Type)

	if agent.Type == AgentWorkflow {
		e.runWorkflow(ctx, p, tctx, res, query)
	} else {
		e.runDirect(ctx, p, tctx, res, agent, query)
	}

	return e.finish(res)
}

func (e *Engine) runDirect(ctx context.Context, p *pipeline, tctx TurnContext, res *TurnResult, agent *AgentDescriptor, query string) {
	out, err := p.invoker.Invoke(ctx, agent, tctx, query)
	if err != nil {
		res.Status = TurnFailed
		res.Error = err.Error()
		return
	}

	res.Answer = out.Output
	if out.Incomplete {
		res.Status = TurnPartial
	} else {
		res.Status = TurnCompleted
	}
}

func (e *Engine) runWorkflow(ctx context.Context, p *pipeline, tctx TurnContext, res *TurnResult, query string) {
	plan, err := p.planner.Plan(ctx, tctx, query)
	if err != nil {
		res.Status = TurnFailed
		res.Error = err.Error()
		return
	}
	res.Plan = plan
	e.event("plan_created", map[string]any{
		"turn_id":  tctx.TurnID,
		"strategy": string(plan.Strategy),
		"stages":   len(plan.Stages),
		"nodes":    plan.NodeCount(),
	})

	res.Stages = p.coordinator.ExecutePlan(ctx, tctx, plan)

	answer, ok := p.coordinator.Synthesize(ctx, tctx, plan, res.Stages)
	if !ok {
		res.Status = TurnFailed
		res.Error = ErrAllStagesFailed.Error()
		return
	}
	res.Answer = answer

	e.review(ctx, p, tctx, res, plan, query)
	res.Status = workflowStatus(res)
}

// review runs the bounded QA loop: score the answer, research the reported
// gaps, merge the findings and score again. It stops on a passing verdict,
// on an exhausted round budget, or when the gap set stops changing.
func (e *Engine) review(ctx context.Context, p *pipeline, tctx TurnContext, res *TurnResult, plan *WorkflowPlan, query string) {
	verdict := p.validator.Review(ctx, tctx, query, res.Answer)
	if verdict == nil {
		return
	}
	res.Verdict = verdict

	for verdict.Status == VerdictFail && res.ReviewRounds < p.cfg.ReviewRounds {
		followUp := e.followUpPlan(verdict, query)
		if followUp == nil {
			res.Caveat = true
			return
		}

		res.ReviewRounds++
		e.event("review_round", map[string]any{
			"turn_id": tctx.TurnID,
			"round":   res.ReviewRounds,
			"gaps":    len(verdict.Gaps),
		})
		slog.Info("review round", "turn", tctx.TurnID, "round", res.ReviewRounds, "gaps", len(verdict.Gaps))

		fstages := p.coordinator.ExecutePlan(ctx, tctx, followUp)
		base := len(res.Stages)
		for i := range fstages {
			fstages[i].Stage = base + i
		}
		res.Stages = append(res.Stages, fstages...)

		res.Answer = e.mergeAnswer(ctx, p, tctx, plan, query, res.Answer, fstages)

		next := p.validator.Review(ctx, tctx, query, res.Answer)
		if next == nil {
			return
		}
		res.Verdict = next

		if next.Status == VerdictFail && gapsEqual(verdict.Gaps, next.Gaps) {
			slog.Info("review stagnated, accepting answer with caveat", "turn", tctx.TurnID, "round", res.ReviewRounds)
			res.Caveat = true
			return
		}
		verdict = next
	}

	if verdict.Status == VerdictFail {
		res.Caveat = true
	}
}

// followUpPlan builds a one-stage plan researching the verdict's gaps.
// Returns nil when no gap is actionable.
func (e *Engine) followUpPlan(verdict *QAVerdict, query string) *WorkflowPlan {
	gaps := followUpGaps(verdict)
	if len(gaps) > maxFollowUpNodes {
		gaps = gaps[:maxFollowUpNodes]
	}

	var nodes []Node
	for _, g := range gaps {
		agent := e.gapAgent(g)
		if agent == nil {
			continue
		}
		input := g.SuggestedQuery
		if input == "" {
			input = fmt.Sprintf("Research the following missing information: %s", g.Missing)
		}
		nodes = append(nodes, Node{
			AgentID:   agent.ID,
			AgentName: agent.Name,
			Input:     input,
			Rationale: g.Missing,
		})
	}
	if len(nodes) == 0 {
		return nil
	}

	stageType := StageParallel
	strategy := PlanParallel
	if len(nodes) == 1 {
		stageType = StageSequential
		strategy = PlanSimple
	}
	return &WorkflowPlan{
		OriginalQuery: query,
		Strategy:      strategy,
		Stages:        []Stage{{Type: stageType, Nodes: nodes}},
	}
}

func (e *Engine) gapAgent(g Gap) *AgentDescriptor {
	if g.SuggestedAgentType != "" {
		if agents := e.catalog.ByType(AgentType(g.SuggestedAgentType)); len(agents) > 0 && routable(agents[0]) {
			return agents[0]
		}
	}
	return e.catalog.DefaultAgent()
}

// mergeAnswer folds follow-up findings into the prior answer, through the
// plan's synthesizer when one is configured.
func (e *Engine) mergeAnswer(ctx context.Context, p *pipeline, tctx TurnContext, plan *WorkflowPlan, query, prior string, fstages []StageResult) string {
	outputs := successfulOutputs(fstages)
	if len(outputs) == 0 {
		return prior
	}

	if plan.SynthesizerAgentID != "" {
		if agent, ok := e.catalog.Get(plan.SynthesizerAgentID); ok {
			res, err := p.invoker.Invoke(ctx, agent, tctx, mergeInput(query, prior, outputs))
			if err == nil && strings.TrimSpace(res.Output) != "" {
				return res.Output
			}
			slog.Warn("merge synthesis failed, appending findings", "turn", tctx.TurnID, "error", err)
		}
	}
	return prior + "\n\n" + labeledConcat(outputs)
}

func mergeInput(query, prior string, outputs []stageOutput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Original query: %s\n\nCurrent answer:\n%s\n\nAdditional findings:\n\n", query, prior)
	for _, o := range outputs {
		fmt.Fprintf(&sb, "Result from %s:\n%s\n\n", o.agent, o.output)
	}
	sb.WriteString("Fold the additional findings into the current answer and produce one improved, coherent answer to the original query.")
	return sb.String()
}

// workflowStatus derives the turn status. A passing verdict marks the turn
// completed even when some nodes failed along the way; without review the
// stage outcomes decide.
func workflowStatus(res *TurnResult) TurnStatus {
	if res.Verdict != nil {
		if res.Verdict.Status == VerdictPass && !res.Caveat {
			return TurnCompleted
		}
		return TurnPartial
	}

	if res.Caveat {
		return TurnPartial
	}
	for _, s := range res.Stages {
		if s.Status != StageStatusCompleted {
			return TurnPartial
		}
		for _, n := range s.Nodes {
			if n.Incomplete {
				return TurnPartial
			}
		}
	}
	return TurnCompleted
}

func (e *Engine) finish(res *TurnResult) *TurnResult {
	res.FinishedAt = time.Now()
	if res.Answer != "" {
		e.saveMessage(res.ConversationID, res.TurnID, model.RoleAssistant, res.Answer)
	}
	e.saveTurn(res)
	data := map[string]any{
		"turn_id":         res.TurnID,
		"conversation_id": res.ConversationID,
		"status":          string(res.Status),
		"answer":          res.Answer,
		"caveat":          res.Caveat,
		"review_rounds":   res.ReviewRounds,
	}
	if res.Error != "" {
		data["error"] = res.Error
	}
	e.event("turn_completed", data)
	slog.Info("turn finished",
		"turn", res.TurnID,
		"status", res.Status,
		"rounds", res.ReviewRounds,
		"duration", time.Since(res.StartedAt).Round(time.Millisecond))
	return res
}

func (e *Engine) event(event string, data map[string]any) {
	if e.publish != nil {
		e.publish(event, data)
	}
}

func (e *Engine) history(conversationID string) []model.Message {
	if e.store == nil {
		return nil
	}
	msgs, err := e.store.RecentMessages(conversationID, historyLimit)
	if err != nil {
		slog.Warn("load history failed", "conversation", conversationID, "error", err)
		return nil
	}

	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case model.RoleUser, model.RoleAssistant:
			out = append(out, model.Message{Role: m.Role, Content: m.Content})
		}
	}
	return out
}

func (e *Engine) saveMessage(conversationID, turnID, role, content string) {
	if e.store == nil {
		return
	}
	err := e.store.SaveMessage(&store.Message{
		ConversationID: conversationID,
		TurnID:         turnID,
		Role:           role,
		Content:        content,
	})
	if err != nil {
		slog.Error("save message failed", "conversation", conversationID, "error", err)
	}
}

func (e *Engine) saveTurn(res *TurnResult) {
	if e.store == nil {
		return
	}

	rec := &store.TurnRun{
		ID:             res.TurnID,
		ConversationID: res.ConversationID,
		AgentID:        res.AgentID,
		Query:          res.Query,
		Status:         string(res.Status),
		Answer:         res.Answer,
		ReviewRounds:   res.ReviewRounds,
		Caveat:         res.Caveat,
		Error:          res.Error,
		StartedAt:      res.StartedAt,
	}
	if res.Plan != nil {
		if b, err := json.Marshal(res.Plan); err == nil {
			rec.Plan = b
		}
	}
	if len(res.Stages) > 0 {
		if b, err := json.Marshal(res.Stages); err == nil {
			rec.Stages = b
		}
	}
	if res.Verdict != nil {
		if b, err := json.Marshal(res.Verdict); err == nil {
			rec.Verdict = b
		}
	}
	if !res.FinishedAt.IsZero() {
		rec.FinishedAt = &res.FinishedAt
	}

	if err := e.store.SaveTurn(rec); err != nil {
		slog.Error("save turn failed", "turn", res.TurnID, "error", err)
	}
}
