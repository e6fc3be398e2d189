// Package scheduler polls for due schedules and submits their queries to
// the engine as ordinary turns.
package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/promptlyagentai/promptlyagent-sub003/internal/bus"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/config"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/engine"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/schedule"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/store"
)

// Submitter enqueues turns. *engine.Engine satisfies it.
type Submitter interface {
	Submit(req engine.TurnRequest) (engine.TurnRequest, error)
}

type Scheduler struct {
	store  *store.Store
	engine Submitter
	client *bus.Client

	mu           sync.Mutex
	pollInterval time.Duration
	reloadCh     chan struct{}
}

func New(st *store.Store, eng Submitter, client *bus.Client, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:        st,
		engine:       eng,
		client:       client,
		pollInterval: cfg.PollInterval,
		reloadCh:     make(chan struct{}, 1),
	}
}

// UpdateConfig changes the poll interval and signals the run loop to reset
// its ticker.
func (s *Scheduler) UpdateConfig(pollInterval time.Duration) {
	s.mu.Lock()
	s.pollInterval = pollInterval
	s.mu.Unlock()
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pollInterval <= 0 {
		s.pollInterval = 30 * time.Second
	}
	return s.pollInterval
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.interval())

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.interval())
			slog.Info("scheduler config reloaded", "poll_interval", s.interval())
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	due, err := s.store.DueSchedules(time.Now())
	if err != nil {
		slog.Error("failed to list due schedules", "error", err)
		return
	}

	for _, sc := range due {
		if ctx.Err() != nil {
			return
		}
		s.trigger(sc)
	}
}

// trigger submits one due schedule's query and advances its next run time.
// The turn itself runs asynchronously on the engine's queue; the recorded
// status reflects submission, the turn's outcome lands in the turns table.
func (s *Scheduler) trigger(sc store.Schedule) {
	slog.Info("triggering schedule", "id", sc.ID, "name", sc.Name)

	// Claim the run first: next_run_at moves forward before the submission,
	// so a crash mid-submit skips the run instead of firing it twice on
	// restart.
	next := schedule.NextRun(sc.Schedule, time.Now())
	if err := s.store.MarkScheduleRun(sc.ID, "submitted", "", next); err != nil {
		slog.Error("failed to claim schedule run", "id", sc.ID, "error", err)
		return
	}
	if next == nil {
		slog.Info("no next run, schedule completed", "id", sc.ID, "name", sc.Name)
	}

	var turnID string
	status := "submitted"

	req, err := s.engine.Submit(engine.TurnRequest{
		// Runs of the same schedule share a conversation so each turn
		// sees earlier results as context.
		ConversationID: "sched-" + sc.ID,
		AgentID:        sc.AgentID,
		Query:          sc.Query,
	})
	if err != nil {
		status = "error"
		slog.Error("schedule submission failed", "id", sc.ID, "error", err)
		if merr := s.store.MarkScheduleRun(sc.ID, status, err.Error(), next); merr != nil {
			slog.Error("failed to mark schedule run", "id", sc.ID, "error", merr)
		}
	} else {
		turnID = req.ID
	}

	s.publishTriggered(sc, turnID, status)
}

func (s *Scheduler) publishTriggered(sc store.Schedule, turnID, status string) {
	if s.client == nil {
		return
	}

	event := map[string]any{
		"type":      "schedule_triggered",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data": map[string]any{
			"id":      sc.ID,
			"name":    sc.Name,
			"status":  status,
			"turn_id": turnID,
		},
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = s.client.Publish(bus.TopicScheduleEvents(sc.ID), data)
}
