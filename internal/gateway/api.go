package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/engine"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/schedule"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/store"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Turns
	mux.HandleFunc("POST /api/turns", s.submitTurn)
	mux.HandleFunc("GET /api/turns", s.listTurns)
	mux.HandleFunc("GET /api/turns/{id}", s.getTurn)
	mux.HandleFunc("GET /api/conversations/{id}/turns", s.conversationTurns)

	// Agents
	mux.HandleFunc("GET /api/agents", s.listAgents)
	mux.HandleFunc("GET /api/agents/{id}", s.getAgent)

	// Schedules
	mux.HandleFunc("GET /api/schedules", s.listSchedules)
	mux.HandleFunc("POST /api/schedules", s.createSchedule)
	mux.HandleFunc("PUT /api/schedules/{id}", s.updateSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.deleteSchedule)

	// Secrets
	mux.HandleFunc("GET /api/secrets", s.listSecrets)
	mux.HandleFunc("POST /api/secrets", s.createSecret)
	mux.HandleFunc("GET /api/secrets/{name}", s.getSecret)
	mux.HandleFunc("PUT /api/secrets/{name}", s.updateSecret)
	mux.HandleFunc("DELETE /api/secrets/{name}", s.deleteSecret)

	// Knowledge
	mux.HandleFunc("GET /api/knowledge", s.listKnowledge)
	mux.HandleFunc("GET /api/knowledge/search", s.searchKnowledge)
	mux.HandleFunc("POST /api/knowledge", s.createKnowledge)
	mux.HandleFunc("POST /api/knowledge/import", s.importKnowledge)
	mux.HandleFunc("GET /api/knowledge/{id}", s.getKnowledge)
	mux.HandleFunc("DELETE /api/knowledge/{id}", s.deleteKnowledge)

	// Artifacts
	mux.HandleFunc("GET /api/artifacts", s.listArtifacts)
	mux.HandleFunc("GET /api/artifacts/{id}", s.getArtifact)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) submitTurn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query          string `json:"query"`
		AgentID        string `json:"agent_id"`
		ConversationID string `json:"conversation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Query == "" {
		jsonError(w, "query is required", http.StatusBadRequest)
		return
	}

	req, err := s.engine.Submit(engine.TurnRequest{
		Query:          body.Query,
		AgentID:        body.AgentID,
		ConversationID: body.ConversationID,
	})
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	jsonResponse(w, map[string]string{
		"turn_id":         req.ID,
		"conversation_id": req.ConversationID,
		"status":          "queued",
	})
}

func (s *Server) listTurns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	turns, err := s.store.ListTurns(limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]map[string]any, 0, len(turns))
	for _, t := range turns {
		out = append(out, turnSummary(t))
	}
	jsonResponse(w, out)
}

func (s *Server) getTurn(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, err := s.store.GetTurn(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if t == nil {
		jsonError(w, "turn not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, t)
}

func (s *Server) conversationTurns(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit := queryInt(r, "limit", 20)
	turns, err := s.store.ConversationTurns(id, limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]map[string]any, 0, len(turns))
	for _, t := range turns {
		out = append(out, turnSummary(t))
	}
	jsonResponse(w, out)
}

// turnSummary trims a turn for listings: no plan, stages or verdict bodies.
func turnSummary(t store.TurnRun) map[string]any {
	m := map[string]any{
		"id":              t.ID,
		"conversation_id": t.ConversationID,
		"query":           t.Query,
		"status":          t.Status,
		"started_at":      t.StartedAt,
	}
	if t.AgentID != "" {
		m["agent_id"] = t.AgentID
	}
	if t.Answer != "" {
		m["answer"] = t.Answer
	}
	if t.Caveat {
		m["caveat"] = true
	}
	if t.Error != "" {
		m["error"] = t.Error
	}
	if t.FinishedAt != nil {
		m["finished_at"] = t.FinishedAt
	}
	return m
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.catalog.All())
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a, ok := s.catalog.Get(id)
	if !ok {
		jsonError(w, "agent not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, a)
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.store.ListSchedules()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(schedules))
	for _, sc := range schedules {
		out = append(out, scheduleToAPI(sc))
	}
	jsonResponse(w, out)
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Schedule string `json:"schedule"`
		Query    string `json:"query"`
		AgentID  string `json:"agent_id"`
		Enabled  *bool  `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Name == "" || body.Schedule == "" || body.Query == "" {
		jsonError(w, "name, schedule, and query are required", http.StatusBadRequest)
		return
	}

	normalized, err := schedule.Normalize(body.Schedule)
	if err != nil {
		jsonError(w, fmt.Sprintf("invalid schedule: %v", err), http.StatusBadRequest)
		return
	}

	status := "active"
	if body.Enabled != nil && !*body.Enabled {
		status = "paused"
	}

	sc := store.Schedule{
		ID:       uuid.NewString(),
		Name:     body.Name,
		Schedule: normalized,
		Query:    body.Query,
		AgentID:  body.AgentID,
		Status:   status,
	}
	if status == "active" {
		sc.NextRunAt = schedule.NextRun(normalized, time.Now())
	}

	if err := s.store.SaveSchedule(&sc); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, scheduleToAPI(sc))
}

func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	existing, err := s.store.GetSchedule(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing == nil {
		jsonError(w, "schedule not found", http.StatusNotFound)
		return
	}

	var body struct {
		Name     *string `json:"name"`
		Schedule *string `json:"schedule"`
		Query    *string `json:"query"`
		AgentID  *string `json:"agent_id"`
		Enabled  *bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if body.Name != nil {
		existing.Name = *body.Name
	}
	if body.Query != nil {
		existing.Query = *body.Query
	}
	if body.AgentID != nil {
		existing.AgentID = *body.AgentID
	}
	if body.Enabled != nil {
		if *body.Enabled {
			existing.Status = "active"
		} else if existing.Status != "completed" {
			existing.Status = "paused"
		}
	}
	if body.Schedule != nil {
		normalized, err := schedule.Normalize(*body.Schedule)
		if err != nil {
			jsonError(w, fmt.Sprintf("invalid schedule: %v", err), http.StatusBadRequest)
			return
		}
		existing.Schedule = normalized
	}

	if existing.Status == "active" {
		existing.NextRunAt = schedule.NextRun(existing.Schedule, time.Now())
	} else {
		existing.NextRunAt = nil
	}

	if err := s.store.SaveSchedule(existing); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, scheduleToAPI(*existing))
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteSchedule(id); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func scheduleToAPI(sc store.Schedule) map[string]any {
	m := map[string]any{
		"id":               sc.ID,
		"name":             sc.Name,
		"schedule":         sc.Schedule,
		"schedule_display": schedule.Describe(sc.Schedule),
		"query":            sc.Query,
		"enabled":          sc.Status == "active",
		"status":           sc.Status,
	}
	if sc.AgentID != "" {
		m["agent_id"] = sc.AgentID
	}
	if sc.LastRunAt != nil {
		m["last_run"] = sc.LastRunAt
		m["last_status"] = sc.LastStatus
	}
	if sc.NextRunAt != nil {
		m["next_run"] = sc.NextRunAt
	}
	return m
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	agents := s.catalog.All()
	schedules, _ := s.store.ListSchedules()

	activeSchedules := 0
	for _, sc := range schedules {
		if sc.Status == "active" {
			activeSchedules++
		}
	}

	recent, _ := s.store.ListTurns(5)
	recentOut := make([]map[string]any, 0, len(recent))
	for _, t := range recent {
		recentOut = append(recentOut, map[string]any{
			"id":     t.ID,
			"status": t.Status,
			"query":  t.Query,
			"time":   formatTime(t.StartedAt),
		})
	}

	jsonResponse(w, map[string]any{
		"status":           "ok",
		"agents_count":     len(agents),
		"queued_turns":     s.engine.Queued(),
		"active_schedules": activeSchedules,
		"recent_turns":     recentOut,
		"uptime":           formatUptime(time.Since(s.startedAt)),
		"version":          s.version,
		"timestamp":        time.Now().UTC(),
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func formatTime(t time.Time) string {
	local := t.Local()
	now := time.Now()
	if local.Year() == now.Year() && local.YearDay() == now.YearDay() {
		return local.Format("15:04")
	}
	return local.Format("Jan 2 15:04")
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
