package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// TurnRun is the persisted record of one turn: the query, the plan the
// engine produced, per-stage results and the final answer. Plan, Stages and
// Verdict hold engine JSON verbatim so clients can replay progress.
type TurnRun struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	AgentID        string          `json:"agent_id,omitempty"`
	Query          string          `json:"query"`
	Status         string          `json:"status"`
	Plan           json.RawMessage `json:"plan,omitempty"`
	Stages         json.RawMessage `json:"stages,omitempty"`
	Answer         string          `json:"answer,omitempty"`
	Verdict        json.RawMessage `json:"verdict,omitempty"`
	ReviewRounds   int             `json:"review_rounds,omitempty"`
	Caveat         bool            `json:"caveat,omitempty"`
	Error          string          `json:"error,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
}

func scanTurn(scanner interface {
	Scan(dest ...any) error
}) (*TurnRun, error) {
	t := &TurnRun{}
	var agentID, plan, stages, answer, verdict, lastError *string
	err := scanner.Scan(&t.ID, &t.ConversationID, &agentID, &t.Query, &t.Status,
		&plan, &stages, &answer, &verdict, &t.ReviewRounds, &t.Caveat, &lastError,
		&t.StartedAt, &t.FinishedAt)
	if err != nil {
		return nil, err
	}
	if agentID != nil {
		t.AgentID = *agentID
	}
	if plan != nil {
		t.Plan = json.RawMessage(*plan)
	}
	if stages != nil {
		t.Stages = json.RawMessage(*stages)
	}
	if answer != nil {
		t.Answer = *answer
	}
	if verdict != nil {
		t.Verdict = json.RawMessage(*verdict)
	}
	if lastError != nil {
		t.Error = *lastError
	}
	return t, nil
}

const turnColumns = `id, conversation_id, agent_id, query, status,
	plan, stages, answer, verdict, review_rounds, caveat, error,
	started_at, finished_at`

// SaveTurn inserts or updates a turn record.
func (s *Store) SaveTurn(t *TurnRun) error {
	_, err := s.db.Exec(`
		INSERT INTO turns (id, conversation_id, agent_id, query, status,
			plan, stages, answer, verdict, review_rounds, caveat, error, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_id = excluded.agent_id,
			status = excluded.status,
			plan = excluded.plan,
			stages = excluded.stages,
			answer = excluded.answer,
			verdict = excluded.verdict,
			review_rounds = excluded.review_rounds,
			caveat = excluded.caveat,
			error = excluded.error,
			finished_at = excluded.finished_at`,
		t.ID, t.ConversationID, nullEmpty(t.AgentID), t.Query, t.Status,
		nullRaw(t.Plan), nullRaw(t.Stages), nullEmpty(t.Answer), nullRaw(t.Verdict),
		t.ReviewRounds, t.Caveat, nullEmpty(t.Error), t.FinishedAt)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

func (s *Store) GetTurn(id string) (*TurnRun, error) {
	row := s.db.QueryRow(`SELECT `+turnColumns+` FROM turns WHERE id = ?`, id)
	t, err := scanTurn(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get turn: %w", err)
	}
	return t, nil
}

func (s *Store) ListTurns(limit int) ([]TurnRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+turnColumns+` FROM turns
		ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()
	return collectTurns(rows)
}

// ConversationTurns returns the conversation's most recent turns, oldest
// first.
func (s *Store) ConversationTurns(conversationID string, limit int) ([]TurnRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT `+turnColumns+` FROM turns
		WHERE conversation_id = ?
		ORDER BY started_at DESC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation turns: %w", err)
	}
	defer rows.Close()

	turns, err := collectTurns(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func collectTurns(rows *sql.Rows) ([]TurnRun, error) {
	var out []TurnRun
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func nullEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}
