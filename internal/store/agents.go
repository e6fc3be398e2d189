package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AgentRecord mirrors a configured agent into the store so clients can list
// the catalog without access to the config file. Definition is the full
// descriptor as JSON.
type AgentRecord struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Description string          `json:"description,omitempty"`
	Model       string          `json:"model,omitempty"`
	Definition  json.RawMessage `json:"definition"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func scanAgent(scanner interface {
	Scan(dest ...any) error
}) (*AgentRecord, error) {
	a := &AgentRecord{}
	var description, model *string
	var definition string
	err := scanner.Scan(&a.ID, &a.Name, &a.Type, &description, &model, &definition, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if description != nil {
		a.Description = *description
	}
	if model != nil {
		a.Model = *model
	}
	a.Definition = json.RawMessage(definition)
	return a, nil
}

func (s *Store) SaveAgent(a *AgentRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO agents (id, name, type, description, model, definition, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			description = excluded.description,
			model = excluded.model,
			definition = excluded.definition,
			updated_at = CURRENT_TIMESTAMP`,
		a.ID, a.Name, a.Type, nullEmpty(a.Description), nullEmpty(a.Model), string(a.Definition))
	if err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

func (s *Store) GetAgent(id string) (*AgentRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, name, type, description, model, definition, updated_at
		FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

func (s *Store) ListAgents() ([]AgentRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, name, type, description, model, definition, updated_at
		FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []AgentRecord
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) DeleteAgent(id string) error {
	if _, err := s.db.Exec(`DELETE FROM agents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	return nil
}

// DeleteAgentsNotIn removes agents absent from the given id set. The catalog
// uses it to purge rows for agents dropped from configuration.
func (s *Store) DeleteAgentsNotIn(ids []string) error {
	if len(ids) == 0 {
		if _, err := s.db.Exec(`DELETE FROM agents`); err != nil {
			return fmt.Errorf("delete agents: %w", err)
		}
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := s.db.Exec(`DELETE FROM agents WHERE id NOT IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("delete stale agents: %w", err)
	}
	return nil
}
