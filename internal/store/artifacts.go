package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Artifact is a piece of content produced during a turn and kept for later
// retrieval, typically via the artifact tools.
type Artifact struct {
	ID        string    `json:"id"`
	TurnID    string    `json:"turn_id,omitempty"`
	Title     string    `json:"title"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func scanArtifact(scanner interface {
	Scan(dest ...any) error
}) (*Artifact, error) {
	a := &Artifact{}
	var turnID *string
	err := scanner.Scan(&a.ID, &turnID, &a.Title, &a.Kind, &a.Content, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if turnID != nil {
		a.TurnID = *turnID
	}
	return a, nil
}

func (s *Store) SaveArtifact(a *Artifact) error {
	if a.Kind == "" {
		a.Kind = "text"
	}
	_, err := s.db.Exec(`
		INSERT INTO artifacts (id, turn_id, title, kind, content)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			kind = excluded.kind,
			content = excluded.content`,
		a.ID, nullEmpty(a.TurnID), a.Title, a.Kind, a.Content)
	if err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}
	return nil
}

func (s *Store) GetArtifact(id string) (*Artifact, error) {
	row := s.db.QueryRow(`
		SELECT id, turn_id, title, kind, content, created_at
		FROM artifacts WHERE id = ?`, id)
	a, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return a, nil
}

func (s *Store) ListArtifacts(limit int) ([]Artifact, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, turn_id, title, kind, content, created_at
		FROM artifacts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) DeleteArtifact(id string) error {
	if _, err := s.db.Exec(`DELETE FROM artifacts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}
