package store

import (
	"database/sql"
	"fmt"
	"time"
)

// KnowledgeEntry is one document in the knowledge base. Entries are indexed
// into an FTS5 table by triggers; SearchKnowledge queries that index.
type KnowledgeEntry struct {
	ID         string    `json:"id"`
	Collection string    `json:"collection"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Source     string    `json:"source,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// KnowledgeHit is one full-text search match.
type KnowledgeHit struct {
	ID         string `json:"id"`
	Collection string `json:"collection"`
	Title      string `json:"title"`
	Excerpt    string `json:"excerpt"`
}

func scanKnowledge(scanner interface {
	Scan(dest ...any) error
}) (*KnowledgeEntry, error) {
	e := &KnowledgeEntry{}
	var source *string
	err := scanner.Scan(&e.ID, &e.Collection, &e.Title, &e.Content, &source, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if source != nil {
		e.Source = *source
	}
	return e, nil
}

func (s *Store) SaveKnowledge(e *KnowledgeEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO knowledge (id, collection, title, content, source, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			collection = excluded.collection,
			title = excluded.title,
			content = excluded.content,
			source = excluded.source,
			updated_at = CURRENT_TIMESTAMP`,
		e.ID, e.Collection, e.Title, e.Content, nullEmpty(e.Source))
	if err != nil {
		return fmt.Errorf("save knowledge: %w", err)
	}
	return nil
}

func (s *Store) GetKnowledge(id string) (*KnowledgeEntry, error) {
	row := s.db.QueryRow(`
		SELECT id, collection, title, content, source, created_at, updated_at
		FROM knowledge WHERE id = ?`, id)
	e, err := scanKnowledge(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get knowledge: %w", err)
	}
	return e, nil
}

// ListKnowledge returns entries, optionally restricted to one collection.
func (s *Store) ListKnowledge(collection string) ([]KnowledgeEntry, error) {
	query := `SELECT id, collection, title, content, source, created_at, updated_at
		FROM knowledge`
	args := []any{}
	if collection != "" {
		query += ` WHERE collection = ?`
		args = append(args, collection)
	}
	query += ` ORDER BY collection, title`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list knowledge: %w", err)
	}
	defer rows.Close()

	var out []KnowledgeEntry
	for rows.Next() {
		e, err := scanKnowledge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan knowledge: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *Store) DeleteKnowledge(id string) error {
	if _, err := s.db.Exec(`DELETE FROM knowledge WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete knowledge: %w", err)
	}
	return nil
}

// SearchKnowledge runs an FTS5 match, best matches first. An empty
// collection searches everything.
func (s *Store) SearchKnowledge(match, collection string, limit int) ([]KnowledgeHit, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT k.id, k.collection, k.title,
		       snippet(knowledge_fts, 1, '[', ']', '...', 12)
		FROM knowledge_fts
		JOIN knowledge k ON k.rowid = knowledge_fts.rowid
		WHERE knowledge_fts MATCH ?`
	args := []any{match}
	if collection != "" {
		query += ` AND k.collection = ?`
		args = append(args, collection)
	}
	query += ` ORDER BY rank LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}
	defer rows.Close()

	var out []KnowledgeHit
	for rows.Next() {
		var h KnowledgeHit
		if err := rows.Scan(&h.ID, &h.Collection, &h.Title, &h.Excerpt); err != nil {
			return nil, fmt.Errorf("scan knowledge hit: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
