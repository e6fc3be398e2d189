package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/promptlyagentai/promptlyagent-sub003/internal/store"
)

func (s *Server) listKnowledge(w http.ResponseWriter, r *http.Request) {
	collection := r.URL.Query().Get("collection")
	entries, err := s.knowledge.List(collection)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Listings carry metadata only; full content comes from the get endpoint.
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		m := map[string]any{
			"id":         e.ID,
			"collection": e.Collection,
			"title":      e.Title,
			"updated_at": e.UpdatedAt,
		}
		if e.Source != "" {
			m["source"] = e.Source
		}
		out = append(out, m)
	}
	jsonResponse(w, out)
}

func (s *Server) searchKnowledge(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		jsonError(w, "q is required", http.StatusBadRequest)
		return
	}
	collection := r.URL.Query().Get("collection")
	limit := queryInt(r, "limit", 10)

	hits, err := s.knowledge.Search(q, collection, limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if hits == nil {
		hits = []store.KnowledgeHit{}
	}
	jsonResponse(w, hits)
}

func (s *Server) createKnowledge(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Collection string `json:"collection"`
		Title      string `json:"title"`
		Content    string `json:"content"`
		Source     string `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	entry := store.KnowledgeEntry{
		Collection: body.Collection,
		Title:      body.Title,
		Content:    body.Content,
		Source:     body.Source,
	}
	if err := s.knowledge.Add(&entry); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	jsonResponse(w, map[string]string{"id": entry.ID, "status": "created"})
}

func (s *Server) importKnowledge(w http.ResponseWriter, r *http.Request) {
	count, err := s.knowledge.ImportDir()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]any{"imported": count})
}

func (s *Server) getKnowledge(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entry, err := s.knowledge.Get(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entry == nil {
		jsonError(w, "knowledge entry not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, entry)
}

func (s *Server) deleteKnowledge(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.knowledge.Delete(id); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) listArtifacts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	artifacts, err := s.store.ListArtifacts(limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]map[string]any, 0, len(artifacts))
	for _, a := range artifacts {
		out = append(out, map[string]any{
			"id":         a.ID,
			"turn_id":    a.TurnID,
			"title":      a.Title,
			"kind":       a.Kind,
			"created_at": a.CreatedAt,
		})
	}
	jsonResponse(w, out)
}

func (s *Server) getArtifact(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a, err := s.store.GetArtifact(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if a == nil {
		jsonError(w, "artifact not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, a)
}
