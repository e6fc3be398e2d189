package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/promptlyagentai/promptlyagent-sub003/internal/store"
)

// Secret values are sealed before they reach the store and are never
// returned by the API. List and get expose metadata only.

func (s *Server) listSecrets(w http.ResponseWriter, r *http.Request) {
	secrets, err := s.store.ListSecrets()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if secrets == nil {
		secrets = []store.Secret{}
	}
	jsonResponse(w, secrets)
}

func (s *Server) createSecret(w http.ResponseWriter, r *http.Request) {
	if s.vault == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return
	}

	var body struct {
		Name        string `json:"name"`
		Value       string `json:"value"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Name == "" || body.Value == "" {
		jsonError(w, "name and value are required", http.StatusBadRequest)
		return
	}

	ciphertext, nonce, err := s.vault.Seal(body.Name, []byte(body.Value))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sec := store.Secret{
		Name:        body.Name,
		Value:       ciphertext,
		Nonce:       nonce,
		Description: body.Description,
	}
	if err := s.store.SaveSecret(&sec); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	jsonResponse(w, map[string]string{"name": sec.Name, "status": "created"})
}

func (s *Server) getSecret(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	sec, err := s.store.GetSecret(name)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sec == nil {
		jsonError(w, "secret not found", http.StatusNotFound)
		return
	}
	// Metadata only; Value and Nonce are excluded from JSON.
	jsonResponse(w, sec)
}

func (s *Server) updateSecret(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	existing, err := s.store.GetSecret(name)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing == nil {
		jsonError(w, "secret not found", http.StatusNotFound)
		return
	}

	var body struct {
		Value       *string `json:"value"`
		Description *string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if body.Value != nil {
		if s.vault == nil {
			jsonError(w, "vault not configured", http.StatusServiceUnavailable)
			return
		}
		ciphertext, nonce, err := s.vault.Seal(name, []byte(*body.Value))
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		existing.Value = ciphertext
		existing.Nonce = nonce
	}
	if body.Description != nil {
		existing.Description = *body.Description
	}

	if err := s.store.SaveSecret(existing); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"name": name, "status": "updated"})
}

func (s *Server) deleteSecret(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.store.DeleteSecret(name); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}
