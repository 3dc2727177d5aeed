package api

import (
	"net/http"

	"github.com/lucid-mcp/mcpgate/internal/session"
)

type createSessionRequest struct {
	AgentID string         `json:"agent_id,omitempty"`
	Budget  session.Budget `json:"budget"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	key := apiKeyFrom(r.Context())

	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	sess := s.sessions.Create(key.TenantID, req.Budget, req.AgentID)
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	key := apiKeyFrom(r.Context())

	sess := s.sessions.Get(key.TenantID, r.PathValue("id"))
	if sess == nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	key := apiKeyFrom(r.Context())

	if !s.sessions.Close(key.TenantID, r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
