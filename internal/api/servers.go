package api

import (
	"errors"
	"net/http"

	"github.com/lucid-mcp/mcpgate/internal/registry"
	"github.com/lucid-mcp/mcpgate/internal/store"
)

// registerServer mints a tool passport for an MCP server declaration.
func (s *Server) registerServer(w http.ResponseWriter, r *http.Request) {
	key := apiKeyFrom(r.Context())
	if err := s.policy.Check(s.tenantPlan(r.Context(), key.TenantID), FeatureRegister); err != nil {
		writeDispatchError(w, err)
		return
	}

	var in registry.RegisterInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	p, err := s.registry.Register(r.Context(), key.TenantID, in)
	if err != nil {
		writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// listServers pages through the tenant's active passports.
func (s *Server) listServers(w http.ResponseWriter, r *http.Request) {
	key := apiKeyFrom(r.Context())

	page := queryInt(r, "page", 1)
	perPage := queryInt(r, "per_page", 20)
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	items, total, err := s.registry.List(r.Context(), key.TenantID, page, perPage)
	if err != nil {
		s.logger.Error("list servers", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if items == nil {
		items = []store.Passport{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":      items,
		"pagination": newPagination(page, perPage, total),
	})
}

// deleteServer revokes a passport. The response never distinguishes
// missing passports from passports owned by another tenant, and a
// repeat delete of an owned passport stays 204.
func (s *Server) deleteServer(w http.ResponseWriter, r *http.Request) {
	key := apiKeyFrom(r.Context())
	id := r.PathValue("id")

	p, err := s.registry.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}
	if err != nil {
		s.logger.Error("delete server", "server_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if p.Owner != key.TenantID {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}
	if err := s.registry.Remove(r.Context(), id); err != nil {
		s.logger.Error("revoke passport", "server_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
