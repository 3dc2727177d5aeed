package api

import (
	"errors"
	"net/http"

	"github.com/lucid-mcp/mcpgate/internal/auth"
	"github.com/lucid-mcp/mcpgate/internal/router"
	"github.com/lucid-mcp/mcpgate/internal/store"
)

// maxDiscoverResults caps top_k on the discovery endpoint.
const maxDiscoverResults = 50

type callToolRequest struct {
	ServerID  string         `json:"server_id"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
}

// callTool is the main dispatch endpoint. Gates run in a fixed order:
// plan policy, tenant quota, request shape, key scopes, then the
// router. Quota is consumed before the body is inspected, so malformed
// calls still count against the tenant.
func (s *Server) callTool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := apiKeyFrom(ctx)

	if err := s.policy.Check(s.tenantPlan(ctx, key.TenantID), FeatureToolCall); err != nil {
		writeDispatchError(w, err)
		return
	}
	if err := s.store.ConsumeQuota(ctx, key.TenantID); err != nil {
		if errors.Is(err, store.ErrQuotaExceeded) {
			writeError(w, http.StatusBadRequest, "Quota exceeded")
			return
		}
		s.logger.Error("consume quota", "tenant_id", key.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var req callToolRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ServerID == "" {
		writeError(w, http.StatusBadRequest, "server_id is required")
		return
	}
	if req.ToolName == "" {
		writeError(w, http.StatusBadRequest, "tool_name is required")
		return
	}

	if !auth.ScopeAllows(key.Scopes, req.ServerID, req.ToolName) {
		s.recordDenied(ctx, key, req.ServerID, req.ToolName, "insufficient scope")
		writeError(w, http.StatusForbidden, "Insufficient scope")
		return
	}

	sessionID := r.Header.Get("X-Session-Id")
	if sessionID == "" {
		sessionID = req.SessionID
	}

	res, err := s.router.CallTool(ctx, key.TenantID, req.ServerID, req.ToolName, req.Arguments, router.CallOptions{
		SessionID: sessionID,
		APIKeyID:  key.ID,
	})
	if err != nil {
		writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// listTools returns the tenant-visible tool surface filtered by the
// optional server and search parameters and by the key's scopes.
func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	key := apiKeyFrom(r.Context())

	listings, err := s.router.ListToolsFiltered(r.Context(), key.TenantID, router.ListFilter{
		Server: r.URL.Query().Get("server"),
		Search: r.URL.Query().Get("search"),
		Scopes: key.Scopes,
	})
	if err != nil {
		s.logger.Error("list tools", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if listings == nil {
		listings = []router.ServerToolListing{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": listings})
}

type discoverRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

// discoverTools runs a relevance search over the indexed tool corpus.
// Matches outside the key's scopes are dropped after scoring.
func (s *Server) discoverTools(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := apiKeyFrom(ctx)

	if err := s.policy.Check(s.tenantPlan(ctx, key.TenantID), FeatureDiscovery); err != nil {
		writeDispatchError(w, err)
		return
	}

	var req discoverRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}
	if req.TopK > maxDiscoverResults {
		writeError(w, http.StatusBadRequest, "top_k exceeds the maximum of 50")
		return
	}

	idx := s.index.Load()
	if idx == nil {
		writeJSON(w, http.StatusOK, map[string]any{"results": []any{}})
		return
	}

	matches := idx.Search(req.Query, req.TopK)
	visible := matches[:0]
	for _, m := range matches {
		// The index spans every tenant's passports; a hit is visible only
		// when the caller's tenant (or the system catalog) owns it and
		// the key's scopes cover it.
		if m.Owner != key.TenantID && m.Owner != store.OwnerSystem {
			continue
		}
		if auth.ScopeAllows(key.Scopes, m.ServerID, m.ToolName) {
			visible = append(visible, m)
		}
	}
	if visible == nil {
		writeJSON(w, http.StatusOK, map[string]any{"results": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": visible})
}
