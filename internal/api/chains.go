package api

import (
	"fmt"
	"net/http"

	"github.com/lucid-mcp/mcpgate/internal/auth"
	"github.com/lucid-mcp/mcpgate/internal/chain"
)

// executeChain validates and runs a multi-step chain. Scopes are
// checked for every step up front so a chain never starts if any step
// would be denied mid-flight.
func (s *Server) executeChain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := apiKeyFrom(ctx)

	if err := s.policy.Check(s.tenantPlan(ctx, key.TenantID), FeatureChains); err != nil {
		writeDispatchError(w, err)
		return
	}

	var req chain.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeDispatchError(w, err)
		return
	}
	for _, step := range req.Steps {
		if !auth.ScopeAllows(key.Scopes, step.Server, step.Tool) {
			s.recordDenied(ctx, key, step.Server, step.Tool, "insufficient scope for chain step "+step.ID)
			writeError(w, http.StatusForbidden, fmt.Sprintf("Insufficient scope for step %q", step.ID))
			return
		}
	}

	if req.SessionID == "" {
		req.SessionID = r.Header.Get("X-Session-Id")
	}

	res, err := s.chains.Execute(ctx, key.TenantID, req)
	if err != nil {
		writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
