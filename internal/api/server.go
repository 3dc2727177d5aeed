// Package api exposes the gateway over JSON/HTTP. Every route resolves
// the caller through the bearer-auth middleware, then walks the
// policy, quota, and RBAC gates before touching the router.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/lucid-mcp/mcpgate/internal/audit"
	"github.com/lucid-mcp/mcpgate/internal/chain"
	"github.com/lucid-mcp/mcpgate/internal/credential"
	"github.com/lucid-mcp/mcpgate/internal/discovery"
	"github.com/lucid-mcp/mcpgate/internal/registry"
	"github.com/lucid-mcp/mcpgate/internal/router"
	"github.com/lucid-mcp/mcpgate/internal/session"
	"github.com/lucid-mcp/mcpgate/internal/store"
)

const serviceName = "mcpgate"

// ServerDeps holds the dependencies needed by the HTTP API server.
type ServerDeps struct {
	Store       store.Store
	Registry    *registry.Registry
	Builtins    *registry.Builtins
	Credentials *credential.Chain
	Sessions    *session.Store
	Router      *router.Router
	Chains      *chain.Executor
	Audit       *audit.Recorder // optional; enables the audit endpoints
	AuditBus    *audit.Bus      // optional; enables the audit SSE stream
	Policy      *Policy         // optional; nil allows everything
	Logger      *slog.Logger
}

// Server is the HTTP API surface.
type Server struct {
	store       store.Store
	registry    *registry.Registry
	builtins    *registry.Builtins
	credentials *credential.Chain
	sessions    *session.Store
	router      *router.Router
	chains      *chain.Executor
	audit       *audit.Recorder
	auditBus    *audit.Bus
	policy      *Policy
	logger      *slog.Logger

	index atomic.Pointer[discovery.Index]
}

// NewServer wires the API server.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:       deps.Store,
		registry:    deps.Registry,
		builtins:    deps.Builtins,
		credentials: deps.Credentials,
		sessions:    deps.Sessions,
		router:      deps.Router,
		chains:      deps.Chains,
		audit:       deps.Audit,
		auditBus:    deps.AuditBus,
		policy:      deps.Policy,
		logger:      logger,
	}
}

// SetDiscoveryIndex swaps the search index. Safe to call while serving.
func (s *Server) SetDiscoveryIndex(idx *discovery.Index) {
	s.index.Store(idx)
}

// Routes builds the full route table.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Public surface.
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("GET /v1/catalog", s.catalog)
	mux.HandleFunc("GET /v1/auth/callback", s.oauthCallback)

	authed := http.NewServeMux()
	authed.HandleFunc("POST /v1/servers/register", s.registerServer)
	authed.HandleFunc("GET /v1/servers", s.listServers)
	authed.HandleFunc("DELETE /v1/servers/{id}", s.deleteServer)
	authed.HandleFunc("POST /v1/tools/call", s.callTool)
	authed.HandleFunc("GET /v1/tools/list", s.listTools)
	authed.HandleFunc("POST /v1/tools/discover", s.discoverTools)
	authed.HandleFunc("POST /v1/chains/execute", s.executeChain)
	authed.HandleFunc("POST /v1/sessions", s.createSession)
	authed.HandleFunc("GET /v1/sessions/{id}", s.getSession)
	authed.HandleFunc("DELETE /v1/sessions/{id}", s.deleteSession)
	authed.HandleFunc("GET /v1/auth/connect/{provider}", s.oauthConnect)
	authed.HandleFunc("GET /v1/audit-logs", s.queryAuditLogs)
	authed.HandleFunc("GET /v1/audit-logs/stats", s.auditStats)
	authed.HandleFunc("GET /v1/audit-logs/stream", s.streamAuditLogs)
	mux.Handle("/v1/", s.authMiddleware(authed))

	return requestIDMiddleware(loggingMiddleware(mux))
}

// tenantPlan resolves the plan for policy checks; unknown tenants get
// the zero plan, which the default policy allows.
func (s *Server) tenantPlan(ctx context.Context, tenantID string) string {
	t, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return ""
	}
	return t.Plan
}

// recordDenied emits the audit entry required once the key and target
// are known.
func (s *Server) recordDenied(ctx context.Context, key *store.APIKey, serverID, toolName, reason string) {
	if s.audit == nil {
		return
	}
	s.audit.RecordCall(ctx, router.CallRecord{
		TenantID:     key.TenantID,
		APIKeyID:     key.ID,
		ServerID:     serverID,
		ToolName:     toolName,
		Status:       store.AuditDenied,
		ErrorMessage: reason,
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "service": serviceName})
}

// catalog is the unauthenticated system listing: builtin fleet only.
func (s *Server) catalog(w http.ResponseWriter, r *http.Request) {
	names := s.builtins.Names()
	servers := make([]map[string]string, 0, len(names))
	for _, n := range names {
		servers = append(servers, map[string]string{
			"id":   registry.BuiltinPrefix + n,
			"name": n,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"builtin_servers": len(names),
		"servers":         servers,
	})
}
