// Package router orchestrates outbound tool calls: session budget
// gating, passport resolution, credential injection, client pooling,
// circuit breaking, rate limiting, and health tracking.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/lucid-mcp/mcpgate/internal/auth"
	"github.com/lucid-mcp/mcpgate/internal/credential"
	"github.com/lucid-mcp/mcpgate/internal/registry"
	"github.com/lucid-mcp/mcpgate/internal/session"
	"github.com/lucid-mcp/mcpgate/internal/store"
)

// ToolCallResult is the gateway-level outcome of one tool invocation.
type ToolCallResult struct {
	Content        []registry.ToolContent `json:"content"`
	IsError        bool                   `json:"isError"`
	ServerID       string                 `json:"server_id"`
	ToolName       string                 `json:"tool_name"`
	DurationMs     int64                  `json:"duration_ms"`
	ToolPassportID string                 `json:"tool_passport_id,omitempty"`
}

// CallOptions carries per-call context beyond the tenant.
type CallOptions struct {
	SessionID string
	APIKeyID  string
}

// CallRecord describes a finished dispatch attempt for observers.
type CallRecord struct {
	TenantID     string
	APIKeyID     string
	SessionID    string
	ServerID     string
	ToolName     string
	Args         map[string]any
	Status       string // store.AuditSuccess / AuditError / AuditDenied
	StatusBucket string // store.BucketSuccess / BucketError / BucketTimeout
	DurationMs   int64
	ErrorMessage string
}

// Recorder observes dispatch outcomes. Implementations must not block
// the call path and must never fail it.
type Recorder interface {
	RecordCall(ctx context.Context, rec CallRecord)
}

// Router is the outbound dispatch engine. One per process.
type Router struct {
	registry    *registry.Registry
	builtins    *registry.Builtins
	credentials *credential.Chain
	sessions    *session.Store
	pool        *Pool
	breaker     *Breaker
	limiter     *RateLimiter
	health      *HealthTracker
	recorders   []Recorder
	logger      *slog.Logger
	callTimeout time.Duration
}

// NewRouter wires the dispatch engine. A zero callTimeout disables the
// per-call ceiling.
func NewRouter(
	reg *registry.Registry,
	builtins *registry.Builtins,
	credentials *credential.Chain,
	sessions *session.Store,
	pool *Pool,
	callTimeout time.Duration,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry:    reg,
		builtins:    builtins,
		credentials: credentials,
		sessions:    sessions,
		pool:        pool,
		breaker:     NewBreaker(),
		limiter:     NewRateLimiter(),
		health:      NewHealthTracker(),
		logger:      logger,
		callTimeout: callTimeout,
	}
}

// AddRecorder attaches an observer for dispatch outcomes.
func (r *Router) AddRecorder(rec Recorder) { r.recorders = append(r.recorders, rec) }

// Breaker exposes the per-server circuit breaker.
func (r *Router) Breaker() *Breaker { return r.breaker }

// Limiter exposes the per-server rate limiter.
func (r *Router) Limiter() *RateLimiter { return r.limiter }

// Health exposes the per-server health tracker.
func (r *Router) Health() *HealthTracker { return r.health }

func (r *Router) record(ctx context.Context, rec CallRecord) {
	for _, o := range r.recorders {
		o.RecordCall(ctx, rec)
	}
}

// CallTool dispatches one tool call end to end.
func (r *Router) CallTool(ctx context.Context, tenantID, serverID, toolName string, args map[string]any, opts CallOptions) (*ToolCallResult, error) {
	rec := CallRecord{
		TenantID:  tenantID,
		APIKeyID:  opts.APIKeyID,
		SessionID: opts.SessionID,
		ServerID:  serverID,
		ToolName:  toolName,
		Args:      args,
	}

	if opts.SessionID != "" {
		if d := r.sessions.Enforce(opts.SessionID, serverID, toolName); !d.Allowed {
			rec.Status = store.AuditDenied
			rec.ErrorMessage = d.Reason
			r.record(ctx, rec)
			return nil, &BudgetError{Code: d.Code, Reason: d.Reason}
		}
	}

	if registry.IsBuiltinServer(serverID) {
		return r.callBuiltin(ctx, serverID, toolName, args, opts, rec)
	}
	return r.callRemote(ctx, tenantID, serverID, toolName, args, opts, rec)
}

func (r *Router) callBuiltin(ctx context.Context, serverID, toolName string, args map[string]any, opts CallOptions, rec CallRecord) (*ToolCallResult, error) {
	srv, ok := r.builtins.Get(registry.ExtractBuiltinName(serverID))
	if !ok {
		rec.Status = store.AuditError
		rec.ErrorMessage = "builtin server not found"
		r.record(ctx, rec)
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, serverID)
	}

	start := time.Now()
	res, err := srv.CallTool(ctx, toolName, args)
	rec.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		rec.Status = store.AuditError
		rec.StatusBucket = store.BucketError
		rec.ErrorMessage = err.Error()
		r.record(ctx, rec)
		return nil, &UpstreamError{ServerID: serverID, Err: err}
	}

	if opts.SessionID != "" {
		r.sessions.RecordUsage(opts.SessionID, 0)
	}
	rec.Status = store.AuditSuccess
	rec.StatusBucket = store.BucketSuccess
	if res.IsError {
		rec.Status = store.AuditError
	}
	r.record(ctx, rec)

	return &ToolCallResult{
		Content:        res.Content,
		IsError:        res.IsError,
		ServerID:       serverID,
		ToolName:       toolName,
		DurationMs:     rec.DurationMs,
		ToolPassportID: serverID,
	}, nil
}

func (r *Router) callRemote(ctx context.Context, tenantID, serverID, toolName string, args map[string]any, opts CallOptions, rec CallRecord) (*ToolCallResult, error) {
	cfg, err := r.resolveServer(ctx, tenantID, serverID)
	if err != nil {
		rec.Status = store.AuditError
		rec.ErrorMessage = err.Error()
		r.record(ctx, rec)
		return nil, err
	}

	if !r.breaker.Allow(serverID) {
		rec.Status = store.AuditError
		rec.ErrorMessage = "circuit open"
		r.record(ctx, rec)
		return nil, &CircuitOpenError{ServerID: serverID}
	}
	if ok, retryAfter := r.limiter.Allow(serverID); !ok {
		// The call never dispatches, so a half-open trial slot taken by
		// Allow above must be handed back.
		r.breaker.CancelProbe(serverID)
		rec.Status = store.AuditDenied
		rec.ErrorMessage = "rate limited"
		r.record(ctx, rec)
		return nil, &RateLimitedError{ServerID: serverID, RetryAfter: retryAfter}
	}

	cli, err := r.pool.Acquire(ctx, tenantID, serverID, *cfg)
	if err != nil {
		r.health.MarkUnhealthy(serverID, err.Error())
		r.breaker.RecordFailure(serverID)
		rec.Status = store.AuditError
		rec.StatusBucket = store.BucketError
		rec.ErrorMessage = err.Error()
		r.record(ctx, rec)
		return nil, &UpstreamError{ServerID: serverID, Err: err}
	}

	callCtx := ctx
	if r.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = args

	start := time.Now()
	res, err := cli.CallTool(callCtx, req)
	rec.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		r.pool.Drop(tenantID, serverID)
		r.health.MarkUnhealthy(serverID, err.Error())
		r.breaker.RecordFailure(serverID)

		rec.Status = store.AuditError
		rec.ErrorMessage = err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			rec.StatusBucket = store.BucketTimeout
			r.record(ctx, rec)
			return nil, &TimeoutError{ServerID: serverID, ToolName: toolName}
		}
		rec.StatusBucket = store.BucketError
		r.record(ctx, rec)
		return nil, &UpstreamError{ServerID: serverID, Err: err}
	}

	r.breaker.RecordSuccess(serverID)
	r.health.MarkHealthy(serverID)
	if opts.SessionID != "" {
		r.sessions.RecordUsage(opts.SessionID, 0)
	}

	rec.Status = store.AuditSuccess
	rec.StatusBucket = store.BucketSuccess
	if res.IsError {
		rec.Status = store.AuditError
	}
	r.record(ctx, rec)

	return &ToolCallResult{
		Content:        convertContent(res.Content),
		IsError:        res.IsError,
		ServerID:       serverID,
		ToolName:       toolName,
		DurationMs:     rec.DurationMs,
		ToolPassportID: serverID,
	}, nil
}

// resolveServer loads the passport, enforces tenant ownership, and
// builds the dialing config including the Authorization header.
// Revoked passports are treated as missing.
func (r *Router) resolveServer(ctx context.Context, tenantID, serverID string) (*ServerConfig, error) {
	p, err := r.registry.Get(ctx, serverID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, serverID)
	}
	if err != nil {
		return nil, fmt.Errorf("router: load passport %s: %w", serverID, err)
	}
	if p.Owner != tenantID || p.Status != store.StatusActive {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, serverID)
	}

	meta, err := registry.ServerMetadata(p)
	if err != nil {
		return nil, fmt.Errorf("router: decode metadata %s: %w", serverID, err)
	}

	cfg := &ServerConfig{
		Transport: meta.Transport,
		URL:       meta.URL,
		Command:   meta.Command,
		Args:      meta.Args,
		Env:       envSlice(meta.Env),
	}
	if meta.AuthProvider != "" {
		tok, err := r.credentials.GetToken(ctx, tenantID, meta.AuthProvider)
		if err != nil {
			return nil, fmt.Errorf("router: resolve credential %s: %w", meta.AuthProvider, err)
		}
		if tok != nil {
			cfg.Headers = map[string]string{"Authorization": tok.AuthorizationHeader()}
			for k, v := range tok.Headers {
				cfg.Headers[k] = v
			}
		}
	}
	return cfg, nil
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func convertContent(content []mcp.Content) []registry.ToolContent {
	out := make([]registry.ToolContent, 0, len(content))
	for _, c := range content {
		if tc, ok := c.(mcp.TextContent); ok {
			out = append(out, registry.ToolContent{Type: "text", Text: tc.Text})
		}
	}
	return out
}

// ServerToolListing is one server's entry in a tool listing.
type ServerToolListing struct {
	ServerID   string              `json:"server_id"`
	ServerName string              `json:"server_name"`
	Tools      []registry.ToolInfo `json:"tools"`
}

// ListTools aggregates builtin and registered servers for a tenant.
// Registered servers are queried live in parallel; a server that cannot
// be reached falls back to its cached tool list.
func (r *Router) ListTools(ctx context.Context, tenantID string) ([]ServerToolListing, error) {
	var out []ServerToolListing
	for _, st := range r.builtins.ListAllTools(ctx) {
		out = append(out, ServerToolListing{
			ServerID:   st.ServerID,
			ServerName: st.ServerName,
			Tools:      st.Tools,
		})
	}

	passports, _, err := r.registry.List(ctx, tenantID, 1, 200)
	if err != nil {
		return nil, fmt.Errorf("router: list passports: %w", err)
	}

	remote := make([]ServerToolListing, len(passports))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, p := range passports {
		g.Go(func() error {
			remote[i] = r.listRemoteTools(gCtx, tenantID, &p)
			return nil
		})
	}
	_ = g.Wait()

	return append(out, remote...), nil
}

func (r *Router) listRemoteTools(ctx context.Context, tenantID string, p *store.Passport) ServerToolListing {
	listing := ServerToolListing{ServerID: p.PassportID, ServerName: p.Name}

	meta, err := registry.ServerMetadata(p)
	if err != nil {
		return listing
	}
	cached := make([]registry.ToolInfo, 0, len(meta.ToolsCache))
	for _, t := range meta.ToolsCache {
		cached = append(cached, registry.ToolInfo{Name: t.Name, Description: t.Description})
	}

	cfg, err := r.resolveServer(ctx, tenantID, p.PassportID)
	if err != nil {
		listing.Tools = cached
		return listing
	}
	cli, err := r.pool.Acquire(ctx, tenantID, p.PassportID, *cfg)
	if err != nil {
		listing.Tools = cached
		return listing
	}
	res, err := cli.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		r.pool.Drop(tenantID, p.PassportID)
		listing.Tools = cached
		return listing
	}

	tools := make([]registry.ToolInfo, 0, len(res.Tools))
	descriptors := make([]store.ToolDescriptor, 0, len(res.Tools))
	for _, t := range res.Tools {
		tools = append(tools, registry.ToolInfo{Name: t.Name, Description: t.Description})
		descriptors = append(descriptors, store.ToolDescriptor{Name: t.Name, Description: t.Description})
	}
	if err := r.registry.UpdateTools(ctx, p.PassportID, descriptors); err != nil {
		r.logger.Warn("router: refresh tools cache", "server_id", p.PassportID, "error", err)
	}
	listing.Tools = tools
	return listing
}

// ListFilter narrows a tool listing.
type ListFilter struct {
	Server string   // contains-match on server id or name
	Search string   // contains-match on tool name or description
	Scopes []string // RBAC scopes; nil allows everything
}

// ListToolsFiltered applies string filters and the RBAC scope filter on
// top of ListTools.
func (r *Router) ListToolsFiltered(ctx context.Context, tenantID string, filter ListFilter) ([]ServerToolListing, error) {
	listings, err := r.ListTools(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	out := make([]ServerToolListing, 0, len(listings))
	for _, l := range listings {
		if filter.Server != "" &&
			!strings.Contains(l.ServerID, filter.Server) &&
			!strings.Contains(l.ServerName, filter.Server) {
			continue
		}
		var tools []registry.ToolInfo
		for _, t := range l.Tools {
			if filter.Search != "" &&
				!strings.Contains(t.Name, filter.Search) &&
				!strings.Contains(t.Description, filter.Search) {
				continue
			}
			if !auth.ScopeAllows(filter.Scopes, l.ServerID, t.Name) {
				continue
			}
			tools = append(tools, t)
		}
		if len(tools) == 0 && (filter.Search != "" || len(filter.Scopes) > 0) {
			continue
		}
		l.Tools = tools
		out = append(out, l)
	}
	return out, nil
}
