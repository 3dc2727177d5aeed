package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/lucid-mcp/mcpgate/internal/credential"
	"github.com/lucid-mcp/mcpgate/internal/registry"
	"github.com/lucid-mcp/mcpgate/internal/session"
	"github.com/lucid-mcp/mcpgate/internal/store"
	"github.com/lucid-mcp/mcpgate/internal/store/sqlite"
)

type fakeClient struct {
	mu       sync.Mutex
	calls    int
	closed   bool
	callErr  error
	callText string
	tools    []mcp.Tool
}

func (f *fakeClient) Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	return &mcp.InitializeResult{}, nil
}

func (f *fakeClient) ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	return &mcp.ListToolsResult{Tools: f.tools}, nil
}

func (f *fakeClient) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.callErr != nil {
		return nil, f.callErr
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: f.callText}},
	}, nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type captureRecorder struct {
	mu      sync.Mutex
	records []CallRecord
}

func (c *captureRecorder) RecordCall(ctx context.Context, rec CallRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
}

func (c *captureRecorder) last(t *testing.T) CallRecord {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.records) == 0 {
		t.Fatal("no call records")
	}
	return c.records[len(c.records)-1]
}

type testEnv struct {
	router   *Router
	registry *registry.Registry
	sessions *session.Store
	pool     *Pool
	recorder *captureRecorder
	dials    *int
	lastCfg  *ServerConfig
}

func newTestEnv(t *testing.T, cli *fakeClient) *testEnv {
	t.Helper()
	db, err := sqlite.New(context.Background(), t.TempDir()+"/test.db")
	if err != nil {
		t.Fatalf("new test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	env := &testEnv{dials: new(int), lastCfg: &ServerConfig{}}
	factory := func(ctx context.Context, cfg ServerConfig) (MCPClient, error) {
		*env.dials++
		*env.lastCfg = cfg
		return cli, nil
	}

	creds := credential.NewChain(credential.NewEnvVarAdapterWithLookup(func(name string) (string, bool) {
		if name == "GITHUB_TOKEN" {
			return "env-token", true
		}
		return "", false
	}))

	env.registry = registry.New(db)
	env.sessions = session.NewStore()
	env.pool = NewPool(factory, nil)
	t.Cleanup(env.pool.Stop)

	env.router = NewRouter(
		env.registry,
		registry.NewBuiltins(registry.NewTimeServer(), registry.NewEchoServer()),
		creds,
		env.sessions,
		env.pool,
		0,
		nil,
	)
	env.recorder = &captureRecorder{}
	env.router.AddRecorder(env.recorder)
	return env
}

func registerServer(t *testing.T, env *testEnv, tenantID, name, authProvider string) string {
	t.Helper()
	p, err := env.registry.Register(context.Background(), tenantID, registry.RegisterInput{
		Name:         name,
		Transport:    registry.TransportStreamableHTTP,
		URL:          "https://upstream.example/mcp",
		AuthProvider: authProvider,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return p.PassportID
}

func TestCallToolBuiltin(t *testing.T) {
	env := newTestEnv(t, &fakeClient{})
	ctx := context.Background()

	res, err := env.router.CallTool(ctx, "tenant_a", "builtin:echo", "echo",
		map[string]any{"message": "hello"}, CallOptions{})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res.IsError || len(res.Content) == 0 || res.Content[0].Text != "hello" {
		t.Fatalf("result = %+v", res)
	}
	if res.ServerID != "builtin:echo" || res.ToolPassportID != "builtin:echo" {
		t.Fatalf("server fields = %+v", res)
	}
	if rec := env.recorder.last(t); rec.Status != store.AuditSuccess {
		t.Fatalf("record = %+v", rec)
	}

	if _, err := env.router.CallTool(ctx, "tenant_a", "builtin:nope", "x", nil, CallOptions{}); !errors.Is(err, ErrServerNotFound) {
		t.Fatalf("unknown builtin err = %v", err)
	}
}

func TestCallToolRemoteSuccess(t *testing.T) {
	cli := &fakeClient{callText: "result text"}
	env := newTestEnv(t, cli)
	ctx := context.Background()
	id := registerServer(t, env, "tenant_a", "Upstream", "github")

	res, err := env.router.CallTool(ctx, "tenant_a", id, "search", map[string]any{"q": "x"}, CallOptions{APIKeyID: "key_1"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res.IsError || res.Content[0].Text != "result text" || res.ToolPassportID != id {
		t.Fatalf("result = %+v", res)
	}

	// Credential chain injected the Authorization header at dial time.
	if got := env.lastCfg.Headers["Authorization"]; got != "Bearer env-token" {
		t.Fatalf("Authorization = %q", got)
	}
	if env.router.Health().Status(id).Status != HealthHealthy {
		t.Fatalf("health = %+v", env.router.Health().Status(id))
	}

	// Second call reuses the pooled client.
	if _, err := env.router.CallTool(ctx, "tenant_a", id, "search", nil, CallOptions{}); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if *env.dials != 1 {
		t.Fatalf("dials = %d, want 1", *env.dials)
	}

	rec := env.recorder.last(t)
	if rec.Status != store.AuditSuccess || rec.StatusBucket != store.BucketSuccess || rec.ServerID != id {
		t.Fatalf("record = %+v", rec)
	}
}

func TestCallToolNotFoundIndistinct(t *testing.T) {
	env := newTestEnv(t, &fakeClient{})
	ctx := context.Background()
	id := registerServer(t, env, "tenant_a", "Upstream", "")

	// Missing, cross-tenant, and revoked passports all read the same.
	if _, err := env.router.CallTool(ctx, "tenant_a", "passport_missing", "t", nil, CallOptions{}); !errors.Is(err, ErrServerNotFound) {
		t.Fatalf("missing err = %v", err)
	}
	if _, err := env.router.CallTool(ctx, "tenant_b", id, "t", nil, CallOptions{}); !errors.Is(err, ErrServerNotFound) {
		t.Fatalf("cross-tenant err = %v", err)
	}
	if err := env.registry.Remove(ctx, id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := env.router.CallTool(ctx, "tenant_a", id, "t", nil, CallOptions{}); !errors.Is(err, ErrServerNotFound) {
		t.Fatalf("revoked err = %v", err)
	}
}

func TestCallToolFailuresOpenCircuit(t *testing.T) {
	cli := &fakeClient{callErr: errors.New("upstream boom")}
	env := newTestEnv(t, cli)
	ctx := context.Background()
	id := registerServer(t, env, "tenant_a", "Flaky", "")

	for i := 0; i < defaultFailureThreshold; i++ {
		_, err := env.router.CallTool(ctx, "tenant_a", id, "t", nil, CallOptions{})
		var ue *UpstreamError
		if !errors.As(err, &ue) {
			t.Fatalf("call %d err = %v", i+1, err)
		}
	}
	// Each failure drops the client from the pool.
	if env.pool.Size() != 0 {
		t.Fatalf("pool size = %d, want 0", env.pool.Size())
	}
	if env.router.Health().Status(id).Status != HealthUnhealthy {
		t.Fatalf("health = %+v", env.router.Health().Status(id))
	}

	_, err := env.router.CallTool(ctx, "tenant_a", id, "t", nil, CallOptions{})
	var co *CircuitOpenError
	if !errors.As(err, &co) {
		t.Fatalf("post-threshold err = %v", err)
	}
	// The open circuit fails fast: no new dial happened.
	if *env.dials != defaultFailureThreshold {
		t.Fatalf("dials = %d, want %d", *env.dials, defaultFailureThreshold)
	}
}

func TestCircuitRecoversAfterRateLimitedTrial(t *testing.T) {
	cli := &fakeClient{callErr: errors.New("upstream boom")}
	env := newTestEnv(t, cli)
	ctx := context.Background()
	id := registerServer(t, env, "tenant_a", "Flaky", "")

	for i := 0; i < defaultFailureThreshold; i++ {
		if _, err := env.router.CallTool(ctx, "tenant_a", id, "t", nil, CallOptions{}); err == nil {
			t.Fatalf("call %d should fail", i+1)
		}
	}
	if env.router.breaker.State(id) != BreakerOpen {
		t.Fatalf("state = %q, want open", env.router.breaker.State(id))
	}

	// Past the cooldown a trial call is admitted, but the empty bucket
	// turns it away before it dispatches.
	env.router.breaker.now = func() time.Time { return time.Now().Add(defaultCooldown + time.Second) }
	env.router.Limiter().Configure(id, RateConfig{Rate: 10, Burst: 1})
	env.router.Limiter().Allow(id)

	_, err := env.router.CallTool(ctx, "tenant_a", id, "t", nil, CallOptions{})
	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("drained-bucket err = %v", err)
	}

	// With tokens back, the next call must get the trial slot instead of
	// staying locked out behind the denied one.
	env.router.Limiter().Configure(id, RateConfig{Rate: 10, Burst: 20})
	cli.callErr = nil
	res, err := env.router.CallTool(ctx, "tenant_a", id, "t", nil, CallOptions{})
	if err != nil {
		t.Fatalf("recovery call: %v", err)
	}
	if res.IsError {
		t.Fatalf("result = %+v", res)
	}
	if env.router.breaker.State(id) != BreakerClosed {
		t.Fatalf("state after recovery = %q, want closed", env.router.breaker.State(id))
	}
}

func TestFailFastRecordsCarryNoBucket(t *testing.T) {
	cli := &fakeClient{callErr: errors.New("upstream boom")}
	env := newTestEnv(t, cli)
	ctx := context.Background()
	id := registerServer(t, env, "tenant_a", "Flaky", "")

	// Unknown server: the call never reached dispatch, so the record
	// must not be metered.
	_, _ = env.router.CallTool(ctx, "tenant_a", "passport_missing", "t", nil, CallOptions{})
	if rec := env.recorder.last(t); rec.Status != store.AuditError || rec.StatusBucket != "" {
		t.Fatalf("not-found record = %+v", rec)
	}
	_, _ = env.router.CallTool(ctx, "tenant_a", "builtin:nope", "t", nil, CallOptions{})
	if rec := env.recorder.last(t); rec.Status != store.AuditError || rec.StatusBucket != "" {
		t.Fatalf("unknown builtin record = %+v", rec)
	}

	// Open the circuit; the fast failure is likewise unmetered.
	for i := 0; i < defaultFailureThreshold; i++ {
		_, _ = env.router.CallTool(ctx, "tenant_a", id, "t", nil, CallOptions{})
	}
	if rec := env.recorder.last(t); rec.StatusBucket != store.BucketError {
		t.Fatalf("dispatched failure record = %+v", rec)
	}
	_, err := env.router.CallTool(ctx, "tenant_a", id, "t", nil, CallOptions{})
	var co *CircuitOpenError
	if !errors.As(err, &co) {
		t.Fatalf("err = %v", err)
	}
	if rec := env.recorder.last(t); rec.Status != store.AuditError || rec.StatusBucket != "" {
		t.Fatalf("circuit-open record = %+v", rec)
	}
}

func TestCallToolTimeoutClassification(t *testing.T) {
	cli := &fakeClient{callErr: context.DeadlineExceeded}
	env := newTestEnv(t, cli)
	ctx := context.Background()
	id := registerServer(t, env, "tenant_a", "Slow", "")

	_, err := env.router.CallTool(ctx, "tenant_a", id, "t", nil, CallOptions{})
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v", err)
	}
	if rec := env.recorder.last(t); rec.StatusBucket != store.BucketTimeout {
		t.Fatalf("record = %+v", rec)
	}
}

func TestCallToolRateLimited(t *testing.T) {
	env := newTestEnv(t, &fakeClient{callText: "ok"})
	ctx := context.Background()
	id := registerServer(t, env, "tenant_a", "Limited", "")
	env.router.Limiter().Configure(id, RateConfig{Rate: 10, Burst: 1})

	if _, err := env.router.CallTool(ctx, "tenant_a", id, "t", nil, CallOptions{}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	_, err := env.router.CallTool(ctx, "tenant_a", id, "t", nil, CallOptions{})
	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("err = %v", err)
	}
	if ms := rl.RetryAfterMs(); ms < 50 || ms > 200 {
		t.Fatalf("retryAfterMs = %d, want ~100", ms)
	}
}

func TestCallToolSessionBudget(t *testing.T) {
	env := newTestEnv(t, &fakeClient{})
	ctx := context.Background()
	max := 1
	sess := env.sessions.Create("tenant_a", session.Budget{MaxToolCalls: &max}, "")

	opts := CallOptions{SessionID: sess.ID}
	if _, err := env.router.CallTool(ctx, "tenant_a", "builtin:time", "unix", nil, opts); err != nil {
		t.Fatalf("first call: %v", err)
	}

	_, err := env.router.CallTool(ctx, "tenant_a", "builtin:time", "unix", nil, opts)
	var be *BudgetError
	if !errors.As(err, &be) || be.Code != session.CodeBudgetCallsExceeded {
		t.Fatalf("err = %v", err)
	}
	if rec := env.recorder.last(t); rec.Status != store.AuditDenied {
		t.Fatalf("record = %+v", rec)
	}
}

func TestListToolsMergesBuiltinAndRemote(t *testing.T) {
	cli := &fakeClient{tools: []mcp.Tool{
		{Name: "repo_search", Description: "Search repositories"},
	}}
	env := newTestEnv(t, cli)
	ctx := context.Background()
	id := registerServer(t, env, "tenant_a", "GitHub MCP", "")

	listings, err := env.router.ListTools(ctx, "tenant_a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	byID := map[string][]registry.ToolInfo{}
	for _, l := range listings {
		byID[l.ServerID] = l.Tools
	}
	if len(byID["builtin:time"]) == 0 || len(byID["builtin:echo"]) == 0 {
		t.Fatalf("builtin listings missing: %v", byID)
	}
	if len(byID[id]) != 1 || byID[id][0].Name != "repo_search" {
		t.Fatalf("remote listing = %+v", byID[id])
	}

	// The live listing refreshed the tools cache on the passport.
	p, err := env.registry.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	meta, err := registry.ServerMetadata(p)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if len(meta.ToolsCache) != 1 || meta.ToolsCache[0].Name != "repo_search" {
		t.Fatalf("tools cache = %+v", meta.ToolsCache)
	}
}

func TestListToolsFiltered(t *testing.T) {
	env := newTestEnv(t, &fakeClient{})
	ctx := context.Background()

	listings, err := env.router.ListToolsFiltered(ctx, "tenant_a", ListFilter{Server: "time"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listings) != 1 || listings[0].ServerID != "builtin:time" {
		t.Fatalf("server filter = %+v", listings)
	}

	listings, err = env.router.ListToolsFiltered(ctx, "tenant_a", ListFilter{Search: "unix"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listings) != 1 || len(listings[0].Tools) != 1 || listings[0].Tools[0].Name != "unix" {
		t.Fatalf("search filter = %+v", listings)
	}

	listings, err = env.router.ListToolsFiltered(ctx, "tenant_a", ListFilter{
		Scopes: []string{"builtin:echo:*"},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, l := range listings {
		if strings.HasPrefix(l.ServerID, "builtin:time") && len(l.Tools) > 0 {
			t.Fatalf("scope filter leaked tools: %+v", l)
		}
	}
}

func TestPoolSweepClosesIdleClients(t *testing.T) {
	cli := &fakeClient{}
	env := newTestEnv(t, cli)
	ctx := context.Background()

	if _, err := env.pool.Acquire(ctx, "tenant_a", "srv", ServerConfig{}); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if env.pool.Size() != 1 {
		t.Fatalf("pool size = %d", env.pool.Size())
	}

	// Nothing is idle yet.
	env.pool.sweep(time.Minute)
	if env.pool.Size() != 1 {
		t.Fatal("fresh client reaped")
	}

	env.pool.sweep(0)
	if env.pool.Size() != 0 || !cli.closed {
		t.Fatalf("idle client not reaped: size=%d closed=%v", env.pool.Size(), cli.closed)
	}
}
