package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/lucid-mcp/mcpgate/internal/registry"
)

const (
	clientTTL     = 30 * time.Minute
	sweepInterval = 5 * time.Minute
)

// MCPClient is the slice of the SDK client surface the router uses.
type MCPClient interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// ServerConfig is what the pool needs to dial one MCP server.
type ServerConfig struct {
	Transport string
	URL       string
	Command   string
	Args      []string
	Env       []string
	Headers   map[string]string
}

// ClientFactory dials and initializes an MCP client for a config.
// Swapped out in tests.
type ClientFactory func(ctx context.Context, cfg ServerConfig) (MCPClient, error)

// NewMCPClient is the production factory: it dials the configured
// transport, starts it where the SDK requires an explicit start, and
// runs the initialize handshake.
func NewMCPClient(ctx context.Context, cfg ServerConfig) (MCPClient, error) {
	var (
		cli *mcpclient.Client
		err error
	)
	switch cfg.Transport {
	case registry.TransportStreamableHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		cli, err = mcpclient.NewStreamableHttpClient(cfg.URL, opts...)
	case registry.TransportSSE:
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, mcpclient.WithHeaders(cfg.Headers))
		}
		cli, err = mcpclient.NewSSEMCPClient(cfg.URL, opts...)
	case registry.TransportStdio:
		cli, err = mcpclient.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTransport, cfg.Transport)
	}
	if err != nil {
		return nil, fmt.Errorf("router: dial %s client: %w", cfg.Transport, err)
	}

	// stdio starts on construction; the HTTP transports do not.
	if cfg.Transport != registry.TransportStdio {
		if err := cli.Start(ctx); err != nil {
			_ = cli.Close()
			return nil, fmt.Errorf("router: start %s transport: %w", cfg.Transport, err)
		}
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "mcpgate", Version: "1.0.0"}
	if _, err := cli.Initialize(ctx, initReq); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("router: initialize handshake: %w", err)
	}
	return cli, nil
}

type poolEntry struct {
	client   MCPClient
	lastUsed time.Time
}

// Pool caches MCP clients keyed by tenant:server_id. Entries are
// created lazily and reaped by a background sweeper once idle past the
// client TTL.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*poolEntry
	factory ClientFactory
	logger  *slog.Logger

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// NewPool builds a pool around the given factory.
func NewPool(factory ClientFactory, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		entries: make(map[string]*poolEntry),
		factory: factory,
		logger:  logger,
	}
}

func poolKey(tenantID, serverID string) string {
	return tenantID + ":" + serverID
}

// Acquire returns the cached client for (tenant, server), dialing on
// first use.
func (p *Pool) Acquire(ctx context.Context, tenantID, serverID string, cfg ServerConfig) (MCPClient, error) {
	key := poolKey(tenantID, serverID)

	p.mu.Lock()
	if e, ok := p.entries[key]; ok {
		e.lastUsed = time.Now()
		cli := e.client
		p.mu.Unlock()
		return cli, nil
	}
	p.mu.Unlock()

	// Dialing happens outside the lock; slow upstreams must not stall
	// unrelated acquisitions.
	cli, err := p.factory(ctx, cfg)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok {
		// Lost the race; keep the existing entry.
		_ = cli.Close()
		e.lastUsed = time.Now()
		return e.client, nil
	}
	p.entries[key] = &poolEntry{client: cli, lastUsed: time.Now()}
	return cli, nil
}

// Drop removes and closes the client for (tenant, server), if cached.
func (p *Pool) Drop(tenantID, serverID string) {
	key := poolKey(tenantID, serverID)

	p.mu.Lock()
	e, ok := p.entries[key]
	delete(p.entries, key)
	p.mu.Unlock()

	if ok {
		if err := e.client.Close(); err != nil {
			p.logger.Warn("pool: close dropped client", "key", key, "error", err)
		}
	}
}

// Size reports the number of cached clients.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// StartSweeper reaps idle clients in the background until Stop.
func (p *Pool) StartSweeper() {
	p.mu.Lock()
	if p.stopSweep != nil {
		p.mu.Unlock()
		return
	}
	p.stopSweep = make(chan struct{})
	p.sweepDone = make(chan struct{})
	stop, done := p.stopSweep, p.sweepDone
	p.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.sweep(clientTTL)
			}
		}
	}()
}

func (p *Pool) sweep(ttl time.Duration) {
	cutoff := time.Now().Add(-ttl)

	p.mu.Lock()
	var idle []*poolEntry
	for key, e := range p.entries {
		if e.lastUsed.Before(cutoff) {
			idle = append(idle, e)
			delete(p.entries, key)
		}
	}
	p.mu.Unlock()

	for _, e := range idle {
		_ = e.client.Close()
	}
	if len(idle) > 0 {
		p.logger.Debug("pool: reaped idle clients", "count", len(idle))
	}
}

// Stop halts the sweeper and closes every cached client.
func (p *Pool) Stop() {
	p.mu.Lock()
	stop, done := p.stopSweep, p.sweepDone
	p.stopSweep, p.sweepDone = nil, nil
	entries := p.entries
	p.entries = make(map[string]*poolEntry)
	p.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	for _, e := range entries {
		_ = e.client.Close()
	}
}
