package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/lucid-mcp/mcpgate/internal/store"
	"golang.org/x/sync/errgroup"
)

// BuiltinPrefix marks server ids that resolve in-process.
const BuiltinPrefix = "builtin:"

// IsBuiltinServer reports whether the id addresses an in-process server.
func IsBuiltinServer(id string) bool {
	return strings.HasPrefix(id, BuiltinPrefix)
}

// ExtractBuiltinName strips the builtin: prefix.
func ExtractBuiltinName(id string) string {
	return strings.TrimPrefix(id, BuiltinPrefix)
}

// ToolInfo describes one tool exposed by a server.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolContent is one content element of a tool result.
type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolResult is the MCP call result shape.
type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// TextResult wraps text into a single-element tool result.
func TextResult(text string) *ToolResult {
	return &ToolResult{Content: []ToolContent{{Type: "text", Text: text}}}
}

// ErrorResult wraps text into a tool result with isError set.
func ErrorResult(text string) *ToolResult {
	return &ToolResult{Content: []ToolContent{{Type: "text", Text: text}}, IsError: true}
}

// BuiltinServer is an MCP server bundled in-process.
type BuiltinServer interface {
	Name() string
	ListTools(ctx context.Context) ([]ToolInfo, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error)
}

// ServerTools pairs a builtin server id with its tool listing.
type ServerTools struct {
	ServerID   string
	ServerName string
	Tools      []ToolInfo
}

// Builtins is the process-wide registry of in-process servers. The
// collection is fixed at construction; handles are opened lazily and
// cached.
type Builtins struct {
	mu      sync.Mutex
	servers map[string]BuiltinServer
	names   []string // registration order
}

// NewBuiltins registers the given servers.
func NewBuiltins(servers ...BuiltinServer) *Builtins {
	b := &Builtins{servers: make(map[string]BuiltinServer, len(servers))}
	for _, s := range servers {
		if _, dup := b.servers[s.Name()]; dup {
			continue
		}
		b.servers[s.Name()] = s
		b.names = append(b.names, s.Name())
	}
	return b
}

// Names returns the builtin server names in registration order.
func (b *Builtins) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.names))
	copy(out, b.names)
	return out
}

// Get returns the builtin server by bare name (no prefix).
func (b *Builtins) Get(name string) (BuiltinServer, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.servers[name]
	return s, ok
}

// ListAllTools queries every builtin in parallel. A failing server
// contributes an empty tool list rather than failing the whole listing.
func (b *Builtins) ListAllTools(ctx context.Context) []ServerTools {
	names := b.Names()
	out := make([]ServerTools, len(names))

	g, gCtx := errgroup.WithContext(ctx)
	for i, name := range names {
		srv, _ := b.Get(name)
		g.Go(func() error {
			tools, err := srv.ListTools(gCtx)
			if err != nil {
				slog.Warn("builtin tool listing failed", "server", name, "error", err)
				tools = nil
			}
			out[i] = ServerTools{
				ServerID:   BuiltinPrefix + name,
				ServerName: name,
				Tools:      tools,
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// EnsurePassports idempotently upserts a system passport per builtin so
// the catalog reflects the in-process fleet.
func (b *Builtins) EnsurePassports(ctx context.Context, ps store.PassportStore) error {
	for _, name := range b.Names() {
		id := BuiltinPrefix + name
		if _, err := ps.GetPassport(ctx, id); err == nil {
			continue
		}

		srv, _ := b.Get(name)
		var cache []store.ToolDescriptor
		if tools, err := srv.ListTools(ctx); err == nil {
			for _, t := range tools {
				cache = append(cache, store.ToolDescriptor{Name: t.Name, Description: t.Description})
			}
		}
		meta, err := json.Marshal(store.MCPServerMetadata{
			Transport:  TransportBuiltin,
			ToolsCache: cache,
		})
		if err != nil {
			return fmt.Errorf("marshal builtin metadata: %w", err)
		}

		p := &store.Passport{
			PassportID: id,
			Type:       store.TypeMCP,
			Owner:      store.OwnerSystem,
			Name:       name,
			Metadata:   meta,
			Status:     store.StatusActive,
		}
		if err := ps.CreatePassport(ctx, p); err != nil && !errors.Is(err, store.ErrAlreadyExists) {
			return fmt.Errorf("upsert builtin passport %s: %w", id, err)
		}
	}
	return nil
}
