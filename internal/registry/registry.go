// Package registry maintains the tenant-scoped catalog of MCP servers:
// passport-backed registrations plus the in-process builtin fleet.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lucid-mcp/mcpgate/internal/store"
)

// Transports accepted on registration.
const (
	TransportStreamableHTTP = "streamable-http"
	TransportSSE            = "sse"
	TransportStdio          = "stdio"
	TransportBuiltin        = "builtin"
)

// RegisterInput is the shape of a server registration request.
type RegisterInput struct {
	Name         string            `json:"name"`
	Transport    string            `json:"transport"`
	URL          string            `json:"url,omitempty"`
	Command      string            `json:"command,omitempty"`
	Args         []string          `json:"args,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	Description  string            `json:"description,omitempty"`
	AuthProvider string            `json:"auth_provider,omitempty"`
}

// ValidationError describes a rejected registration input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks the registration shape: the transport must be known,
// remote transports need a URL and stdio needs a command.
func (in *RegisterInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	switch in.Transport {
	case TransportStreamableHTTP, TransportSSE:
		if in.URL == "" {
			return &ValidationError{Field: "url", Reason: "required for " + in.Transport}
		}
	case TransportStdio:
		if in.Command == "" {
			return &ValidationError{Field: "command", Reason: "required for stdio"}
		}
	case TransportBuiltin:
	case "":
		return &ValidationError{Field: "transport", Reason: "required"}
	default:
		return &ValidationError{Field: "transport", Reason: fmt.Sprintf("unknown transport %q", in.Transport)}
	}
	return nil
}

// Registry wraps the passport store with tool-catalog semantics.
type Registry struct {
	store store.PassportStore
}

// New creates a Registry over the given passport store.
func New(s store.PassportStore) *Registry {
	return &Registry{store: s}
}

// GeneratePassportID returns a fresh opaque passport id.
func GeneratePassportID() string {
	return "passport_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Register validates the input and writes an active tool passport owned
// by the tenant.
func (r *Registry) Register(ctx context.Context, tenantID string, in RegisterInput) (*store.Passport, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	meta := store.MCPServerMetadata{
		Transport:    in.Transport,
		URL:          in.URL,
		Command:      in.Command,
		Args:         in.Args,
		Env:          in.Env,
		AuthProvider: in.AuthProvider,
	}
	metadata, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	p := &store.Passport{
		PassportID:  GeneratePassportID(),
		Type:        store.TypeTool,
		Owner:       tenantID,
		Name:        in.Name,
		Description: in.Description,
		Metadata:    metadata,
		Status:      store.StatusActive,
	}
	if err := r.store.CreatePassport(ctx, p); err != nil {
		return nil, fmt.Errorf("create passport: %w", err)
	}
	return p, nil
}

// Get returns the raw passport. Callers own the tenant-isolation check.
func (r *Registry) Get(ctx context.Context, id string) (*store.Passport, error) {
	return r.store.GetPassport(ctx, id)
}

// List returns the tenant's active tool passports, newest first.
func (r *Registry) List(ctx context.Context, tenantID string, page, perPage int) ([]store.Passport, int, error) {
	return r.store.ListPassports(ctx, store.PassportFilter{
		Type:    store.TypeTool,
		Owner:   tenantID,
		Status:  store.StatusActive,
		Page:    page,
		PerPage: perPage,
	})
}

// Remove soft-deletes the passport. Idempotent.
func (r *Registry) Remove(ctx context.Context, id string) error {
	return r.store.RevokePassport(ctx, id)
}

// ServerMetadata decodes the passport metadata into its MCP server shape.
func ServerMetadata(p *store.Passport) (*store.MCPServerMetadata, error) {
	var meta store.MCPServerMetadata
	if err := json.Unmarshal(p.Metadata, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", p.PassportID, err)
	}
	return &meta, nil
}

// UpdateTools stores the most recently observed tool list under
// metadata.tools_cache, preserving any free-form metadata fields.
func (r *Registry) UpdateTools(ctx context.Context, id string, tools []store.ToolDescriptor) error {
	p, err := r.store.GetPassport(ctx, id)
	if err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(p.Metadata, &raw); err != nil {
		raw = map[string]json.RawMessage{}
	}
	cache, err := json.Marshal(tools)
	if err != nil {
		return fmt.Errorf("marshal tools cache: %w", err)
	}
	raw["tools_cache"] = cache

	metadata, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	p.Metadata = metadata
	return r.store.UpdatePassport(ctx, p)
}
