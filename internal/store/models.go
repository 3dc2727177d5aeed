package store

import (
	"encoding/json"
	"time"
)

// Passport statuses.
const (
	StatusActive  = "active"
	StatusRevoked = "revoked"
)

// Passport types.
const (
	TypeTool   = "tool"
	TypeMCP    = "mcp"
	TypeAgent  = "agent"
	TypePlugin = "plugin"
)

// OwnerSystem marks passports owned by the gateway itself (builtins).
const OwnerSystem = "system"

// Tenant is the billing and isolation boundary.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Plan      string    `json:"plan"`
	CreatedAt time.Time `json:"created_at"`
}

// APIKey is a bearer credential bound to a tenant.
//
// Scopes is a list of "server:tool" patterns; nil means allow-all.
type APIKey struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	RawKey    string    `json:"-"`
	Scopes    []string  `json:"scopes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AllowAll reports whether the key carries no scope restrictions.
func (k *APIKey) AllowAll() bool { return k.Scopes == nil }

// QuotaCounter is the per-tenant rolling usage counter.
type QuotaCounter struct {
	TenantID string `json:"tenant_id"`
	Limit    int64  `json:"limit"`
	Used     int64  `json:"used"`
}

// Passport is a catalog record for any registered asset: an MCP server
// (type=tool), an agent, a plugin, or an mcp identity.
type Passport struct {
	PassportID  string          `json:"passport_id"`
	Type        string          `json:"type"`
	Owner       string          `json:"owner"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// MCPServerMetadata is the shape of Passport.Metadata for type=tool.
// Extra free-form fields round-trip through Passport.Metadata untouched.
type MCPServerMetadata struct {
	Transport    string            `json:"transport"`
	URL          string            `json:"url,omitempty"`
	Command      string            `json:"command,omitempty"`
	Args         []string          `json:"args,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	AuthProvider string            `json:"auth_provider,omitempty"`
	ToolsCache   []ToolDescriptor  `json:"tools_cache,omitempty"`
}

// ToolDescriptor is a cached tool listing entry.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// PassportFilter selects passports for listing. Zero-valued fields are
// not applied. Page numbering starts at 1.
type PassportFilter struct {
	Type    string
	Owner   string
	Search  string
	Status  string
	Page    int
	PerPage int
}

// CredentialRecord is an encrypted token at rest. Ciphertext layout is
// iv(12) || tag(16) || ct.
type CredentialRecord struct {
	TenantID   string          `json:"tenant_id"`
	Provider   string          `json:"provider"`
	Ciphertext []byte          `json:"-"`
	TokenType  string          `json:"token_type"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// Audit statuses.
const (
	AuditSuccess = "success"
	AuditError   = "error"
	AuditDenied  = "denied"
)

// AuditEntry records one tool-call attempt.
type AuditEntry struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	APIKeyID     string    `json:"api_key_id"`
	ServerID     string    `json:"server_id"`
	ToolName     string    `json:"tool_name"`
	ArgsHash     string    `json:"args_hash"`
	Status       string    `json:"status"`
	DurationMs   int64     `json:"duration_ms"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuditFilter specifies query parameters for listing audit entries.
type AuditFilter struct {
	TenantID string
	ServerID string
	ToolName string
	Status   string
	After    *time.Time
	Before   *time.Time
	Limit    int
	Offset   int
}

// AuditStats holds aggregate statistics over the audit log.
type AuditStats struct {
	TotalCalls    int     `json:"total_calls"`
	SuccessCount  int     `json:"success_count"`
	ErrorCount    int     `json:"error_count"`
	DeniedCount   int     `json:"denied_count"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// Ledger status buckets.
const (
	BucketSuccess = "success"
	BucketError   = "error"
	BucketTimeout = "timeout"
)

// MaxLedgerAttempts is the dead-letter cap: rows that fail this many
// emissions are never claimed again.
const MaxLedgerAttempts = 10

// LedgerEvent is one metering outbox row. EventID is a UUID carried to
// the downstream billing system for idempotent de-duplication.
type LedgerEvent struct {
	EventID      string     `json:"event_id"`
	OrgID        string     `json:"org_id"`
	ToolName     string     `json:"tool_name"`
	MCPServer    string     `json:"mcp_server"`
	DurationMs   int64      `json:"duration_ms"`
	StatusBucket string     `json:"status_bucket"`
	Service      string     `json:"service"`
	Feature      string     `json:"feature"`
	Environment  string     `json:"environment"`
	TraceID      string     `json:"trace_id,omitempty"`
	Attempts     int        `json:"attempts"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	LeaseUntil   *time.Time `json:"lease_until,omitempty"`
	LeaseOwner   string     `json:"lease_owner,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
