// Package credential resolves outbound credentials through an ordered
// adapter chain. Adapters expose a small required surface plus optional
// OAuth capabilities discovered by interface probes.
package credential

import (
	"context"
	"errors"
	"time"
)

// Token types.
const (
	TypeBearer = "bearer"
	TypeAPIKey = "api_key"
	TypeBasic  = "basic"
)

// ErrNotSupported indicates no adapter in the chain implements the
// requested capability.
var ErrNotSupported = errors.New("credential: operation not supported by any adapter")

// TokenResult is a resolved outbound credential.
type TokenResult struct {
	Token        string            `json:"token"`
	Type         string            `json:"type"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
	RefreshToken string            `json:"refresh_token,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
}

// AuthorizationHeader renders the token as an Authorization value.
func (t *TokenResult) AuthorizationHeader() string {
	switch t.Type {
	case TypeBearer:
		return "Bearer " + t.Token
	case TypeBasic:
		return "Basic " + t.Token
	default:
		return t.Token
	}
}

// Connection describes a stored provider connection.
type Connection struct {
	Provider  string     `json:"provider"`
	TokenType string     `json:"token_type"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Status    string     `json:"status"` // active or expired
}

// Adapter is the required credential surface. GetToken returns nil with
// a nil error when the adapter has no credential for the pair.
type Adapter interface {
	GetToken(ctx context.Context, tenantID, provider string) (*TokenResult, error)
}

// OAuthAdapter is the optional OAuth capability.
type OAuthAdapter interface {
	Adapter
	InitiateOAuth(ctx context.Context, tenantID, provider string) (authURL string, err error)
	HandleOAuthCallback(ctx context.Context, providerConfigKey, connectionID string) error
}

// Revoker is the optional revocation capability.
type Revoker interface {
	Adapter
	RevokeToken(ctx context.Context, tenantID, provider string) error
}

// ConnectionLister is the optional connection-listing capability.
type ConnectionLister interface {
	Adapter
	ListConnections(ctx context.Context, tenantID string) ([]Connection, error)
}
