package credential

import (
	"context"
	"fmt"
)

// Chain composes adapters in declaration order. It is the only
// credential type the router and handlers ever see.
type Chain struct {
	adapters []Adapter
}

// NewChain builds a chain over the given adapters; order matters.
func NewChain(adapters ...Adapter) *Chain {
	return &Chain{adapters: adapters}
}

// GetToken returns the first non-nil result in chain order.
func (c *Chain) GetToken(ctx context.Context, tenantID, provider string) (*TokenResult, error) {
	for _, a := range c.adapters {
		tok, err := a.GetToken(ctx, tenantID, provider)
		if err != nil {
			return nil, err
		}
		if tok != nil {
			return tok, nil
		}
	}
	return nil, nil
}

// InitiateOAuth delegates to the first adapter implementing OAuth.
func (c *Chain) InitiateOAuth(ctx context.Context, tenantID, provider string) (string, error) {
	for _, a := range c.adapters {
		if oa, ok := a.(OAuthAdapter); ok {
			return oa.InitiateOAuth(ctx, tenantID, provider)
		}
	}
	return "", fmt.Errorf("initiate oauth for %q: %w", provider, ErrNotSupported)
}

// HandleOAuthCallback delegates to the first adapter implementing OAuth.
func (c *Chain) HandleOAuthCallback(ctx context.Context, providerConfigKey, connectionID string) error {
	for _, a := range c.adapters {
		if oa, ok := a.(OAuthAdapter); ok {
			return oa.HandleOAuthCallback(ctx, providerConfigKey, connectionID)
		}
	}
	return fmt.Errorf("oauth callback for %q: %w", providerConfigKey, ErrNotSupported)
}

// RevokeToken delegates to the first adapter implementing revocation.
func (c *Chain) RevokeToken(ctx context.Context, tenantID, provider string) error {
	for _, a := range c.adapters {
		if r, ok := a.(Revoker); ok {
			return r.RevokeToken(ctx, tenantID, provider)
		}
	}
	return fmt.Errorf("revoke token for %q: %w", provider, ErrNotSupported)
}

// ListConnections aggregates across all adapters, deduplicating by
// provider; the first adapter in chain order wins.
func (c *Chain) ListConnections(ctx context.Context, tenantID string) ([]Connection, error) {
	seen := make(map[string]bool)
	var out []Connection
	for _, a := range c.adapters {
		lister, ok := a.(ConnectionLister)
		if !ok {
			continue
		}
		conns, err := lister.ListConnections(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		for _, conn := range conns {
			if seen[conn.Provider] {
				continue
			}
			seen[conn.Provider] = true
			out = append(out, conn)
		}
	}
	return out, nil
}
