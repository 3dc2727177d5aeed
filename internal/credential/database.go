package credential

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/lucid-mcp/mcpgate/internal/store"
)

const (
	gcmNonceSize = 12
	gcmTagSize   = 16
)

// credentialMetadata is the JSON stored alongside the ciphertext.
type credentialMetadata struct {
	RefreshToken string            `json:"refresh_token,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
}

// DatabaseAdapter stores tokens encrypted at rest with AES-256-GCM.
// Ciphertext layout is iv(12) || tag(16) || ct.
type DatabaseAdapter struct {
	store store.CredentialStore
	aead  cipher.AEAD
}

// NewDatabaseAdapter creates the adapter. The key must be exactly 32
// bytes (AES-256).
func NewDatabaseAdapter(s store.CredentialStore, key []byte) (*DatabaseAdapter, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("credential: encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credential: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credential: init gcm: %w", err)
	}
	return &DatabaseAdapter{store: s, aead: aead}, nil
}

// GetToken decrypts the stored record for (tenant, provider), nil when
// absent.
func (a *DatabaseAdapter) GetToken(ctx context.Context, tenantID, provider string) (*TokenResult, error) {
	rec, err := a.store.GetCredential(ctx, tenantID, provider)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credential: load %s/%s: %w", tenantID, provider, err)
	}

	token, err := a.decrypt(rec.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("credential: decrypt %s/%s: %w", tenantID, provider, err)
	}

	res := &TokenResult{
		Token:     string(token),
		Type:      rec.TokenType,
		ExpiresAt: rec.ExpiresAt,
	}
	if len(rec.Metadata) > 0 {
		var meta credentialMetadata
		if err := json.Unmarshal(rec.Metadata, &meta); err == nil {
			res.RefreshToken = meta.RefreshToken
			res.Headers = meta.Headers
		}
	}
	return res, nil
}

// StoreToken encrypts and upserts the token for (tenant, provider).
func (a *DatabaseAdapter) StoreToken(ctx context.Context, tenantID, provider string, tok TokenResult) error {
	ciphertext, err := a.encrypt([]byte(tok.Token))
	if err != nil {
		return fmt.Errorf("credential: encrypt %s/%s: %w", tenantID, provider, err)
	}

	meta, err := json.Marshal(credentialMetadata{
		RefreshToken: tok.RefreshToken,
		Headers:      tok.Headers,
	})
	if err != nil {
		return fmt.Errorf("credential: marshal metadata: %w", err)
	}

	tokenType := tok.Type
	if tokenType == "" {
		tokenType = TypeBearer
	}
	return a.store.UpsertCredential(ctx, &store.CredentialRecord{
		TenantID:   tenantID,
		Provider:   provider,
		Ciphertext: ciphertext,
		TokenType:  tokenType,
		ExpiresAt:  tok.ExpiresAt,
		Metadata:   meta,
	})
}

// RevokeToken deletes the stored record. Missing records are not an error.
func (a *DatabaseAdapter) RevokeToken(ctx context.Context, tenantID, provider string) error {
	err := a.store.DeleteCredential(ctx, tenantID, provider)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// ListConnections reports stored providers, marking records expired
// when expires_at has passed.
func (a *DatabaseAdapter) ListConnections(ctx context.Context, tenantID string) ([]Connection, error) {
	recs, err := a.store.ListCredentials(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([]Connection, 0, len(recs))
	for _, rec := range recs {
		status := "active"
		if rec.ExpiresAt != nil && rec.ExpiresAt.Before(now) {
			status = "expired"
		}
		out = append(out, Connection{
			Provider:  rec.Provider,
			TokenType: rec.TokenType,
			ExpiresAt: rec.ExpiresAt,
			Status:    status,
		})
	}
	return out, nil
}

// encrypt seals plaintext into iv || tag || ct. Go's GCM appends the
// tag after the ciphertext, so the tag is moved in front to match the
// at-rest layout.
func (a *DatabaseAdapter) encrypt(plaintext []byte) ([]byte, error) {
	iv := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}

	sealed := a.aead.Seal(nil, iv, plaintext, nil)
	ctLen := len(sealed) - gcmTagSize

	out := make([]byte, 0, gcmNonceSize+len(sealed))
	out = append(out, iv...)
	out = append(out, sealed[ctLen:]...) // tag
	out = append(out, sealed[:ctLen]...) // ct
	return out, nil
}

func (a *DatabaseAdapter) decrypt(data []byte) ([]byte, error) {
	if len(data) < gcmNonceSize+gcmTagSize {
		return nil, errors.New("ciphertext too short")
	}
	iv := data[:gcmNonceSize]
	tag := data[gcmNonceSize : gcmNonceSize+gcmTagSize]
	ct := data[gcmNonceSize+gcmTagSize:]

	sealed := make([]byte, 0, len(ct)+gcmTagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	return a.aead.Open(nil, iv, sealed, nil)
}
