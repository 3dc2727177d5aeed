package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/lucid-mcp/mcpgate/internal/store"
)

func (d *DB) UpsertCredential(ctx context.Context, c *store.CredentialRecord) error {
	if c.TokenType == "" {
		c.TokenType = "bearer"
	}
	_, err := d.q.ExecContext(ctx, `
		INSERT INTO credential_store
			(tenant_id, provider, encrypted_token, token_type, expires_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, provider) DO UPDATE SET
			encrypted_token = excluded.encrypted_token,
			token_type = excluded.token_type,
			expires_at = excluded.expires_at,
			metadata = excluded.metadata`,
		c.TenantID, c.Provider, c.Ciphertext, c.TokenType,
		formatTimePtr(c.ExpiresAt), normalizeJSON(c.Metadata, "{}"),
	)
	return err
}

func (d *DB) GetCredential(ctx context.Context, tenantID, provider string) (*store.CredentialRecord, error) {
	row := d.q.QueryRowContext(ctx, `
		SELECT tenant_id, provider, encrypted_token, token_type, expires_at, metadata
		FROM credential_store WHERE tenant_id = ? AND provider = ?`,
		tenantID, provider)
	c, err := scanCredential(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return c, err
}

func (d *DB) ListCredentials(ctx context.Context, tenantID string) ([]store.CredentialRecord, error) {
	rows, err := d.q.QueryContext(ctx, `
		SELECT tenant_id, provider, encrypted_token, token_type, expires_at, metadata
		FROM credential_store WHERE tenant_id = ? ORDER BY provider`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.CredentialRecord
	for rows.Next() {
		c, err := scanCredential(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (d *DB) DeleteCredential(ctx context.Context, tenantID, provider string) error {
	res, err := d.q.ExecContext(ctx,
		`DELETE FROM credential_store WHERE tenant_id = ? AND provider = ?`,
		tenantID, provider)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func scanCredential(scan func(dest ...any) error) (*store.CredentialRecord, error) {
	var c store.CredentialRecord
	var expires *string
	var metadata string
	err := scan(&c.TenantID, &c.Provider, &c.Ciphertext, &c.TokenType,
		&expires, &metadata)
	if err != nil {
		return nil, err
	}
	c.ExpiresAt = parseTimePtr(expires)
	c.Metadata = json.RawMessage(metadata)
	return &c, nil
}
