package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lucid-mcp/mcpgate/internal/store"
)

func (d *DB) CreateTenant(ctx context.Context, t *store.Tenant) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Plan == "" {
		t.Plan = "free"
	}
	_, err := d.q.ExecContext(ctx, `
		INSERT INTO tenants (id, name, plan, created_at)
		VALUES (?, ?, ?, ?)`,
		t.ID, t.Name, t.Plan, formatTime(t.CreatedAt),
	)
	return mapConstraintError(err)
}

func (d *DB) GetTenant(ctx context.Context, id string) (*store.Tenant, error) {
	var t store.Tenant
	var created string
	err := d.q.QueryRowContext(ctx, `
		SELECT id, name, plan, created_at FROM tenants WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.Plan, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.CreatedAt = parseTime(created)
	return &t, nil
}

func (d *DB) ListTenants(ctx context.Context) ([]store.Tenant, error) {
	rows, err := d.q.QueryContext(ctx, `
		SELECT id, name, plan, created_at FROM tenants ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Tenant
	for rows.Next() {
		var t store.Tenant
		var created string
		if err := rows.Scan(&t.ID, &t.Name, &t.Plan, &created); err != nil {
			return nil, err
		}
		t.CreatedAt = parseTime(created)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (d *DB) UpdateTenantPlan(ctx context.Context, id, plan string) error {
	res, err := d.q.ExecContext(ctx,
		`UPDATE tenants SET plan = ? WHERE id = ?`, plan, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (d *DB) CreateAPIKey(ctx context.Context, k *store.APIKey) error {
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	var scopes any
	if k.Scopes != nil {
		scopes = marshalStrings(k.Scopes)
	}
	_, err := d.q.ExecContext(ctx, `
		INSERT INTO api_keys (id, tenant_id, raw_key, scopes, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		k.ID, k.TenantID, k.RawKey, scopes, formatTime(k.CreatedAt),
	)
	return mapConstraintError(err)
}

func (d *DB) GetAPIKeyByRawKey(ctx context.Context, rawKey string) (*store.APIKey, error) {
	var k store.APIKey
	var scopes sql.NullString
	var created string
	err := d.q.QueryRowContext(ctx, `
		SELECT id, tenant_id, raw_key, scopes, created_at
		FROM api_keys WHERE raw_key = ?`, rawKey,
	).Scan(&k.ID, &k.TenantID, &k.RawKey, &scopes, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if scopes.Valid {
		k.Scopes = unmarshalStrings(scopes.String)
		if k.Scopes == nil {
			k.Scopes = []string{}
		}
	}
	k.CreatedAt = parseTime(created)
	return &k, nil
}

func (d *DB) ListAPIKeys(ctx context.Context, tenantID string) ([]store.APIKey, error) {
	rows, err := d.q.QueryContext(ctx, `
		SELECT id, tenant_id, raw_key, scopes, created_at
		FROM api_keys WHERE tenant_id = ? ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.APIKey
	for rows.Next() {
		var k store.APIKey
		var scopes sql.NullString
		var created string
		if err := rows.Scan(&k.ID, &k.TenantID, &k.RawKey, &scopes, &created); err != nil {
			return nil, err
		}
		if scopes.Valid {
			k.Scopes = unmarshalStrings(scopes.String)
		}
		k.CreatedAt = parseTime(created)
		out = append(out, k)
	}
	return out, rows.Err()
}

func (d *DB) DeleteAPIKey(ctx context.Context, id string) error {
	res, err := d.q.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (d *DB) SetQuota(ctx context.Context, tenantID string, limit int64) error {
	_, err := d.q.ExecContext(ctx, `
		INSERT INTO quota_counters (tenant_id, quota_limit, used)
		VALUES (?, ?, 0)
		ON CONFLICT(tenant_id) DO UPDATE SET quota_limit = excluded.quota_limit`,
		tenantID, limit,
	)
	return err
}

func (d *DB) GetQuota(ctx context.Context, tenantID string) (*store.QuotaCounter, error) {
	var q store.QuotaCounter
	err := d.q.QueryRowContext(ctx, `
		SELECT tenant_id, quota_limit, used FROM quota_counters WHERE tenant_id = ?`,
		tenantID,
	).Scan(&q.TenantID, &q.Limit, &q.Used)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// ConsumeQuota increments the counter only while used < limit; the
// single UPDATE makes the test-and-increment atomic.
func (d *DB) ConsumeQuota(ctx context.Context, tenantID string) error {
	res, err := d.q.ExecContext(ctx, `
		UPDATE quota_counters SET used = used + 1
		WHERE tenant_id = ? AND used < quota_limit`, tenantID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	// Either the counter is exhausted or the tenant is unmetered.
	var exists int
	err = d.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM quota_counters WHERE tenant_id = ?`, tenantID,
	).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return store.ErrQuotaExceeded
	}
	return nil
}

func (d *DB) ResetQuota(ctx context.Context, tenantID string) error {
	res, err := d.q.ExecContext(ctx,
		`UPDATE quota_counters SET used = 0 WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}
