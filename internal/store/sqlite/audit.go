package sqlite

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lucid-mcp/mcpgate/internal/store"
)

func (d *DB) InsertAuditEntry(ctx context.Context, e *store.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := d.q.ExecContext(ctx, `
		INSERT INTO mcpgate_audit_log
			(id, tenant_id, api_key_id, server_id, tool_name, args_hash,
			 status, error_message, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, e.APIKeyID, e.ServerID, e.ToolName, e.ArgsHash,
		e.Status, e.ErrorMessage, e.DurationMs, formatTime(e.CreatedAt),
	)
	return err
}

func (d *DB) QueryAuditEntries(ctx context.Context, f store.AuditFilter) ([]store.AuditEntry, int, error) {
	where, args := buildAuditWhere(f)

	var total int
	if err := d.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM mcpgate_audit_log"+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.q.QueryContext(ctx, `
		SELECT id, tenant_id, api_key_id, server_id, tool_name, args_hash,
		       status, error_message, duration_ms, created_at
		FROM mcpgate_audit_log`+where+`
		ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		append(args, limit, f.Offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []store.AuditEntry
	for rows.Next() {
		var e store.AuditEntry
		var created string
		err := rows.Scan(&e.ID, &e.TenantID, &e.APIKeyID, &e.ServerID,
			&e.ToolName, &e.ArgsHash, &e.Status, &e.ErrorMessage,
			&e.DurationMs, &created)
		if err != nil {
			return nil, 0, err
		}
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (d *DB) GetAuditStats(ctx context.Context, tenantID string, after, before time.Time) (*store.AuditStats, error) {
	var s store.AuditStats

	where := "WHERE created_at >= ? AND created_at <= ?"
	args := []any{formatTime(after), formatTime(before)}
	if tenantID != "" {
		where = "WHERE tenant_id = ? AND created_at >= ? AND created_at <= ?"
		args = []any{tenantID, formatTime(after), formatTime(before)}
	}

	err := d.q.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'success'),
			COUNT(*) FILTER (WHERE status = 'error'),
			COUNT(*) FILTER (WHERE status = 'denied'),
			COALESCE(AVG(duration_ms), 0)
		FROM mcpgate_audit_log `+where,
		args...,
	).Scan(&s.TotalCalls, &s.SuccessCount, &s.ErrorCount, &s.DeniedCount,
		&s.AvgDurationMs)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func buildAuditWhere(f store.AuditFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.TenantID != "" {
		clauses = append(clauses, "tenant_id = ?")
		args = append(args, f.TenantID)
	}
	if f.ServerID != "" {
		clauses = append(clauses, "server_id = ?")
		args = append(args, f.ServerID)
	}
	if f.ToolName != "" {
		clauses = append(clauses, "tool_name = ?")
		args = append(args, f.ToolName)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.After != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, formatTime(*f.After))
	}
	if f.Before != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, formatTime(*f.Before))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	where := " WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}
