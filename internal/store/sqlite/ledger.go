package sqlite

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lucid-mcp/mcpgate/internal/store"
)

func (d *DB) InsertLedgerEvent(ctx context.Context, e *store.LedgerEvent) error {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := d.q.ExecContext(ctx, `
		INSERT INTO openmeter_event_ledger
			(event_id, org_id, tool_name, mcp_server, duration_ms,
			 status_bucket, service, feature, environment, trace_id,
			 attempts, sent_at, last_error, lease_until, lease_owner, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, '', NULL, '', ?)`,
		e.EventID, e.OrgID, e.ToolName, e.MCPServer, e.DurationMs,
		e.StatusBucket, e.Service, e.Feature, e.Environment, e.TraceID,
		formatTime(e.CreatedAt),
	)
	return mapConstraintError(err)
}

// ClaimLedgerBatch marks up to limit claimable rows with the worker's
// lease and returns them. The claim UPDATE runs inside a transaction on
// the store's single write connection, which gives per-row mutual
// exclusion between workers.
func (d *DB) ClaimLedgerBatch(ctx context.Context, owner string, limit int, leaseWindow time.Duration) ([]store.LedgerEvent, error) {
	now := time.Now().UTC()
	leaseUntil := formatTime(now.Add(leaseWindow))

	var out []store.LedgerEvent
	err := d.withTx(ctx, func(q queryable) error {
		_, err := q.ExecContext(ctx, `
			UPDATE openmeter_event_ledger
			SET lease_until = ?, lease_owner = ?
			WHERE event_id IN (
				SELECT event_id FROM openmeter_event_ledger
				WHERE sent_at IS NULL AND attempts < ?
				  AND (lease_until IS NULL OR lease_until < ?)
				ORDER BY created_at
				LIMIT ?
			)`,
			leaseUntil, owner, store.MaxLedgerAttempts, formatTime(now), limit,
		)
		if err != nil {
			return err
		}

		rows, err := q.QueryContext(ctx, `
			SELECT event_id, org_id, tool_name, mcp_server, duration_ms,
			       status_bucket, service, feature, environment, trace_id,
			       attempts, sent_at, last_error, lease_until, lease_owner,
			       created_at
			FROM openmeter_event_ledger
			WHERE lease_owner = ? AND lease_until = ? AND sent_at IS NULL
			ORDER BY created_at`,
			owner, leaseUntil,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var e store.LedgerEvent
			var sent, lease *string
			var created string
			err := rows.Scan(&e.EventID, &e.OrgID, &e.ToolName, &e.MCPServer,
				&e.DurationMs, &e.StatusBucket, &e.Service, &e.Feature,
				&e.Environment, &e.TraceID, &e.Attempts, &sent, &e.LastError,
				&lease, &e.LeaseOwner, &created)
			if err != nil {
				return err
			}
			e.SentAt = parseTimePtr(sent)
			e.LeaseUntil = parseTimePtr(lease)
			e.CreatedAt = parseTime(created)
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

func (d *DB) MarkLedgerSent(ctx context.Context, eventID string) error {
	res, err := d.q.ExecContext(ctx, `
		UPDATE openmeter_event_ledger
		SET sent_at = ?, lease_until = NULL, lease_owner = '', last_error = ''
		WHERE event_id = ?`,
		formatTime(time.Now().UTC()), eventID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (d *DB) MarkLedgerFailed(ctx context.Context, eventID, lastError string) error {
	res, err := d.q.ExecContext(ctx, `
		UPDATE openmeter_event_ledger
		SET attempts = attempts + 1, last_error = ?,
		    lease_until = NULL, lease_owner = ''
		WHERE event_id = ?`,
		lastError, eventID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (d *DB) ReleaseLedgerLeases(ctx context.Context, owner string) (int, error) {
	res, err := d.q.ExecContext(ctx, `
		UPDATE openmeter_event_ledger
		SET lease_until = NULL, lease_owner = ''
		WHERE lease_owner = ? AND sent_at IS NULL`,
		owner)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (d *DB) CountLedgerPending(ctx context.Context) (int, error) {
	var n int
	err := d.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM openmeter_event_ledger
		WHERE sent_at IS NULL AND attempts < ?`,
		store.MaxLedgerAttempts,
	).Scan(&n)
	return n, err
}
