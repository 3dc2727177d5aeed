// Package metering implements the billing outbox: dispatch outcomes are
// written inline as ledger rows and drained to the downstream by a
// lease-based worker with at-least-once delivery.
package metering

import (
	"context"
	"log/slog"

	"github.com/lucid-mcp/mcpgate/internal/router"
	"github.com/lucid-mcp/mcpgate/internal/store"
)

// Recorder writes one ledger row per dispatch outcome. Like audit,
// writes are fire-and-forget: billing loss is logged, never surfaced.
type Recorder struct {
	store       store.LedgerStore
	service     string
	feature     string
	environment string
	logger      *slog.Logger
}

// NewRecorder creates the inline outbox writer.
func NewRecorder(s store.LedgerStore, environment string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:       s,
		service:     "mcpgate",
		feature:     "tool_call",
		environment: environment,
		logger:      logger,
	}
}

// RecordCall implements router.Recorder. Denied attempts never reached
// an upstream and are not billable, so only records with a status
// bucket become ledger rows.
func (r *Recorder) RecordCall(ctx context.Context, rec router.CallRecord) {
	if rec.StatusBucket == "" {
		return
	}
	event := &store.LedgerEvent{
		OrgID:        rec.TenantID,
		ToolName:     rec.ToolName,
		MCPServer:    rec.ServerID,
		DurationMs:   rec.DurationMs,
		StatusBucket: rec.StatusBucket,
		Service:      r.service,
		Feature:      r.feature,
		Environment:  r.environment,
	}
	if err := r.store.InsertLedgerEvent(ctx, event); err != nil {
		r.logger.Warn("ledger insert failed",
			"org_id", rec.TenantID,
			"server_id", rec.ServerID,
			"error", err)
	}
}
