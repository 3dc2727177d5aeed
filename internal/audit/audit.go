// Package audit persists one record per tool-call attempt and fans the
// records out to live subscribers.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lucid-mcp/mcpgate/internal/router"
	"github.com/lucid-mcp/mcpgate/internal/store"
)

// Recorder writes audit entries for dispatch outcomes. Writes are
// fire-and-forget: a failed insert is logged, never surfaced.
type Recorder struct {
	store  store.AuditStore
	bus    *Bus
	logger *slog.Logger
}

// NewRecorder creates a Recorder. The bus is optional (nil-safe).
func NewRecorder(s store.AuditStore, bus *Bus, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: s, bus: bus, logger: logger}
}

// HashArgs produces the stored fingerprint of call arguments. Raw
// arguments never reach the audit log.
func HashArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	data, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RecordCall implements router.Recorder.
func (r *Recorder) RecordCall(ctx context.Context, rec router.CallRecord) {
	entry := &store.AuditEntry{
		TenantID:     rec.TenantID,
		APIKeyID:     rec.APIKeyID,
		ServerID:     rec.ServerID,
		ToolName:     rec.ToolName,
		ArgsHash:     HashArgs(rec.Args),
		Status:       rec.Status,
		DurationMs:   rec.DurationMs,
		ErrorMessage: rec.ErrorMessage,
	}
	if err := r.store.InsertAuditEntry(ctx, entry); err != nil {
		r.logger.Warn("audit insert failed",
			"tenant_id", rec.TenantID,
			"server_id", rec.ServerID,
			"tool_name", rec.ToolName,
			"error", err)
		return
	}
	if r.bus != nil {
		r.bus.Publish(entry)
	}
}

// Query pages through audit entries matching the filter.
func (r *Recorder) Query(ctx context.Context, filter store.AuditFilter) ([]store.AuditEntry, int, error) {
	return r.store.QueryAuditEntries(ctx, filter)
}

// Stats aggregates per-tenant call counters in [after, before).
func (r *Recorder) Stats(ctx context.Context, tenantID string, after, before time.Time) (*store.AuditStats, error) {
	return r.store.GetAuditStats(ctx, tenantID, after, before)
}
