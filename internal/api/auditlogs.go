package api

import (
	"net/http"
	"time"

	"github.com/lucid-mcp/mcpgate/internal/store"
)

// queryAuditLogs pages through the tenant's audit trail.
func (s *Server) queryAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotImplemented, "Audit log is not configured")
		return
	}
	key := apiKeyFrom(r.Context())

	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	filter := store.AuditFilter{
		TenantID: key.TenantID,
		ServerID: r.URL.Query().Get("server_id"),
		ToolName: r.URL.Query().Get("tool_name"),
		Status:   r.URL.Query().Get("status"),
		Limit:    limit,
		Offset:   queryInt(r, "offset", 0),
	}
	items, total, err := s.audit.Query(r.Context(), filter)
	if err != nil {
		s.logger.Error("query audit logs", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if items == nil {
		items = []store.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// auditStats aggregates the tenant's call counters over a trailing
// window, default 24 hours.
func (s *Server) auditStats(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotImplemented, "Audit log is not configured")
		return
	}
	key := apiKeyFrom(r.Context())

	hours := queryInt(r, "hours", 24)
	if hours < 1 || hours > 24*30 {
		hours = 24
	}
	now := time.Now().UTC()
	stats, err := s.audit.Stats(r.Context(), key.TenantID, now.Add(-time.Duration(hours)*time.Hour), now)
	if err != nil {
		s.logger.Error("audit stats", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"window_hours": hours,
		"stats":        stats,
	})
}
