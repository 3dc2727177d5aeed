package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// streamAuditLogs streams the tenant's audit entries over SSE as they
// happen. Entries for other tenants never cross the wire.
func (s *Server) streamAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditBus == nil {
		writeError(w, http.StatusNotImplemented, "Audit log is not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	key := apiKeyFrom(r.Context())

	qServer := r.URL.Query().Get("server_id")
	qTool := r.URL.Query().Get("tool_name")
	qStatus := r.URL.Query().Get("status")

	// Subscribe before the headers go out so a client that has seen the
	// response start cannot miss events. The bus delivers only this
	// tenant's entries.
	ch := s.auditBus.Subscribe(key.TenantID)
	defer s.auditBus.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-ch:
			if !ok {
				return
			}
			if !matchFilter(entry.ServerID, qServer) ||
				!matchFilter(entry.ToolName, qTool) ||
				!matchFilter(entry.Status, qStatus) {
				continue
			}
			data, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ":\n\n")
			flusher.Flush()
		}
	}
}

// matchFilter returns true if the filter is empty or matches the value.
func matchFilter(value, filter string) bool {
	return filter == "" || value == filter
}
