package metering

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/lucid-mcp/mcpgate/internal/store"
)

// Emitter delivers one ledger event to the downstream billing system.
type Emitter interface {
	Emit(ctx context.Context, e *store.LedgerEvent) error
}

// LogEmitter writes events to the structured log. Used when no billing
// backend is configured; the outbox still drains.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates a log-only emitter.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

func (e *LogEmitter) Emit(ctx context.Context, ev *store.LedgerEvent) error {
	e.logger.Info("metering event",
		"event_id", ev.EventID,
		"org_id", ev.OrgID,
		"tool_name", ev.ToolName,
		"mcp_server", ev.MCPServer,
		"status_bucket", ev.StatusBucket,
		"duration_ms", ev.DurationMs)
	return nil
}

// OpenMeterEmitter posts events to an OpenMeter-compatible ingest
// endpoint as CloudEvents. The event id rides along so the downstream
// can de-duplicate the at-least-once stream.
type OpenMeterEmitter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewOpenMeterEmitter creates the HTTP emitter.
func NewOpenMeterEmitter(baseURL, apiKey string) *OpenMeterEmitter {
	return &OpenMeterEmitter{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type cloudEvent struct {
	SpecVersion string         `json:"specversion"`
	ID          string         `json:"id"`
	Source      string         `json:"source"`
	Type        string         `json:"type"`
	Subject     string         `json:"subject"`
	Time        string         `json:"time"`
	Data        map[string]any `json:"data"`
}

func (e *OpenMeterEmitter) Emit(ctx context.Context, ev *store.LedgerEvent) error {
	body, err := json.Marshal(cloudEvent{
		SpecVersion: "1.0",
		ID:          ev.EventID,
		Source:      ev.Service,
		Type:        ev.Feature,
		Subject:     ev.OrgID,
		Time:        ev.CreatedAt.UTC().Format(time.RFC3339),
		Data: map[string]any{
			"tool_name":     ev.ToolName,
			"mcp_server":    ev.MCPServer,
			"duration_ms":   ev.DurationMs,
			"status_bucket": ev.StatusBucket,
			"environment":   ev.Environment,
		},
	})
	if err != nil {
		return fmt.Errorf("metering: marshal event %s: %w", ev.EventID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.baseURL+"/api/v1/events", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("metering: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/cloudevents+json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("metering: post event %s: %w", ev.EventID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("metering: ingest returned %d for event %s", resp.StatusCode, ev.EventID)
	}
	return nil
}
