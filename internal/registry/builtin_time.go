package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// TimeServer is a builtin MCP server exposing clock utilities.
type TimeServer struct{}

// NewTimeServer returns the builtin time server.
func NewTimeServer() *TimeServer { return &TimeServer{} }

func (s *TimeServer) Name() string { return "time" }

func (s *TimeServer) ListTools(ctx context.Context) ([]ToolInfo, error) {
	return []ToolInfo{
		{
			Name:        "now",
			Description: "Current time in RFC 3339, optionally in a named IANA timezone",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"timezone": {"type": "string", "description": "IANA timezone name, e.g. Europe/London"}
				}
			}`),
		},
		{
			Name:        "unix",
			Description: "Current Unix timestamp in seconds",
			InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
		},
	}, nil
}

func (s *TimeServer) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	switch name {
	case "now":
		loc := time.UTC
		if tz, ok := args["timezone"].(string); ok && tz != "" {
			l, err := time.LoadLocation(tz)
			if err != nil {
				return ErrorResult(fmt.Sprintf("unknown timezone %q", tz)), nil
			}
			loc = l
		}
		return TextResult(time.Now().In(loc).Format(time.RFC3339)), nil
	case "unix":
		return TextResult(fmt.Sprintf("%d", time.Now().Unix())), nil
	default:
		return nil, fmt.Errorf("unknown tool %q", name)
	}
}
