package registry

import (
	"context"
	"encoding/json"
	"fmt"
)

// EchoServer is a builtin MCP server that reflects its input. Useful
// for connectivity checks and chain smoke tests.
type EchoServer struct{}

// NewEchoServer returns the builtin echo server.
func NewEchoServer() *EchoServer { return &EchoServer{} }

func (s *EchoServer) Name() string { return "echo" }

func (s *EchoServer) ListTools(ctx context.Context) ([]ToolInfo, error) {
	return []ToolInfo{
		{
			Name:        "echo",
			Description: "Return the message argument unchanged",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"message": {"type": "string"}
				},
				"required": ["message"]
			}`),
		},
		{
			Name:        "reflect",
			Description: "Return all arguments as a JSON object",
			InputSchema: json.RawMessage(`{"type": "object"}`),
		},
	}, nil
}

func (s *EchoServer) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	switch name {
	case "echo":
		msg, ok := args["message"].(string)
		if !ok {
			return ErrorResult("message argument is required"), nil
		}
		return TextResult(msg), nil
	case "reflect":
		data, err := json.Marshal(args)
		if err != nil {
			return ErrorResult(err.Error()), nil
		}
		return TextResult(string(data)), nil
	default:
		return nil, fmt.Errorf("unknown tool %q", name)
	}
}
