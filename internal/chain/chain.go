// Package chain executes a DAG of tool calls with dependency layers,
// concurrent fan-out within a layer, and string interpolation of prior
// step results into later step arguments.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lucid-mcp/mcpgate/internal/router"
)

// Error policies.
const (
	OnErrorStop     = "stop"
	OnErrorContinue = "continue"
)

// Chain statuses.
const (
	StatusCompleted = "completed"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// Step statuses.
const (
	StepSuccess = "success"
	StepError   = "error"
	StepSkipped = "skipped"
)

// ErrCircularDependency marks a cycle in the step graph.
var ErrCircularDependency = errors.New("chain: circular dependency")

// ValidationError describes a rejected chain request.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "chain: " + e.Reason }

// Step is one node of the request DAG.
type Step struct {
	ID        string         `json:"id"`
	Tool      string         `json:"tool"`
	Server    string         `json:"server"`
	Args      map[string]any `json:"args,omitempty"`
	DependsOn []string       `json:"depends_on,omitempty"`
}

// Request is a full chain execution request.
type Request struct {
	SessionID string `json:"session_id,omitempty"`
	Steps     []Step `json:"steps"`
	OnError   string `json:"on_error,omitempty"`
}

// StepResult is the outcome of one step.
type StepResult struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Result is the outcome of one chain execution.
type Result struct {
	ChainID         string       `json:"chain_id"`
	Status          string       `json:"status"`
	Steps           []StepResult `json:"steps"`
	TotalDurationMs int64        `json:"total_duration_ms"`
}

// Dispatcher is the single router operation the executor needs.
type Dispatcher interface {
	CallTool(ctx context.Context, tenantID, serverID, toolName string, args map[string]any, opts router.CallOptions) (*router.ToolCallResult, error)
}

// Executor runs chains against a dispatcher.
type Executor struct {
	dispatcher Dispatcher
	now        func() time.Time
}

// NewExecutor builds an executor over the router.
func NewExecutor(d Dispatcher) *Executor {
	return &Executor{dispatcher: d, now: time.Now}
}

func newChainID(now time.Time) string {
	return "chain_" + strconv.FormatInt(now.UnixMilli(), 36)
}

// Validate rejects empty chains and duplicate step ids.
func (req *Request) Validate() error {
	if len(req.Steps) == 0 {
		return &ValidationError{Reason: "steps must be non-empty"}
	}
	seen := make(map[string]bool, len(req.Steps))
	for _, s := range req.Steps {
		if s.ID == "" {
			return &ValidationError{Reason: "step id is required"}
		}
		if seen[s.ID] {
			return &ValidationError{Reason: fmt.Sprintf("duplicate step id %q", s.ID)}
		}
		seen[s.ID] = true
		if s.Server == "" || s.Tool == "" {
			return &ValidationError{Reason: fmt.Sprintf("step %q needs server and tool", s.ID)}
		}
		for _, dep := range s.DependsOn {
			if _, ok := seen[dep]; !ok && !stepExists(req.Steps, dep) {
				return &ValidationError{Reason: fmt.Sprintf("step %q depends on unknown step %q", s.ID, dep)}
			}
		}
	}
	switch req.OnError {
	case "", OnErrorStop, OnErrorContinue:
	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown on_error %q", req.OnError)}
	}
	return nil
}

func stepExists(steps []Step, id string) bool {
	for _, s := range steps {
		if s.ID == id {
			return true
		}
	}
	return false
}

// layers performs a Kahn topological sort into dependency layers.
func layers(steps []Step) ([][]Step, error) {
	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string)
	byID := make(map[string]Step, len(steps))

	for _, s := range steps {
		byID[s.ID] = s
		indegree[s.ID] = len(s.DependsOn)
		for _, dep := range s.DependsOn {
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var out [][]Step
	ready := make([]string, 0, len(steps))
	for _, s := range steps {
		if indegree[s.ID] == 0 {
			ready = append(ready, s.ID)
		}
	}

	placed := 0
	for len(ready) > 0 {
		layer := make([]Step, 0, len(ready))
		var next []string
		for _, id := range ready {
			layer = append(layer, byID[id])
			placed++
			for _, dep := range dependents[id] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		out = append(out, layer)
		ready = next
	}
	if placed != len(steps) {
		return nil, ErrCircularDependency
	}
	return out, nil
}

// Execute runs the chain. The request must already be validated.
func (e *Executor) Execute(ctx context.Context, tenantID string, req Request) (*Result, error) {
	layered, err := layers(req.Steps)
	if err != nil {
		return nil, err
	}

	onError := req.OnError
	if onError == "" {
		onError = OnErrorStop
	}

	start := e.now()
	res := &Result{ChainID: newChainID(start)}
	results := make(map[string]*StepResult, len(req.Steps))
	values := make(map[string]any, len(req.Steps))
	stopped := false

	for _, layer := range layered {
		if stopped {
			for _, s := range layer {
				results[s.ID] = &StepResult{ID: s.ID, Status: StepSkipped}
			}
			continue
		}

		layerResults := make([]*StepResult, len(layer))
		layerValues := make([]any, len(layer))
		g, gCtx := errgroup.WithContext(ctx)
		for i, s := range layer {
			g.Go(func() error {
				sr, val := e.runStep(gCtx, tenantID, req.SessionID, s, values)
				layerResults[i] = sr
				layerValues[i] = val
				return nil
			})
		}
		_ = g.Wait()

		for i, s := range layer {
			results[s.ID] = layerResults[i]
			// Only steps whose dispatch returned a result carry a value;
			// a thrown error has none, and references to it stay literal.
			if layerResults[i].Error == "" {
				values[s.ID] = layerValues[i]
			}
			// A thrown error (not a tool-level isError) stops the chain
			// under the stop policy.
			if onError == OnErrorStop && layerResults[i].Error != "" {
				stopped = true
			}
		}
	}

	succeeded := 0
	for _, s := range req.Steps {
		sr := results[s.ID]
		res.Steps = append(res.Steps, *sr)
		if sr.Status == StepSuccess {
			succeeded++
		}
	}
	switch {
	case succeeded == len(req.Steps):
		res.Status = StatusCompleted
	case succeeded == 0:
		res.Status = StatusFailed
	default:
		res.Status = StatusPartial
	}
	res.TotalDurationMs = time.Since(start).Milliseconds()
	return res, nil
}

// runStep interpolates arguments, dispatches, and parses the result
// value used by downstream references.
func (e *Executor) runStep(ctx context.Context, tenantID, sessionID string, s Step, values map[string]any) (*StepResult, any) {
	args := interpolateArgs(s.Args, values)

	start := e.now()
	out, err := e.dispatcher.CallTool(ctx, tenantID, s.Server, s.Tool, args, router.CallOptions{SessionID: sessionID})
	duration := time.Since(start).Milliseconds()

	if err != nil {
		return &StepResult{ID: s.ID, Status: StepError, Error: err.Error(), DurationMs: duration}, nil
	}

	val := resultValue(out)
	status := StepSuccess
	if out.IsError {
		status = StepError
	}
	return &StepResult{ID: s.ID, Status: status, Result: val, DurationMs: duration}, val
}

// resultValue is the parsed JSON of the first text content element, or
// the raw text when it is not JSON.
func resultValue(out *router.ToolCallResult) any {
	if len(out.Content) == 0 {
		return nil
	}
	text := out.Content[0].Text
	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		return parsed
	}
	return text
}
