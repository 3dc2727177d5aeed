package router

import (
	"errors"
	"fmt"
	"time"
)

// ErrServerNotFound covers missing passports, cross-tenant lookups, and
// revoked passports alike so callers cannot probe other tenants'
// catalogs.
var ErrServerNotFound = errors.New("router: server not found")

// ErrUnsupportedTransport is returned for metadata naming a transport
// the pool cannot dial.
var ErrUnsupportedTransport = errors.New("router: unsupported transport")

// BudgetError is a session budget denial.
type BudgetError struct {
	Code   string
	Reason string
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("router: session budget denied (%s): %s", e.Code, e.Reason)
}

// CircuitOpenError is a fast failure while a server's breaker is open.
type CircuitOpenError struct {
	ServerID string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("router: circuit open for server %s", e.ServerID)
}

// RateLimitedError is a fast failure when the server's bucket is empty.
type RateLimitedError struct {
	ServerID   string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("router: rate limited for server %s, retry after %dms",
		e.ServerID, e.RetryAfter.Milliseconds())
}

// RetryAfterMs reports the wait in whole milliseconds, rounded up.
func (e *RateLimitedError) RetryAfterMs() int64 {
	ms := e.RetryAfter.Milliseconds()
	if e.RetryAfter%time.Millisecond != 0 {
		ms++
	}
	return ms
}

// TimeoutError marks a dispatch that hit its deadline.
type TimeoutError struct {
	ServerID string
	ToolName string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("router: call to %s on %s timed out", e.ToolName, e.ServerID)
}

// UpstreamError wraps a failure raised by the MCP call itself.
type UpstreamError struct {
	ServerID string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("router: upstream %s: %v", e.ServerID, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
