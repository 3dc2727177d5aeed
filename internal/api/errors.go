package api

import (
	"errors"
	"net/http"

	"github.com/lucid-mcp/mcpgate/internal/chain"
	"github.com/lucid-mcp/mcpgate/internal/credential"
	"github.com/lucid-mcp/mcpgate/internal/registry"
	"github.com/lucid-mcp/mcpgate/internal/router"
	"github.com/lucid-mcp/mcpgate/internal/store"
)

// writeDispatchError maps router and chain failures onto HTTP statuses.
// Unknown targets and exhausted budgets are client errors on the call
// path, so they surface as 400 rather than 404.
func writeDispatchError(w http.ResponseWriter, err error) {
	var (
		budgetErr  *router.BudgetError
		rateErr    *router.RateLimitedError
		openErr    *router.CircuitOpenError
		timeoutErr *router.TimeoutError
		upErr      *router.UpstreamError
		policyErr  *PolicyError
		regErr     *registry.ValidationError
		chainErr   *chain.ValidationError
	)
	switch {
	case errors.As(err, &budgetErr):
		writeError(w, http.StatusBadRequest, budgetErr.Reason)
	case errors.Is(err, router.ErrServerNotFound):
		writeError(w, http.StatusBadRequest, "Server not found")
	case errors.Is(err, store.ErrQuotaExceeded):
		writeError(w, http.StatusBadRequest, "Quota exceeded")
	case errors.Is(err, chain.ErrCircularDependency):
		writeError(w, http.StatusBadRequest, "Circular dependency in chain")
	case errors.As(err, &regErr):
		writeError(w, http.StatusBadRequest, regErr.Error())
	case errors.As(err, &chainErr):
		writeError(w, http.StatusBadRequest, chainErr.Error())
	case errors.As(err, &policyErr):
		writeError(w, http.StatusForbidden, policyErr.Error())
	case errors.As(err, &rateErr):
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":          "Rate limit exceeded",
			"retry_after_ms": rateErr.RetryAfterMs(),
		})
	case errors.As(err, &openErr):
		writeError(w, http.StatusServiceUnavailable, openErr.Error())
	case errors.As(err, &timeoutErr):
		writeError(w, http.StatusGatewayTimeout, timeoutErr.Error())
	case errors.As(err, &upErr):
		writeError(w, http.StatusBadGateway, upErr.Error())
	case errors.Is(err, credential.ErrNotSupported):
		writeError(w, http.StatusNotImplemented, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
