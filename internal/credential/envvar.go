package credential

import (
	"context"
	"os"
	"strings"
)

// EnvVarAdapter resolves tokens from process environment variables.
// The lookup is deterministic: uppercased provider with "-" replaced by
// "_", suffixed "_TOKEN" (google-calendar -> GOOGLE_CALENDAR_TOKEN).
type EnvVarAdapter struct {
	// lookup overrides os.LookupEnv in tests.
	lookup func(string) (string, bool)
}

// NewEnvVarAdapter returns an adapter over the process environment.
func NewEnvVarAdapter() *EnvVarAdapter {
	return &EnvVarAdapter{lookup: os.LookupEnv}
}

// NewEnvVarAdapterWithLookup substitutes the environment lookup,
// primarily for tests.
func NewEnvVarAdapterWithLookup(lookup func(string) (string, bool)) *EnvVarAdapter {
	return &EnvVarAdapter{lookup: lookup}
}

// EnvVarName derives the environment variable name for a provider.
func EnvVarName(provider string) string {
	return strings.ToUpper(strings.ReplaceAll(provider, "-", "_")) + "_TOKEN"
}

// GetToken returns a bearer token when the variable is set, nil otherwise.
func (a *EnvVarAdapter) GetToken(ctx context.Context, tenantID, provider string) (*TokenResult, error) {
	val, ok := a.lookup(EnvVarName(provider))
	if !ok || val == "" {
		return nil, nil
	}
	return &TokenResult{Token: val, Type: TypeBearer}, nil
}
