package api

import (
	"errors"
	"net/http"

	"github.com/lucid-mcp/mcpgate/internal/credential"
)

// oauthConnect starts an OAuth flow for a credential provider and
// returns the authorization URL the caller should open.
func (s *Server) oauthConnect(w http.ResponseWriter, r *http.Request) {
	key := apiKeyFrom(r.Context())
	provider := r.PathValue("provider")

	url, err := s.credentials.InitiateOAuth(r.Context(), key.TenantID, provider)
	if errors.Is(err, credential.ErrNotSupported) {
		writeError(w, http.StatusNotImplemented, "OAuth is not configured for this deployment")
		return
	}
	if err != nil {
		s.logger.Error("initiate oauth", "provider", provider, "error", err)
		writeError(w, http.StatusBadGateway, "OAuth provider error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url, "provider": provider})
}

// oauthCallback is the unauthenticated provider redirect target. The
// provider identifies the flow by provider_config_key and
// connection_id; no gateway credentials are present on this hop.
func (s *Server) oauthCallback(w http.ResponseWriter, r *http.Request) {
	providerKey := r.URL.Query().Get("provider_config_key")
	connectionID := r.URL.Query().Get("connection_id")
	if providerKey == "" || connectionID == "" {
		writeError(w, http.StatusBadRequest, "provider_config_key and connection_id are required")
		return
	}

	err := s.credentials.HandleOAuthCallback(r.Context(), providerKey, connectionID)
	if err != nil && !errors.Is(err, credential.ErrNotSupported) {
		s.logger.Error("oauth callback", "provider_config_key", providerKey, "error", err)
		writeError(w, http.StatusBadGateway, "OAuth provider error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":        "connected",
		"provider":      providerKey,
		"connection_id": connectionID,
	})
}
