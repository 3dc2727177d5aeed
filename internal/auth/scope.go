// Package auth holds the pure authorization logic shared by the API
// layer, the router's filtered tool listing, and the chain preflight.
package auth

import (
	"errors"
	"strings"
)

// ErrNoBearer indicates the Authorization header carried no usable
// bearer token.
var ErrNoBearer = errors.New("missing bearer token")

// BearerToken extracts the token from an Authorization header value.
// The scheme must be exactly "Bearer" (case-insensitive) followed by
// whitespace and a non-empty token.
func BearerToken(header string) (string, error) {
	scheme, rest, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrNoBearer
	}
	token := strings.TrimLeft(rest, " \t")
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", ErrNoBearer
	}
	return token, nil
}

// ScopeAllows reports whether any of the "server:tool" patterns admits
// the given pair. A nil scope list means allow-all; an empty list
// denies everything.
//
// Recognized patterns: exact "server:tool", "server:*", "*:tool", "*".
func ScopeAllows(scopes []string, serverID, toolName string) bool {
	if scopes == nil {
		return true
	}
	for _, s := range scopes {
		if scopeMatches(s, serverID, toolName) {
			return true
		}
	}
	return false
}

func scopeMatches(pattern, serverID, toolName string) bool {
	if pattern == "*" {
		return true
	}
	// Split at the last colon: builtin server ids contain one of their
	// own ("builtin:echo:*" scopes the echo server).
	i := strings.LastIndex(pattern, ":")
	if i < 0 {
		return false
	}
	server, tool := pattern[:i], pattern[i+1:]
	if server != "*" && server != serverID {
		return false
	}
	return tool == "*" || tool == toolName
}
