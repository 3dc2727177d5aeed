package credential

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/lucid-mcp/mcpgate/internal/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.New(context.Background(), t.TempDir()+"/test.db")
	if err != nil {
		t.Fatalf("new test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestEnvVarName(t *testing.T) {
	tests := []struct {
		provider string
		want     string
	}{
		{"github", "GITHUB_TOKEN"},
		{"google-calendar", "GOOGLE_CALENDAR_TOKEN"},
		{"my-odd-provider", "MY_ODD_PROVIDER_TOKEN"},
	}
	for _, tt := range tests {
		if got := EnvVarName(tt.provider); got != tt.want {
			t.Errorf("EnvVarName(%q) = %q, want %q", tt.provider, got, tt.want)
		}
	}
}

func TestEnvVarAdapter(t *testing.T) {
	a := &EnvVarAdapter{lookup: func(name string) (string, bool) {
		if name == "GITHUB_TOKEN" {
			return "ghp_x", true
		}
		return "", false
	}}
	ctx := context.Background()

	tok, err := a.GetToken(ctx, "tenant_a", "github")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if tok == nil || tok.Token != "ghp_x" || tok.Type != TypeBearer {
		t.Fatalf("token = %+v", tok)
	}

	tok, err = a.GetToken(ctx, "tenant_a", "slack")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if tok != nil {
		t.Fatalf("expected nil for unset provider, got %+v", tok)
	}
}

func TestDatabaseAdapterKeyLength(t *testing.T) {
	if _, err := NewDatabaseAdapter(newTestStore(t), []byte("short")); err == nil {
		t.Fatal("short key should fail construction")
	}
	if _, err := NewDatabaseAdapter(newTestStore(t), testKey()); err != nil {
		t.Fatalf("32-byte key: %v", err)
	}
}

func TestDatabaseAdapterRoundTrip(t *testing.T) {
	db := newTestStore(t)
	a, err := NewDatabaseAdapter(db, testKey())
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	ctx := context.Background()

	expires := time.Now().Add(time.Hour).UTC()
	in := TokenResult{
		Token:        "secret-token",
		Type:         TypeBearer,
		ExpiresAt:    &expires,
		RefreshToken: "refresh-1",
		Headers:      map[string]string{"X-Extra": "1"},
	}
	if err := a.StoreToken(ctx, "tenant_a", "github", in); err != nil {
		t.Fatalf("store: %v", err)
	}

	// At rest the token is ciphertext, not plaintext.
	rec, err := db.GetCredential(ctx, "tenant_a", "github")
	if err != nil {
		t.Fatalf("raw record: %v", err)
	}
	if bytes.Contains(rec.Ciphertext, []byte("secret-token")) {
		t.Fatal("plaintext leaked into ciphertext")
	}
	if len(rec.Ciphertext) != gcmNonceSize+gcmTagSize+len("secret-token") {
		t.Fatalf("ciphertext layout len = %d", len(rec.Ciphertext))
	}

	got, err := a.GetToken(ctx, "tenant_a", "github")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Token != in.Token || got.Type != in.Type ||
		got.RefreshToken != in.RefreshToken || got.Headers["X-Extra"] != "1" {
		t.Fatalf("round trip = %+v", got)
	}

	if err := a.RevokeToken(ctx, "tenant_a", "github"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	got, err = a.GetToken(ctx, "tenant_a", "github")
	if err != nil {
		t.Fatalf("get after revoke: %v", err)
	}
	if got != nil {
		t.Fatalf("token after revoke = %+v, want nil", got)
	}
	// Second revoke is not an error.
	if err := a.RevokeToken(ctx, "tenant_a", "github"); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
}

func TestDatabaseAdapterListConnections(t *testing.T) {
	db := newTestStore(t)
	a, err := NewDatabaseAdapter(db, testKey())
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	ctx := context.Background()

	past := time.Now().Add(-time.Hour).UTC()
	if err := a.StoreToken(ctx, "tenant_a", "expired-prov", TokenResult{Token: "t", ExpiresAt: &past}); err != nil {
		t.Fatalf("store expired: %v", err)
	}
	if err := a.StoreToken(ctx, "tenant_a", "active-prov", TokenResult{Token: "t"}); err != nil {
		t.Fatalf("store active: %v", err)
	}

	conns, err := a.ListConnections(ctx, "tenant_a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	status := map[string]string{}
	for _, c := range conns {
		status[c.Provider] = c.Status
	}
	if status["expired-prov"] != "expired" || status["active-prov"] != "active" {
		t.Fatalf("statuses = %v", status)
	}
}

func TestChainOrderAndCapabilities(t *testing.T) {
	ctx := context.Background()

	env := &EnvVarAdapter{lookup: func(name string) (string, bool) {
		if name == "GITHUB_TOKEN" {
			return "env-token", true
		}
		return "", false
	}}
	dba, err := NewDatabaseAdapter(newTestStore(t), testKey())
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	if err := dba.StoreToken(ctx, "tenant_a", "github", TokenResult{Token: "db-token"}); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := dba.StoreToken(ctx, "tenant_a", "slack", TokenResult{Token: "slack-token"}); err != nil {
		t.Fatalf("store: %v", err)
	}

	chain := NewChain(env, dba)

	// First non-nil wins: env shadows the database for github.
	tok, err := chain.GetToken(ctx, "tenant_a", "github")
	if err != nil {
		t.Fatalf("get github: %v", err)
	}
	if tok.Token != "env-token" {
		t.Fatalf("token = %q, want env-token", tok.Token)
	}

	// Falls through to the database for slack.
	tok, err = chain.GetToken(ctx, "tenant_a", "slack")
	if err != nil {
		t.Fatalf("get slack: %v", err)
	}
	if tok.Token != "slack-token" {
		t.Fatalf("token = %q, want slack-token", tok.Token)
	}

	// Unknown provider resolves to nil, nil.
	tok, err = chain.GetToken(ctx, "tenant_a", "nothing")
	if err != nil || tok != nil {
		t.Fatalf("unknown provider = %+v, %v", tok, err)
	}

	// No adapter implements OAuth.
	if _, err := chain.InitiateOAuth(ctx, "tenant_a", "github"); err == nil {
		t.Fatal("initiate oauth should fail without an oauth adapter")
	}

	// Revocation delegates to the database adapter.
	if err := chain.RevokeToken(ctx, "tenant_a", "slack"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	tok, _ = chain.GetToken(ctx, "tenant_a", "slack")
	if tok != nil {
		t.Fatalf("slack token after revoke = %+v", tok)
	}

	// Connections aggregate from capable adapters only.
	conns, err := chain.ListConnections(ctx, "tenant_a")
	if err != nil {
		t.Fatalf("list connections: %v", err)
	}
	if len(conns) != 1 || conns[0].Provider != "github" {
		t.Fatalf("connections = %+v", conns)
	}
}

func TestAuthorizationHeader(t *testing.T) {
	tests := []struct {
		tok  TokenResult
		want string
	}{
		{TokenResult{Token: "t", Type: TypeBearer}, "Bearer t"},
		{TokenResult{Token: "t", Type: TypeBasic}, "Basic t"},
		{TokenResult{Token: "t", Type: TypeAPIKey}, "t"},
	}
	for _, tt := range tests {
		if got := tt.tok.AuthorizationHeader(); got != tt.want {
			t.Errorf("AuthorizationHeader(%s) = %q, want %q", tt.tok.Type, got, tt.want)
		}
	}
}
