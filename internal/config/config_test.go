package config

import (
	"context"
	"strings"
	"testing"

	"github.com/lucid-mcp/mcpgate/internal/store"
	"github.com/lucid-mcp/mcpgate/internal/store/sqlite"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr == "" || cfg.DBPath == "" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.CallTimeout <= 0 {
		t.Fatalf("call timeout = %v", cfg.CallTimeout)
	}
}

func TestLoadEncryptionKey(t *testing.T) {
	t.Setenv("CREDENTIAL_ENCRYPTION_KEY", strings.Repeat("ab", 32))
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.EncryptionKey) != 32 {
		t.Fatalf("key length = %d", len(cfg.EncryptionKey))
	}

	t.Setenv("CREDENTIAL_ENCRYPTION_KEY", "abcd")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for short key")
	}
	t.Setenv("CREDENTIAL_ENCRYPTION_KEY", "not-hex")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-hex key")
	}
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			"valid",
			`
tenants:
  - id: tenant_a
    name: Acme
    plan: pro
    quota: 100
api_keys:
  - id: key_a
    tenant_id: tenant_a
    key: secret
    scopes: ["builtin:echo:*"]
policy:
  denied_features:
    free: [chains]
`,
			"",
		},
		{"missing tenant id", "tenants:\n  - name: x\n", "id is required"},
		{
			"duplicate tenant",
			"tenants:\n  - id: a\n  - id: a\n",
			"duplicate id",
		},
		{
			"key without tenant",
			"api_keys:\n  - id: k\n    key: s\n    tenant_id: ghost\n",
			"unknown tenant",
		},
		{
			"key without secret",
			"tenants:\n  - id: a\napi_keys:\n  - id: k\n    tenant_id: a\n",
			"id and key are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("parse: %v", err)
				}
				if len(cfg.Tenants) != 1 || len(cfg.APIKeys) != 1 {
					t.Fatalf("cfg = %+v", cfg)
				}
				if cfg.Policy.DeniedFeatures["free"][0] != "chains" {
					t.Fatalf("policy = %+v", cfg.Policy)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	db, err := sqlite.New(context.Background(), t.TempDir()+"/test.db")
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	cfg, err := Parse([]byte(`
tenants:
  - id: tenant_a
    name: Acme
    plan: pro
    quota: 2
api_keys:
  - id: key_a
    tenant_id: tenant_a
    key: secret-a
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := Apply(ctx, db, cfg); err != nil {
			t.Fatalf("apply #%d: %v", i+1, err)
		}
	}

	tenant, err := db.GetTenant(ctx, "tenant_a")
	if err != nil {
		t.Fatalf("get tenant: %v", err)
	}
	if tenant.Plan != "pro" {
		t.Fatalf("plan = %q", tenant.Plan)
	}
	key, err := db.GetAPIKeyByRawKey(ctx, "secret-a")
	if err != nil {
		t.Fatalf("get key: %v", err)
	}
	if key.TenantID != "tenant_a" || !key.AllowAll() {
		t.Fatalf("key = %+v", key)
	}

	q, err := db.GetQuota(ctx, "tenant_a")
	if err != nil {
		t.Fatalf("get quota: %v", err)
	}
	if q.Limit != 2 {
		t.Fatalf("quota limit = %d", q.Limit)
	}

	// A reapply never rotates an existing key.
	if err := db.CreateAPIKey(ctx, &store.APIKey{ID: "key_a", TenantID: "tenant_a", RawKey: "other"}); err == nil {
		t.Fatal("expected duplicate key id to fail")
	}
	if err := Apply(ctx, db, cfg); err != nil {
		t.Fatalf("apply after conflict: %v", err)
	}
}
