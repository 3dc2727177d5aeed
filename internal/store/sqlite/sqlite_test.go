package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lucid-mcp/mcpgate/internal/store"
	"github.com/lucid-mcp/mcpgate/internal/store/sqlite"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.New(context.Background(), t.TempDir()+"/test.db")
	if err != nil {
		t.Fatalf("new test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPing(t *testing.T) {
	db := newTestDB(t)
	if err := db.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestPassportLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	p := &store.Passport{
		PassportID:  "passport_abc123",
		Type:        store.TypeTool,
		Owner:       "tenant_a",
		Name:        "GitHub MCP",
		Description: "GitHub tools",
		Metadata:    []byte(`{"transport":"streamable-http","url":"https://x/sse"}`),
		Tags:        []string{"vcs"},
	}
	if err := db.CreatePassport(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Status != store.StatusActive {
		t.Fatalf("status = %q, want active", p.Status)
	}

	got, err := db.GetPassport(ctx, "passport_abc123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "GitHub MCP" || got.Owner != "tenant_a" {
		t.Fatalf("unexpected passport: %+v", got)
	}

	// List filters by owner and status with AND semantics.
	items, total, err := db.ListPassports(ctx, store.PassportFilter{
		Type: store.TypeTool, Owner: "tenant_a", Status: store.StatusActive,
		Page: 1, PerPage: 10,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Fatalf("total = %d, len = %d, want 1/1", total, len(items))
	}

	// Another owner sees nothing.
	_, total, err = db.ListPassports(ctx, store.PassportFilter{
		Type: store.TypeTool, Owner: "tenant_b", Status: store.StatusActive,
	})
	if err != nil {
		t.Fatalf("list other owner: %v", err)
	}
	if total != 0 {
		t.Fatalf("cross-tenant total = %d, want 0", total)
	}

	// Soft delete: revoke is idempotent, get still returns the record.
	if err := db.RevokePassport(ctx, p.PassportID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := db.RevokePassport(ctx, p.PassportID); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	got, err = db.GetPassport(ctx, p.PassportID)
	if err != nil {
		t.Fatalf("get after revoke: %v", err)
	}
	if got.Status != store.StatusRevoked {
		t.Fatalf("status = %q, want revoked", got.Status)
	}
	_, total, _ = db.ListPassports(ctx, store.PassportFilter{
		Owner: "tenant_a", Status: store.StatusActive,
	})
	if total != 0 {
		t.Fatalf("active total after revoke = %d, want 0", total)
	}

	if err := db.RevokePassport(ctx, "passport_missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("revoke missing = %v, want ErrNotFound", err)
	}
}

func TestListPassportsPagination(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		p := &store.Passport{
			PassportID: "passport_" + string(rune('a'+i)),
			Type:       store.TypeTool,
			Owner:      "tenant_a",
			Name:       "srv",
			CreatedAt:  time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		if err := db.CreatePassport(ctx, p); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	items, total, err := db.ListPassports(ctx, store.PassportFilter{
		Owner: "tenant_a", Page: 2, PerPage: 2,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 || len(items) != 2 {
		t.Fatalf("total = %d, len = %d, want 5/2", total, len(items))
	}
	// Sorted by created_at desc: page 2 holds the 3rd and 4th newest.
	if items[0].PassportID != "passport_c" || items[1].PassportID != "passport_b" {
		t.Fatalf("page 2 order: %s, %s", items[0].PassportID, items[1].PassportID)
	}
}

func TestAPIKeyLookup(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.CreateTenant(ctx, &store.Tenant{ID: "tenant_a", Name: "A"}); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	k := &store.APIKey{ID: "key_1", TenantID: "tenant_a", RawKey: "sk-test-1"}
	if err := db.CreateAPIKey(ctx, k); err != nil {
		t.Fatalf("create key: %v", err)
	}

	got, err := db.GetAPIKeyByRawKey(ctx, "sk-test-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TenantID != "tenant_a" {
		t.Fatalf("tenant = %q", got.TenantID)
	}
	if !got.AllowAll() {
		t.Fatal("nil scopes should mean allow-all")
	}

	if _, err := db.GetAPIKeyByRawKey(ctx, "sk-wrong"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("wrong key = %v, want ErrNotFound", err)
	}

	// Scoped key round-trips its scope list.
	scoped := &store.APIKey{
		ID: "key_2", TenantID: "tenant_a", RawKey: "sk-test-2",
		Scopes: []string{"github:*"},
	}
	if err := db.CreateAPIKey(ctx, scoped); err != nil {
		t.Fatalf("create scoped key: %v", err)
	}
	got, err = db.GetAPIKeyByRawKey(ctx, "sk-test-2")
	if err != nil {
		t.Fatalf("get scoped: %v", err)
	}
	if got.AllowAll() || len(got.Scopes) != 1 || got.Scopes[0] != "github:*" {
		t.Fatalf("scopes = %v", got.Scopes)
	}
}

func TestConsumeQuota(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.CreateTenant(ctx, &store.Tenant{ID: "tenant_a", Name: "A"}); err != nil {
		t.Fatalf("create tenant: %v", err)
	}

	// Unmetered tenant always succeeds.
	if err := db.ConsumeQuota(ctx, "tenant_a"); err != nil {
		t.Fatalf("unmetered consume: %v", err)
	}

	if err := db.SetQuota(ctx, "tenant_a", 2); err != nil {
		t.Fatalf("set quota: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := db.ConsumeQuota(ctx, "tenant_a"); err != nil {
			t.Fatalf("consume %d: %v", i+1, err)
		}
	}
	if err := db.ConsumeQuota(ctx, "tenant_a"); !errors.Is(err, store.ErrQuotaExceeded) {
		t.Fatalf("third consume = %v, want ErrQuotaExceeded", err)
	}

	q, err := db.GetQuota(ctx, "tenant_a")
	if err != nil {
		t.Fatalf("get quota: %v", err)
	}
	if q.Used != 2 {
		t.Fatalf("used = %d, want 2", q.Used)
	}

	if err := db.ResetQuota(ctx, "tenant_a"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := db.ConsumeQuota(ctx, "tenant_a"); err != nil {
		t.Fatalf("consume after reset: %v", err)
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	c := &store.CredentialRecord{
		TenantID:   "tenant_a",
		Provider:   "github",
		Ciphertext: []byte{1, 2, 3, 4},
		TokenType:  "bearer",
		Metadata:   []byte(`{"refresh_token":"r1"}`),
	}
	if err := db.UpsertCredential(ctx, c); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := db.GetCredential(ctx, "tenant_a", "github")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Ciphertext) != string(c.Ciphertext) {
		t.Fatal("ciphertext mismatch")
	}

	// Upsert replaces on (tenant, provider) conflict.
	c.Ciphertext = []byte{9, 9}
	if err := db.UpsertCredential(ctx, c); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, _ = db.GetCredential(ctx, "tenant_a", "github")
	if len(got.Ciphertext) != 2 {
		t.Fatalf("ciphertext len = %d after upsert, want 2", len(got.Ciphertext))
	}

	if err := db.DeleteCredential(ctx, "tenant_a", "github"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.GetCredential(ctx, "tenant_a", "github"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("get after delete = %v, want ErrNotFound", err)
	}
}

func TestAuditQueryAndStats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	entries := []store.AuditEntry{
		{TenantID: "tenant_a", ServerID: "builtin:time", ToolName: "now", Status: store.AuditSuccess, DurationMs: 10},
		{TenantID: "tenant_a", ServerID: "builtin:time", ToolName: "now", Status: store.AuditError, DurationMs: 30},
		{TenantID: "tenant_b", ServerID: "passport_x", ToolName: "search", Status: store.AuditDenied},
	}
	for i := range entries {
		if err := db.InsertAuditEntry(ctx, &entries[i]); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	got, total, err := db.QueryAuditEntries(ctx, store.AuditFilter{TenantID: "tenant_a"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 2 || len(got) != 2 {
		t.Fatalf("total = %d, len = %d, want 2/2", total, len(got))
	}

	stats, err := db.GetAuditStats(ctx, "tenant_a",
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalCalls != 2 || stats.SuccessCount != 1 || stats.ErrorCount != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.AvgDurationMs != 20 {
		t.Fatalf("avg = %v, want 20", stats.AvgDurationMs)
	}
}

func TestLedgerOutboxLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	e := &store.LedgerEvent{
		OrgID: "tenant_a", ToolName: "now", MCPServer: "builtin:time",
		StatusBucket: store.BucketSuccess, Service: "mcpgate",
	}
	if err := db.InsertLedgerEvent(ctx, e); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if e.EventID == "" {
		t.Fatal("expected generated event id")
	}

	batch, err := db.ClaimLedgerBatch(ctx, "worker-1", 10, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(batch) != 1 || batch[0].EventID != e.EventID {
		t.Fatalf("batch = %+v", batch)
	}

	// Leased rows are invisible to other workers until the lease expires.
	other, err := db.ClaimLedgerBatch(ctx, "worker-2", 10, time.Minute)
	if err != nil {
		t.Fatalf("claim 2: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("second claim got %d rows, want 0", len(other))
	}

	if err := db.MarkLedgerSent(ctx, e.EventID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	n, err := db.CountLedgerPending(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("pending = %d, want 0", n)
	}
}

func TestLedgerDeadLetter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	e := &store.LedgerEvent{
		OrgID: "tenant_a", ToolName: "now", MCPServer: "builtin:time",
		StatusBucket: store.BucketError,
	}
	if err := db.InsertLedgerEvent(ctx, e); err != nil {
		t.Fatalf("insert: %v", err)
	}

	for i := 0; i < store.MaxLedgerAttempts; i++ {
		batch, err := db.ClaimLedgerBatch(ctx, "worker-1", 1, time.Minute)
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if len(batch) != 1 {
			t.Fatalf("claim %d got %d rows, want 1", i, len(batch))
		}
		if err := db.MarkLedgerFailed(ctx, e.EventID, "emit failed"); err != nil {
			t.Fatalf("mark failed %d: %v", i, err)
		}
	}

	// At the attempts cap the row is dead-lettered.
	batch, err := db.ClaimLedgerBatch(ctx, "worker-1", 1, time.Minute)
	if err != nil {
		t.Fatalf("final claim: %v", err)
	}
	if len(batch) != 0 {
		t.Fatalf("dead-lettered row was claimed: %+v", batch)
	}
}

func TestReleaseLedgerLeases(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e := &store.LedgerEvent{
			OrgID: "tenant_a", ToolName: "now", MCPServer: "builtin:time",
			StatusBucket: store.BucketSuccess,
		}
		if err := db.InsertLedgerEvent(ctx, e); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	if _, err := db.ClaimLedgerBatch(ctx, "worker-1", 3, time.Hour); err != nil {
		t.Fatalf("claim: %v", err)
	}
	n, err := db.ReleaseLedgerLeases(ctx, "worker-1")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if n != 3 {
		t.Fatalf("released = %d, want 3", n)
	}

	// Released rows are claimable again immediately.
	batch, err := db.ClaimLedgerBatch(ctx, "worker-2", 3, time.Minute)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("reclaimed = %d, want 3", len(batch))
	}
}
