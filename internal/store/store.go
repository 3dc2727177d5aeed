package store

import (
	"context"
	"time"
)

// Store is the composite interface for all data access.
type Store interface {
	TenantStore
	APIKeyStore
	QuotaStore
	PassportStore
	CredentialStore
	AuditStore
	LedgerStore
	Tx(ctx context.Context, fn func(Store) error) error
	Ping(ctx context.Context) error
	Close() error
}

// TenantStore manages tenant records.
type TenantStore interface {
	CreateTenant(ctx context.Context, t *Tenant) error
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	ListTenants(ctx context.Context) ([]Tenant, error)
	UpdateTenantPlan(ctx context.Context, id, plan string) error
}

// APIKeyStore manages API key records.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, k *APIKey) error
	// GetAPIKeyByRawKey resolves a bearer token to its key record.
	// Callers must treat the raw key as a secret and never log it.
	GetAPIKeyByRawKey(ctx context.Context, rawKey string) (*APIKey, error)
	ListAPIKeys(ctx context.Context, tenantID string) ([]APIKey, error)
	DeleteAPIKey(ctx context.Context, id string) error
}

// QuotaStore manages per-tenant rolling usage counters.
type QuotaStore interface {
	SetQuota(ctx context.Context, tenantID string, limit int64) error
	GetQuota(ctx context.Context, tenantID string) (*QuotaCounter, error)
	// ConsumeQuota atomically tests and increments the tenant counter.
	// It returns ErrQuotaExceeded when used >= limit. Tenants without a
	// counter row are unmetered and always succeed.
	ConsumeQuota(ctx context.Context, tenantID string) error
	ResetQuota(ctx context.Context, tenantID string) error
}

// PassportStore manages catalog records for registered assets.
type PassportStore interface {
	CreatePassport(ctx context.Context, p *Passport) error
	GetPassport(ctx context.Context, id string) (*Passport, error)
	// ListPassports applies the filter fields with AND semantics and
	// returns the requested page sorted by created_at descending, plus
	// the total match count.
	ListPassports(ctx context.Context, f PassportFilter) ([]Passport, int, error)
	UpdatePassport(ctx context.Context, p *Passport) error
	// RevokePassport soft-deletes by setting status to revoked. It is
	// idempotent: revoking an already revoked passport is not an error.
	RevokePassport(ctx context.Context, id string) error
}

// CredentialStore manages encrypted credential records.
type CredentialStore interface {
	// UpsertCredential inserts or replaces the record for (tenant, provider).
	UpsertCredential(ctx context.Context, c *CredentialRecord) error
	GetCredential(ctx context.Context, tenantID, provider string) (*CredentialRecord, error)
	ListCredentials(ctx context.Context, tenantID string) ([]CredentialRecord, error)
	DeleteCredential(ctx context.Context, tenantID, provider string) error
}

// AuditStore manages the append-only tool-call audit log.
type AuditStore interface {
	InsertAuditEntry(ctx context.Context, e *AuditEntry) error
	QueryAuditEntries(ctx context.Context, f AuditFilter) ([]AuditEntry, int, error)
	GetAuditStats(ctx context.Context, tenantID string, after, before time.Time) (*AuditStats, error)
}

// LedgerStore manages the metering outbox.
type LedgerStore interface {
	InsertLedgerEvent(ctx context.Context, e *LedgerEvent) error
	// ClaimLedgerBatch leases up to limit unsent events whose lease is
	// absent or expired, ordered by creation time. Claimed rows carry
	// lease_owner=owner and lease_until=now+leaseWindow.
	ClaimLedgerBatch(ctx context.Context, owner string, limit int, leaseWindow time.Duration) ([]LedgerEvent, error)
	MarkLedgerSent(ctx context.Context, eventID string) error
	// MarkLedgerFailed increments attempts, records the error, and
	// clears the lease so another worker may retry. Rows reaching the
	// attempts cap are never claimed again.
	MarkLedgerFailed(ctx context.Context, eventID, lastError string) error
	// ReleaseLedgerLeases clears leases held by owner on unsent rows.
	// Workers call it on graceful shutdown.
	ReleaseLedgerLeases(ctx context.Context, owner string) (int, error)
	CountLedgerPending(ctx context.Context) (int, error)
}
