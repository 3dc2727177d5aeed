package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lucid-mcp/mcpgate/internal/store"
)

// FileConfig represents the top-level mcpgate.yaml structure.
type FileConfig struct {
	Tenants []tenantConfig `yaml:"tenants"`
	APIKeys []apiKeyConfig `yaml:"api_keys"`
	Policy  policyConfig   `yaml:"policy"`
}

type tenantConfig struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Plan  string `yaml:"plan,omitempty"`
	Quota int64  `yaml:"quota,omitempty"` // monthly tool calls; 0 means unmetered
}

type apiKeyConfig struct {
	ID       string   `yaml:"id"`
	TenantID string   `yaml:"tenant_id"`
	Key      string   `yaml:"key"`
	Scopes   []string `yaml:"scopes,omitempty"` // "server:tool" patterns; absent means allow-all
}

type policyConfig struct {
	// DeniedFeatures maps a plan name to the features it cannot use.
	DeniedFeatures map[string][]string `yaml:"denied_features,omitempty"`
}

// LoadFile reads, parses, and validates a YAML seed file.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates YAML seed data.
func Parse(data []byte) (*FileConfig, error) {
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *FileConfig) error {
	tenants := make(map[string]bool, len(cfg.Tenants))
	for i, t := range cfg.Tenants {
		if t.ID == "" {
			return fmt.Errorf("tenants[%d]: id is required", i)
		}
		if tenants[t.ID] {
			return fmt.Errorf("tenants[%d]: duplicate id %q", i, t.ID)
		}
		tenants[t.ID] = true
	}
	for i, k := range cfg.APIKeys {
		if k.ID == "" || k.Key == "" {
			return fmt.Errorf("api_keys[%d]: id and key are required", i)
		}
		if k.TenantID == "" {
			return fmt.Errorf("api_keys[%d]: tenant_id is required", i)
		}
		if !tenants[k.TenantID] {
			return fmt.Errorf("api_keys[%d]: unknown tenant %q", i, k.TenantID)
		}
	}
	return nil
}

// Apply upserts tenants, API keys, and quotas from the seed file.
// Existing rows win: a seed never overwrites a tenant or rotates a key,
// so the file can be applied on every start.
func Apply(ctx context.Context, s store.Store, cfg *FileConfig) error {
	for _, t := range cfg.Tenants {
		tenant := &store.Tenant{ID: t.ID, Name: t.Name, Plan: t.Plan}
		err := s.CreateTenant(ctx, tenant)
		switch {
		case errors.Is(err, store.ErrAlreadyExists):
		case err != nil:
			return fmt.Errorf("seed tenant %s: %w", t.ID, err)
		default:
			slog.Info("seeded tenant", "tenant_id", t.ID, "plan", tenant.Plan)
		}
		if t.Quota > 0 {
			if err := s.SetQuota(ctx, t.ID, t.Quota); err != nil {
				return fmt.Errorf("seed quota for %s: %w", t.ID, err)
			}
		}
	}

	for _, k := range cfg.APIKeys {
		key := &store.APIKey{ID: k.ID, TenantID: k.TenantID, RawKey: k.Key, Scopes: k.Scopes}
		err := s.CreateAPIKey(ctx, key)
		switch {
		case errors.Is(err, store.ErrAlreadyExists):
		case err != nil:
			return fmt.Errorf("seed api key %s: %w", k.ID, err)
		default:
			slog.Info("seeded api key", "key_id", k.ID, "tenant_id", k.TenantID)
		}
	}
	return nil
}
