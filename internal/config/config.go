// Package config loads gateway configuration from the environment and
// applies an optional YAML seed file to the store.
package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	HTTPAddr    string        // listen address
	DBPath      string        // sqlite file path
	ConfigFile  string        // path to mcpgate.yaml seed file
	LogLevel    slog.Level    // slog level
	Environment string        // deployment environment tag on metering events
	CallTimeout time.Duration // per-dispatch ceiling; zero disables it

	// EncryptionKey protects stored credentials. Empty disables the
	// database credential adapter.
	EncryptionKey []byte

	MeteringEnabled bool
	OpenMeterURL    string // empty with metering enabled logs events instead
	OpenMeterAPIKey string
}

// Load reads configuration from the environment. A .env file in the
// working directory is merged in first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:        envOr("MCPGATE_HTTP_ADDR", "127.0.0.1:8080"),
		DBPath:          envOr("DATABASE_URL", "mcpgate.db"),
		ConfigFile:      envOr("MCPGATE_CONFIG", ""),
		LogLevel:        parseLogLevel(envOr("MCPGATE_LOG_LEVEL", "info")),
		Environment:     envOr("LUCID_ENV", "development"),
		MeteringEnabled: envOr("OPENMETER_ENABLED", "") == "true",
		OpenMeterURL:    envOr("OPENMETER_URL", ""),
		OpenMeterAPIKey: envOr("OPENMETER_API_KEY", ""),
	}

	timeout := envOr("MCPGATE_CALL_TIMEOUT", "30s")
	d, err := time.ParseDuration(timeout)
	if err != nil {
		return nil, fmt.Errorf("config: parse MCPGATE_CALL_TIMEOUT %q: %w", timeout, err)
	}
	cfg.CallTimeout = d

	if raw := os.Getenv("CREDENTIAL_ENCRYPTION_KEY"); raw != "" {
		key, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("config: CREDENTIAL_ENCRYPTION_KEY is not valid hex: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("config: CREDENTIAL_ENCRYPTION_KEY must be 64 hex chars (32 bytes), got %d bytes", len(key))
		}
		cfg.EncryptionKey = key
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
