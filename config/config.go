package config

import (
	"errors"
	"os"
)

// Config carries process-wide settings read from the environment.
type Config struct {
	DatabaseURL      string
	JWTSecret        string
	EncryptionSecret string
}

var (
	// ErrMissingDatabaseURL signals that DATABASE_URL was not provided.
	ErrMissingDatabaseURL = errors.New("config: DATABASE_URL is required")
	// ErrMissingEncryptionSecret signals that the field encryption secret was
	// not provided. There is no default: running without it would silently
	// persist plaintext.
	ErrMissingEncryptionSecret = errors.New("config: DISPUTEFLOW_ENCRYPTION_SECRET is required")
)

// Load reads configuration from the environment. Missing secrets fail here,
// at startup, rather than on first use.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		JWTSecret:        getenv("DISPUTEFLOW_JWT_SECRET", "disputeflow-dev-secret"),
		EncryptionSecret: os.Getenv("DISPUTEFLOW_ENCRYPTION_SECRET"),
	}
	if cfg.DatabaseURL == "" {
		return Config{}, ErrMissingDatabaseURL
	}
	if cfg.EncryptionSecret == "" {
		return Config{}, ErrMissingEncryptionSecret
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}
