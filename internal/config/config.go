// Package config provides configuration management functionality.
//
// This package handles loading configuration from environment variables (.env file).
//
// Configuration Loading Order:
// 1. Load from .env file (if exists)
// 2. Load from environment variables
//
// Data Directory Priority (highest to lowest):
// 1. dataDirOverride argument to Load (if provided)
// 2. LADDER_DATA_DIR environment variable
// 3. ./data (default)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/martingalian/ladder-engine/internal/cryptoutil"
)

// Config holds application configuration.
//
// Per-account exchange credentials are not loaded here: they live in the
// accounts table, encrypted at rest with CredentialKey (see internal/account).
// This struct only holds process-wide settings.
type Config struct {
	DataDir             string        // Base directory for all databases, always absolute
	LogLevel            string        // Log level (debug, info, warn, error)
	Port                int           // HTTP admin server port
	DevMode             bool          // Development mode flag
	CredentialKey       []byte        // 32-byte AES-256-GCM key used to decrypt stored account credentials
	DispatcherInterval  time.Duration // Cron tick interval for the dispatcher (component J)
	DefaultHeadroomPct  string        // Default martingale leverage headroom, decimal string e.g. "0.3"
	DefaultConcurrency  int           // Default per-account concurrency cap (component E/J)
	SnapshotTTL         time.Duration // Default TTL for cached exchange API snapshots (component I)
	BackupEnabled       bool          // Enable periodic encrypted SQLite snapshot upload
	BackupBucket        string        // S3 bucket for encrypted backups
	BackupInterval      time.Duration // Interval between backup runs
}

// Load reads configuration from environment variables.
//
// Returns *Config - Loaded configuration
// Returns error - Error if configuration loading fails
func Load(dataDirOverride ...string) (*Config, error) {
	// godotenv.Load() returns an error if .env doesn't exist, which is fine
	_ = godotenv.Load()

	var dataDir string
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	} else {
		dataDir = getEnv("LADDER_DATA_DIR", "")
		if dataDir == "" {
			dataDir = "./data"
		}
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	key, err := loadCredentialKey()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:            absDataDir,
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		Port:               getEnvAsInt("GO_PORT", 8080),
		DevMode:            getEnvAsBool("DEV_MODE", false),
		CredentialKey:      key,
		DispatcherInterval: getEnvAsDuration("DISPATCHER_INTERVAL", 5*time.Second),
		DefaultHeadroomPct: getEnv("DEFAULT_HEADROOM_PCT", "0.3"),
		DefaultConcurrency: getEnvAsInt("DEFAULT_CONCURRENCY", 3),
		SnapshotTTL:        getEnvAsDuration("SNAPSHOT_TTL", 2*time.Second),
		BackupEnabled:      getEnvAsBool("BACKUP_ENABLED", false),
		BackupBucket:       getEnv("BACKUP_BUCKET", ""),
		BackupInterval:     getEnvAsDuration("BACKUP_INTERVAL", 1*time.Hour),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present.
func (c *Config) Validate() error {
	if len(c.CredentialKey) != 32 {
		return fmt.Errorf("credential key must be 32 bytes, got %d", len(c.CredentialKey))
	}
	if c.BackupEnabled && c.BackupBucket == "" {
		return fmt.Errorf("BACKUP_BUCKET required when BACKUP_ENABLED=true")
	}
	return nil
}

// loadCredentialKey reads the 32-byte AES-256-GCM key used to encrypt account
// credentials at rest from LADDER_CREDENTIAL_KEY (hex-encoded, 64 chars). In
// dev mode a deterministic placeholder key is used so the binary still starts.
func loadCredentialKey() ([]byte, error) {
	hexKey := getEnv("LADDER_CREDENTIAL_KEY", "")
	if hexKey == "" {
		if getEnvAsBool("DEV_MODE", false) {
			return []byte("dev-mode-placeholder-key-32byte!"), nil
		}
		return nil, fmt.Errorf("LADDER_CREDENTIAL_KEY is required outside DEV_MODE")
	}
	key, err := cryptoutil.DecodeHexKey(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode LADDER_CREDENTIAL_KEY: %w", err)
	}
	return key, nil
}

// ==========================================
// Helper Functions
// ==========================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
