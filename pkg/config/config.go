// Copyright 2025 Certen Protocol
//
// Package config loads CORTEX's runtime configuration: a flat
// environment-variable layer for secrets and deployment knobs (Load),
// and a structured YAML layer for engine tuning knobs (LoadEngineConfig).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds deployment-level configuration: connection strings,
// secrets, and pool sizing. Everything here is either a secret or varies
// per deployment environment; tuning knobs live in EngineConfig instead.
type Config struct {
	DatabaseURL string

	DBHost            string
	DBPort            int
	DBUser            string
	DBPassword        string
	DBName            string
	DBSSLMode         string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	JournalDir string

	MasterKeyHex string

	LogLevel string
}

// Load reads configuration from environment variables. Secrets have no
// defaults; call Validate() after Load() before using the result.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL: getEnv("CORTEX_DATABASE_URL", ""),

		DBHost:            getEnv("CORTEX_DB_HOST", "localhost"),
		DBPort:            getEnvInt("CORTEX_DB_PORT", 5432),
		DBUser:            getEnv("CORTEX_DB_USER", "cortex"),
		DBPassword:        getEnv("CORTEX_DB_PASSWORD", ""),
		DBName:            getEnv("CORTEX_DB_NAME", "cortex"),
		DBSSLMode:         getEnv("CORTEX_DB_SSL_MODE", "require"),
		DBMaxOpenConns:    getEnvInt("CORTEX_DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    getEnvInt("CORTEX_DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: getEnvDuration("CORTEX_DB_CONN_MAX_LIFETIME", time.Hour),

		JournalDir: getEnv("CORTEX_JOURNAL_DIR", "./data/journal"),

		MasterKeyHex: getEnv("CORTEX_MASTER_KEY", ""),

		LogLevel: getEnv("CORTEX_LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Validate fails closed on missing secrets and weak values.
func (c *Config) Validate() error {
	var problems []string

	if c.DatabaseURL == "" && c.DBHost == "" {
		problems = append(problems, "CORTEX_DATABASE_URL or CORTEX_DB_HOST is required")
	}
	if strings.Contains(c.DatabaseURL, "sslmode=disable") {
		problems = append(problems, "CORTEX_DATABASE_URL must not use sslmode=disable")
	}

	if c.MasterKeyHex == "" {
		problems = append(problems, "CORTEX_MASTER_KEY is required but not set")
	} else {
		weak := []string{"development", "secret", "password", "change-me", "changeme", "default", "test"}
		lower := strings.ToLower(c.MasterKeyHex)
		for _, w := range weak {
			if strings.Contains(lower, w) {
				problems = append(problems, "CORTEX_MASTER_KEY contains a weak/default value")
				break
			}
		}
		if len(c.MasterKeyHex) < 32 {
			problems = append(problems, "CORTEX_MASTER_KEY must be at least 32 characters")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// ValidateForDevelopment performs relaxed validation for local development.
// Do not use in production.
func (c *Config) ValidateForDevelopment() error {
	if c.DBHost == "" && c.DatabaseURL == "" {
		return fmt.Errorf("development configuration validation failed: database host or URL is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
