// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	DataDir  string // Base directory for databases and override files (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	// Community store (Hive)
	HiveURL                string // PostgREST base URL; empty disables the Hive tiers
	HiveAnonKey            string
	HiveCorroborationLevel int // submissions needed for full corroboration score (1 bootstrap, 3 mature)

	// External provider credentials (all optional)
	OpenFIGIAPIKey string
	FinnhubAPIKey  string

	// Resolution tuning
	Tier1Threshold     float64       // minimum portfolio weight percent for external API lookups
	CacheMaxAge        time.Duration // mirror staleness bound before a sync is triggered
	ResolveConcurrency int           // batch worker pool size
	BatchDeadline      time.Duration // overall deadline for one batch run
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("PRISM_DATA_DIR", "")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to determine home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".prism")
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PRISM_PORT", 8090),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		HiveURL:                getEnv("HIVE_URL", ""),
		HiveAnonKey:            getEnv("HIVE_ANON_KEY", ""),
		HiveCorroborationLevel: getEnvAsInt("HIVE_CORROBORATION_THRESHOLD", 1),

		OpenFIGIAPIKey: getEnv("OPENFIGI_API_KEY", ""),
		FinnhubAPIKey:  getEnv("FINNHUB_API_KEY", ""),

		Tier1Threshold:     getEnvAsFloat("TIER1_THRESHOLD", 0.5),
		CacheMaxAge:        getEnvAsDuration("CACHE_MAX_AGE", 24*time.Hour),
		ResolveConcurrency: getEnvAsInt("RESOLVE_CONCURRENCY", 4),
		BatchDeadline:      getEnvAsDuration("BATCH_DEADLINE", 10*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present and sane.
func (c *Config) Validate() error {
	if c.HiveCorroborationLevel < 1 {
		return fmt.Errorf("HIVE_CORROBORATION_THRESHOLD must be >= 1, got %d", c.HiveCorroborationLevel)
	}
	if c.Tier1Threshold < 0 {
		return fmt.Errorf("TIER1_THRESHOLD must be >= 0, got %f", c.Tier1Threshold)
	}
	if c.ResolveConcurrency < 1 {
		return fmt.Errorf("RESOLVE_CONCURRENCY must be >= 1, got %d", c.ResolveConcurrency)
	}

	// Hive credentials are optional (standalone mode), but a URL without a
	// key is a misconfiguration worth failing on.
	if c.HiveURL != "" && c.HiveAnonKey == "" {
		return fmt.Errorf("HIVE_URL is set but HIVE_ANON_KEY is empty")
	}

	return nil
}

// CacheDBPath returns the path to the resolution mirror database.
func (c *Config) CacheDBPath() string {
	return filepath.Join(c.DataDir, "cache.db")
}

// ClientDataDBPath returns the path to the provider response cache database.
func (c *Config) ClientDataDBPath() string {
	return filepath.Join(c.DataDir, "client_data.db")
}

// OverridesPath returns the path to the manual override file.
func (c *Config) OverridesPath() string {
	return filepath.Join(c.DataDir, "manual_overrides.json")
}

// Helper functions
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
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
