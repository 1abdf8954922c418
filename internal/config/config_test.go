package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PRISM_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.DevMode)
	assert.Equal(t, 1, cfg.HiveCorroborationLevel)
	assert.Equal(t, 0.5, cfg.Tier1Threshold)
	assert.Equal(t, 24*time.Hour, cfg.CacheMaxAge)
	assert.Equal(t, 4, cfg.ResolveConcurrency)
	assert.True(t, filepath.IsAbs(cfg.DataDir))
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PRISM_DATA_DIR", t.TempDir())
	t.Setenv("PRISM_PORT", "9999")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("HIVE_URL", "https://hive.example.com")
	t.Setenv("HIVE_ANON_KEY", "anon-key")
	t.Setenv("HIVE_CORROBORATION_THRESHOLD", "3")
	t.Setenv("TIER1_THRESHOLD", "1.5")
	t.Setenv("CACHE_MAX_AGE", "12h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "https://hive.example.com", cfg.HiveURL)
	assert.Equal(t, "anon-key", cfg.HiveAnonKey)
	assert.Equal(t, 3, cfg.HiveCorroborationLevel)
	assert.Equal(t, 1.5, cfg.Tier1Threshold)
	assert.Equal(t, 12*time.Hour, cfg.CacheMaxAge)
}

func TestValidateRejectsHiveURLWithoutKey(t *testing.T) {
	t.Setenv("PRISM_DATA_DIR", t.TempDir())
	t.Setenv("HIVE_URL", "https://hive.example.com")
	t.Setenv("HIVE_ANON_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HIVE_ANON_KEY")
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	cfg := &Config{
		HiveCorroborationLevel: 0,
		Tier1Threshold:         0.5,
		ResolveConcurrency:     1,
	}
	assert.Error(t, cfg.Validate())

	cfg = &Config{
		HiveCorroborationLevel: 1,
		Tier1Threshold:         -1,
		ResolveConcurrency:     1,
	}
	assert.Error(t, cfg.Validate())

	cfg = &Config{
		HiveCorroborationLevel: 1,
		Tier1Threshold:         0.5,
		ResolveConcurrency:     0,
	}
	assert.Error(t, cfg.Validate())
}

func TestDBPaths(t *testing.T) {
	cfg := &Config{DataDir: "/data/prism"}
	assert.Equal(t, filepath.Join("/data/prism", "cache.db"), cfg.CacheDBPath())
	assert.Equal(t, filepath.Join("/data/prism", "client_data.db"), cfg.ClientDataDBPath())
	assert.Equal(t, filepath.Join("/data/prism", "manual_overrides.json"), cfg.OverridesPath())
}
