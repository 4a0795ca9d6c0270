package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "cache-geo", cfg.Cache.Namespace)
	assert.Equal(t, 21*24*time.Hour, cfg.Cache.DefaultTTL)
	assert.Equal(t, 3*24*time.Hour, cfg.Cache.ShortTTL)
	assert.Equal(t, ":8851", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Cache.MigrateLegacy)
	assert.False(t, cfg.Cache.SingleFlight)
	assert.True(t, cfg.Server.MetricsHTMLForMobile)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geocache.yaml")
	content := `
redis:
  addr: redis.internal:6380
  db: 2
cache:
  namespace: geo-staging
  default_ttl: 168h
  counter_ttl: 720h
  single_flight: true
upstream:
  api_key: file-key
  timeout: 3s
debug: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "geo-staging", cfg.Cache.Namespace)
	assert.Equal(t, 168*time.Hour, cfg.Cache.DefaultTTL)
	assert.Equal(t, 720*time.Hour, cfg.Cache.CounterTTL)
	assert.True(t, cfg.Cache.SingleFlight)
	assert.Equal(t, "file-key", cfg.Upstream.APIKey)
	assert.Equal(t, 3*time.Second, cfg.Upstream.Timeout)
	assert.True(t, cfg.Debug)

	// untouched fields keep their defaults
	assert.Equal(t, 3*24*time.Hour, cfg.Cache.ShortTTL)
	assert.Equal(t, ":8851", cfg.Server.Addr)
}

func TestLoadFromFile_Errors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache: [not, a, map"), 0o600))
	_, err = LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("GEOCACHE_REDIS_ADDR", "10.0.0.5:6379")
	t.Setenv("GEOCACHE_API_KEY", "env-key")
	t.Setenv("GEOCACHE_EXPIRE_SECONDS", "3600")
	t.Setenv("GEOCACHE_SHORT_EXPIRE_SECONDS", "60")
	t.Setenv("GEOCACHE_REDIS_DB", "4")
	t.Setenv("GEOCACHE_DEBUG", "true")
	t.Setenv("GEOCACHE_MIGRATE_LEGACY", "false")

	cfg := DefaultConfig()
	require.NoError(t, LoadFromEnv(cfg))

	assert.Equal(t, "10.0.0.5:6379", cfg.Redis.Addr)
	assert.Equal(t, "env-key", cfg.Upstream.APIKey)
	assert.Equal(t, time.Hour, cfg.Cache.DefaultTTL)
	assert.Equal(t, time.Minute, cfg.Cache.ShortTTL)
	assert.Equal(t, 4, cfg.Redis.DB)
	assert.True(t, cfg.Debug)
	assert.False(t, cfg.Cache.MigrateLegacy)
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := map[string]string{
		"GEOCACHE_EXPIRE_SECONDS": "three weeks",
		"GEOCACHE_REDIS_DB":       "x",
		"GEOCACHE_DEBUG":          "sometimes",
	}

	for name, value := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv(name, value)
			assert.Error(t, LoadFromEnv(DefaultConfig()))
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geocache.yaml")
	require.NoError(t, os.WriteFile(path, []byte("upstream:\n  api_key: file-key\n"), 0o600))
	t.Setenv("GEOCACHE_API_KEY", "env-key")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Upstream.APIKey)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Upstream.APIKey)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{
			name:     "empty namespace",
			mutate:   func(c *Config) { c.Cache.Namespace = "" },
			errorMsg: "cache.namespace is required",
		},
		{
			name:     "sub-second ttl",
			mutate:   func(c *Config) { c.Cache.DefaultTTL = 500 * time.Millisecond },
			errorMsg: "cache.default_ttl must be >= 1s (got 500ms)",
		},
		{
			name:     "zero short ttl",
			mutate:   func(c *Config) { c.Cache.ShortTTL = 0 },
			errorMsg: "cache.short_ttl must be >= 1s (got 0s)",
		},
		{
			name:     "negative counter ttl",
			mutate:   func(c *Config) { c.Cache.CounterTTL = -time.Second },
			errorMsg: "cache.counter_ttl must not be negative (got -1s)",
		},
		{
			name:     "no redis",
			mutate:   func(c *Config) { c.Redis.Addr = "" },
			errorMsg: "redis.addr is required",
		},
		{
			name:     "zero upstream timeout",
			mutate:   func(c *Config) { c.Upstream.Timeout = 0 },
			errorMsg: "upstream.timeout must be positive (got 0s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, tt.errorMsg, err.Error())
		})
	}
}
