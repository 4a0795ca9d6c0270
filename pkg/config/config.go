// Package config loads the proxy configuration: defaults, then an optional
// YAML file, then GEOCACHE_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Timeout  time.Duration `yaml:"timeout"`
}

// CacheConfig holds key and TTL settings.
type CacheConfig struct {
	Namespace  string        `yaml:"namespace"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
	ShortTTL   time.Duration `yaml:"short_ttl"`

	// CounterTTL refreshes usage counter hashes on each increment (0 = never expire)
	CounterTTL time.Duration `yaml:"counter_ttl"`

	// MigrateLegacy enables the legacy key lookup before each read
	MigrateLegacy bool `yaml:"migrate_legacy"`

	// SingleFlight coalesces concurrent origin fetches for the same key
	SingleFlight bool `yaml:"single_flight"`
}

// UpstreamConfig holds origin settings.
type UpstreamConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`

	// MetricsHTMLForMobile selects which user agents get the HTML metrics page
	MetricsHTMLForMobile bool `yaml:"metrics_html_for_mobile"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Config is the complete proxy configuration.
type Config struct {
	Redis    RedisConfig    `yaml:"redis"`
	Cache    CacheConfig    `yaml:"cache"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`

	// Debug records request URIs in the {namespace}:url:h hash
	Debug bool `yaml:"debug"`

	// Tracing enables the stdout OpenTelemetry exporter
	Tracing bool `yaml:"tracing"`
}

// DefaultConfig returns a Config with the production defaults.
func DefaultConfig() *Config {
	return &Config{
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Timeout: 2 * time.Second,
		},
		Cache: CacheConfig{
			Namespace:     "cache-geo",
			DefaultTTL:    21 * 24 * time.Hour,
			ShortTTL:      3 * 24 * time.Hour,
			MigrateLegacy: true,
		},
		Upstream: UpstreamConfig{
			BaseURL: "https://maps.googleapis.com/maps/api/",
			Timeout: 10 * time.Second,
		},
		Server: ServerConfig{
			Addr:                 ":8851",
			MetricsHTMLForMobile: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
func LoadFromEnv(cfg *Config) error {
	strs := map[string]*string{
		"GEOCACHE_REDIS_ADDR":     &cfg.Redis.Addr,
		"GEOCACHE_REDIS_PASSWORD": &cfg.Redis.Password,
		"GEOCACHE_NAMESPACE":      &cfg.Cache.Namespace,
		"GEOCACHE_UPSTREAM_URL":   &cfg.Upstream.BaseURL,
		"GEOCACHE_API_KEY":        &cfg.Upstream.APIKey,
		"GEOCACHE_HTTP_ADDR":      &cfg.Server.Addr,
		"GEOCACHE_LOG_LEVEL":      &cfg.Log.Level,
	}
	for name, dst := range strs {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	// TTLs are given in seconds, as in earlier deployments
	seconds := map[string]*time.Duration{
		"GEOCACHE_EXPIRE_SECONDS":         &cfg.Cache.DefaultTTL,
		"GEOCACHE_SHORT_EXPIRE_SECONDS":   &cfg.Cache.ShortTTL,
		"GEOCACHE_COUNTER_EXPIRE_SECONDS": &cfg.Cache.CounterTTL,
	}
	for name, dst := range seconds {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = time.Duration(n) * time.Second
	}

	if v := os.Getenv("GEOCACHE_REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GEOCACHE_REDIS_DB: %w", err)
		}
		cfg.Redis.DB = n
	}

	bools := map[string]*bool{
		"GEOCACHE_DEBUG":                   &cfg.Debug,
		"GEOCACHE_TRACING":                 &cfg.Tracing,
		"GEOCACHE_LOG_PRETTY":              &cfg.Log.Pretty,
		"GEOCACHE_MIGRATE_LEGACY":          &cfg.Cache.MigrateLegacy,
		"GEOCACHE_SINGLE_FLIGHT":           &cfg.Cache.SingleFlight,
		"GEOCACHE_METRICS_HTML_FOR_MOBILE": &cfg.Server.MetricsHTMLForMobile,
	}
	for name, dst := range bools {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = b
	}

	return nil
}

// Load builds the config from defaults, the optional file and the environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}

	if err := LoadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config for values the proxy cannot run with.
// A missing API key is allowed: callers may bring their own.
func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Cache.Namespace == "" {
		return fmt.Errorf("cache.namespace is required")
	}
	if c.Cache.DefaultTTL < time.Second {
		return fmt.Errorf("cache.default_ttl must be >= 1s (got %s)", c.Cache.DefaultTTL)
	}
	if c.Cache.ShortTTL < time.Second {
		return fmt.Errorf("cache.short_ttl must be >= 1s (got %s)", c.Cache.ShortTTL)
	}
	if c.Cache.CounterTTL < 0 {
		return fmt.Errorf("cache.counter_ttl must not be negative (got %s)", c.Cache.CounterTTL)
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive (got %s)", c.Upstream.Timeout)
	}
	if c.Redis.Timeout <= 0 {
		return fmt.Errorf("redis.timeout must be positive (got %s)", c.Redis.Timeout)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	return nil
}
