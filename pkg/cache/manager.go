package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cached bytes are not valid JSON
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrStoreUnavailable wraps every Redis failure other than a missing key
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrKeyExists is returned by Migrate when the target key already holds
	// an entry; nothing is moved.
	ErrKeyExists = errors.New("key exists")
)

// CounterKind names one of the per-path usage counters.
type CounterKind string

const (
	// CounterGet counts cache lookups per path.
	CounterGet CounterKind = "get"

	// CounterSet counts cache writes per path.
	CounterSet CounterKind = "set"

	// CounterMigrate counts legacy entries moved to the current key scheme.
	CounterMigrate CounterKind = "migrate"
)

// CounterKinds lists all counter kinds in display order.
var CounterKinds = []CounterKind{CounterGet, CounterSet, CounterMigrate}

// Config holds the cache manager settings.
type Config struct {
	// Namespace prefixes every key written by the manager
	Namespace string

	// DefaultTTL is applied on every read hit and to migrated entries
	DefaultTTL time.Duration

	// CounterTTL refreshes the counter hash TTL on each increment (0 disables)
	CounterTTL time.Duration

	// Timeout bounds every Redis round trip (0 relies on client timeouts)
	Timeout time.Duration
}

// WriteOptions carries optional data stored alongside a cache entry.
type WriteOptions struct {
	// DebugURL, when set, is recorded in the {namespace}:url:h hash
	// under the entry's fingerprint.
	DebugURL string
}

// Manager is the gateway to the shared Redis store. Every multi-step
// operation is submitted as a single MULTI/EXEC transaction.
type Manager struct {
	redis  *redis.Client
	config Config
	logger zerolog.Logger
}

// NewManager creates a new cache manager with Redis backend.
func NewManager(redisClient *redis.Client, cfg Config) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Manager{
		redis:  redisClient,
		config: cfg,
		logger: log.With().Str("component", "cache").Logger(),
	}
}

// Namespace returns the configured key namespace.
func (m *Manager) Namespace() string {
	return m.config.Namespace
}

// ReadWithRefresh returns the canonical bytes stored under key. The GET, the
// TTL reset to the default TTL and the get-counter increment for path are one
// transaction. Entries stored in a non-canonical form are rewritten by a
// second, WATCHed transaction that leaves the entry alone if it changed
// in between.
//
// Returns ErrCacheMiss if the key doesn't exist, an error wrapping
// ErrInvalidEntry if the stored bytes are not JSON, and an error wrapping
// ErrStoreUnavailable on any Redis failure.
func (m *Manager) ReadWithRefresh(ctx context.Context, key CacheKey, path string) ([]byte, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	cacheKey := key.String()

	var get *redis.StringCmd
	_, err := m.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, cacheKey)
		pipe.Expire(ctx, cacheKey, m.config.DefaultTTL)
		m.queueIncrement(ctx, pipe, CounterGet, path)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, m.unavailable("get", err)
	}

	data, err := get.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		return nil, m.unavailable("get", err)
	}

	canonical, err := Canonicalize(data)
	if err != nil {
		CacheErrors.WithLabelValues("decode").Inc()
		return nil, err
	}

	if !bytes.Equal(canonical, data) {
		m.rewrite(ctx, cacheKey, data, canonical)
	}

	CacheHits.WithLabelValues("redis").Inc()
	CacheEntryBytes.Observe(float64(len(canonical)))

	return canonical, nil
}

// rewrite replaces stale with canonical unless another writer got there first.
// Failures are logged only, the caller already holds valid data.
func (m *Manager) rewrite(ctx context.Context, cacheKey string, stale, canonical []byte) {
	rewritten := false
	err := m.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, cacheKey).Bytes()
		if err != nil {
			return err
		}
		if !bytes.Equal(current, stale) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cacheKey, canonical, redis.KeepTTL)
			return nil
		})
		rewritten = err == nil
		return err
	}, cacheKey)

	if err != nil && !errors.Is(err, redis.Nil) && !errors.Is(err, redis.TxFailedErr) {
		CacheErrors.WithLabelValues("rewrite").Inc()
		m.logger.Warn().Err(err).Str("key", cacheKey).Msg("Failed to rewrite cache entry in canonical form")
		return
	}
	if !rewritten {
		return
	}

	CacheRewrites.Inc()
	m.logger.Debug().Str("key", cacheKey).Msg("Rewrote cache entry in canonical form")
}

// WriteWithTTL stores data under key for ttl and increments the set counter
// for path in the same transaction.
func (m *Manager) WriteWithTTL(ctx context.Context, key CacheKey, data []byte, ttl time.Duration, path string, opts WriteOptions) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive (got %s)", ttl)
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	cacheKey := key.String()

	_, err := m.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetEx(ctx, cacheKey, data, ttl)
		m.queueIncrement(ctx, pipe, CounterSet, path)
		if opts.DebugURL != "" {
			urlKey := m.urlHashKey()
			pipe.HSet(ctx, urlKey, key.Fingerprint, opts.DebugURL)
			pipe.Expire(ctx, urlKey, m.config.DefaultTTL)
		}
		return nil
	})
	if err != nil {
		return m.unavailable("set", err)
	}

	CacheEntryBytes.Observe(float64(len(data)))
	return nil
}

// IncrementCounter adds one to the kind counter for path in a transaction of
// its own. ReadWithRefresh, WriteWithTTL and Migrate do not use it; they queue
// the increment with the operation being counted.
func (m *Manager) IncrementCounter(ctx context.Context, kind CounterKind, path string) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	_, err := m.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		m.queueIncrement(ctx, pipe, kind, path)
		return nil
	})
	if err != nil {
		return m.unavailable("incr", err)
	}
	return nil
}

// Migrate moves the value stored under oldKey to newKey in canonical form,
// deletes oldKey and increments the migrate counter for path, atomically.
// The entry keeps its remaining TTL, or gets the default TTL if it had none.
// Returns ErrKeyExists when newKey is already populated, so a legacy entry
// never replaces a newer one. Returns false without error when oldKey does
// not exist or either key was modified concurrently. Unparseable legacy
// entries are deleted and reported as not migrated.
func (m *Manager) Migrate(ctx context.Context, oldKey, newKey CacheKey, path string) (bool, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	oldCacheKey := oldKey.String()
	newCacheKey := newKey.String()
	migrated := false

	err := m.redis.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, newCacheKey).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return ErrKeyExists
		}

		data, err := tx.Get(ctx, oldCacheKey).Bytes()
		if err != nil {
			return err
		}

		canonical, err := Canonicalize(data)
		if err != nil {
			m.logger.Debug().Str("key", oldCacheKey).Msg("Dropping unreadable legacy entry")
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, oldCacheKey)
				return nil
			})
			return err
		}

		ttl, err := tx.PTTL(ctx, oldCacheKey).Result()
		if err != nil {
			return err
		}
		if ttl <= 0 {
			ttl = m.config.DefaultTTL
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, newCacheKey, canonical, ttl)
			pipe.Del(ctx, oldCacheKey)
			m.queueIncrement(ctx, pipe, CounterMigrate, path)
			return nil
		})
		if err == nil {
			migrated = true
		}
		return err
	}, oldCacheKey, newCacheKey)

	switch {
	case err == nil:
		return migrated, nil
	case errors.Is(err, ErrKeyExists):
		return false, ErrKeyExists
	case errors.Is(err, redis.Nil), errors.Is(err, redis.TxFailedErr):
		return false, nil
	default:
		return false, m.unavailable("migrate", err)
	}
}

// Counters returns the kind counter hash as path -> count.
// Fields that are not integers are skipped.
func (m *Manager) Counters(ctx context.Context, kind CounterKind) (map[string]int64, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	fields, err := m.redis.HGetAll(ctx, m.counterKey(kind)).Result()
	if err != nil {
		return nil, m.unavailable("counters", err)
	}

	counts := make(map[string]int64, len(fields))
	for path, raw := range fields {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			m.logger.Debug().Str("path", path).Str("value", raw).Msg("Skipping malformed counter field")
			continue
		}
		counts[path] = n
	}
	return counts, nil
}

// Ping checks connectivity to the store.
func (m *Manager) Ping(ctx context.Context) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	if err := m.redis.Ping(ctx).Err(); err != nil {
		return m.unavailable("ping", err)
	}
	return nil
}

func (m *Manager) queueIncrement(ctx context.Context, pipe redis.Pipeliner, kind CounterKind, path string) {
	counterKey := m.counterKey(kind)
	pipe.HIncrBy(ctx, counterKey, path, 1)
	if m.config.CounterTTL > 0 {
		pipe.Expire(ctx, counterKey, m.config.CounterTTL)
	}
}

// counterKey returns {namespace}:metric:{kind}:path:count:h
func (m *Manager) counterKey(kind CounterKind) string {
	return strings.Join([]string{m.config.Namespace, "metric", string(kind), "path", "count", "h"}, ":")
}

// urlHashKey returns {namespace}:url:h
func (m *Manager) urlHashKey() string {
	return m.config.Namespace + ":url:h"
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.config.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.config.Timeout)
}

func (m *Manager) unavailable(operation string, err error) error {
	CacheErrors.WithLabelValues(operation).Inc()
	return fmt.Errorf("%w: redis %s: %v", ErrStoreUnavailable, operation, err)
}
