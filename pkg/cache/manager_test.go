package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testNamespace  = "cache-geo"
	testDefaultTTL = 21 * 24 * time.Hour
	testPath       = "geocode/json"
)

// setupTestRedis starts an in-memory Redis and a client pointed at it.
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr:       mr.Addr(),
		MaxRetries: -1,
	})
	t.Cleanup(func() {
		client.Close()
	})

	return mr, client
}

func newTestManager(t *testing.T, cfg Config) (*miniredis.Miniredis, *Manager) {
	t.Helper()

	if cfg.Namespace == "" {
		cfg.Namespace = testNamespace
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = testDefaultTTL
	}

	mr, client := setupTestRedis(t)
	return mr, NewManager(client, cfg)
}

func testKey(fingerprint string) CacheKey {
	return CacheKey{Namespace: testNamespace, Fingerprint: fingerprint, Kind: KindJSON}
}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil redis client")
		}
	}()
	NewManager(nil, Config{})
}

func TestManager_ReadWithRefresh_Miss(t *testing.T) {
	mr, manager := newTestManager(t, Config{})
	ctx := context.Background()

	_, err := manager.ReadWithRefresh(ctx, testKey("missing"), testPath)
	assert.ErrorIs(t, err, ErrCacheMiss)

	// Lookups are counted whether they hit or not
	assert.Equal(t, "1", mr.HGet("cache-geo:metric:get:path:count:h", testPath))
	assert.False(t, mr.Exists("cache-geo:missing:json"))
}

func TestManager_ReadWithRefresh_Hit(t *testing.T) {
	mr, manager := newTestManager(t, Config{})
	ctx := context.Background()

	stored := "{\n  \"status\": \"OK\"\n}\n"
	require.NoError(t, mr.Set("cache-geo:abc:json", stored))
	mr.SetTTL("cache-geo:abc:json", time.Minute)

	data, err := manager.ReadWithRefresh(ctx, testKey("abc"), testPath)
	require.NoError(t, err)
	assert.Equal(t, stored, string(data))

	// TTL reset to default in the same transaction
	assert.Equal(t, testDefaultTTL, mr.TTL("cache-geo:abc:json"))
	assert.Equal(t, "1", mr.HGet("cache-geo:metric:get:path:count:h", testPath))
}

func TestManager_ReadWithRefresh_RewritesNonCanonical(t *testing.T) {
	mr, manager := newTestManager(t, Config{})
	ctx := context.Background()

	require.NoError(t, mr.Set("cache-geo:abc:json", `{"status":"OK","results":[]}`))

	data, err := manager.ReadWithRefresh(ctx, testKey("abc"), testPath)
	require.NoError(t, err)

	want := "{\n  \"status\": \"OK\",\n  \"results\": []\n}\n"
	assert.Equal(t, want, string(data))

	stored, err := mr.Get("cache-geo:abc:json")
	require.NoError(t, err)
	assert.Equal(t, want, stored)
	assert.Equal(t, testDefaultTTL, mr.TTL("cache-geo:abc:json"))
}

func TestManager_ReadWithRefresh_InvalidEntry(t *testing.T) {
	mr, manager := newTestManager(t, Config{})
	ctx := context.Background()

	require.NoError(t, mr.Set("cache-geo:abc:json", "<html>oops</html>"))

	_, err := manager.ReadWithRefresh(ctx, testKey("abc"), testPath)
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestManager_WriteWithTTL(t *testing.T) {
	mr, manager := newTestManager(t, Config{})
	ctx := context.Background()

	body := []byte("{\n  \"status\": \"ZERO_RESULTS\"\n}\n")
	err := manager.WriteWithTTL(ctx, testKey("abc"), body, 3*24*time.Hour, testPath, WriteOptions{})
	require.NoError(t, err)

	stored, err := mr.Get("cache-geo:abc:json")
	require.NoError(t, err)
	assert.Equal(t, string(body), stored)
	assert.Equal(t, 3*24*time.Hour, mr.TTL("cache-geo:abc:json"))
	assert.Equal(t, "1", mr.HGet("cache-geo:metric:set:path:count:h", testPath))
	assert.False(t, mr.Exists("cache-geo:url:h"))
}

func TestManager_WriteWithTTL_DebugURL(t *testing.T) {
	mr, manager := newTestManager(t, Config{})
	ctx := context.Background()

	err := manager.WriteWithTTL(ctx, testKey("abc"), []byte("{}\n"), time.Hour, testPath, WriteOptions{
		DebugURL: "/maps/api/geocode/json?address=Berlin",
	})
	require.NoError(t, err)

	assert.Equal(t, "/maps/api/geocode/json?address=Berlin", mr.HGet("cache-geo:url:h", "abc"))
	assert.Equal(t, testDefaultTTL, mr.TTL("cache-geo:url:h"))
}

func TestManager_WriteWithTTL_RejectsZeroTTL(t *testing.T) {
	mr, manager := newTestManager(t, Config{})

	err := manager.WriteWithTTL(context.Background(), testKey("abc"), []byte("{}\n"), 0, testPath, WriteOptions{})
	assert.Error(t, err)
	assert.False(t, mr.Exists("cache-geo:abc:json"))
}

func TestManager_IncrementCounter(t *testing.T) {
	tests := []struct {
		name       string
		counterTTL time.Duration
		wantTTL    time.Duration
	}{
		{name: "no ttl refresh", counterTTL: 0, wantTTL: 0},
		{name: "ttl refresh", counterTTL: 7 * 24 * time.Hour, wantTTL: 7 * 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mr, manager := newTestManager(t, Config{CounterTTL: tt.counterTTL})
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				require.NoError(t, manager.IncrementCounter(ctx, CounterMigrate, testPath))
			}

			assert.Equal(t, "3", mr.HGet("cache-geo:metric:migrate:path:count:h", testPath))
			assert.Equal(t, tt.wantTTL, mr.TTL("cache-geo:metric:migrate:path:count:h"))
		})
	}
}

func TestManager_Migrate(t *testing.T) {
	mr, manager := newTestManager(t, Config{})
	ctx := context.Background()

	require.NoError(t, mr.Set("cache-geo:old:json", `{"status":"OK","results":[]}`))
	mr.SetTTL("cache-geo:old:json", 48*time.Hour)

	migrated, err := manager.Migrate(ctx, testKey("old"), testKey("new"), testPath)
	require.NoError(t, err)
	assert.True(t, migrated)

	stored, err := mr.Get("cache-geo:new:json")
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"status\": \"OK\",\n  \"results\": []\n}\n", stored)
	assert.Equal(t, 48*time.Hour, mr.TTL("cache-geo:new:json"))
	assert.False(t, mr.Exists("cache-geo:old:json"))
	assert.Equal(t, "1", mr.HGet("cache-geo:metric:migrate:path:count:h", testPath))
}

func TestManager_Migrate_NoExpiry(t *testing.T) {
	mr, manager := newTestManager(t, Config{})

	require.NoError(t, mr.Set("cache-geo:old:json", `{"status":"OK"}`))

	migrated, err := manager.Migrate(context.Background(), testKey("old"), testKey("new"), testPath)
	require.NoError(t, err)
	assert.True(t, migrated)
	assert.Equal(t, testDefaultTTL, mr.TTL("cache-geo:new:json"))
}

func TestManager_Migrate_CurrentExists(t *testing.T) {
	mr, manager := newTestManager(t, Config{})

	current := "{\n  \"status\": \"OK\"\n}\n"
	require.NoError(t, mr.Set("cache-geo:new:json", current))
	require.NoError(t, mr.Set("cache-geo:old:json", `{"status":"ZERO_RESULTS"}`))

	migrated, err := manager.Migrate(context.Background(), testKey("old"), testKey("new"), testPath)
	assert.ErrorIs(t, err, ErrKeyExists)
	assert.NotErrorIs(t, err, ErrStoreUnavailable)
	assert.False(t, migrated)

	stored, err := mr.Get("cache-geo:new:json")
	require.NoError(t, err)
	assert.Equal(t, current, stored)
	assert.True(t, mr.Exists("cache-geo:old:json"))
	assert.False(t, mr.Exists("cache-geo:metric:migrate:path:count:h"))
}

func TestManager_Migrate_Absent(t *testing.T) {
	mr, manager := newTestManager(t, Config{})

	migrated, err := manager.Migrate(context.Background(), testKey("old"), testKey("new"), testPath)
	require.NoError(t, err)
	assert.False(t, migrated)
	assert.False(t, mr.Exists("cache-geo:new:json"))
	assert.False(t, mr.Exists("cache-geo:metric:migrate:path:count:h"))
}

func TestManager_Migrate_InvalidLegacyEntry(t *testing.T) {
	mr, manager := newTestManager(t, Config{})

	require.NoError(t, mr.Set("cache-geo:old:json", "garbage"))

	migrated, err := manager.Migrate(context.Background(), testKey("old"), testKey("new"), testPath)
	require.NoError(t, err)
	assert.False(t, migrated)
	assert.False(t, mr.Exists("cache-geo:old:json"))
	assert.False(t, mr.Exists("cache-geo:new:json"))
}

func TestManager_Counters(t *testing.T) {
	mr, manager := newTestManager(t, Config{})

	mr.HSet("cache-geo:metric:get:path:count:h", "geocode/json", "12")
	mr.HSet("cache-geo:metric:get:path:count:h", "place/details/json", "3")
	mr.HSet("cache-geo:metric:get:path:count:h", "broken", "NaN")

	counts, err := manager.Counters(context.Background(), CounterGet)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{
		"geocode/json":       12,
		"place/details/json": 3,
	}, counts)

	empty, err := manager.Counters(context.Background(), CounterSet)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestManager_StoreUnavailable(t *testing.T) {
	mr, manager := newTestManager(t, Config{Timeout: time.Second})
	ctx := context.Background()
	mr.Close()

	_, err := manager.ReadWithRefresh(ctx, testKey("abc"), testPath)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	err = manager.WriteWithTTL(ctx, testKey("abc"), []byte("{}\n"), time.Hour, testPath, WriteOptions{})
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	err = manager.IncrementCounter(ctx, CounterGet, testPath)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = manager.Migrate(ctx, testKey("old"), testKey("new"), testPath)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = manager.Counters(ctx, CounterGet)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	assert.ErrorIs(t, manager.Ping(ctx), ErrStoreUnavailable)
}
