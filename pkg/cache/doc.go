// Package cache is the Redis side of the geocoding proxy.
//
// It owns the wire format of every key the proxy touches:
//
//	{namespace}:{fingerprint}:json              cached upstream response body
//	{namespace}:metric:{kind}:path:count:h      per-path counters (kind = get, set, migrate)
//	{namespace}:url:h                           debug map fingerprint -> request URI
//
// The fingerprint is the hex SHA-1 of the upstream path, a '#', and the
// canonical query string: credential removed, names sorted, values
// percent-encoded. Two requests that differ only in parameter order or in
// the API key share a fingerprint.
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient, cache.Config{
//		Namespace:  "cache-geo",
//		DefaultTTL: 21 * 24 * time.Hour,
//	})
//
//	key := cache.DeriveKey("cache-geo", "geocode/json", r.URL.Query())
//
//	data, err := manager.ReadWithRefresh(ctx, key, "geocode/json")
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from origin, then
//		_ = manager.WriteWithTTL(ctx, key, body, ttl, "geocode/json", cache.WriteOptions{})
//	}
//
// # Atomicity
//
// Reads are GET + EXPIRE + HINCRBY in one MULTI/EXEC. Writes are SETEX +
// HINCRBY (+ debug HSET/EXPIRE) in one MULTI/EXEC. Migration and the
// canonical rewrite use WATCH so a concurrent writer aborts them instead of
// being overwritten. There are no in-process locks: several proxy instances
// may share one Redis.
//
// # Canonical form
//
// Entries are stored as two-space indented JSON with a trailing newline.
// A hit whose bytes differ from their canonical form is rewritten in place.
//
// # Metrics
//
//   - geocache_cache_hits_total{layer="redis"}
//   - geocache_cache_misses_total
//   - geocache_cache_entry_bytes
//   - geocache_cache_rewrites_total
//   - geocache_cache_errors_total{operation}
package cache
