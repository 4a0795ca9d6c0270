package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer (redis)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geocache_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"layer"}, // "redis"
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geocache_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CacheEntryBytes tracks the size of entries read and written
	CacheEntryBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "geocache_cache_entry_bytes",
			Help:    "Size of cache entries in bytes",
			Buckets: prometheus.ExponentialBuckets(256, 4, 7),
		},
	)

	// CacheRewrites tracks entries rewritten in canonical form on read
	CacheRewrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geocache_cache_rewrites_total",
			Help: "Total number of cache entries rewritten in canonical form",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geocache_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "incr", "migrate", "counters", "rewrite", "decode", "ping"
	)
)
