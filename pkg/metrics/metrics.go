// Package metrics exposes the in-process Prometheus metrics of the proxy.
// Metrics are defined with promauto next to the code that updates them
// (cache, origin, migrate, proxy) and land in the default registry.
//
// These are distinct from the per-path usage counters kept in Redis and
// served on /metrics: Prometheus counters are per process, the Redis
// counters are shared by every instance using the namespace.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registry all proxy metrics are registered with.
var Registry = prometheus.DefaultRegisterer

var buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "geocache_build_info",
	Help: "Always 1, labelled with the running version and key namespace",
}, []string{"version", "namespace"})

// RegisterBuildInfo registers geocache_build_info with Registry and sets it
// for this process. Calling it again only updates the labels.
func RegisterBuildInfo(version, namespace string) error {
	if err := Registry.Register(buildInfo); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			return err
		}
	}
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, namespace).Set(1)
	return nil
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Process Metrics:
//   - geocache_build_info{version, namespace} (Gauge)
//
// Request Metrics (pkg/proxy):
//   - geocache_requests_total{outcome} (Counter): hit, miss, near_miss, unauthorized, rejected, unreachable, invalid_body
//   - geocache_request_duration_seconds{outcome} (Histogram)
//   - geocache_singleflight_shared_total (Counter): origin fetches shared with a concurrent request
//
// Cache Metrics (pkg/cache):
//   - geocache_cache_hits_total{layer="redis"} (Counter)
//   - geocache_cache_misses_total (Counter)
//   - geocache_cache_entry_bytes (Histogram)
//   - geocache_cache_rewrites_total (Counter): entries rewritten in canonical form
//   - geocache_cache_errors_total{operation} (Counter)
//
// Upstream Metrics (pkg/origin):
//   - geocache_upstream_requests_total{path, status} (Counter)
//   - geocache_upstream_request_duration_seconds{path} (Histogram)
//   - geocache_upstream_errors_total{class} (Counter): client, server, network, body
//
// Migration Metrics (pkg/migrate):
//   - geocache_migrations_total{outcome} (Counter): migrated, absent, error
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(geocache_requests_total{outcome="hit"}[5m])) /
//   sum(rate(geocache_requests_total{outcome=~"hit|miss|near_miss"}[5m]))
//
//   # Upstream Error Rate
//   rate(geocache_upstream_errors_total[5m])
//
//   # P95 Upstream Latency
//   histogram_quantile(0.95, rate(geocache_upstream_request_duration_seconds_bucket[5m]))
