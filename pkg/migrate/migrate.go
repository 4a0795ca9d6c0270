// Package migrate drains cache entries written under earlier key schemes
// into the current one, on first access.
package migrate

import (
	"context"
	"errors"
	"net/url"

	"github.com/Sternrassler/geocache-proxy/pkg/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var migrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "geocache_migrations_total",
	Help: "Legacy cache lookups by outcome",
}, []string{"outcome"}) // "migrated", "current", "absent", "error"

// Store is the subset of the cache gateway the migrator needs.
type Store interface {
	Migrate(ctx context.Context, oldKey, newKey cache.CacheKey, path string) (bool, error)
}

// Migrator moves legacy entries to the current key.
type Migrator struct {
	store     Store
	namespace string
	logger    zerolog.Logger
}

// New creates a migrator for namespace.
func New(store Store, namespace string) *Migrator {
	return &Migrator{
		store:     store,
		namespace: namespace,
		logger:    log.With().Str("component", "migrate").Logger(),
	}
}

// TryMigrate tries each legacy key for the request in turn and stops at the
// first one that was moved to current, or as soon as the store reports that
// current is already populated. The migrate counter for path is incremented
// by the store in the same transaction.
//
// Store errors are logged and end the attempt; they never fail the request.
func (m *Migrator) TryMigrate(ctx context.Context, current cache.CacheKey, path, requestURI string, query url.Values) bool {
	for _, legacy := range cache.DeriveLegacyKeys(m.namespace, path, requestURI, query) {
		migrated, err := m.store.Migrate(ctx, legacy, current, path)
		if errors.Is(err, cache.ErrKeyExists) {
			migrationsTotal.WithLabelValues("current").Inc()
			return false
		}
		if err != nil {
			migrationsTotal.WithLabelValues("error").Inc()
			m.logger.Warn().
				Err(err).
				Str("path", path).
				Str("fingerprint", current.Fingerprint).
				Msg("Legacy migration failed, continuing as cache miss")
			return false
		}
		if migrated {
			migrationsTotal.WithLabelValues("migrated").Inc()
			m.logger.Debug().
				Str("path", path).
				Str("legacy_fingerprint", legacy.Fingerprint).
				Str("fingerprint", current.Fingerprint).
				Msg("Migrated legacy cache entry")
			return true
		}
	}

	migrationsTotal.WithLabelValues("absent").Inc()
	return false
}
