// Package usage reads and records the per-path get/set/migrate counters kept
// in Redis, and renders them for the /metrics page.
package usage

import (
	"context"
	"fmt"

	"github.com/Sternrassler/geocache-proxy/pkg/cache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Store is the subset of the cache gateway the collector needs.
type Store interface {
	IncrementCounter(ctx context.Context, kind cache.CounterKind, path string) error
	Counters(ctx context.Context, kind cache.CounterKind) (map[string]int64, error)
}

// Snapshot maps upstream path to count, one map per counter kind.
type Snapshot struct {
	GetCount     map[string]int64 `json:"getCount"`
	SetCount     map[string]int64 `json:"setCount"`
	MigrateCount map[string]int64 `json:"migrateCount"`
}

// Collector records and reads usage counters.
type Collector struct {
	store  Store
	logger zerolog.Logger
}

// NewCollector creates a collector backed by store.
func NewCollector(store Store) *Collector {
	return &Collector{
		store:  store,
		logger: log.With().Str("component", "usage").Logger(),
	}
}

// Record increments the kind counter for path on its own, outside any cache
// operation. The request path never calls it: the gateway queues its get, set
// and migrate increments inside the transaction of the operation they count.
// Record is for counts that have no such operation. Failures are logged only.
func (c *Collector) Record(ctx context.Context, kind cache.CounterKind, path string) {
	if err := c.store.IncrementCounter(ctx, kind, path); err != nil {
		c.logger.Warn().Err(err).Str("kind", string(kind)).Str("path", path).Msg("Failed to record usage")
	}
}

// Snapshot reads the three counter hashes independently; the result is not
// a consistent point-in-time view.
func (c *Collector) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	targets := map[cache.CounterKind]*map[string]int64{
		cache.CounterGet:     &snap.GetCount,
		cache.CounterSet:     &snap.SetCount,
		cache.CounterMigrate: &snap.MigrateCount,
	}

	for _, kind := range cache.CounterKinds {
		counts, err := c.store.Counters(ctx, kind)
		if err != nil {
			return Snapshot{}, fmt.Errorf("read %s counters: %w", kind, err)
		}
		*targets[kind] = counts
	}

	return snap, nil
}
