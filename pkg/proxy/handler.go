// Package proxy is the HTTP face of the geocoding cache: it serves
// /maps/api/* read-through from Redis and the usage metrics page.
package proxy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/geocache-proxy/pkg/cache"
	"github.com/Sternrassler/geocache-proxy/pkg/classify"
	"github.com/Sternrassler/geocache-proxy/pkg/origin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// APIPrefix is the route prefix; the rest of the path is the upstream sub-path.
const APIPrefix = "/maps/api/"

// Request outcomes, used as metric labels.
const (
	outcomeHit          = "hit"
	outcomeMiss         = "miss"
	outcomeNearMiss     = "near_miss"
	outcomeUnauthorized = "unauthorized"
	outcomeRejected     = "rejected"
	outcomeUnreachable  = "unreachable"
	outcomeInvalidBody  = "invalid_body"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geocache_requests_total",
		Help: "Total proxied requests by outcome",
	}, []string{"outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geocache_request_duration_seconds",
		Help:    "Proxied request duration in seconds by outcome",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"outcome"})

	singleflightShared = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geocache_singleflight_shared_total",
		Help: "Origin fetches whose result was shared with a concurrent request",
	})
)

// Gateway is the cache side of a request.
type Gateway interface {
	ReadWithRefresh(ctx context.Context, key cache.CacheKey, path string) ([]byte, error)
	WriteWithTTL(ctx context.Context, key cache.CacheKey, data []byte, ttl time.Duration, path string, opts cache.WriteOptions) error
}

// Fetcher is the upstream side of a request.
type Fetcher interface {
	Credential(query url.Values) (string, bool)
	Fetch(ctx context.Context, path string, query url.Values) (*origin.Response, error)
}

// LegacyMigrator moves entries stored under earlier key schemes.
type LegacyMigrator interface {
	TryMigrate(ctx context.Context, current cache.CacheKey, path, requestURI string, query url.Values) bool
}

// Handler serves the cache-aside pipeline for /maps/api/*.
type Handler struct {
	cache     Gateway
	origin    Fetcher
	migrator  LegacyMigrator
	namespace string
	ttls      classify.TTLs
	debug     bool
	group     *singleflight.Group
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// handlerConfig holds the settings shared by the routes.
type handlerConfig struct {
	Namespace    string
	TTLs         classify.TTLs
	Debug        bool
	SingleFlight bool
}

func newHandler(gateway Gateway, fetcher Fetcher, migrator LegacyMigrator, cfg handlerConfig) *Handler {
	h := &Handler{
		cache:     gateway,
		origin:    fetcher,
		migrator:  migrator,
		namespace: cfg.Namespace,
		ttls:      cfg.TTLs,
		debug:     cfg.Debug,
		logger:    log.With().Str("component", "proxy").Logger(),
		tracer:    otel.Tracer("github.com/Sternrassler/geocache-proxy/pkg/proxy"),
	}
	if cfg.SingleFlight {
		h.group = &singleflight.Group{}
	}
	return h
}

// ServeHTTP runs one request through the pipeline:
//
//	credential check -> legacy migration -> cache lookup
//	  hit with cacheable status   -> respond
//	  miss / near miss / store down -> origin fetch -> classify -> respond (-> store)
//
// There is no retry; every request makes a single pass.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	outcome := h.serve(w, r)
	requestsTotal.WithLabelValues(outcome).Inc()
	requestDuration.WithLabelValues(outcome).Observe(time.Since(startTime).Seconds())
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) string {
	path := strings.TrimPrefix(r.URL.Path, APIPrefix)
	query := r.URL.Query()

	// No store or network access without a usable credential
	credential, ok := h.origin.Credential(query)
	if !ok {
		writeStatus(w, http.StatusUnauthorized)
		return outcomeUnauthorized
	}

	key := cache.DeriveKey(h.namespace, path, query)
	logger := h.logger.With().Str("path", path).Str("fingerprint", key.Fingerprint).Logger()

	ctx, span := h.tracer.Start(r.Context(), "geocache.request", trace.WithAttributes(
		attribute.String("geocache.path", path),
		attribute.String("geocache.fingerprint", key.Fingerprint),
	))
	defer span.End()

	if h.migrator != nil {
		h.migrator.TryMigrate(ctx, key, path, r.URL.RequestURI(), query)
	}

	outcome := outcomeMiss
	data, err := h.cache.ReadWithRefresh(ctx, key, path)
	switch {
	case err == nil:
		decision := classify.Classify(data, h.ttls)
		if decision.Cacheable {
			logger.Debug().Str("status", decision.Status).Bool("cache_hit", true).Msg("Cache hit")
			span.SetAttributes(attribute.Bool("geocache.cache_hit", true))
			writeJSON(w, data)
			return outcomeHit
		}
		logger.Debug().Str("status", decision.Status).Msg("Cached entry has uncacheable status, refetching")
		outcome = outcomeNearMiss
	case errors.Is(err, cache.ErrCacheMiss):
		logger.Debug().Bool("cache_hit", false).Msg("Cache miss")
	case errors.Is(err, cache.ErrInvalidEntry):
		logger.Warn().Err(err).Msg("Malformed cache entry, treating as miss")
	default:
		logger.Warn().Err(err).Msg("Cache read failed, falling back to origin")
	}
	span.SetAttributes(attribute.Bool("geocache.cache_hit", false))

	body, err := h.fetch(ctx, key, credential, path, query)
	if err != nil {
		return h.writeFetchError(w, logger, err)
	}

	canonical, err := cache.Canonicalize(body)
	if err != nil {
		logger.Error().Err(err).Msg("Upstream body could not be canonicalized")
		writeStatus(w, http.StatusBadGateway)
		return outcomeInvalidBody
	}

	decision := classify.Classify(canonical, h.ttls)
	writeJSON(w, canonical)

	if !decision.Cacheable {
		logger.Info().Str("status", decision.Status).Msg("Upstream status not cacheable")
		return outcome
	}

	// Cache warm outlives an aborted client connection; the gateway bounds it.
	storeCtx := context.WithoutCancel(ctx)
	opts := cache.WriteOptions{}
	if h.debug {
		opts.DebugURL = r.URL.Path + "?" + origin.RedactedQuery(query)
	}
	if err := h.cache.WriteWithTTL(storeCtx, key, canonical, decision.TTL, path, opts); err != nil {
		logger.Warn().Err(err).Msg("Failed to cache response")
		return outcome
	}

	logger.Debug().Str("status", decision.Status).Dur("ttl", decision.TTL).Msg("Cached response")
	return outcome
}

// fetch calls the origin, coalescing concurrent fetches for the same key and
// credential when single-flight is enabled. Callers with different keys never
// share an upstream answer: the upstream may deny one key and serve another.
func (h *Handler) fetch(ctx context.Context, key cache.CacheKey, credential, path string, query url.Values) ([]byte, error) {
	if h.group == nil {
		resp, err := h.origin.Fetch(ctx, path, query)
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	}

	// The shared fetch must not die with whichever caller started it.
	sharedCtx := context.WithoutCancel(ctx)
	v, err, shared := h.group.Do(flightKey(key, credential), func() (interface{}, error) {
		resp, err := h.origin.Fetch(sharedCtx, path, query)
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	})
	if shared {
		singleflightShared.Inc()
	}
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// flightKey joins the cache key with a digest of the credential, so the
// credential itself never ends up in a map key or a log line.
func flightKey(key cache.CacheKey, credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return key.String() + ":" + hex.EncodeToString(sum[:8])
}

func (h *Handler) writeFetchError(w http.ResponseWriter, logger zerolog.Logger, err error) string {
	var rejected *origin.RejectedError
	switch {
	case errors.As(err, &rejected):
		logger.Warn().Int("status_code", rejected.StatusCode).Msg("Upstream rejected request")
		writeText(w, rejected.StatusCode, rejected.StatusText)
		return outcomeRejected
	case errors.Is(err, origin.ErrMissingCredential):
		writeStatus(w, http.StatusUnauthorized)
		return outcomeUnauthorized
	case errors.Is(err, origin.ErrInvalidBody):
		logger.Error().Err(err).Msg("Upstream returned invalid body")
		writeStatus(w, http.StatusBadGateway)
		return outcomeInvalidBody
	default:
		logger.Error().Err(err).Msg("Upstream unreachable")
		writeStatus(w, http.StatusBadGateway)
		return outcomeUnreachable
	}
}

func writeJSON(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// writeStatus writes the standard reason phrase as a plain-text body.
func writeStatus(w http.ResponseWriter, code int) {
	writeText(w, code, http.StatusText(code))
}

func writeText(w http.ResponseWriter, code int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	fmt.Fprintf(w, "%s\n", text)
}
