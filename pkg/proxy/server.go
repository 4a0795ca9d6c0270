package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/geocache-proxy/pkg/classify"
	"github.com/Sternrassler/geocache-proxy/pkg/metrics"
	"github.com/Sternrassler/geocache-proxy/pkg/usage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Pinger reports store connectivity for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// UsageReader provides the per-path usage counters.
type UsageReader interface {
	Snapshot(ctx context.Context) (usage.Snapshot, error)
}

// Options wires the proxy's collaborators and settings.
type Options struct {
	Cache    Gateway
	Origin   Fetcher
	Usage    UsageReader
	Store    Pinger
	Migrator LegacyMigrator // nil disables legacy migration

	Namespace string
	TTLs      classify.TTLs

	// Debug records request URIs in the {namespace}:url:h hash
	Debug bool

	// SingleFlight coalesces concurrent origin fetches per cache key
	SingleFlight bool

	// MetricsHTMLForMobile: "Mobile" user agents get HTML from /metrics
	// (false inverts the check)
	MetricsHTMLForMobile bool
}

// Server bundles the proxy routes.
type Server struct {
	maps          *Handler
	usage         UsageReader
	store         Pinger
	namespace     string
	htmlForMobile bool
	logger        zerolog.Logger
}

// New validates opts and builds the server.
func New(opts Options) (*Server, error) {
	if opts.Cache == nil {
		return nil, fmt.Errorf("cache gateway is required")
	}
	if opts.Origin == nil {
		return nil, fmt.Errorf("origin fetcher is required")
	}
	if opts.Usage == nil {
		return nil, fmt.Errorf("usage reader is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("namespace is required")
	}
	if opts.TTLs.Default <= 0 || opts.TTLs.Short <= 0 {
		return nil, fmt.Errorf("ttls must be positive (got default %s, short %s)", opts.TTLs.Default, opts.TTLs.Short)
	}

	return &Server{
		maps: newHandler(opts.Cache, opts.Origin, opts.Migrator, handlerConfig{
			Namespace:    opts.Namespace,
			TTLs:         opts.TTLs,
			Debug:        opts.Debug,
			SingleFlight: opts.SingleFlight,
		}),
		usage:         opts.Usage,
		store:         opts.Store,
		namespace:     opts.Namespace,
		htmlForMobile: opts.MetricsHTMLForMobile,
		logger:        log.With().Str("component", "server").Logger(),
	}, nil
}

// Routes returns the HTTP handler for all endpoints.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET "+APIPrefix, s.maps)
	mux.HandleFunc("GET /metrics", s.metricsHandler)
	mux.Handle("GET /stats", http.RedirectHandler("/metrics", http.StatusFound))
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", s.readyHandler)
	mux.Handle("GET /prometheus", metrics.Handler())
	return mux
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := s.usage.Snapshot(r.Context())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to read usage counters")
		writeStatus(w, http.StatusServiceUnavailable)
		return
	}

	if usage.WantsHTML(r.UserAgent(), s.htmlForMobile) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := usage.RenderHTML(w, s.namespace, snap); err != nil {
			s.logger.Error().Err(err).Msg("Failed to render metrics page")
		}
		return
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode metrics")
		writeStatus(w, http.StatusInternalServerError)
		return
	}
	writeJSON(w, append(data, '\n'))
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.store.Ping(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Readiness check failed")
			writeStatus(w, http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}
