// Package origin performs the upstream geocoding API call.
package origin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CredentialParam is the query parameter carrying the API key.
const CredentialParam = "key"

// DefaultBaseURL is the Google Maps web service root.
const DefaultBaseURL = "https://maps.googleapis.com/maps/api/"

// maxBodyBytes caps how much of an upstream body is read.
const maxBodyBytes = 16 << 20

// Prometheus metrics for upstream operations.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geocache_upstream_requests_total",
		Help: "Total upstream requests by path and status",
	}, []string{"path", "status"})

	upstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geocache_upstream_request_duration_seconds",
		Help:    "Upstream request duration in seconds by path",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"path"})

	upstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geocache_upstream_errors_total",
		Help: "Total upstream errors by class",
	}, []string{"class"})
)

// Config holds the origin client configuration.
type Config struct {
	// BaseURL is prefixed to the requested sub-path, must end with '/'
	BaseURL string

	// APIKey is injected when the caller supplies none
	APIKey string

	// Timeout bounds the whole upstream exchange
	Timeout time.Duration

	// UserAgent is sent on every upstream request
	UserAgent string
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(apiKey string) Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		APIKey:    apiKey,
		Timeout:   10 * time.Second,
		UserAgent: "geocache-proxy/0.1.0",
	}
}

// Response is a successful upstream exchange.
type Response struct {
	StatusCode int
	Body       []byte
}

// Client fetches from the upstream geocoding API.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	config     Config
	logger     zerolog.Logger
	tracer     trace.Tracer
}

// New creates a new origin client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", base.Scheme)
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive (got %s)", cfg.Timeout)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: base,
		config:  cfg,
		logger:  log.With().Str("component", "origin").Logger(),
		tracer:  otel.Tracer("github.com/Sternrassler/geocache-proxy/pkg/origin"),
	}, nil
}

// Credential returns the API key a request will use: the caller's own
// non-empty key wins over the configured one. ok is false when neither is set.
func (c *Client) Credential(query url.Values) (key string, ok bool) {
	if key := query.Get(CredentialParam); key != "" {
		return key, true
	}
	if c.config.APIKey != "" {
		return c.config.APIKey, true
	}
	return "", false
}

// Fetch performs GET {BaseURL}{path}?{query} with the credential injected.
//
// Errors:
//   - ErrMissingCredential when no key is available
//   - *RejectedError for non-2xx responses
//   - ErrUnreachable (wrapped) for network failures
//   - ErrInvalidBody (wrapped) when a 2xx body is not JSON
func (c *Client) Fetch(ctx context.Context, path string, query url.Values) (*Response, error) {
	apiKey, ok := c.Credential(query)
	if !ok {
		return nil, ErrMissingCredential
	}

	ctx, span := c.tracer.Start(ctx, "origin.fetch", trace.WithAttributes(
		attribute.String("geocache.path", path),
	))
	defer span.End()

	startTime := time.Now()
	defer func() {
		upstreamRequestDuration.WithLabelValues(path).Observe(time.Since(startTime).Seconds())
	}()

	outgoing := make(url.Values, len(query)+1)
	for name, values := range query {
		outgoing[name] = append([]string(nil), values...)
	}
	outgoing.Set(CredentialParam, apiKey)

	target := c.baseURL.ResolveReference(&url.URL{Path: strings.TrimPrefix(path, "/")})
	target.RawQuery = outgoing.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().
		Str("path", path).
		Str("query", RedactedQuery(query)).
		Msg("Executing upstream request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		upstreamRequestsTotal.WithLabelValues(path, "network_error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "network error")
		// url.Error carries the full URL, key included
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, unwrapURLError(err))
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	upstreamRequestsTotal.WithLabelValues(path, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		class := classifyStatus(resp.StatusCode)
		upstreamErrorsTotal.WithLabelValues(string(class)).Inc()
		span.SetStatus(codes.Error, "upstream rejected")

		c.logger.Warn().
			Str("path", path).
			Int("status_code", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Upstream request rejected")

		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &RejectedError{
			StatusCode: resp.StatusCode,
			StatusText: statusText(resp),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "read body")
		return nil, fmt.Errorf("%w: read body: %v", ErrUnreachable, err)
	}

	if !json.Valid(body) {
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassBody)).Inc()
		span.SetStatus(codes.Error, "invalid body")
		return nil, fmt.Errorf("%w (status %d, %d bytes)", ErrInvalidBody, resp.StatusCode, len(body))
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
	}, nil
}

// RedactedQuery encodes query for logging with the credential masked.
func RedactedQuery(query url.Values) string {
	if _, ok := query[CredentialParam]; !ok {
		return query.Encode()
	}
	redacted := make(url.Values, len(query))
	for name, values := range query {
		redacted[name] = values
	}
	redacted.Set(CredentialParam, "REDACTED")
	return redacted.Encode()
}

// statusText returns the reason phrase, e.g. "Not Found".
func statusText(resp *http.Response) string {
	code := strconv.Itoa(resp.StatusCode)
	if text := strings.TrimSpace(strings.TrimPrefix(resp.Status, code)); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// unwrapURLError drops the *url.Error wrapper so the request URL is not
// carried into logs.
func unwrapURLError(err error) error {
	if urlErr, ok := err.(*url.Error); ok {
		return urlErr.Err
	}
	return err
}
