// Package warm pre-populates the cache by replaying request URIs through a
// running proxy with a bounded worker pool.
//
// Example usage:
//
//	requester, _ := warm.NewHTTPRequester("http://localhost:8851", nil)
//	warmer := warm.NewWarmer(requester, warm.DefaultConfig())
//	result, err := warmer.WarmAll(ctx, uris)
//
// Each URI is requested once. Failures are counted and logged, the remaining
// URIs are still processed.
package warm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds warmer configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel requests
	MaxConcurrency int
	// Timeout per request
	Timeout time.Duration
	// Buffer size for the work queue
	BufferSize int
}

// DefaultConfig returns the default warmer configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
		BufferSize:     100,
	}
}

// Requester sends one request URI through the proxy.
type Requester interface {
	Request(ctx context.Context, requestURI string) error
}

// Failure records a URI that could not be warmed.
type Failure struct {
	RequestURI string
	Err        error
}

// Result summarizes a warm run.
type Result struct {
	Warmed   int
	Failures []Failure
	Duration time.Duration
}

// Warmer replays request URIs with a worker pool.
type Warmer struct {
	requester Requester
	config    Config
}

// NewWarmer creates a new warmer
func NewWarmer(requester Requester, config Config) *Warmer {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 100
	}

	return &Warmer{
		requester: requester,
		config:    config,
	}
}

// WarmAll requests every URI once. It returns ctx.Err() if the run was
// cancelled before all URIs were processed.
func (w *Warmer) WarmAll(ctx context.Context, uris []string) (Result, error) {
	start := time.Now()

	log.Info().
		Int("total", len(uris)).
		Int("workers", w.config.MaxConcurrency).
		Msg("Starting cache warm")

	queue := make(chan string, w.config.BufferSize)
	failures := make(chan Failure, w.config.BufferSize)
	var warmed int
	var warmedMu sync.Mutex

	go func() {
		defer close(queue)
		for _, uri := range uris {
			select {
			case queue <- uri:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < w.config.MaxConcurrency; i++ {
		wg.Add(1)
		go w.worker(ctx, queue, failures, &wg, i, func() {
			warmedMu.Lock()
			warmed++
			done := warmed
			warmedMu.Unlock()

			// Progress logging every 100 URIs
			if done%100 == 0 {
				log.Info().
					Int("warmed", done).
					Int("total", len(uris)).
					Float64("progress_pct", float64(done)/float64(len(uris))*100).
					Msg("Warm progress")
			}
		})
	}

	go func() {
		wg.Wait()
		close(failures)
	}()

	result := Result{}
	for failure := range failures {
		result.Failures = append(result.Failures, failure)
	}
	result.Warmed = warmed
	result.Duration = time.Since(start)

	log.Info().
		Int("warmed", result.Warmed).
		Int("failed", len(result.Failures)).
		Dur("duration", result.Duration).
		Msg("Warm complete")

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("warm cancelled after %d/%d: %w", result.Warmed+len(result.Failures), len(uris), err)
	}
	return result, nil
}

// worker processes URIs from the queue
func (w *Warmer) worker(ctx context.Context, queue <-chan string, failures chan<- Failure, wg *sync.WaitGroup, workerID int, onSuccess func()) {
	defer wg.Done()
	processed := 0

	for uri := range queue {
		select {
		case <-ctx.Done():
			log.Debug().
				Int("worker_id", workerID).
				Int("processed", processed).
				Msg("Worker stopping (context cancelled)")
			return
		default:
		}

		reqCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
		err := w.requester.Request(reqCtx, uri)
		cancel()
		processed++

		if err != nil {
			log.Warn().
				Err(err).
				Int("worker_id", workerID).
				Str("request_uri", uri).
				Msg("Warm request failed")

			select {
			case failures <- Failure{RequestURI: uri, Err: err}:
			case <-ctx.Done():
				return
			}
			continue
		}
		onSuccess()
	}

	log.Debug().
		Int("worker_id", workerID).
		Int("processed", processed).
		Msg("Worker completed")
}
