package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/geocache-proxy/pkg/cache"
	"github.com/Sternrassler/geocache-proxy/pkg/classify"
	"github.com/Sternrassler/geocache-proxy/pkg/config"
	"github.com/Sternrassler/geocache-proxy/pkg/logging"
	"github.com/Sternrassler/geocache-proxy/pkg/metrics"
	"github.com/Sternrassler/geocache-proxy/pkg/migrate"
	"github.com/Sternrassler/geocache-proxy/pkg/origin"
	"github.com/Sternrassler/geocache-proxy/pkg/proxy"
	"github.com/Sternrassler/geocache-proxy/pkg/tracing"
	"github.com/Sternrassler/geocache-proxy/pkg/usage"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func serveCmd() *cobra.Command {
	var (
		configPath string
		listenAddr string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the caching proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.Server.Addr = listenAddr
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}

			level, err := logging.ParseLevel(cfg.Log.Level)
			if err != nil {
				return err
			}
			logCfg := logging.DefaultConfig()
			logCfg.Level = level
			logCfg.Pretty = cfg.Log.Pretty
			logging.Setup(logCfg)

			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config file")
	cmd.Flags().StringVar(&listenAddr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (overrides log.level)")

	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	shutdownTracing, err := tracing.Setup(cfg.Tracing, logging.DefaultConfig().Service, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to flush traces")
		}
	}()

	redisClient := newRedisClient(cfg.Redis)
	defer redisClient.Close()

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Redis.Timeout)
	err = redisClient.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		// The proxy degrades to pass-through while Redis is down
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis not reachable at startup")
	} else {
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	}

	server, err := buildServer(cfg, redisClient)
	if err != nil {
		return err
	}
	if err := metrics.RegisterBuildInfo(version, cfg.Cache.Namespace); err != nil {
		return fmt.Errorf("register build info: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Server.Addr).
			Str("namespace", cfg.Cache.Namespace).
			Str("upstream", cfg.Upstream.BaseURL).
			Str("version", version).
			Bool("api_key_configured", cfg.Upstream.APIKey != "").
			Msg("Geocache proxy started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
}

// buildServer wires the pipeline components from cfg.
func buildServer(cfg *config.Config, redisClient *redis.Client) (*proxy.Server, error) {
	manager := cache.NewManager(redisClient, cache.Config{
		Namespace:  cfg.Cache.Namespace,
		DefaultTTL: cfg.Cache.DefaultTTL,
		CounterTTL: cfg.Cache.CounterTTL,
		Timeout:    cfg.Redis.Timeout,
	})

	originCfg := origin.DefaultConfig(cfg.Upstream.APIKey)
	originCfg.BaseURL = cfg.Upstream.BaseURL
	originCfg.Timeout = cfg.Upstream.Timeout
	originClient, err := origin.New(originCfg)
	if err != nil {
		return nil, fmt.Errorf("create origin client: %w", err)
	}

	opts := proxy.Options{
		Cache:                manager,
		Origin:               originClient,
		Usage:                usage.NewCollector(manager),
		Store:                manager,
		Namespace:            cfg.Cache.Namespace,
		TTLs:                 classify.TTLs{Default: cfg.Cache.DefaultTTL, Short: cfg.Cache.ShortTTL},
		Debug:                cfg.Debug,
		SingleFlight:         cfg.Cache.SingleFlight,
		MetricsHTMLForMobile: cfg.Server.MetricsHTMLForMobile,
	}
	if cfg.Cache.MigrateLegacy {
		opts.Migrator = migrate.New(manager, cfg.Cache.Namespace)
	}

	return proxy.New(opts)
}
