package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/chentyke/chargebaby-sub000/internal/catalog"
	"github.com/chentyke/chargebaby-sub000/internal/config"
	"github.com/chentyke/chargebaby-sub000/internal/httpx"
	"github.com/chentyke/chargebaby-sub000/internal/imagecache"
	"github.com/chentyke/chargebaby-sub000/internal/lock"
	"github.com/chentyke/chargebaby-sub000/internal/logging"
	"github.com/chentyke/chargebaby-sub000/internal/metrics"
	"github.com/chentyke/chargebaby-sub000/internal/notion"
	"github.com/chentyke/chargebaby-sub000/internal/origin"
	"github.com/chentyke/chargebaby-sub000/internal/ttlcache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config failed")
	}

	logger, err := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal().Err(err).Msg("logging setup failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var cache *ttlcache.Cache[any]
	m := metrics.New(reg, func() int { return cache.Stats().Size })
	cache = ttlcache.New[any](
		ttlcache.WithLogger(logger.With().Str("component", "ttlcache").Logger()),
		ttlcache.WithMetrics(m),
	)

	client := notion.NewClient(cfg.NotionBaseURL, cfg.NotionToken,
		notion.WithVersion(cfg.NotionVersion),
		notion.WithMaxRetries(cfg.FetchRetries),
		notion.WithTimeout(cfg.FetchTimeout),
		notion.WithLogger(logger.With().Str("component", "notion").Logger()),
		notion.WithObserver(m),
	)

	collOpts := []catalog.Option{
		catalog.WithListTTL(cfg.ListTTL),
		catalog.WithDetailTTL(cfg.DetailTTL),
		catalog.WithLogger(logger),
	}
	handles := []catalog.Handle{catalog.New(catalog.ChargeBabies(cfg.ChargeBabyDatabaseID), client, cache, collOpts...)}
	if cfg.ChargerDatabaseID != "" {
		handles = append(handles, catalog.New(catalog.Chargers(cfg.ChargerDatabaseID), client, cache, collOpts...))
	}
	if cfg.CableDatabaseID != "" {
		handles = append(handles, catalog.New(catalog.Cables(cfg.CableDatabaseID), client, cache, collOpts...))
	}
	registry := catalog.NewRegistry(handles...)

	router := origin.NewRouter().Handle(origin.NewHTTPFetcher(cfg.ImageFetchTimeout), "http", "https")
	if cfg.S3Enabled() {
		s3Client, err := origin.NewS3Client(ctx, origin.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("s3 client init failed")
		}
		router.Handle(origin.NewS3Fetcher(s3Client), "s3")
	}

	gate := lock.NewGate(nil, cfg.LockTTL)
	if cfg.RedisEnabled() {
		redisClient := lock.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer redisClient.Close()
		gate = lock.NewGate(redisClient, cfg.LockTTL)
	}

	var ready atomic.Bool
	server := httpx.New(httpx.Deps{
		Registry: registry,
		Images: imagecache.New(cache,
			imagecache.WithTTL(cfg.ImageTTL),
			imagecache.WithUpstreamHosts(cfg.ImageUpstreamHosts),
		),
		Origin:     router,
		Stats:      cache.Stats,
		Gate:       gate,
		PurgeToken: cfg.PurgeToken,
		Metrics:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Recorder:   m,
		Ready:      ready.Load,
		Logger:     logger,
	})

	go func() {
		for _, h := range registry.All() {
			n := h.Warm(ctx)
			logger.Info().Str("collection", h.Name()).Int("items", n).Msg("collection warmed")
		}
		ready.Store(true)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown failed")
	}
	cache.Close()
	logger.Info().Msg("stopped")
}
