package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tilecacher/tilecacher/tilecache"
	"go.uber.org/zap"
)

func main() {
	var cfg tilecache.Config
	kong.Parse(&cfg,
		kong.Name("tilecacher"),
		kong.Description("Caching reverse proxy for raster map tiles."))

	logger, err := buildLogger(cfg.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("exiting", zap.Error(err))
	}
}

func buildLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg tilecache.Config, logger *zap.Logger) error {
	logger.Info("starting tile caching proxy",
		zap.String("bind_addr", cfg.BindAddr),
		zap.String("cache_dir", cfg.CacheDir),
		zap.Int64("memory_cache_size", cfg.MemoryCacheSize),
		zap.Strings("upstream_hosts", cfg.UpstreamHosts))

	memory, err := tilecache.NewMemoryCache(cfg.MemoryCacheSize)
	if err != nil {
		return fmt.Errorf("building memory cache: %w", err)
	}
	defer memory.Close()

	disk, err := tilecache.NewDiskCache(cfg.CacheDir, logger)
	if err != nil {
		return fmt.Errorf("building disk cache: %w", err)
	}

	fetcher, err := tilecache.NewUpstreamFetcher(tilecache.FetcherConfig{
		Hosts:          cfg.UpstreamHosts,
		UserAgent:      cfg.UserAgent,
		RequestTimeout: cfg.UpstreamTimeout,
	})
	if err != nil {
		return fmt.Errorf("building upstream fetcher: %w", err)
	}

	pipeline := tilecache.NewPipeline(tilecache.PipelineConfig{
		Memory:    memory,
		Disk:      disk,
		Coalescer: tilecache.NewRequestCoalescer(),
		Fetcher:   fetcher,
		Logger:    logger,
	})

	server := tilecache.NewServer(pipeline, cfg.CacheMaxAge, logger)

	stop := reportCacheGauges(pipeline, cfg.MemoryCacheSize)
	defer close(stop)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", server.Handler(cfg.CORSOrigin))

	logger.Info("listening", zap.String("addr", cfg.BindAddr))
	return http.ListenAndServe(cfg.BindAddr, mux)
}

// reportCacheGauges periodically pushes cache-weight and in-flight counts
// to Prometheus. No request path sets those gauges, so this loop is what
// keeps them current.
func reportCacheGauges(pipeline *tilecache.Pipeline, limit int64) chan struct{} {
	stop := make(chan struct{})
	ticker := time.NewTicker(10 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				pipeline.UpdateCacheGauges(limit)
			case <-stop:
				return
			}
		}
	}()
	return stop
}
