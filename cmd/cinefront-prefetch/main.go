package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cinefront/cinefront/internal/api"
	"github.com/cinefront/cinefront/internal/cache"
	"github.com/cinefront/cinefront/internal/circuit"
	"github.com/cinefront/cinefront/internal/config"
	"github.com/cinefront/cinefront/internal/engine"
	"github.com/cinefront/cinefront/internal/fetch"
	"github.com/cinefront/cinefront/internal/metrics"
	"github.com/cinefront/cinefront/internal/quality"
	"github.com/cinefront/cinefront/pkg/types"
	"github.com/cinefront/cinefront/pkg/utils"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configFile := flag.String("config", "", "Path to a YAML configuration file")
	logLevel := flag.String("log-level", "", "Override the configured log level (DEBUG, INFO, WARN, ERROR)")
	bucket := flag.String("bucket", "", "Override the S3 bucket")
	linger := flag.Bool("linger", false, "Keep serving after input ends until signalled")
	flag.Parse()

	if err := run(*configFile, *logLevel, *bucket, *linger); err != nil {
		fmt.Fprintf(os.Stderr, "cinefront-prefetch: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile, logLevel, bucket string, linger bool) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Global.LogLevel = logLevel
	}
	if bucket != "" {
		cfg.Storage.Bucket = bucket
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, closer, err := utils.SetupLogging(cfg.Global.LogLevel, cfg.Global.LogFile, cfg.Global.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Monitoring.Metrics.Enabled,
		Port:      cfg.Monitoring.Metrics.Port,
		Path:      cfg.Monitoring.Metrics.Path,
		Labels:    cfg.Monitoring.Metrics.CustomLabels,
		Namespace: cfg.Monitoring.Metrics.Namespace,
		Subsystem: "buffer",
	}, logger)
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}

	fetcherConfig, err := fetchConfig(&cfg.Storage)
	if err != nil {
		return err
	}
	s3Fetcher, err := fetch.NewS3Fetcher(ctx, fetcherConfig, logger)
	if err != nil {
		return err
	}
	var fetcher types.Fetcher = s3Fetcher
	if b := cfg.Prefetch.Breaker; b.Enabled {
		fetcher = circuit.NewFetcher(s3Fetcher, circuit.Config{
			FailureThreshold: b.FailureThreshold,
			Timeout:          b.Timeout,
		}, logger)
	}

	eng, err := engine.New(&engine.Options{
		Config:  cfg.Buffer,
		Fetcher: fetcher,
		Logger:  logger,
		Metrics: collector,
		Prefetch: cache.PrefetcherConfig{
			FetchTimeout: cfg.Prefetch.FetchTimeout,
			RateLimit:    cfg.Prefetch.RateLimit,
			RateBurst:    cfg.Prefetch.RateBurst,
		},
		MaxCandidates: cfg.Prefetch.MaxCandidates,
		Acceleration:  &quality.AcceleratedConfig{ModulePath: cfg.Acceleration.ModulePath},
	})
	if err != nil {
		return err
	}
	eng.Start(ctx)

	var server *api.Server
	if cfg.API.Enabled {
		apiConfig := api.DefaultServerConfig()
		apiConfig.Address = cfg.API.Address
		server = api.NewServer(apiConfig, eng, logger)
		if err := server.Start(ctx); err != nil {
			return err
		}
	}

	logger.Info("Prefetch service started",
		"bucket", cfg.Storage.Bucket,
		"buffer_size", cfg.Buffer.BufferSize,
		"max_concurrent_requests", cfg.Buffer.MaxConcurrentRequests,
		"metrics_addr", collector.Addr())

	if configFile != "" {
		watcher, err := config.NewWatcher(configFile, func(c *config.Configuration) {
			if err := eng.SetConfig(c.BufferUpdate()); err != nil {
				logger.Warn("Reloaded buffer config rejected", "error", err)
			}
		}, logger)
		if err != nil {
			logger.Warn("Config hot reload disabled", "error", err)
		} else {
			go func() { _ = watcher.Run(ctx) }()
		}
	}

	inputDone := make(chan error, 1)
	go func() { inputDone <- consume(ctx, os.Stdin, eng, logger) }()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-inputDone:
		if err != nil {
			logger.Error("Reading interaction contexts failed", "error", err)
		}
		if linger {
			<-ctx.Done()
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if ctx.Err() == nil {
		// input ended normally; let queued prefetches finish
		if err := eng.Wait(shutdownCtx); err != nil {
			logger.Warn("Prefetch queue did not drain", "error", err)
		}
	}
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("API server shutdown failed", "error", err)
		}
	}
	if err := eng.Close(shutdownCtx); err != nil {
		logger.Warn("Engine shutdown incomplete", "error", err)
	}
	if err := collector.Stop(shutdownCtx); err != nil {
		logger.Warn("Metrics server shutdown failed", "error", err)
	}

	stats := eng.Stats()
	logger.Info("Prefetch service stopped",
		"items", stats.Cache.Items,
		"hit_rate", stats.Cache.HitRate,
		"completed", stats.Prefetch.Completed,
		"failed", stats.Prefetch.Failed,
		"fetched", utils.FormatBytes(stats.Prefetch.BytesFetched))
	return nil
}

// consume reads one JSON interaction context per line and runs a prediction
// cycle for each. Malformed lines are logged and skipped.
func consume(ctx context.Context, r io.Reader, eng *engine.Engine, logger *slog.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line++

		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ic types.InteractionContext
		if err := json.Unmarshal(raw, &ic); err != nil {
			logger.Warn("Skipping malformed interaction context", "line", line, "error", err)
			continue
		}

		scheduled := eng.RunPredictionCycle(ctx, &ic)
		logger.Debug("Interaction processed",
			"line", line,
			"current", ic.CurrentContentID,
			"scheduled", len(scheduled))
	}
	return scanner.Err()
}

func fetchConfig(storage *config.StorageConfig) (*fetch.Config, error) {
	maxSize := int64(0)
	if storage.MaxObjectSize != "" {
		n, err := utils.ParseBytes(storage.MaxObjectSize)
		if err != nil {
			return nil, fmt.Errorf("invalid storage max_object_size: %w", err)
		}
		maxSize = n
	}

	prefixes := make(map[types.ItemKind]string, len(storage.Prefixes))
	for name, prefix := range storage.Prefixes {
		kind, err := types.ParseItemKind(name)
		if err != nil {
			return nil, err
		}
		prefixes[kind] = prefix
	}

	return &fetch.Config{
		Bucket:         storage.Bucket,
		Region:         storage.Region,
		Endpoint:       storage.Endpoint,
		ForcePathStyle: storage.ForcePathStyle,
		AccessKeyID:    storage.AccessKeyID,
		SecretKey:      storage.SecretKey,
		Prefixes:       prefixes,
		MaxObjectSize:  maxSize,
	}, nil
}
