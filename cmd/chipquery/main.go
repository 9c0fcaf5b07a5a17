package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/skylens/chipquery/internal/breaker"
	"github.com/skylens/chipquery/internal/cache"
	"github.com/skylens/chipquery/internal/core"
	"github.com/skylens/chipquery/internal/geocode"
	"github.com/skylens/chipquery/internal/limiter"
	"github.com/skylens/chipquery/internal/logging"
	"github.com/skylens/chipquery/internal/pipeline"
	"github.com/skylens/chipquery/internal/server"
	"github.com/skylens/chipquery/internal/sim"
	"github.com/skylens/chipquery/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; the environment always wins.
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if err := envconfig.Process("CHIPQUERY", &cfg); err != nil {
		return fmt.Errorf("processing environment: %w", err)
	}
	if err := ValidateConfig(&cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.NewLogger(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel})
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	source, index, cleanup, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	orchestrator := buildPipeline(cfg, source, index, logger)

	if cfg.WarmupEnabled {
		stats := orchestrator.Warmup(ctx, cfg.WarmupQueries)
		logger.Info(stats.String())
	}

	srv := server.New(orchestrator, server.Config{
		Addr:          cfg.ListenAddr,
		ThumbnailBase: cfg.ThumbnailBase,
		ReadTimeout:   cfg.HTTPReadTimeout,
		WriteTimeout:  cfg.HTTPWriteTimeout,
	}, logger)

	return srv.ListenAndServe(ctx)
}

// buildStorage opens the configured corpus backend and, when enabled,
// the accelerated nearest-neighbor index over it.
func buildStorage(ctx context.Context, cfg Config, logger *zap.Logger) (store.ChipSource, sim.NearestIndex, func(), error) {
	switch cfg.CorpusSource {
	case "snapshot":
		chips, err := store.ReadCorpusSnapshot(cfg.SnapshotPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("loading corpus snapshot: %w", err)
		}
		src := store.NewMemStore(chips)
		logger.Info("corpus snapshot loaded",
			zap.String("path", cfg.SnapshotPath),
			zap.Int("chips", src.Len()))

		var index sim.NearestIndex
		if cfg.UseHNSW {
			hidx, err := store.BuildHNSWIndex(chips)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("building hnsw index: %w", err)
			}
			index = hidx
			logger.Info("hnsw index built", zap.Int("chips", hidx.Len()))
		}
		return src, index, func() {}, nil

	default: // duckdb, enforced by ValidateConfig
		db, err := store.OpenDuckDB(ctx, store.DuckDBConfig{
			Path:         cfg.DBPath,
			Table:        cfg.DBTable,
			QueryTimeout: cfg.DBTimeout,
		}, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening duckdb: %w", err)
		}
		cleanup := func() { _ = db.Close() }

		var index sim.NearestIndex
		if cfg.UseHNSW {
			chips, err := db.AllChips(ctx)
			if err != nil {
				cleanup()
				return nil, nil, nil, fmt.Errorf("loading corpus for hnsw: %w", err)
			}
			hidx, err := store.BuildHNSWIndex(chips)
			if err != nil {
				cleanup()
				return nil, nil, nil, fmt.Errorf("building hnsw index: %w", err)
			}
			index = hidx
			logger.Info("hnsw index built", zap.Int("chips", hidx.Len()))
		} else {
			// DuckDB ranks natively with array_cosine_similarity.
			index = db
		}
		return db, index, cleanup, nil
	}
}

func buildPipeline(cfg Config, source store.ChipSource, index sim.NearestIndex, logger *zap.Logger) *pipeline.Orchestrator {
	rl := limiter.NewRateLimiter(limiter.Config{RPS: cfg.GeocodeRPS, Burst: cfg.GeocodeBurst})
	cb := breaker.NewCircuitBreaker(breaker.Settings{Name: "geocode"})

	client := geocode.NewClient(geocode.ClientConfig{
		BaseURL:    cfg.GeocodeBaseURL,
		UserAgent:  cfg.GeocodeUserAgent,
		RegionBias: cfg.GeocodeRegionBias,
		Timeout:    cfg.GeocodeTimeout,
	}, rl, cb, logger)

	geocoder := geocode.NewGeocoder(client,
		geocode.NewFallbackTable(geocode.DefaultAnchors(), 0),
		cache.New[core.GeocodeResult]("geocode", cfg.CacheCapacity, cfg.CacheTTL),
		logger)

	locator := store.NewLocator(source,
		cache.New[core.ChipRecord]("chip", cfg.CacheCapacity, cfg.CacheTTL),
		cfg.LocateTimeout, logger)

	engine := sim.NewEngine(source, index,
		cache.New[[]core.SimilarityResult]("similarity", cfg.CacheCapacity, cfg.CacheTTL),
		sim.EngineConfig{TopN: cfg.TopN, Timeout: cfg.ScoreTimeout},
		logger)

	return pipeline.New(geocoder, locator, engine, logger)
}
