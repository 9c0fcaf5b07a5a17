package main

import (
	"errors"
	"time"
)

// Config validation errors
var (
	ErrInvalidListenAddr    = errors.New("listen_addr cannot be empty")
	ErrInvalidMetricsAddr   = errors.New("metrics_addr cannot be empty")
	ErrInvalidLogFormat     = errors.New("log_format must be 'json' or 'console'")
	ErrInvalidLogLevel      = errors.New("log_level must be debug, info, warn, or error")
	ErrInvalidCorpusSource  = errors.New("corpus_source must be 'duckdb' or 'snapshot'")
	ErrMissingDBPath        = errors.New("db_path cannot be empty when corpus_source is duckdb")
	ErrMissingSnapshotPath  = errors.New("snapshot_path cannot be empty when corpus_source is snapshot")
	ErrInvalidCacheCapacity = errors.New("cache_capacity must be positive")
	ErrInvalidCacheTTL      = errors.New("cache_ttl must be positive")
	ErrInvalidTopN          = errors.New("top_n must be positive")
	ErrInvalidGeocodeRPS    = errors.New("geocode_rps must be positive")
)

// Config is the full runtime configuration, populated from the
// environment under the CHIPQUERY prefix with an optional .env file.
type Config struct {
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:"0.0.0.0:8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:"0.0.0.0:9090"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	// CorpusSource selects the storage backend: "duckdb" queries the
	// embeddings database directly, "snapshot" loads a parquet corpus
	// snapshot into memory.
	CorpusSource string        `envconfig:"CORPUS_SOURCE" default:"duckdb"`
	DBPath       string        `envconfig:"DB_PATH" default:"./data/chips.duckdb"`
	DBTable      string        `envconfig:"DB_TABLE" default:"embeddings"`
	DBTimeout    time.Duration `envconfig:"DB_TIMEOUT" default:"5s"`
	SnapshotPath string        `envconfig:"SNAPSHOT_PATH"`

	// UseHNSW builds an in-process approximate index over the corpus at
	// startup and serves similarity queries from it.
	UseHNSW bool `envconfig:"USE_HNSW" default:"false"`

	GeocodeBaseURL    string        `envconfig:"GEOCODE_BASE_URL" default:"https://nominatim.openstreetmap.org/search"`
	GeocodeUserAgent  string        `envconfig:"GEOCODE_USER_AGENT" default:"chipquery/1.0"`
	GeocodeRegionBias string        `envconfig:"GEOCODE_REGION_BIAS" default:"San Francisco, California, USA"`
	GeocodeTimeout    time.Duration `envconfig:"GEOCODE_TIMEOUT" default:"10s"`
	GeocodeRPS        float64       `envconfig:"GEOCODE_RPS" default:"1"`
	GeocodeBurst      int           `envconfig:"GEOCODE_BURST" default:"1"`

	CacheCapacity int           `envconfig:"CACHE_CAPACITY" default:"1024"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"15m"`

	TopN          int           `envconfig:"TOP_N" default:"12"`
	ScoreTimeout  time.Duration `envconfig:"SCORE_TIMEOUT" default:"10s"`
	LocateTimeout time.Duration `envconfig:"LOCATE_TIMEOUT" default:"5s"`

	ThumbnailBase string `envconfig:"THUMBNAIL_BASE"`

	WarmupEnabled bool     `envconfig:"WARMUP_ENABLED" default:"true"`
	WarmupQueries []string `envconfig:"WARMUP_QUERIES"`

	HTTPReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	HTTPWriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
}

// DefaultConfig returns a Config with default values
func DefaultConfig() Config {
	return Config{
		ListenAddr:        "0.0.0.0:8080",
		MetricsAddr:       "0.0.0.0:9090",
		LogFormat:         "json",
		LogLevel:          "info",
		CorpusSource:      "duckdb",
		DBPath:            "./data/chips.duckdb",
		DBTable:           "embeddings",
		DBTimeout:         5 * time.Second,
		GeocodeBaseURL:    "https://nominatim.openstreetmap.org/search",
		GeocodeUserAgent:  "chipquery/1.0",
		GeocodeRegionBias: "San Francisco, California, USA",
		GeocodeTimeout:    10 * time.Second,
		GeocodeRPS:        1,
		GeocodeBurst:      1,
		CacheCapacity:     1024,
		CacheTTL:          15 * time.Minute,
		TopN:              12,
		ScoreTimeout:      10 * time.Second,
		LocateTimeout:     5 * time.Second,
		WarmupEnabled:     true,
		HTTPReadTimeout:   10 * time.Second,
		HTTPWriteTimeout:  30 * time.Second,
	}
}

// ValidateConfig validates the configuration and returns an error if invalid
func ValidateConfig(cfg *Config) error {
	if cfg.ListenAddr == "" {
		return ErrInvalidListenAddr
	}
	if cfg.MetricsAddr == "" {
		return ErrInvalidMetricsAddr
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return ErrInvalidLogFormat
	}
	if cfg.LogLevel != "debug" && cfg.LogLevel != "info" && cfg.LogLevel != "warn" && cfg.LogLevel != "error" {
		return ErrInvalidLogLevel
	}
	switch cfg.CorpusSource {
	case "duckdb":
		if cfg.DBPath == "" {
			return ErrMissingDBPath
		}
	case "snapshot":
		if cfg.SnapshotPath == "" {
			return ErrMissingSnapshotPath
		}
	default:
		return ErrInvalidCorpusSource
	}
	if cfg.CacheCapacity <= 0 {
		return ErrInvalidCacheCapacity
	}
	if cfg.CacheTTL <= 0 {
		return ErrInvalidCacheTTL
	}
	if cfg.TopN <= 0 {
		return ErrInvalidTopN
	}
	if cfg.GeocodeRPS <= 0 {
		return ErrInvalidGeocodeRPS
	}
	return nil
}
