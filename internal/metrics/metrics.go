package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueryCacheOpsTotal counts cache lookups by cache name and outcome (hit, miss).
	QueryCacheOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chipquery_cache_ops_total",
			Help: "Total cache lookups by cache and outcome",
		},
		[]string{"cache", "outcome"},
	)

	// QueryCacheEvictionsTotal counts LRU capacity evictions per cache.
	QueryCacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chipquery_cache_evictions_total",
			Help: "Total LRU evictions by cache",
		},
		[]string{"cache"},
	)

	// QueryCacheSize tracks the number of resident entries per cache.
	QueryCacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chipquery_cache_size",
			Help: "Number of entries currently held by cache",
		},
		[]string{"cache"},
	)

	// GeocodeRequestsTotal counts upstream geocode calls by outcome
	// (ok, not_found, upstream_error, fallback).
	GeocodeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chipquery_geocode_requests_total",
			Help: "Total geocode resolutions by outcome",
		},
		[]string{"outcome"},
	)

	// GeocodeDurationSeconds measures upstream geocode latency.
	GeocodeDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chipquery_geocode_duration_seconds",
			Help:    "Duration of upstream geocode calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	// StorageQueriesTotal counts storage engine queries by query type and status.
	StorageQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chipquery_storage_queries_total",
			Help: "Total storage engine queries by type and status",
		},
		[]string{"query", "status"},
	)

	// StorageQueryDurationSeconds measures storage engine query latency.
	StorageQueryDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chipquery_storage_query_duration_seconds",
			Help:    "Duration of storage engine queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	// PipelineStageDurationSeconds measures orchestrator stage latency.
	PipelineStageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chipquery_pipeline_stage_duration_seconds",
			Help:    "Duration of query pipeline stages",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// PipelineRequestsTotal counts pipeline runs by terminal state
	// (done, or the failure kind).
	PipelineRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chipquery_pipeline_requests_total",
			Help: "Total pipeline runs by terminal state",
		},
		[]string{"state"},
	)

	// WarmupQueriesTotal counts warmup queries by status (ok, failed).
	WarmupQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chipquery_warmup_queries_total",
			Help: "Total warmup queries by status",
		},
		[]string{"status"},
	)

	// RateLimitWaitsTotal counts outbound rate limiter outcomes
	// (allowed, throttled, canceled).
	RateLimitWaitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chipquery_rate_limit_waits_total",
			Help: "Total outbound rate limiter outcomes",
		},
		[]string{"outcome"},
	)

	// BreakerStateChangesTotal counts circuit breaker transitions by target state.
	BreakerStateChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chipquery_breaker_state_changes_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"name", "state"},
	)

	// HTTPRequestsTotal counts served API requests by route and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chipquery_http_requests_total",
			Help: "Total HTTP API requests by route and status",
		},
		[]string{"route", "status"},
	)

	// LogEntriesTotal counts log entries by level.
	LogEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chipquery_log_entries_total",
			Help: "Total number of log entries by level",
		},
		[]string{"level"},
	)

	// LogErrorsTotal counts error-level log entries specifically.
	LogErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chipquery_log_errors_total",
			Help: "Total number of error log entries",
		},
	)
)
