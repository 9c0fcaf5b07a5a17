package limiter

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/skylens/chipquery/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	RPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"0"`   // 0 means disabled
	Burst int     `envconfig:"RATE_LIMIT_BURST" default:"0"` // 0 means ceil(RPS), min 1
}

// RateLimiter wraps a token bucket limiter for outbound upstream calls.
// The public Nominatim usage policy caps clients at 1 request per second,
// so the geocoding client routes every network call through one of these.
type RateLimiter struct {
	limiter *rate.Limiter
	enabled bool
}

// NewRateLimiter creates a new rate limiter. RPS <= 0 disables limiting.
func NewRateLimiter(cfg Config) *RateLimiter {
	if cfg.RPS <= 0 {
		return &RateLimiter{enabled: false}
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), burst),
		enabled: true,
	}
}

// Wait blocks until a token is available or the context is done. A wait
// cut short by the caller's context counts as canceled, not throttled.
func (l *RateLimiter) Wait(ctx context.Context) error {
	if !l.enabled {
		return nil
	}
	if err := l.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			metrics.RateLimitWaitsTotal.WithLabelValues("canceled").Inc()
		} else {
			metrics.RateLimitWaitsTotal.WithLabelValues("throttled").Inc()
		}
		return err
	}
	metrics.RateLimitWaitsTotal.WithLabelValues("allowed").Inc()
	return nil
}

// Allow reports whether a call may proceed right now without blocking.
func (l *RateLimiter) Allow() bool {
	if !l.enabled {
		return true
	}
	return l.limiter.Allow()
}
