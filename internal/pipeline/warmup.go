package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/skylens/chipquery/internal/metrics"
)

// DefaultWarmupQueries are the place types most users reach for first.
// Running them at startup fills all three cache layers before traffic
// arrives.
var DefaultWarmupQueries = []string{
	"airport",
	"marina",
	"parking lot",
	"downtown",
	"bridge",
}

// WarmupStats summarizes one warmup pass.
type WarmupStats struct {
	Attempted int
	Succeeded int
	Failed    int
	Elapsed   time.Duration
}

func (s WarmupStats) String() string {
	return fmt.Sprintf("warmup: %d/%d queries succeeded in %s", s.Succeeded, s.Attempted, s.Elapsed)
}

// Warmup runs the queries through the full pipeline sequentially,
// respecting the geocoder's rate limit. Individual failures are logged
// and counted but never abort the pass; a cold cache is a latency
// problem, not an availability one. Re-running is harmless since every
// stage is cache-backed.
func (o *Orchestrator) Warmup(ctx context.Context, queries []string) WarmupStats {
	if len(queries) == 0 {
		queries = DefaultWarmupQueries
	}

	start := time.Now()
	stats := WarmupStats{Attempted: len(queries)}
	for _, q := range queries {
		if ctx.Err() != nil {
			o.logger.Warn("warmup interrupted", zap.Int("remaining", stats.Attempted-stats.Succeeded-stats.Failed))
			break
		}
		if _, err := o.ResolveByText(ctx, q); err != nil {
			stats.Failed++
			metrics.WarmupQueriesTotal.WithLabelValues("failed").Inc()
			o.logger.Warn("warmup query failed", zap.String("query", q), zap.Error(err))
			continue
		}
		stats.Succeeded++
		metrics.WarmupQueriesTotal.WithLabelValues("ok").Inc()
	}
	stats.Elapsed = time.Since(start)
	o.logger.Info("warmup complete",
		zap.Int("attempted", stats.Attempted),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed),
		zap.Duration("elapsed", stats.Elapsed))
	return stats
}
