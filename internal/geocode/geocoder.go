package geocode

import (
	"context"

	"go.uber.org/zap"

	"github.com/skylens/chipquery/internal/cache"
	"github.com/skylens/chipquery/internal/core"
	"github.com/skylens/chipquery/internal/errors"
	"github.com/skylens/chipquery/internal/metrics"
)

// Geocoder is the cached adapter in front of a Provider. The cache key is
// the normalized query text, so "Marina " and "marina" hit the same
// entry, and the singleflight contract of the cache guarantees at most
// one upstream call per normalized query under concurrent load. Failures
// cache nothing: a later retry is never blocked by a stale negative.
type Geocoder struct {
	provider  Provider
	fallbacks *FallbackTable
	cache     *cache.QueryCache[core.GeocodeResult]
	logger    *zap.Logger
}

// NewGeocoder creates a cached geocoder adapter. fallbacks may be nil.
func NewGeocoder(provider Provider, fallbacks *FallbackTable, c *cache.QueryCache[core.GeocodeResult], logger *zap.Logger) *Geocoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Geocoder{
		provider:  provider,
		fallbacks: fallbacks,
		cache:     c,
		logger:    logger,
	}
}

// Resolve maps free text to an anchor point. Fails with KindNotFound when
// the provider has zero matches, KindUpstream when it is unreachable.
func (g *Geocoder) Resolve(ctx context.Context, text string) (core.GeocodeResult, error) {
	const op = "geocode.Geocoder.Resolve"

	key := cache.TextKey(text)
	if key == "" {
		return core.GeocodeResult{}, errors.NewValidation(op, "empty query")
	}

	return g.cache.GetOrCompute(ctx, key, func(ctx context.Context) (core.GeocodeResult, error) {
		if res, ok := g.fallbacks.Lookup(key); ok {
			metrics.GeocodeRequestsTotal.WithLabelValues("fallback").Inc()
			g.logger.Debug("fallback anchor hit",
				zap.String("query", key),
				zap.String("anchor", res.DisplayName))
			return res, nil
		}

		res, err := g.provider.Geocode(ctx, key)
		if err != nil {
			return core.GeocodeResult{}, err
		}
		res.NormalizedQuery = key
		return res, nil
	})
}
