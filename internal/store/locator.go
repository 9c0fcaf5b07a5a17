package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/skylens/chipquery/internal/cache"
	"github.com/skylens/chipquery/internal/core"
	"github.com/skylens/chipquery/internal/errors"
)

// Locator is the cached chip lookup in front of a ChipSource. The cache
// key is the coordinate quantized to 5 decimal degrees, so near-duplicate
// coordinates from repeated geocodes of the same place share one entry
// and one spatial query.
type Locator struct {
	source  ChipSource
	cache   *cache.QueryCache[core.ChipRecord]
	timeout time.Duration
	logger  *zap.Logger
}

// NewLocator creates a cached locator. timeout bounds each spatial query;
// <= 0 means 5s.
func NewLocator(source ChipSource, c *cache.QueryCache[core.ChipRecord], timeout time.Duration, logger *zap.Logger) *Locator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locator{source: source, cache: c, timeout: timeout, logger: logger}
}

// Locate returns the chip whose footprint contains coord. Fails with
// KindNoChipCovers when the point is outside the corpus, KindUpstream
// when the storage engine is unreachable or times out. Failures are not
// cached.
func (l *Locator) Locate(ctx context.Context, coord core.Coordinate) (core.ChipRecord, error) {
	const op = "store.Locator.Locate"

	if !coord.Valid() {
		return core.ChipRecord{}, errors.Newf(errors.KindValidation, op, "coordinate out of range: %v", coord)
	}

	return l.cache.GetOrCompute(ctx, cache.PointKey(coord), func(ctx context.Context) (core.ChipRecord, error) {
		qctx, cancel := context.WithTimeout(ctx, l.timeout)
		defer cancel()

		start := time.Now()
		chip, err := l.source.FindChipContaining(qctx, coord)
		if err != nil {
			if qctx.Err() != nil && !errors.IsKind(err, errors.KindNoChipCovers) {
				// A deadline hit is an upstream failure, never a silent miss.
				return core.ChipRecord{}, errors.WrapUpstream(err, op, "spatial query timed out")
			}
			return core.ChipRecord{}, err
		}
		l.logger.Debug("chip located",
			zap.String("chip", chip.ID),
			zap.Float64("lat", coord.Lat),
			zap.Float64("lon", coord.Lon),
			zap.Duration("elapsed", time.Since(start)))
		return chip, nil
	})
}
