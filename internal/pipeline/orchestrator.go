// Package pipeline chains geocoding, chip location, and similarity
// scoring into the two query entry points, text and point. Each stage
// short-circuits on failure with its error kind intact; a failed stage
// never produces a partial result payload.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/skylens/chipquery/internal/core"
	"github.com/skylens/chipquery/internal/errors"
	"github.com/skylens/chipquery/internal/geocode"
	"github.com/skylens/chipquery/internal/metrics"
	"github.com/skylens/chipquery/internal/sim"
	"github.com/skylens/chipquery/internal/store"
)

// Result is the full outcome of one similarity query.
type Result struct {
	SeedCoordinate core.Coordinate
	SeedChip       core.ChipRecord
	Matches        []core.SimilarityResult
}

// Orchestrator wires the three stages together. Each stage owns its
// cache, so the orchestrator itself is stateless.
type Orchestrator struct {
	geocoder *geocode.Geocoder
	locator  *store.Locator
	engine   *sim.Engine
	logger   *zap.Logger
}

func New(geocoder *geocode.Geocoder, locator *store.Locator, engine *sim.Engine, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{geocoder: geocoder, locator: locator, engine: engine, logger: logger}
}

// ResolveByText runs the full chain for a free-text place query:
// geocode, locate the covering chip, rank similar chips.
func (o *Orchestrator) ResolveByText(ctx context.Context, query string) (Result, error) {
	start := time.Now()

	geo, err := o.stageGeocode(ctx, query)
	if err != nil {
		return o.finish(start, query, Result{}, err)
	}
	res, err := o.resolvePoint(ctx, geo.Coordinate)
	return o.finish(start, query, res, err)
}

// ResolveByPoint skips geocoding and runs the chain from an explicit
// coordinate.
func (o *Orchestrator) ResolveByPoint(ctx context.Context, coord core.Coordinate) (Result, error) {
	start := time.Now()

	if !coord.Valid() {
		err := errors.Newf(errors.KindValidation, "pipeline.ResolveByPoint", "coordinate out of range: %v", coord)
		return o.finish(start, coord.String(), Result{}, err)
	}
	res, err := o.resolvePoint(ctx, coord)
	return o.finish(start, coord.String(), res, err)
}

func (o *Orchestrator) resolvePoint(ctx context.Context, coord core.Coordinate) (Result, error) {
	chip, err := o.stageLocate(ctx, coord)
	if err != nil {
		return Result{}, err
	}
	matches, err := o.stageScore(ctx, chip)
	if err != nil {
		return Result{}, err
	}
	return Result{SeedCoordinate: coord, SeedChip: chip, Matches: matches}, nil
}

func (o *Orchestrator) stageGeocode(ctx context.Context, query string) (core.GeocodeResult, error) {
	start := time.Now()
	geo, err := o.geocoder.Resolve(ctx, query)
	metrics.PipelineStageDurationSeconds.WithLabelValues("geocoding").Observe(time.Since(start).Seconds())
	return geo, err
}

func (o *Orchestrator) stageLocate(ctx context.Context, coord core.Coordinate) (core.ChipRecord, error) {
	start := time.Now()
	chip, err := o.locator.Locate(ctx, coord)
	metrics.PipelineStageDurationSeconds.WithLabelValues("locating").Observe(time.Since(start).Seconds())
	return chip, err
}

func (o *Orchestrator) stageScore(ctx context.Context, seed core.ChipRecord) ([]core.SimilarityResult, error) {
	return o.engine.SimilarChips(ctx, seed)
}

func (o *Orchestrator) finish(start time.Time, query string, res Result, err error) (Result, error) {
	elapsed := time.Since(start)
	if err != nil {
		metrics.PipelineRequestsTotal.WithLabelValues(string(errors.KindOf(err))).Inc()
		o.logger.Warn("query failed",
			zap.String("query", query),
			zap.String("kind", string(errors.KindOf(err))),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return Result{}, err
	}
	metrics.PipelineRequestsTotal.WithLabelValues("ok").Inc()
	o.logger.Info("query resolved",
		zap.String("query", query),
		zap.String("seed_chip", res.SeedChip.ID),
		zap.Int("matches", len(res.Matches)),
		zap.Duration("elapsed", elapsed))
	return res, nil
}
