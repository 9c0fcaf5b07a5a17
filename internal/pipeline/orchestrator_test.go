package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylens/chipquery/internal/cache"
	"github.com/skylens/chipquery/internal/core"
	"github.com/skylens/chipquery/internal/errors"
	"github.com/skylens/chipquery/internal/geocode"
	"github.com/skylens/chipquery/internal/sim"
	"github.com/skylens/chipquery/internal/store"
)

// stubProvider resolves queries from a fixed table and counts calls.
type stubProvider struct {
	coords map[string]core.Coordinate
	calls  int
}

func (s *stubProvider) Geocode(ctx context.Context, query string) (core.GeocodeResult, error) {
	s.calls++
	coord, ok := s.coords[query]
	if !ok {
		return core.GeocodeResult{}, errors.Newf(errors.KindNotFound, "stub", "no match for %q", query)
	}
	return core.GeocodeResult{NormalizedQuery: query, Coordinate: coord, DisplayName: query}, nil
}

func chipAt(id string, lon, lat float64, vec ...float32) core.ChipRecord {
	return core.ChipRecord{
		ID: id,
		Footprint: core.Polygon{
			{Lon: lon - 0.1, Lat: lat - 0.1},
			{Lon: lon + 0.1, Lat: lat - 0.1},
			{Lon: lon + 0.1, Lat: lat + 0.1},
			{Lon: lon - 0.1, Lat: lat + 0.1},
		},
		Centroid:     core.Coordinate{Lon: lon, Lat: lat},
		Embedding:    vec,
		ThumbnailRef: store.ThumbnailRefFor(id),
	}
}

func newTestPipeline(t *testing.T, provider geocode.Provider) *Orchestrator {
	t.Helper()

	src := store.NewMemStore([]core.ChipRecord{
		chipAt("C1", -122.40, 37.78, 1, 0, 0),
		chipAt("C2", -122.27, 37.80, 0.9, 0.1, 0),
		chipAt("C3", -121.90, 37.33, 0, 1, 0),
	})
	geocoder := geocode.NewGeocoder(provider, nil,
		cache.New[core.GeocodeResult]("pl_geo", 16, time.Minute), nil)
	locator := store.NewLocator(src,
		cache.New[core.ChipRecord]("pl_loc", 16, time.Minute), 0, nil)
	engine := sim.NewEngine(src, nil,
		cache.New[[]core.SimilarityResult]("pl_sim", 16, time.Minute), sim.EngineConfig{}, nil)
	return New(geocoder, locator, engine, nil)
}

func TestResolveByTextFullChain(t *testing.T) {
	provider := &stubProvider{coords: map[string]core.Coordinate{
		"downtown": {Lon: -122.40, Lat: 37.78},
	}}
	p := newTestPipeline(t, provider)

	res, err := p.ResolveByText(context.Background(), "Downtown  ")
	require.NoError(t, err)

	assert.Equal(t, "C1", res.SeedChip.ID)
	assert.Equal(t, core.Coordinate{Lon: -122.40, Lat: 37.78}, res.SeedCoordinate)
	require.Len(t, res.Matches, 2)
	assert.Equal(t, "C2", res.Matches[0].ChipID)
	assert.Equal(t, "C3", res.Matches[1].ChipID)
	for _, m := range res.Matches {
		assert.NotEqual(t, "C1", m.ChipID)
	}
}

func TestResolveByTextNotFoundShortCircuits(t *testing.T) {
	provider := &stubProvider{coords: map[string]core.Coordinate{}}
	p := newTestPipeline(t, provider)

	res, err := p.ResolveByText(context.Background(), "atlantis")
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
	assert.Equal(t, Result{}, res)
}

func TestResolveByPointNoChipCovers(t *testing.T) {
	p := newTestPipeline(t, &stubProvider{})

	res, err := p.ResolveByPoint(context.Background(), core.Coordinate{Lon: 0, Lat: 0})
	require.Error(t, err)
	assert.Equal(t, errors.KindNoChipCovers, errors.KindOf(err))
	assert.Equal(t, Result{}, res)
}

func TestResolveByPointInvalidCoordinate(t *testing.T) {
	p := newTestPipeline(t, &stubProvider{})

	_, err := p.ResolveByPoint(context.Background(), core.Coordinate{Lon: -200, Lat: 0})
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

func TestResolveByPointSkipsGeocoder(t *testing.T) {
	provider := &stubProvider{coords: map[string]core.Coordinate{}}
	p := newTestPipeline(t, provider)

	res, err := p.ResolveByPoint(context.Background(), core.Coordinate{Lon: -122.27, Lat: 37.80})
	require.NoError(t, err)
	assert.Equal(t, "C2", res.SeedChip.ID)
	assert.Zero(t, provider.calls)
}

func TestWarmupIdempotent(t *testing.T) {
	provider := &stubProvider{coords: map[string]core.Coordinate{
		"downtown": {Lon: -122.40, Lat: 37.78},
		"marina":   {Lon: -122.27, Lat: 37.80},
	}}
	p := newTestPipeline(t, provider)
	queries := []string{"downtown", "marina"}

	first := p.Warmup(context.Background(), queries)
	assert.Equal(t, 2, first.Attempted)
	assert.Equal(t, 2, first.Succeeded)
	assert.Equal(t, 0, first.Failed)

	second := p.Warmup(context.Background(), queries)
	assert.Equal(t, 2, second.Succeeded)

	// The second pass is served entirely from cache.
	assert.Equal(t, 2, provider.calls)
}

func TestWarmupContinuesPastFailures(t *testing.T) {
	provider := &stubProvider{coords: map[string]core.Coordinate{
		"marina": {Lon: -122.27, Lat: 37.80},
	}}
	p := newTestPipeline(t, provider)

	stats := p.Warmup(context.Background(), []string{"atlantis", "marina"})
	assert.Equal(t, 2, stats.Attempted)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 1, stats.Failed)
}

func TestWarmupDefaultQueries(t *testing.T) {
	provider := &stubProvider{coords: map[string]core.Coordinate{}}
	p := newTestPipeline(t, provider)

	stats := p.Warmup(context.Background(), nil)
	assert.Equal(t, len(DefaultWarmupQueries), stats.Attempted)
	assert.Equal(t, len(DefaultWarmupQueries), stats.Failed)
}
