package core

import (
	"fmt"
	"time"
)

// Coordinate is a WGS84 point. Latitude in [-90,90], longitude in [-180,180].
// It is a value type and is never mutated after construction.
type Coordinate struct {
	Lat float64
	Lon float64
}

// Valid reports whether the coordinate lies inside the WGS84 envelope.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%.5f, %.5f)", c.Lat, c.Lon)
}

// Polygon is a closed ring of coordinates describing a chip footprint.
// The pipeline treats footprints as opaque; only the storage backends
// evaluate containment against them.
type Polygon []Coordinate

// GeocodeResult is the resolved anchor point for a text query.
// Immutable once created; evicted only by cache policy.
type GeocodeResult struct {
	NormalizedQuery string
	Coordinate      Coordinate
	DisplayName     string
	FetchedAt       time.Time
}

// ChipRecord is one imagery chip as sourced read-only from the storage
// engine. Embedding dimension is fixed at corpus-build time (1024 in
// production corpora).
type ChipRecord struct {
	ID           string
	Footprint    Polygon
	Centroid     Coordinate
	Embedding    []float32
	ThumbnailRef string
}

// SimilarityResult is one ranked match. Lists of these are ordered by
// descending Score with ties broken by ascending ChipID.
type SimilarityResult struct {
	ChipID       string
	Score        float64
	Coordinate   Coordinate
	ThumbnailRef string
}
