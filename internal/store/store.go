// Package store provides the storage engine behind the query pipeline:
// point-in-polygon chip lookup and corpus access, with DuckDB and
// in-memory backends plus an optional HNSW accelerated index.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/skylens/chipquery/internal/core"
	"github.com/skylens/chipquery/internal/errors"
)

// ChipSource is the read-only corpus contract consumed by the pipeline.
// Implementations never mutate chip records.
type ChipSource interface {
	// FindChipContaining returns the chip whose footprint contains the
	// point. Fails with KindNoChipCovers when the point is outside every
	// footprint, KindUpstream when the engine itself fails.
	FindChipContaining(ctx context.Context, coord core.Coordinate) (core.ChipRecord, error)
	// AllChips returns the full corpus.
	AllChips(ctx context.Context) ([]core.ChipRecord, error)
	// ChipByID returns a single chip by its stable identifier.
	ChipByID(ctx context.Context, id string) (core.ChipRecord, error)
}

// ThumbnailRefFor derives the thumbnail object name for a chip, matching
// the corpus publishing convention.
func ThumbnailRefFor(chipID string) string {
	return fmt.Sprintf("%s_native.jpeg", chipID)
}

// MemStore is an in-memory ChipSource. It backs tests and parquet
// snapshot corpora and mirrors the failure semantics of the DuckDB
// backend.
type MemStore struct {
	mu    sync.RWMutex
	chips []core.ChipRecord
	byID  map[string]int
}

// NewMemStore creates a MemStore over the given corpus.
func NewMemStore(chips []core.ChipRecord) *MemStore {
	s := &MemStore{byID: make(map[string]int, len(chips))}
	s.chips = make([]core.ChipRecord, len(chips))
	copy(s.chips, chips)
	sort.Slice(s.chips, func(i, j int) bool { return s.chips[i].ID < s.chips[j].ID })
	for i, c := range s.chips {
		s.byID[c.ID] = i
	}
	return s
}

// FindChipContaining scans footprints with a bounding-box precheck and
// ray-cast containment test.
func (s *MemStore) FindChipContaining(ctx context.Context, coord core.Coordinate) (core.ChipRecord, error) {
	const op = "store.MemStore.FindChipContaining"

	if err := ctx.Err(); err != nil {
		return core.ChipRecord{}, errors.WrapUpstream(err, op, "context done")
	}
	if !coord.Valid() {
		return core.ChipRecord{}, errors.Newf(errors.KindValidation, op, "coordinate out of range: %v", coord)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.chips {
		if len(c.Footprint) >= 3 && polygonContains(c.Footprint, coord) {
			return c, nil
		}
	}
	return core.ChipRecord{}, errors.Newf(errors.KindNoChipCovers, op, "no chip footprint contains %v", coord)
}

// AllChips returns a copy of the corpus slice; records themselves are
// shared read-only.
func (s *MemStore) AllChips(ctx context.Context) ([]core.ChipRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapUpstream(err, "store.MemStore.AllChips", "context done")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.ChipRecord, len(s.chips))
	copy(out, s.chips)
	return out, nil
}

// ChipByID looks up a single chip.
func (s *MemStore) ChipByID(ctx context.Context, id string) (core.ChipRecord, error) {
	const op = "store.MemStore.ChipByID"

	if err := ctx.Err(); err != nil {
		return core.ChipRecord{}, errors.WrapUpstream(err, op, "context done")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i, ok := s.byID[id]; ok {
		return s.chips[i], nil
	}
	return core.ChipRecord{}, errors.Newf(errors.KindNotFound, op, "no chip %q", id)
}

// Len returns the corpus size.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chips)
}

// polygonContains is the even-odd ray-cast test in lon/lat space. The
// ring may be open or closed; the closing edge is implied.
func polygonContains(ring core.Polygon, p core.Coordinate) bool {
	if !boundingBoxContains(ring, p) {
		return false
	}
	inside := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := ring[i], ring[j]
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) {
			x := (b.Lon-a.Lon)*(p.Lat-a.Lat)/(b.Lat-a.Lat) + a.Lon
			if p.Lon < x {
				inside = !inside
			}
		}
	}
	return inside
}

func boundingBoxContains(ring core.Polygon, p core.Coordinate) bool {
	minLat, maxLat := ring[0].Lat, ring[0].Lat
	minLon, maxLon := ring[0].Lon, ring[0].Lon
	for _, v := range ring[1:] {
		if v.Lat < minLat {
			minLat = v.Lat
		}
		if v.Lat > maxLat {
			maxLat = v.Lat
		}
		if v.Lon < minLon {
			minLon = v.Lon
		}
		if v.Lon > maxLon {
			maxLon = v.Lon
		}
	}
	return p.Lat >= minLat && p.Lat <= maxLat && p.Lon >= minLon && p.Lon <= maxLon
}
