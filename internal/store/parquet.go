package store

import (
	"io"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/skylens/chipquery/internal/core"
	"github.com/skylens/chipquery/internal/errors"
	"github.com/skylens/chipquery/internal/metrics"
)

// snapshotRow is the flat Parquet row for one chip. The footprint ring
// is stored as interleaved lon,lat pairs.
type snapshotRow struct {
	ChipID       string    `parquet:"chip_id"`
	CentroidLon  float64   `parquet:"centroid_lon"`
	CentroidLat  float64   `parquet:"centroid_lat"`
	Footprint    []float64 `parquet:"footprint"`
	Embedding    []float32 `parquet:"embedding"`
	ThumbnailRef string    `parquet:"thumbnail_ref"`
}

// WriteCorpusSnapshot writes the chip corpus to a Zstd-compressed
// Parquet file. The file is written to a temp sibling and renamed so a
// crash mid-write never leaves a truncated snapshot behind.
func WriteCorpusSnapshot(path string, chips []core.ChipRecord) error {
	const op = "store.WriteCorpusSnapshot"

	start := time.Now()
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.WrapCompute(err, op, "creating snapshot file")
	}

	pw := parquet.NewGenericWriter[snapshotRow](f, parquet.Compression(&parquet.Zstd))
	rows := make([]snapshotRow, 0, len(chips))
	for _, c := range chips {
		row := snapshotRow{
			ChipID:       c.ID,
			CentroidLon:  c.Centroid.Lon,
			CentroidLat:  c.Centroid.Lat,
			Embedding:    c.Embedding,
			ThumbnailRef: c.ThumbnailRef,
		}
		row.Footprint = make([]float64, 0, 2*len(c.Footprint))
		for _, p := range c.Footprint {
			row.Footprint = append(row.Footprint, p.Lon, p.Lat)
		}
		rows = append(rows, row)
	}

	if _, err := pw.Write(rows); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return errors.WrapCompute(err, op, "writing snapshot rows")
	}
	if err := pw.Close(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return errors.WrapCompute(err, op, "closing parquet writer")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return errors.WrapCompute(err, op, "closing snapshot file")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.WrapCompute(err, op, "renaming snapshot into place")
	}

	metrics.StorageQueriesTotal.WithLabelValues("snapshot_write", "ok").Inc()
	metrics.StorageQueryDurationSeconds.WithLabelValues("snapshot_write").Observe(time.Since(start).Seconds())
	return nil
}

// ReadCorpusSnapshot loads a chip corpus from a Parquet snapshot
// written by WriteCorpusSnapshot.
func ReadCorpusSnapshot(path string) ([]core.ChipRecord, error) {
	const op = "store.ReadCorpusSnapshot"

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapCompute(err, op, "opening snapshot file")
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, errors.WrapCompute(err, op, "stat on snapshot file")
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, errors.WrapCompute(err, op, "reading parquet footer")
	}

	pr := parquet.NewGenericReader[snapshotRow](pf)
	defer pr.Close()
	rows := make([]snapshotRow, pr.NumRows())
	if _, err := pr.Read(rows); err != nil && err != io.EOF {
		return nil, errors.WrapCompute(err, op, "reading snapshot rows")
	}

	chips := make([]core.ChipRecord, 0, len(rows))
	for _, row := range rows {
		if len(row.Footprint)%2 != 0 {
			return nil, errors.Newf(errors.KindValidation, op,
				"chip %s footprint has odd coordinate count %d", row.ChipID, len(row.Footprint))
		}
		rec := core.ChipRecord{
			ID:           row.ChipID,
			Centroid:     core.Coordinate{Lat: row.CentroidLat, Lon: row.CentroidLon},
			Embedding:    row.Embedding,
			ThumbnailRef: row.ThumbnailRef,
		}
		rec.Footprint = make(core.Polygon, 0, len(row.Footprint)/2)
		for i := 0; i+1 < len(row.Footprint); i += 2 {
			rec.Footprint = append(rec.Footprint, core.Coordinate{
				Lon: row.Footprint[i],
				Lat: row.Footprint[i+1],
			})
		}
		chips = append(chips, rec)
	}

	metrics.StorageQueriesTotal.WithLabelValues("snapshot_read", "ok").Inc()
	return chips, nil
}
