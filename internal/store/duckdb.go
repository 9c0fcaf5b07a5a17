package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	duckdb "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"

	"github.com/skylens/chipquery/internal/core"
	"github.com/skylens/chipquery/internal/errors"
	"github.com/skylens/chipquery/internal/metrics"
)

// DuckDBConfig configures the DuckDB storage backend.
type DuckDBConfig struct {
	// Path to the database file holding the embeddings table.
	Path string
	// Table name; defaults to "embeddings".
	Table string
	// QueryTimeout bounds every query; defaults to 5s.
	QueryTimeout time.Duration
}

// DuckDBStore serves spatial and vector queries from a DuckDB database
// with the spatial extension loaded. It implements ChipSource and
// NearestIndex; the nearest path runs array_cosine_similarity inside the
// engine.
//
// All queries run on one dedicated connection (the spatial extension and
// the Arrow interface are bound to it), serialized by a mutex. The cache
// layer above makes contention on it rare.
type DuckDBStore struct {
	mu      sync.Mutex
	db      *sql.DB
	conn    *sql.Conn
	arrowIf *duckdb.Arrow
	table   string
	timeout time.Duration
	logger  *zap.Logger
}

// OpenDuckDB opens the database, loads the spatial extension and binds
// the Arrow query interface.
func OpenDuckDB(ctx context.Context, cfg DuckDBConfig, logger *zap.Logger) (*DuckDBStore, error) {
	const op = "store.OpenDuckDB"

	if cfg.Table == "" {
		cfg.Table = "embeddings"
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, errors.WrapUpstream(err, op, "open database")
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, errors.WrapUpstream(err, op, "open connection")
	}

	// INSTALL fails when the extension is already present; only LOAD is
	// load-bearing.
	if _, err := conn.ExecContext(ctx, "INSTALL spatial;"); err != nil {
		logger.Debug("spatial extension install skipped", zap.Error(err))
	}
	if _, err := conn.ExecContext(ctx, "LOAD spatial;"); err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, errors.WrapUpstream(err, op, "load spatial extension")
	}

	var arrowIf *duckdb.Arrow
	err = conn.Raw(func(c any) error {
		dc, ok := c.(driver.Conn)
		if !ok {
			return fmt.Errorf("not a duckdb driver connection")
		}
		var err error
		arrowIf, err = duckdb.NewArrowFromConn(dc)
		return err
	})
	if err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, errors.WrapUpstream(err, op, "init arrow interface")
	}

	logger.Info("duckdb store opened",
		zap.String("path", cfg.Path),
		zap.String("table", cfg.Table))

	return &DuckDBStore{
		db:      db,
		conn:    conn,
		arrowIf: arrowIf,
		table:   cfg.Table,
		timeout: cfg.QueryTimeout,
		logger:  logger,
	}, nil
}

// Close releases the connection and the database handle.
func (s *DuckDBStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cerr := s.conn.Close()
	if err := s.db.Close(); err != nil {
		return err
	}
	return cerr
}

// FindChipContaining runs the point-in-polygon query.
func (s *DuckDBStore) FindChipContaining(ctx context.Context, coord core.Coordinate) (core.ChipRecord, error) {
	const op = "store.DuckDBStore.FindChipContaining"

	if !coord.Valid() {
		return core.ChipRecord{}, errors.Newf(errors.KindValidation, op, "coordinate out of range: %v", coord)
	}

	query := fmt.Sprintf(`
		SELECT chips_id, vec,
		       ST_X(ST_Centroid(geom)) AS lon,
		       ST_Y(ST_Centroid(geom)) AS lat
		FROM %s
		WHERE ST_Contains(geom, ST_Point(?, ?))
		LIMIT 1;`, s.table)

	s.mu.Lock()
	defer s.mu.Unlock()

	qctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	row := s.conn.QueryRowContext(qctx, query, coord.Lon, coord.Lat)

	var (
		id       string
		rawVec   any
		lon, lat float64
	)
	err := row.Scan(&id, &rawVec, &lon, &lat)
	metrics.StorageQueryDurationSeconds.WithLabelValues("spatial_lookup").Observe(time.Since(start).Seconds())
	if err == sql.ErrNoRows {
		metrics.StorageQueriesTotal.WithLabelValues("spatial_lookup", "no_chip").Inc()
		return core.ChipRecord{}, errors.Newf(errors.KindNoChipCovers, op, "no chip footprint contains %v", coord)
	}
	if err != nil {
		metrics.StorageQueriesTotal.WithLabelValues("spatial_lookup", "error").Inc()
		return core.ChipRecord{}, errors.WrapUpstream(err, op, "spatial query failed")
	}
	metrics.StorageQueriesTotal.WithLabelValues("spatial_lookup", "ok").Inc()

	vec, err := vectorFromSQL(rawVec)
	if err != nil {
		return core.ChipRecord{}, errors.WrapUpstream(err, op, "decode embedding")
	}

	return core.ChipRecord{
		ID:           id,
		Centroid:     core.Coordinate{Lat: lat, Lon: lon},
		Embedding:    vec,
		ThumbnailRef: ThumbnailRefFor(id),
	}, nil
}

// ChipByID fetches one chip with its embedding and centroid.
func (s *DuckDBStore) ChipByID(ctx context.Context, id string) (core.ChipRecord, error) {
	const op = "store.DuckDBStore.ChipByID"

	query := fmt.Sprintf(`
		SELECT chips_id, vec,
		       ST_X(ST_Centroid(geom)) AS lon,
		       ST_Y(ST_Centroid(geom)) AS lat
		FROM %s
		WHERE chips_id = ?
		LIMIT 1;`, s.table)

	s.mu.Lock()
	defer s.mu.Unlock()

	qctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		chipID   string
		rawVec   any
		lon, lat float64
	)
	err := s.conn.QueryRowContext(qctx, query, id).Scan(&chipID, &rawVec, &lon, &lat)
	if err == sql.ErrNoRows {
		return core.ChipRecord{}, errors.Newf(errors.KindNotFound, op, "no chip %q", id)
	}
	if err != nil {
		metrics.StorageQueriesTotal.WithLabelValues("chip_by_id", "error").Inc()
		return core.ChipRecord{}, errors.WrapUpstream(err, op, "lookup failed")
	}
	metrics.StorageQueriesTotal.WithLabelValues("chip_by_id", "ok").Inc()

	vec, err := vectorFromSQL(rawVec)
	if err != nil {
		return core.ChipRecord{}, errors.WrapUpstream(err, op, "decode embedding")
	}

	return core.ChipRecord{
		ID:           chipID,
		Centroid:     core.Coordinate{Lat: lat, Lon: lon},
		Embedding:    vec,
		ThumbnailRef: ThumbnailRefFor(chipID),
	}, nil
}

// AllChips streams the corpus through the Arrow interface. The columnar
// read avoids per-row reflection on the 1024-wide embedding column.
func (s *DuckDBStore) AllChips(ctx context.Context) ([]core.ChipRecord, error) {
	const op = "store.DuckDBStore.AllChips"

	query := fmt.Sprintf(`
		SELECT chips_id, vec,
		       ST_X(ST_Centroid(geom)) AS lon,
		       ST_Y(ST_Centroid(geom)) AS lat
		FROM %s;`, s.table)

	s.mu.Lock()
	defer s.mu.Unlock()

	qctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	rdr, err := s.arrowIf.QueryContext(qctx, query)
	if err != nil {
		metrics.StorageQueriesTotal.WithLabelValues("corpus_scan", "error").Inc()
		return nil, errors.WrapUpstream(err, op, "corpus scan failed")
	}
	defer rdr.Release()

	var chips []core.ChipRecord
	for rdr.Next() {
		rec := rdr.Record()
		ids, ok := rec.Column(0).(*array.String)
		if !ok {
			return nil, errors.Newf(errors.KindUpstream, op, "unexpected chips_id column type %T", rec.Column(0))
		}
		lons, ok := rec.Column(2).(*array.Float64)
		if !ok {
			return nil, errors.Newf(errors.KindUpstream, op, "unexpected lon column type %T", rec.Column(2))
		}
		lats, ok := rec.Column(3).(*array.Float64)
		if !ok {
			return nil, errors.Newf(errors.KindUpstream, op, "unexpected lat column type %T", rec.Column(3))
		}
		for row := 0; row < int(rec.NumRows()); row++ {
			vec, err := vectorFromArrow(rec.Column(1), row)
			if err != nil {
				return nil, errors.WrapUpstream(err, op, "decode embedding column")
			}
			id := ids.Value(row)
			chips = append(chips, core.ChipRecord{
				ID:           id,
				Centroid:     core.Coordinate{Lat: lats.Value(row), Lon: lons.Value(row)},
				Embedding:    vec,
				ThumbnailRef: ThumbnailRefFor(id),
			})
		}
	}
	if err := rdr.Err(); err != nil {
		metrics.StorageQueriesTotal.WithLabelValues("corpus_scan", "error").Inc()
		return nil, errors.WrapUpstream(err, op, "corpus scan interrupted")
	}

	metrics.StorageQueryDurationSeconds.WithLabelValues("corpus_scan").Observe(time.Since(start).Seconds())
	metrics.StorageQueriesTotal.WithLabelValues("corpus_scan", "ok").Inc()
	s.logger.Debug("corpus scan complete",
		zap.Int("chips", len(chips)),
		zap.Duration("elapsed", time.Since(start)))
	return chips, nil
}

// NearestToChip ranks the corpus against the seed embedding inside the
// engine. The result may include the seed itself; the similarity engine
// applies exclusion and tie-breaks.
func (s *DuckDBStore) NearestToChip(ctx context.Context, seed core.ChipRecord, k int) ([]core.SimilarityResult, error) {
	const op = "store.DuckDBStore.NearestToChip"

	if len(seed.Embedding) == 0 {
		return nil, errors.New(errors.KindValidation, op, "seed has no embedding")
	}

	query := fmt.Sprintf(`
		SELECT chips_id,
		       array_cosine_similarity(vec, %s) AS similarity,
		       ST_X(ST_Centroid(geom)) AS lon,
		       ST_Y(ST_Centroid(geom)) AS lat
		FROM %s
		ORDER BY similarity DESC, chips_id ASC
		LIMIT %d;`, vectorLiteral(seed.Embedding), s.table, k+1)

	s.mu.Lock()
	defer s.mu.Unlock()

	qctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	rows, err := s.conn.QueryContext(qctx, query)
	if err != nil {
		metrics.StorageQueriesTotal.WithLabelValues("nearest", "error").Inc()
		return nil, errors.WrapUpstream(err, op, "similarity query failed")
	}
	defer rows.Close()

	var out []core.SimilarityResult
	for rows.Next() {
		var (
			id       string
			score    float64
			lon, lat float64
		)
		if err := rows.Scan(&id, &score, &lon, &lat); err != nil {
			metrics.StorageQueriesTotal.WithLabelValues("nearest", "error").Inc()
			return nil, errors.WrapUpstream(err, op, "scan similarity row")
		}
		out = append(out, core.SimilarityResult{
			ChipID:       id,
			Score:        score,
			Coordinate:   core.Coordinate{Lat: lat, Lon: lon},
			ThumbnailRef: ThumbnailRefFor(id),
		})
	}
	if err := rows.Err(); err != nil {
		metrics.StorageQueriesTotal.WithLabelValues("nearest", "error").Inc()
		return nil, errors.WrapUpstream(err, op, "similarity rows interrupted")
	}

	metrics.StorageQueryDurationSeconds.WithLabelValues("nearest").Observe(time.Since(start).Seconds())
	metrics.StorageQueriesTotal.WithLabelValues("nearest", "ok").Inc()
	return out, nil
}

// vectorLiteral renders an embedding as a DuckDB FLOAT[N] literal. The
// Arrow/sql bindings cannot bind fixed-size array parameters, so the
// vector is inlined.
func vectorLiteral(vec []float32) string {
	var b strings.Builder
	b.Grow(len(vec)*10 + 16)
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteByte(']')
	fmt.Fprintf(&b, "::FLOAT[%d]", len(vec))
	return b.String()
}

// vectorFromSQL converts the driver's representation of a FLOAT[N]
// column into a []float32.
func vectorFromSQL(raw any) ([]float32, error) {
	switch v := raw.(type) {
	case []float32:
		out := make([]float32, len(v))
		copy(out, v)
		return out, nil
	case []float64:
		out := make([]float32, len(v))
		for i, f := range v {
			out[i] = float32(f)
		}
		return out, nil
	case []any:
		out := make([]float32, len(v))
		for i, e := range v {
			switch f := e.(type) {
			case float32:
				out[i] = f
			case float64:
				out[i] = float32(f)
			default:
				return nil, fmt.Errorf("unexpected element type %T at %d", e, i)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected embedding type %T", raw)
	}
}

// vectorFromArrow extracts one row's embedding from an Arrow list column.
func vectorFromArrow(col arrow.Array, row int) ([]float32, error) {
	switch arr := col.(type) {
	case *array.FixedSizeList:
		width := int(arr.DataType().(*arrow.FixedSizeListType).Len())
		values, ok := arr.ListValues().(*array.Float32)
		if !ok {
			return nil, fmt.Errorf("unexpected list value type %T", arr.ListValues())
		}
		start := (arr.Offset() + row) * width
		out := make([]float32, width)
		copy(out, values.Float32Values()[start:start+width])
		return out, nil
	case *array.List:
		start, end := arr.ValueOffsets(row)
		values, ok := arr.ListValues().(*array.Float32)
		if !ok {
			return nil, fmt.Errorf("unexpected list value type %T", arr.ListValues())
		}
		out := make([]float32, end-start)
		copy(out, values.Float32Values()[start:end])
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected embedding column type %T", col)
	}
}
