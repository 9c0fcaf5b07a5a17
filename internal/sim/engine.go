package sim

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/skylens/chipquery/internal/cache"
	"github.com/skylens/chipquery/internal/core"
	cqerrors "github.com/skylens/chipquery/internal/errors"
	"github.com/skylens/chipquery/internal/metrics"
)

// DefaultTopN bounds the result list when the caller does not
// configure a limit.
const DefaultTopN = 12

// Corpus supplies the full chip set for brute-force scoring.
type Corpus interface {
	AllChips(ctx context.Context) ([]core.ChipRecord, error)
}

// NearestIndex is an optional accelerated nearest-neighbor path.
// Implementations may return the seed chip among the neighbors; the
// engine strips it before ranking.
type NearestIndex interface {
	NearestToChip(ctx context.Context, seed core.ChipRecord, k int) ([]core.SimilarityResult, error)
}

// Engine ranks corpus chips by cosine similarity to a seed chip.
// Results are cached by seed chip ID so repeated queries that land on
// the same chip skip the scoring pass entirely.
type Engine struct {
	corpus  Corpus
	index   NearestIndex
	cache   *cache.QueryCache[[]core.SimilarityResult]
	topN    int
	timeout time.Duration
	logger  *zap.Logger
}

// EngineConfig carries the tunables for NewEngine. Zero values fall
// back to DefaultTopN and a 10s scoring timeout.
type EngineConfig struct {
	TopN    int           `envconfig:"TOP_N"`
	Timeout time.Duration `envconfig:"SCORE_TIMEOUT"`
}

// NewEngine builds an Engine over the given corpus. index may be nil,
// in which case every uncached query runs the brute-force pass.
func NewEngine(corpus Corpus, index NearestIndex, resultCache *cache.QueryCache[[]core.SimilarityResult], cfg EngineConfig, logger *zap.Logger) *Engine {
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultTopN
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		corpus:  corpus,
		index:   index,
		cache:   resultCache,
		topN:    cfg.TopN,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// SimilarChips returns the top-N corpus chips most similar to seed,
// excluding the seed itself, ordered by score descending with chip ID
// ascending as the tie-break. It fails with KindEmptyCorpus when the
// corpus holds fewer than two chips.
func (e *Engine) SimilarChips(ctx context.Context, seed core.ChipRecord) ([]core.SimilarityResult, error) {
	return e.cache.GetOrCompute(ctx, seed.ID, func(ctx context.Context) ([]core.SimilarityResult, error) {
		ctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		start := time.Now()
		results, err := e.score(ctx, seed)
		metrics.PipelineStageDurationSeconds.WithLabelValues("scoring").Observe(time.Since(start).Seconds())
		if err != nil {
			return nil, err
		}

		e.logger.Debug("scored similarity query",
			zap.String("seed_chip", seed.ID),
			zap.Int("matches", len(results)),
			zap.Duration("elapsed", time.Since(start)))
		return results, nil
	})
}

func (e *Engine) score(ctx context.Context, seed core.ChipRecord) ([]core.SimilarityResult, error) {
	if e.index != nil {
		neighbors, err := e.index.NearestToChip(ctx, seed, e.topN)
		if err != nil {
			return nil, err
		}
		ranked := rank(seed.ID, neighbors, e.topN)
		if len(ranked) == 0 {
			return nil, cqerrors.NewEmptyCorpus("sim.score", "corpus has no chips other than the seed")
		}
		return ranked, nil
	}

	chips, err := e.corpus.AllChips(ctx)
	if err != nil {
		return nil, cqerrors.WrapCompute(err, "sim.score", "loading corpus for scoring")
	}
	if len(chips) < 2 {
		return nil, cqerrors.Newf(cqerrors.KindEmptyCorpus, "sim.score", "corpus holds %d chip(s), need at least 2", len(chips))
	}

	scored := make([]core.SimilarityResult, 0, len(chips)-1)
	for _, c := range chips {
		if c.ID == seed.ID {
			continue
		}
		if len(c.Embedding) != len(seed.Embedding) {
			return nil, cqerrors.Newf(cqerrors.KindValidation, "sim.score",
				"chip %s embedding has %d dims, seed has %d", c.ID, len(c.Embedding), len(seed.Embedding))
		}
		scored = append(scored, core.SimilarityResult{
			ChipID:       c.ID,
			Score:        Cosine(seed.Embedding, c.Embedding),
			Coordinate:   c.Centroid,
			ThumbnailRef: c.ThumbnailRef,
		})
	}
	return rank(seed.ID, scored, e.topN), nil
}

// rank strips the seed chip, collapses duplicate chip IDs, sorts by
// score descending with chip ID ascending on ties, and truncates to
// topN entries.
func rank(seedID string, results []core.SimilarityResult, topN int) []core.SimilarityResult {
	seen := make(map[string]struct{}, len(results))
	ranked := make([]core.SimilarityResult, 0, len(results))
	for _, r := range results {
		if r.ChipID == seedID {
			continue
		}
		if _, dup := seen[r.ChipID]; dup {
			continue
		}
		seen[r.ChipID] = struct{}{}
		ranked = append(ranked, r)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ChipID < ranked[j].ChipID
	})
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked
}
