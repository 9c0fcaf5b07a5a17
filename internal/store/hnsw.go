package store

import (
	"context"
	"sync"

	"github.com/coder/hnsw"

	"github.com/skylens/chipquery/internal/core"
	"github.com/skylens/chipquery/internal/errors"
	"github.com/skylens/chipquery/internal/sim"
)

// HNSWIndex is an in-process accelerated NearestIndex over a fixed
// corpus, keyed by chip id with cosine distance. Build once at startup;
// the corpus does not mutate during serving.
type HNSWIndex struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[string]
	records map[string]core.ChipRecord
}

// BuildHNSWIndex constructs the index from the corpus. Chips whose
// embedding dimension differs from the first chip's are rejected.
func BuildHNSWIndex(chips []core.ChipRecord) (*HNSWIndex, error) {
	const op = "store.BuildHNSWIndex"

	if len(chips) == 0 {
		return nil, errors.New(errors.KindEmptyCorpus, op, "no chips to index")
	}

	dim := len(chips[0].Embedding)
	graph := hnsw.NewGraph[string]()
	graph.Distance = hnsw.CosineDistance

	idx := &HNSWIndex{
		graph:   graph,
		records: make(map[string]core.ChipRecord, len(chips)),
	}
	for _, c := range chips {
		if len(c.Embedding) != dim {
			return nil, errors.Newf(errors.KindValidation, op,
				"chip %q embedding dimension %d, corpus dimension %d", c.ID, len(c.Embedding), dim)
		}
		graph.Add(hnsw.MakeNode(c.ID, c.Embedding))
		idx.records[c.ID] = c
	}
	return idx, nil
}

// Len returns the number of indexed chips.
func (h *HNSWIndex) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// NearestToChip searches the graph around the seed embedding. Scores are
// recomputed as cosine similarity so both ranking paths report the same
// scale; the result may include the seed itself and the engine applies
// exclusion and tie-breaks.
func (h *HNSWIndex) NearestToChip(ctx context.Context, seed core.ChipRecord, k int) ([]core.SimilarityResult, error) {
	const op = "store.HNSWIndex.NearestToChip"

	if err := ctx.Err(); err != nil {
		return nil, errors.WrapUpstream(err, op, "context done")
	}
	if len(seed.Embedding) == 0 {
		return nil, errors.New(errors.KindValidation, op, "seed has no embedding")
	}

	// The graph search itself is not safe against concurrent Add; the
	// corpus is immutable after build, so a read lock suffices.
	h.mu.RLock()
	nodes := h.graph.Search(seed.Embedding, k+1)
	h.mu.RUnlock()

	out := make([]core.SimilarityResult, 0, len(nodes))
	for _, n := range nodes {
		rec, ok := h.records[n.Key]
		if !ok {
			continue
		}
		out = append(out, core.SimilarityResult{
			ChipID:       rec.ID,
			Score:        sim.Cosine(seed.Embedding, rec.Embedding),
			Coordinate:   rec.Centroid,
			ThumbnailRef: rec.ThumbnailRef,
		})
	}
	return out, nil
}
