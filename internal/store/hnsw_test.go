package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylens/chipquery/internal/core"
	"github.com/skylens/chipquery/internal/errors"
)

func TestBuildHNSWIndexEmptyCorpus(t *testing.T) {
	_, err := BuildHNSWIndex(nil)
	require.Error(t, err)
	assert.Equal(t, errors.KindEmptyCorpus, errors.KindOf(err))
}

func TestBuildHNSWIndexDimensionMismatch(t *testing.T) {
	_, err := BuildHNSWIndex([]core.ChipRecord{
		squareChip("C1", 0, 0, 1, 1, 0, 0),
		squareChip("C2", 1, 1, 1, 1, 0),
	})
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

func TestHNSWIndexNearestToChip(t *testing.T) {
	seed := squareChip("C42", 0, 0, 1, 1, 0, 0)
	idx, err := BuildHNSWIndex([]core.ChipRecord{
		seed,
		squareChip("C1", 1, 1, 1, 1, 0, 0),
		squareChip("C2", 2, 2, 1, 0, 1, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Len())

	got, err := idx.NearestToChip(context.Background(), seed, 2)
	require.NoError(t, err)
	require.NotEmpty(t, got)

	scores := make(map[string]float64, len(got))
	for _, r := range got {
		scores[r.ChipID] = r.Score
	}
	// The seed may appear in its own neighborhood; callers strip it.
	if s, ok := scores["C42"]; ok {
		assert.InDelta(t, 1.0, s, 1e-6)
	}
	require.Contains(t, scores, "C1")
	assert.InDelta(t, 1.0, scores["C1"], 1e-6)
	if s, ok := scores["C2"]; ok {
		assert.InDelta(t, 0.0, s, 1e-6)
	}
}

func TestHNSWIndexSeedWithoutEmbedding(t *testing.T) {
	idx, err := BuildHNSWIndex([]core.ChipRecord{squareChip("C1", 0, 0, 1, 1, 0)})
	require.NoError(t, err)

	_, err = idx.NearestToChip(context.Background(), core.ChipRecord{ID: "bare"}, 2)
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}
