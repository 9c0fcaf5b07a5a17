package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylens/chipquery/internal/core"
)

func TestCorpusSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.parquet")
	chips := testCorpus()

	require.NoError(t, WriteCorpusSnapshot(path, chips))

	got, err := ReadCorpusSnapshot(path)
	require.NoError(t, err)
	require.Len(t, got, len(chips))

	for i, want := range chips {
		assert.Equal(t, want.ID, got[i].ID)
		assert.Equal(t, want.Centroid, got[i].Centroid)
		assert.Equal(t, want.Footprint, got[i].Footprint)
		assert.Equal(t, want.Embedding, got[i].Embedding)
		assert.Equal(t, want.ThumbnailRef, got[i].ThumbnailRef)
	}

	// The snapshot feeds a MemStore with intact spatial semantics.
	s := NewMemStore(got)
	chip, err := s.FindChipContaining(context.Background(), core.Coordinate{Lon: -122.41, Lat: 37.77})
	require.NoError(t, err)
	assert.Equal(t, "C1", chip.ID)
}

func TestWriteCorpusSnapshotLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corpus.parquet")

	require.NoError(t, WriteCorpusSnapshot(path, testCorpus()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "corpus.parquet", entries[0].Name())
}

func TestReadCorpusSnapshotMissingFile(t *testing.T) {
	_, err := ReadCorpusSnapshot(filepath.Join(t.TempDir(), "absent.parquet"))
	require.Error(t, err)
}
