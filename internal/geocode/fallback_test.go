package geocode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackTable_ExactMatch(t *testing.T) {
	tbl := NewFallbackTable(DefaultAnchors(), 0)

	res, ok := tbl.Lookup("marina")
	require.True(t, ok)
	assert.InDelta(t, 37.8065, res.Coordinate.Lat, 1e-9)
	assert.InDelta(t, -122.4410, res.Coordinate.Lon, 1e-9)
	assert.Equal(t, "Fallback: marina", res.DisplayName)
}

func TestFallbackTable_FuzzyMatch(t *testing.T) {
	tbl := NewFallbackTable(DefaultAnchors(), 0)

	res, ok := tbl.Lookup("marinas")
	require.True(t, ok)
	assert.Equal(t, "Fuzzy fallback: marina", res.DisplayName)

	res, ok = tbl.Lookup("parking lots")
	require.True(t, ok)
	assert.InDelta(t, 37.7840, res.Coordinate.Lat, 1e-9)
}

func TestFallbackTable_Miss(t *testing.T) {
	tbl := NewFallbackTable(DefaultAnchors(), 0)

	_, ok := tbl.Lookup("golden gate bridge")
	assert.False(t, ok)
	_, ok = tbl.Lookup("")
	assert.False(t, ok)
}

func TestFallbackTable_NilSafe(t *testing.T) {
	var tbl *FallbackTable
	_, ok := tbl.Lookup("marina")
	assert.False(t, ok)
}

func TestBigramSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, bigramSimilarity("marina", "marina"))
	assert.Equal(t, 0.0, bigramSimilarity("a", "marina"))
	assert.Greater(t, bigramSimilarity("marina", "marinas"), 0.8)
	assert.Less(t, bigramSimilarity("marina", "downtown"), 0.3)
}
