package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/skylens/chipquery/internal/core"
)

func TestTextKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"marina", "marina"},
		{"Marina ", "marina"},
		{"  MARINA", "marina"},
		{"parking   lot", "parking lot"},
		{"\tparking\nlot ", "parking lot"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TextKey(tt.in), "TextKey(%q)", tt.in)
	}
}

func TestPointKey_Quantization(t *testing.T) {
	a := core.Coordinate{Lat: 37.808004, Lon: -122.411002}
	b := core.Coordinate{Lat: 37.808001, Lon: -122.410998}
	c := core.Coordinate{Lat: 37.80812, Lon: -122.411}

	assert.Equal(t, PointKey(a), PointKey(b), "near-duplicate points share a key")
	assert.NotEqual(t, PointKey(a), PointKey(c))
	assert.Equal(t, "37.80800:-122.41100", PointKey(a))
}
