package cache

import (
	"fmt"
	"strings"

	"github.com/skylens/chipquery/internal/core"
)

// TextKey derives a cache key from a free-text query: trimmed,
// case-folded, internal whitespace collapsed. "Marina " and "marina"
// share an entry.
func TextKey(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// PointKey derives a cache key from a coordinate quantized to 5 decimal
// degrees (about 1.1 m at the equator), so near-duplicate coordinates
// from repeated geocodes share an entry.
func PointKey(c core.Coordinate) string {
	return fmt.Sprintf("%.5f:%.5f", c.Lat, c.Lon)
}
