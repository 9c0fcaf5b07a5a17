// Package sim scores imagery chips against a seed chip by cosine
// similarity over their embedding vectors and returns deterministic
// ranked top-N lists.
package sim

import "math"

// Cosine returns the cosine similarity dot(a,b)/(|a||b|) in [-1,1],
// accumulated in float64 for stability over 1024-dim float32 inputs.
// Defined as 0 when either norm is 0 or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
