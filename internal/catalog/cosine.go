package catalog

import "math"

// CosineDistance computes the cosine distance between two vectors.
// Returns a value between 0 (identical direction) and 2 (opposite).
// Mismatched lengths and zero vectors yield the maximum distance.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 2.0
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	similarity = min(max(similarity, -1), 1)

	return ClampDistance(1 - similarity)
}

// Similarity converts a cosine distance into a similarity (1 - distance).
func Similarity(distance float64) float64 {
	return 1 - distance
}

// ClampDistance limits d to the valid cosine distance range and snaps values
// within rounding noise of zero to exactly zero.
func ClampDistance(d float64) float64 {
	if d < 1e-12 {
		return 0
	}
	return min(d, 2)
}
