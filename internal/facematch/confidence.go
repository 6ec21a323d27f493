package facematch

import "math"

// Confidence converts a similarity into a confidence in [0, 1].
func Confidence(similarity float64) float64 {
	return min(max(similarity, 0), 1)
}

// ConfidencePercent scales a confidence to percent and rounds half up to one
// decimal. The epsilon absorbs binary representation error, so 0.8765 gives
// 87.7 rather than 87.6.
func ConfidencePercent(confidence float64) float64 {
	return math.Floor(Confidence(confidence)*1000+0.5+1e-9) / 10
}
