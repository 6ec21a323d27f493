// Package facematch ranks catalog candidates for query faces and decides
// which of them are confident matches. Single-face and batch recognition
// share the same search so that thresholds, rounding and tie-breaks agree.
package facematch

import (
	"github.com/kozaktomas/face-matcher/internal/catalog"
)

// DetectedFace is one face found by the detection pipeline.
type DetectedFace struct {
	Vector []float32
	Box    BoundingBox
}

// MatchResult is a ranked catalog candidate for a query face.
type MatchResult struct {
	PersonID   string
	RecordID   string
	Distance   float64
	Similarity float64
	Confidence float64 // Similarity clamped to [0, 1]
	Accepted   bool    // Similarity passed the acceptance threshold
	Metadata   catalog.Metadata

	// Box is the source detection, set only by batch matching.
	Box *BoundingBox
}

// Percent returns the confidence on a 0-100 scale rounded to one decimal.
func (r MatchResult) Percent() float64 {
	return ConfidencePercent(r.Confidence)
}

func newMatchResult(c catalog.Candidate, acceptSimilarity float64) MatchResult {
	sim := catalog.Similarity(c.Distance)
	return MatchResult{
		PersonID:   c.Metadata.PersonID(),
		RecordID:   c.RecordID,
		Distance:   c.Distance,
		Similarity: sim,
		Confidence: Confidence(sim),
		Accepted:   sim >= acceptSimilarity,
		Metadata:   c.Metadata,
	}
}
