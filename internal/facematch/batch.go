package facematch

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/face-matcher/internal/catalog"
)

// DefaultBatchConcurrency limits parallel per-face queries.
const DefaultBatchConcurrency = 4

// BatchOptions controls MatchAll.
type BatchOptions struct {
	// IncludeUnmatched emits an entry for every face, with empty defaults for
	// faces that have no accepted match.
	IncludeUnmatched bool

	// Concurrency is the number of faces matched in parallel.
	Concurrency int
}

// BatchMatcher matches every face of an image against the catalog.
type BatchMatcher struct {
	searcher *Searcher
}

// NewBatchMatcher creates a batch matcher on top of searcher.
func NewBatchMatcher(searcher *Searcher) *BatchMatcher {
	return &BatchMatcher{searcher: searcher}
}

// MatchAll finds the best accepted match for each face independently. Two
// faces may match the same person. Results keep the input order and carry the
// source bounding box. Faces without an accepted match are left out unless
// opts.IncludeUnmatched is set. Any store failure aborts the whole batch.
func (m *BatchMatcher) MatchAll(
	ctx context.Context, faces []DetectedFace, store catalog.EmbeddingStore, acceptSimilarity float64, opts BatchOptions,
) ([]MatchResult, error) {
	if len(faces) == 0 {
		return []MatchResult{}, nil
	}
	if store == nil {
		return nil, errors.New("catalog store is required")
	}
	for i, f := range faces {
		if err := catalog.ValidateVector(f.Vector, store.Dimension()); err != nil {
			return nil, fmt.Errorf("face %d: %w", i, err)
		}
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}

	slots := make([]*MatchResult, len(faces))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, face := range faces {
		g.Go(func() error {
			matches, err := m.searcher.FindMatches(gctx, face.Vector, store, acceptSimilarity, 1)
			if err != nil {
				return fmt.Errorf("match face %d: %w", i, err)
			}
			box := face.Box
			switch {
			case len(matches) > 0:
				best := matches[0]
				best.Box = &box
				slots[i] = &best
			case opts.IncludeUnmatched:
				slots[i] = &MatchResult{Box: &box}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]MatchResult, 0, len(faces))
	for _, r := range slots {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}
