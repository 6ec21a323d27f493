package facematch

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/kozaktomas/face-matcher/internal/catalog"
)

// Searcher runs the two-threshold nearest-neighbor search.
//
// The retrieval threshold bounds the first, range-restricted fetch. When it
// yields fewer than maxResults candidates the catalog is queried again without
// a threshold and the extra candidates are merged in, so callers always see up
// to maxResults ranked candidates if the catalog holds them. The acceptance
// threshold then decides which candidates count as matches.
type Searcher struct {
	retrievalSimilarity float64
}

// NewSearcher creates a searcher with the given retrieval threshold.
func NewSearcher(retrievalSimilarity float64) (*Searcher, error) {
	if retrievalSimilarity < 0 || retrievalSimilarity > 1 {
		return nil, fmt.Errorf("%w: retrieval similarity %v outside [0, 1]",
			catalog.ErrInvalidInput, retrievalSimilarity)
	}
	return &Searcher{retrievalSimilarity: retrievalSimilarity}, nil
}

// RetrievalSimilarity returns the retrieval threshold.
func (s *Searcher) RetrievalSimilarity() float64 {
	return s.retrievalSimilarity
}

// Rank returns up to maxResults candidates for vector ordered by ascending
// distance, each flagged with whether it passes acceptSimilarity.
func (s *Searcher) Rank(
	ctx context.Context, vector []float32, store catalog.EmbeddingStore, acceptSimilarity float64, maxResults int,
) ([]MatchResult, error) {
	if store == nil {
		return nil, errors.New("catalog store is required")
	}
	if err := catalog.ValidateVector(vector, store.Dimension()); err != nil {
		return nil, err
	}
	if maxResults <= 0 {
		return []MatchResult{}, nil
	}

	maxDistance := 1 - s.retrievalSimilarity
	var cands []catalog.Candidate
	err := catalog.Pinned(store, func(backend catalog.EmbeddingStore) error {
		var err error
		cands, err = retrieve(ctx, backend, vector, maxResults, maxDistance)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]MatchResult, len(cands))
	for i, c := range cands {
		out[i] = newMatchResult(c, acceptSimilarity)
	}
	return out, nil
}

// retrieve runs the range query and, when it comes back short, the unbounded
// backfill against the same backend.
func retrieve(
	ctx context.Context, store catalog.EmbeddingStore, vector []float32, maxResults int, maxDistance float64,
) ([]catalog.Candidate, error) {
	cands, err := catalog.QueryWithin(ctx, store, vector, maxResults, maxDistance)
	if err != nil {
		return nil, fmt.Errorf("retrieve candidates: %w", err)
	}
	if len(cands) < maxResults {
		more, err := store.Query(ctx, vector, maxResults)
		if err != nil {
			return nil, fmt.Errorf("backfill candidates: %w", err)
		}
		cands = mergeCandidates(cands, more)
	}
	if len(cands) > maxResults {
		cands = cands[:maxResults]
	}
	return cands, nil
}

// FindMatches returns the accepted candidates among the top maxResults.
// An empty result means no confident match.
func (s *Searcher) FindMatches(
	ctx context.Context, vector []float32, store catalog.EmbeddingStore, acceptSimilarity float64, maxResults int,
) ([]MatchResult, error) {
	ranked, err := s.Rank(ctx, vector, store, acceptSimilarity, maxResults)
	if err != nil {
		return nil, err
	}
	accepted := ranked[:0]
	for _, r := range ranked {
		if r.Accepted {
			accepted = append(accepted, r)
		}
	}
	return accepted, nil
}

// mergeCandidates appends the candidates of extra not already in base and
// re-sorts by distance. Both inputs come from the same store and are already
// in store order, which the stable sort keeps for equal distances.
func mergeCandidates(base, extra []catalog.Candidate) []catalog.Candidate {
	seen := make(map[string]struct{}, len(base))
	merged := make([]catalog.Candidate, 0, len(base)+len(extra))
	for _, c := range base {
		seen[c.RecordID] = struct{}{}
		merged = append(merged, c)
	}
	for _, c := range extra {
		if _, dup := seen[c.RecordID]; dup {
			continue
		}
		seen[c.RecordID] = struct{}{}
		merged = append(merged, c)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Distance < merged[j].Distance
	})
	return merged
}
