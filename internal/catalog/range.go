package catalog

import "context"

// RangeQuerier is implemented by stores that can restrict a query to
// candidates within a maximum cosine distance on the backend side.
type RangeQuerier interface {
	QueryWithin(ctx context.Context, vector []float32, k int, maxDistance float64) ([]Candidate, error)
}

// QueryWithin returns up to k candidates whose distance is at most maxDistance.
// Stores without native support are queried for k candidates and filtered.
func QueryWithin(ctx context.Context, s EmbeddingStore, vector []float32, k int, maxDistance float64) ([]Candidate, error) {
	if rq, ok := s.(RangeQuerier); ok {
		return rq.QueryWithin(ctx, vector, k, maxDistance)
	}
	cands, err := s.Query(ctx, vector, k)
	if err != nil {
		return nil, err
	}
	return WithinDistance(cands, maxDistance), nil
}

// WithinDistance keeps the candidates at most maxDistance away, in order.
func WithinDistance(cands []Candidate, maxDistance float64) []Candidate {
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if c.Distance <= maxDistance {
			out = append(out, c)
		}
	}
	return out
}
