package catalog

import "context"

// EmbeddingStore is the contract shared by every catalog backend.
//
// Implementations must be safe for concurrent use: queries run in parallel,
// and each Upsert or Delete is atomic with respect to readers.
type EmbeddingStore interface {
	// Upsert inserts or replaces the record identified by rec.ID. A record
	// with the same person_id under a different ID is removed in the same step.
	Upsert(ctx context.Context, rec VectorRecord) error

	// Delete removes a record. Deleting an absent ID is not an error.
	Delete(ctx context.Context, id string) error

	// Query returns up to k candidates ordered by ascending cosine distance.
	// Equal distances are ordered by insertion, oldest first. An empty
	// catalog yields an empty result, not an error.
	Query(ctx context.Context, vector []float32, k int) ([]Candidate, error)

	// Dimension returns the fixed vector dimension of the store.
	Dimension() int

	// Stats reports record and corruption counts.
	Stats(ctx context.Context) (Stats, error)
}

// Stats describes the state of a store.
type Stats struct {
	Backend  string `json:"backend"`
	Records  int    `json:"records"`
	Corrupt  int64  `json:"corrupt"`
	Degraded bool   `json:"degraded"`
}

// Pinger is implemented by stores that can check backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Degrader is implemented by stores that may be serving from a substitute
// backend. Results read while degraded are provisional.
type Degrader interface {
	Degraded() bool
}

// Pinner is implemented by stores that front more than one backend. Pin runs
// fn against a single backend, so a sequence of calls inside fn never mixes
// results from different backends.
type Pinner interface {
	Pin(fn func(EmbeddingStore) error) error
}

// Pinned runs fn against one backend of s.
func Pinned(s EmbeddingStore, fn func(EmbeddingStore) error) error {
	if p, ok := s.(Pinner); ok {
		return p.Pin(fn)
	}
	return fn(s)
}

// IsDegraded reports whether s is currently serving from a fallback.
func IsDegraded(s EmbeddingStore) bool {
	d, ok := s.(Degrader)
	return ok && d.Degraded()
}
