// Package mock provides a catalog.EmbeddingStore with error injection for testing.
package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kozaktomas/face-matcher/internal/catalog"
)

// Store is an in-memory catalog.EmbeddingStore whose calls can be made to fail.
type Store struct {
	mem *catalog.Memory

	mu sync.RWMutex

	// Error injection
	UpsertError error
	DeleteError error
	QueryError  error
	StatsError  error
	ListError   error
	PingError   error

	UpsertCalls atomic.Int64
	DeleteCalls atomic.Int64
	QueryCalls  atomic.Int64
	PingCalls   atomic.Int64
}

// NewStore creates an empty mock store for vectors of dimension dim.
func NewStore(dim int) *Store {
	return &Store{mem: catalog.NewMemory(dim)}
}

// SetQueryError changes the injected query error while queries may be running.
func (s *Store) SetQueryError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.QueryError = err
}

// SetUpsertError changes the injected upsert error while writes may be running.
func (s *Store) SetUpsertError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UpsertError = err
}

// SetPingError changes the injected ping error.
func (s *Store) SetPingError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PingError = err
}

func (s *Store) injected(field *error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *field
}

// Add stores a record directly, bypassing error injection.
func (s *Store) Add(rec catalog.VectorRecord) {
	s.mem.Restore([]catalog.VectorRecord{rec})
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	return s.mem.Len()
}

// Dimension returns the vector dimension.
func (s *Store) Dimension() int {
	return s.mem.Dimension()
}

// Upsert inserts or replaces a record.
func (s *Store) Upsert(ctx context.Context, rec catalog.VectorRecord) error {
	s.UpsertCalls.Add(1)
	if err := s.injected(&s.UpsertError); err != nil {
		return err
	}
	return s.mem.Upsert(ctx, rec)
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.DeleteCalls.Add(1)
	if err := s.injected(&s.DeleteError); err != nil {
		return err
	}
	return s.mem.Delete(ctx, id)
}

// Query returns the k nearest records.
func (s *Store) Query(ctx context.Context, vector []float32, k int) ([]catalog.Candidate, error) {
	s.QueryCalls.Add(1)
	if err := s.injected(&s.QueryError); err != nil {
		return nil, err
	}
	return s.mem.Query(ctx, vector, k)
}

// QueryWithin returns the k nearest records at most maxDistance away.
func (s *Store) QueryWithin(ctx context.Context, vector []float32, k int, maxDistance float64) ([]catalog.Candidate, error) {
	s.QueryCalls.Add(1)
	if err := s.injected(&s.QueryError); err != nil {
		return nil, err
	}
	return s.mem.QueryWithin(ctx, vector, k, maxDistance)
}

// Stats reports the record count.
func (s *Store) Stats(ctx context.Context) (catalog.Stats, error) {
	if err := s.injected(&s.StatsError); err != nil {
		return catalog.Stats{}, err
	}
	st, err := s.mem.Stats(ctx)
	st.Backend = "mock"
	return st, err
}

// List pages through the stored records.
func (s *Store) List(ctx context.Context, offset, limit int) (catalog.Page, error) {
	if err := s.injected(&s.ListError); err != nil {
		return catalog.Page{}, err
	}
	return s.mem.List(ctx, offset, limit)
}

// Ping reports the injected ping error.
func (s *Store) Ping(_ context.Context) error {
	s.PingCalls.Add(1)
	return s.injected(&s.PingError)
}

// Verify interface compliance.
var (
	_ catalog.EmbeddingStore = (*Store)(nil)
	_ catalog.RangeQuerier   = (*Store)(nil)
	_ catalog.Pinger         = (*Store)(nil)
	_ catalog.Lister         = (*Store)(nil)
)
