// Package recognition exposes the enrollment and recognition operations used
// by the HTTP API and the CLI.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kozaktomas/face-matcher/internal/catalog"
	"github.com/kozaktomas/face-matcher/internal/facematch"
	"github.com/kozaktomas/face-matcher/internal/profile"
)

// resolveTimeout bounds a single profile lookup.
const resolveTimeout = 2 * time.Second

// ErrProfileSearchUnsupported is returned when the configured resolver cannot
// search by name.
var ErrProfileSearchUnsupported = errors.New("profile search not supported")

// Policy holds the matching thresholds.
type Policy struct {
	AcceptSimilarity float64
	MaxResults       int
	BatchConcurrency int
}

// Match is a match result enriched with display data. String fields are
// never absent: unknown values are empty strings.
type Match struct {
	PersonID   string                 `json:"person_id"`
	Name       string                 `json:"name"`
	Email      string                 `json:"email"`
	Department string                 `json:"department"`
	Confidence float64                `json:"confidence"`
	Percent    float64                `json:"confidence_percent"`
	Distance   float64                `json:"distance"`
	Accepted   bool                   `json:"accepted"`
	Box        *facematch.BoundingBox `json:"box,omitempty"`
}

// Recognition is the outcome of matching one face.
type Recognition struct {
	Recognized  bool    `json:"recognized"`
	Provisional bool    `json:"provisional"`
	Best        *Match  `json:"best,omitempty"`
	Candidates  []Match `json:"matches"`
}

// BatchRecognition is the outcome of matching all faces of an image.
type BatchRecognition struct {
	Faces       []Match `json:"faces"`
	Provisional bool    `json:"provisional"`
}

// Person is an enrolled person as returned by ListPeople.
type Person struct {
	PersonID   string `json:"person_id"`
	RecordID   string `json:"record_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Department string `json:"department"`
}

// PeoplePage is one window of enrolled people in enrollment order.
type PeoplePage struct {
	People      []Person `json:"people"`
	Total       int      `json:"total"`
	Provisional bool     `json:"provisional"`
}

// Service runs enrollment and recognition against one catalog.
type Service struct {
	store    catalog.EmbeddingStore
	resolver profile.Resolver
	searcher *facematch.Searcher
	batch    *facematch.BatchMatcher
	policy   Policy
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithResolver sets the profile resolver used to enrich matches.
func WithResolver(r profile.Resolver) Option {
	return func(s *Service) {
		s.resolver = r
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a service over store.
func NewService(store catalog.EmbeddingStore, searcher *facematch.Searcher, policy Policy, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("catalog store is required")
	}
	if searcher == nil {
		return nil, errors.New("searcher is required")
	}
	if policy.MaxResults <= 0 {
		return nil, fmt.Errorf("max results must be positive, got %d", policy.MaxResults)
	}
	if policy.AcceptSimilarity < searcher.RetrievalSimilarity() {
		return nil, fmt.Errorf("accept similarity %v is below retrieval similarity %v",
			policy.AcceptSimilarity, searcher.RetrievalSimilarity())
	}

	s := &Service{
		store:    store,
		searcher: searcher,
		batch:    facematch.NewBatchMatcher(searcher),
		policy:   policy,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Store returns the underlying catalog.
func (s *Service) Store() catalog.EmbeddingStore {
	return s.store
}

// Enroll stores vector as the face of personID and returns the record ID.
// Enrolling the same person again replaces the previous vector, so retries
// are safe.
func (s *Service) Enroll(ctx context.Context, personID string, vector []float32, metadata map[string]any) (string, error) {
	if personID == "" {
		return "", fmt.Errorf("%w: person id is required", catalog.ErrInvalidInput)
	}
	if err := catalog.ValidateVector(vector, s.store.Dimension()); err != nil {
		return "", err
	}
	meta, err := catalog.NormalizeMetadata(metadata)
	if err != nil {
		return "", err
	}
	meta[catalog.PersonIDKey] = personID

	rec := catalog.VectorRecord{ID: catalog.RecordID(personID), Vector: vector, Metadata: meta}
	if err := s.store.Upsert(ctx, rec); err != nil {
		return "", fmt.Errorf("enroll %s: %w", personID, err)
	}
	s.logger.Info("enrolled face", "person_id", personID, "record_id", rec.ID)
	return rec.ID, nil
}

// Remove deletes the face of personID. Unknown persons are ignored.
func (s *Service) Remove(ctx context.Context, personID string) error {
	if personID == "" {
		return fmt.Errorf("%w: person id is required", catalog.ErrInvalidInput)
	}
	if err := s.store.Delete(ctx, catalog.RecordID(personID)); err != nil {
		return fmt.Errorf("remove %s: %w", personID, err)
	}
	s.logger.Info("removed face", "person_id", personID)
	return nil
}

// RecognizeOne ranks catalog candidates for vector. The result is recognized
// when the best candidate passes the acceptance threshold.
func (s *Service) RecognizeOne(ctx context.Context, vector []float32) (*Recognition, error) {
	degraded := catalog.IsDegraded(s.store)

	ranked, err := s.searcher.Rank(ctx, vector, s.store, s.policy.AcceptSimilarity, s.policy.MaxResults)
	if err != nil {
		return nil, err
	}

	out := &Recognition{
		Provisional: degraded || catalog.IsDegraded(s.store),
		Candidates:  make([]Match, len(ranked)),
	}
	for i, r := range ranked {
		out.Candidates[i] = s.enrich(ctx, r)
	}
	if len(ranked) > 0 && ranked[0].Accepted {
		best := out.Candidates[0]
		out.Best = &best
		out.Recognized = true
	}
	return out, nil
}

// RecognizeAll matches every detected face independently. With
// includeUnmatched every face gets an entry, unmatched ones with empty fields.
func (s *Service) RecognizeAll(
	ctx context.Context, faces []facematch.DetectedFace, includeUnmatched bool,
) (*BatchRecognition, error) {
	degraded := catalog.IsDegraded(s.store)

	results, err := s.batch.MatchAll(ctx, faces, s.store, s.policy.AcceptSimilarity, facematch.BatchOptions{
		IncludeUnmatched: includeUnmatched,
		Concurrency:      s.policy.BatchConcurrency,
	})
	if err != nil {
		return nil, err
	}

	out := &BatchRecognition{
		Faces:       make([]Match, len(results)),
		Provisional: degraded || catalog.IsDegraded(s.store),
	}
	for i, r := range results {
		out.Faces[i] = s.enrich(ctx, r)
	}
	return out, nil
}

// enrich fills display fields from the record metadata, then lets the profile
// resolver override them. Resolver failures only cost the override.
func (s *Service) enrich(ctx context.Context, r facematch.MatchResult) Match {
	m := Match{
		PersonID:   r.PersonID,
		Name:       r.Metadata.String("name"),
		Email:      r.Metadata.String("email"),
		Department: r.Metadata.String("department"),
		Confidence: r.Confidence,
		Percent:    r.Percent(),
		Distance:   r.Distance,
		Accepted:   r.Accepted,
		Box:        r.Box,
	}
	if s.resolver == nil || r.PersonID == "" {
		return m
	}

	resolveCtx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()
	p, err := s.resolver.Resolve(resolveCtx, r.PersonID)
	if err != nil {
		s.logger.Warn("profile lookup failed, using embedded metadata",
			"person_id", r.PersonID, "error", err)
		return m
	}
	if p == nil {
		return m
	}
	if p.Name != "" {
		m.Name = p.Name
	}
	if p.Email != "" {
		m.Email = p.Email
	}
	if p.Department != "" {
		m.Department = p.Department
	}
	return m
}

// ListPeople returns enrolled people in [offset, offset+limit), oldest
// enrollment first. Display fields come from the record metadata.
func (s *Service) ListPeople(ctx context.Context, offset, limit int) (*PeoplePage, error) {
	degraded := catalog.IsDegraded(s.store)

	page, err := catalog.List(ctx, s.store, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list people: %w", err)
	}

	out := &PeoplePage{
		People:      make([]Person, len(page.Enrollments)),
		Total:       page.Total,
		Provisional: degraded || catalog.IsDegraded(s.store),
	}
	for i, e := range page.Enrollments {
		out.People[i] = Person{
			PersonID:   e.Metadata.PersonID(),
			RecordID:   e.RecordID,
			Name:       e.Metadata.String("name"),
			Email:      e.Metadata.String("email"),
			Department: e.Metadata.String("department"),
		}
	}
	return out, nil
}

// SearchProfiles finds profiles by name through the resolver.
func (s *Service) SearchProfiles(ctx context.Context, name string, limit int) ([]profile.Summary, error) {
	searcher, ok := s.resolver.(profile.NameSearcher)
	if !ok {
		return nil, ErrProfileSearchUnsupported
	}
	found, err := searcher.SearchByName(ctx, name, limit)
	if err != nil {
		return nil, fmt.Errorf("search profiles: %w", err)
	}
	return found, nil
}

// Stats reports catalog statistics.
func (s *Service) Stats(ctx context.Context) (catalog.Stats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return st, fmt.Errorf("catalog stats: %w", err)
	}
	st.Degraded = st.Degraded || catalog.IsDegraded(s.store)
	return st, nil
}

// Degraded reports whether the catalog is served from its fallback.
func (s *Service) Degraded() bool {
	return catalog.IsDegraded(s.store)
}
