// Package profile resolves person IDs to display profiles kept outside the
// catalog. Lookups are best effort: recognition never depends on them.
package profile

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Summary is the display information for an enrolled person.
type Summary struct {
	PersonID   string `json:"person_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Department string `json:"department"`
}

// Resolver looks up a profile by person ID. A nil summary with a nil error
// means the person has no profile.
type Resolver interface {
	Resolve(ctx context.Context, personID string) (*Summary, error)
}

// NameSearcher is implemented by resolvers that can search profiles by name.
type NameSearcher interface {
	SearchByName(ctx context.Context, name string, limit int) ([]Summary, error)
}

// Static is an in-memory Resolver, used when no profile database is
// configured and in tests.
type Static struct {
	mu       sync.RWMutex
	profiles map[string]Summary
}

// NewStatic creates a resolver holding profiles.
func NewStatic(profiles ...Summary) *Static {
	s := &Static{profiles: make(map[string]Summary, len(profiles))}
	for _, p := range profiles {
		s.profiles[p.PersonID] = p
	}
	return s
}

// Put adds or replaces a profile.
func (s *Static) Put(p Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.PersonID] = p
}

// Resolve returns the profile for personID, or nil when unknown.
func (s *Static) Resolve(_ context.Context, personID string) (*Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[personID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// SearchByName returns profiles whose name contains every word of name,
// sorted by name.
func (s *Static) SearchByName(_ context.Context, name string, limit int) ([]Summary, error) {
	s.mu.RLock()
	out := make([]Summary, 0)
	for _, p := range s.profiles {
		if MatchesName(p.Name, name) {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if c := strings.Compare(NormalizeName(out[i].Name), NormalizeName(out[j].Name)); c != 0 {
			return c < 0
		}
		return out[i].PersonID < out[j].PersonID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Verify interface compliance.
var (
	_ Resolver     = (*Static)(nil)
	_ NameSearcher = (*Static)(nil)
)
