package catalog

import (
	"context"
	"errors"
	"fmt"
)

// ErrListUnsupported is returned by List for stores that cannot page through
// their records.
var ErrListUnsupported = errors.New("listing not supported")

// Enrollment is a listed record without its vector.
type Enrollment struct {
	RecordID string
	Metadata Metadata
}

// Page is one window of a listing, in insertion order.
type Page struct {
	Enrollments []Enrollment
	Total       int
}

// Lister is implemented by stores that can page through their records in
// insertion order. Records that cannot be read are left out.
type Lister interface {
	List(ctx context.Context, offset, limit int) (Page, error)
}

// List returns the records of s in [offset, offset+limit).
func List(ctx context.Context, s EmbeddingStore, offset, limit int) (Page, error) {
	if offset < 0 || limit <= 0 {
		return Page{}, fmt.Errorf("%w: offset %d, limit %d", ErrInvalidInput, offset, limit)
	}
	l, ok := s.(Lister)
	if !ok {
		return Page{}, ErrListUnsupported
	}
	return l.List(ctx, offset, limit)
}

// pageOf cuts the window [offset, offset+limit) out of all.
func pageOf(all []Enrollment, offset, limit int) Page {
	p := Page{Enrollments: []Enrollment{}, Total: len(all)}
	if offset >= len(all) {
		return p
	}
	end := min(offset+limit, len(all))
	p.Enrollments = all[offset:end]
	return p
}
