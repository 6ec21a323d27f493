package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

// Memory is the in-process fallback store. Queries are a full linear scan,
// O(n·D) each, so it suits small catalogs or short outages of the remote index.
//
// It is safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	dim      int
	records  map[string]*memoryEntry
	byPerson map[string]string // person_id -> record ID
	nextSeq  uint64

	corrupt atomic.Int64
	logger  *slog.Logger
}

type memoryEntry struct {
	record VectorRecord
	seq    uint64
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithMemoryLogger sets the logger used to report skipped records.
func WithMemoryLogger(l *slog.Logger) MemoryOption {
	return func(m *Memory) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMemory creates an empty in-memory store for vectors of dimension dim.
func NewMemory(dim int, opts ...MemoryOption) *Memory {
	m := &Memory{
		dim:      dim,
		records:  make(map[string]*memoryEntry),
		byPerson: make(map[string]string),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dimension returns the vector dimension.
func (m *Memory) Dimension() int {
	return m.dim
}

// Upsert inserts or replaces a record. A replaced record keeps its original
// insertion position for tie-breaking.
func (m *Memory) Upsert(_ context.Context, rec VectorRecord) error {
	if err := ValidateRecord(rec, m.dim); err != nil {
		return err
	}
	stored := VectorRecord{
		ID:       rec.ID,
		Vector:   cloneVector(rec.Vector),
		Metadata: rec.Metadata.Clone(),
	}
	personID := rec.Metadata.PersonID()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(stored, personID)
	return nil
}

func (m *Memory) putLocked(rec VectorRecord, personID string) {
	if prevID, ok := m.byPerson[personID]; ok && prevID != rec.ID {
		delete(m.records, prevID)
	}
	if existing, ok := m.records[rec.ID]; ok {
		if oldPerson := existing.record.Metadata.PersonID(); oldPerson != personID {
			delete(m.byPerson, oldPerson)
		}
		existing.record = rec
	} else {
		m.records[rec.ID] = &memoryEntry{record: rec, seq: m.nextSeq}
		m.nextSeq++
	}
	m.byPerson[personID] = rec.ID
}

// Delete removes a record; absent IDs are ignored.
func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.records[id]
	if !ok {
		return nil
	}
	personID := entry.record.Metadata.PersonID()
	if m.byPerson[personID] == id {
		delete(m.byPerson, personID)
	}
	delete(m.records, id)
	return nil
}

// Query scans every stored vector and returns the k closest.
// Records whose dimension no longer matches are skipped and counted.
func (m *Memory) Query(ctx context.Context, vector []float32, k int) ([]Candidate, error) {
	return m.scan(ctx, vector, k, 2)
}

// QueryWithin is Query restricted to records at most maxDistance away.
func (m *Memory) QueryWithin(ctx context.Context, vector []float32, k int, maxDistance float64) ([]Candidate, error) {
	return m.scan(ctx, vector, k, maxDistance)
}

func (m *Memory) scan(ctx context.Context, vector []float32, k int, maxDistance float64) ([]Candidate, error) {
	if err := ValidateVector(vector, m.dim); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	if k <= 0 {
		return []Candidate{}, nil
	}

	type scored struct {
		entry *memoryEntry
		dist  float64
	}

	m.mu.RLock()
	results := make([]scored, 0, len(m.records))
	for _, e := range m.records {
		if len(e.record.Vector) != m.dim {
			m.reportCorrupt(e.record.ID, len(e.record.Vector))
			continue
		}
		d := CosineDistance(vector, e.record.Vector)
		if d > maxDistance {
			continue
		}
		results = append(results, scored{entry: e, dist: d})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].dist != results[j].dist {
			return results[i].dist < results[j].dist
		}
		return results[i].entry.seq < results[j].entry.seq
	})
	if len(results) > k {
		results = results[:k]
	}

	out := make([]Candidate, len(results))
	for i, r := range results {
		out[i] = Candidate{
			RecordID: r.entry.record.ID,
			Distance: r.dist,
			Metadata: r.entry.record.Metadata.Clone(),
		}
	}
	m.mu.RUnlock()

	return out, nil
}

func (m *Memory) reportCorrupt(id string, dim int) {
	m.corrupt.Add(1)
	m.logger.Warn("skipping corrupt record",
		"backend", "memory", "record_id", id, "dim", dim, "expected_dim", m.dim)
}

// Get returns a copy of the record with the given ID.
func (m *Memory) Get(id string) (VectorRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.records[id]
	if !ok {
		return VectorRecord{}, false
	}
	return VectorRecord{
		ID:       e.record.ID,
		Vector:   cloneVector(e.record.Vector),
		Metadata: e.record.Metadata.Clone(),
	}, true
}

// Len returns the number of stored records, corrupt ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// CorruptCount returns how many times a corrupt record was skipped.
func (m *Memory) CorruptCount() int64 {
	return m.corrupt.Load()
}

// Stats reports the record count and corruption counter.
func (m *Memory) Stats(_ context.Context) (Stats, error) {
	return Stats{
		Backend: "memory",
		Records: m.Len(),
		Corrupt: m.CorruptCount(),
	}, nil
}

// Snapshot returns copies of all records in insertion order.
func (m *Memory) Snapshot() []VectorRecord {
	m.mu.RLock()
	entries := make([]*memoryEntry, 0, len(m.records))
	for _, e := range m.records {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]VectorRecord, len(entries))
	for i, e := range entries {
		out[i] = VectorRecord{
			ID:       e.record.ID,
			Vector:   cloneVector(e.record.Vector),
			Metadata: e.record.Metadata.Clone(),
		}
	}
	return out
}

// List pages through the records in insertion order. Records whose
// dimension no longer matches are left out.
func (m *Memory) List(ctx context.Context, offset, limit int) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, fmt.Errorf("list: %w", err)
	}
	all := make([]Enrollment, 0)
	for _, rec := range m.Snapshot() {
		if len(rec.Vector) != m.dim {
			continue
		}
		all = append(all, Enrollment{RecordID: rec.ID, Metadata: rec.Metadata})
	}
	return pageOf(all, offset, limit), nil
}

// Restore loads records as-is, replacing existing ones with the same ID.
// Dimensions are not checked here; mismatched records surface as corruption
// at query time.
func (m *Memory) Restore(records []VectorRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		m.putLocked(VectorRecord{
			ID:       rec.ID,
			Vector:   cloneVector(rec.Vector),
			Metadata: rec.Metadata.Clone(),
		}, rec.Metadata.PersonID())
	}
}

// Verify interface compliance.
var (
	_ EmbeddingStore = (*Memory)(nil)
	_ RangeQuerier   = (*Memory)(nil)
	_ Lister         = (*Memory)(nil)
)
