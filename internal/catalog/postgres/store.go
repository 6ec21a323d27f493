package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-matcher/internal/catalog"
)

// Store is the remote catalog backend. Vectors live in the face_vectors table
// and are searched by cosine distance, optionally through an in-memory HNSW
// index kept in sync with every write.
type Store struct {
	pool  *Pool
	dim   int
	retry retrier

	logger *slog.Logger

	// unreadable holds IDs of rows whose metadata failed to decode.
	unreadable   map[string]struct{}
	unreadableMu sync.Mutex

	hnswIndex     *catalog.HNSWIndex
	hnswEnabled   bool
	hnswIndexPath string // Path to persist HNSW index (optional)
	hnswMu        sync.RWMutex
}

// Option configures a Store.
type Option func(*Store)

// WithTimeout sets the per-attempt timeout. Values outside (0, DefaultTimeout]
// fall back to DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 && d <= DefaultTimeout {
			s.retry.timeout = d
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
			s.retry.logger = l
		}
	}
}

// NewStore creates a store for vectors of dimension dim on pool.
func NewStore(pool *Pool, dim int, opts ...Option) (*Store, error) {
	if pool == nil {
		return nil, errors.New("postgres pool is required")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("invalid catalog dimension %d", dim)
	}
	s := &Store{
		pool:       pool,
		dim:        dim,
		logger:     slog.Default(),
		retry:      retrier{timeout: DefaultTimeout, logger: slog.Default()},
		unreadable: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dimension returns the vector dimension.
func (s *Store) Dimension() int {
	return s.dim
}

// Upsert writes rec and removes any other record of the same person in one
// transaction. The write is not cancelled by the caller's context.
func (s *Store) Upsert(ctx context.Context, rec catalog.VectorRecord) error {
	if err := catalog.ValidateRecord(rec, s.dim); err != nil {
		return err
	}
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("%w: marshal metadata: %w", catalog.ErrInvalidInput, err)
	}
	personID := rec.Metadata.PersonID()

	var (
		seq     int64
		removed []string
	)
	err = s.retry.do(context.WithoutCancel(ctx), "upsert", func(ctx context.Context) error {
		var txErr error
		seq, removed, txErr = s.upsertTx(ctx, rec, personID, metadata)
		return txErr
	})
	if err != nil {
		return err
	}

	s.forgetUnreadable(append(removed, rec.ID)...)
	if idx := s.activeIndex(); idx != nil {
		for _, id := range removed {
			idx.Delete(id)
		}
		idx.Add(rec, seq)
	}
	return nil
}

func (s *Store) upsertTx(
	ctx context.Context, rec catalog.VectorRecord, personID string, metadata []byte,
) (int64, []string, error) {
	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`DELETE FROM face_vectors WHERE person_id = $1 AND id <> $2 RETURNING id`,
		personID, rec.ID)
	if err != nil {
		return 0, nil, fmt.Errorf("delete previous record: %w", err)
	}
	var removed []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, nil, fmt.Errorf("scan removed record: %w", err)
		}
		removed = append(removed, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("iterate removed records: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO face_vectors (id, person_id, embedding, dim, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			person_id = EXCLUDED.person_id,
			embedding = EXCLUDED.embedding,
			dim = EXCLUDED.dim,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING seq
	`, rec.ID, personID, pgvector.NewVector(rec.Vector), len(rec.Vector), metadata).Scan(&seq)
	if err != nil {
		return 0, nil, fmt.Errorf("insert record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("commit upsert: %w", err)
	}
	return seq, removed, nil
}

// Delete removes the record with the given ID. Absent IDs are ignored.
func (s *Store) Delete(ctx context.Context, id string) error {
	err := s.retry.do(context.WithoutCancel(ctx), "delete", func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, "DELETE FROM face_vectors WHERE id = $1", id)
		return err
	})
	if err != nil {
		return err
	}
	s.forgetUnreadable(id)
	if idx := s.activeIndex(); idx != nil {
		idx.Delete(id)
	}
	return nil
}

// Query returns the k nearest records to vector. Rows stored with a
// different dimension are never returned.
func (s *Store) Query(ctx context.Context, vector []float32, k int) ([]catalog.Candidate, error) {
	return s.QueryWithin(ctx, vector, k, 2)
}

// QueryWithin is Query restricted to records at most maxDistance away.
func (s *Store) QueryWithin(
	ctx context.Context, vector []float32, k int, maxDistance float64,
) ([]catalog.Candidate, error) {
	if err := catalog.ValidateVector(vector, s.dim); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []catalog.Candidate{}, nil
	}

	if idx := s.activeIndex(); idx != nil {
		return catalog.WithinDistance(idx.Search(vector, k), maxDistance), nil
	}

	var out []catalog.Candidate
	err := s.retry.do(ctx, "query", func(ctx context.Context) error {
		var err error
		out, err = s.queryPostgres(ctx, vector, k, maxDistance)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// queryPostgres runs the nearest-neighbor query inside a read-only transaction
// so that ef_search can be raised for this statement only. The inner query is
// served by the partial HNSW index; the outer one applies the tie-break.
func (s *Store) queryPostgres(
	ctx context.Context, vector []float32, k int, maxDistance float64,
) ([]catalog.Candidate, error) {
	tx, err := s.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	efSearch := max(catalog.HNSWEfSearch, k*catalog.HNSWSearchMultiplier)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", efSearch)); err != nil {
		return nil, fmt.Errorf("set ef_search: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, distance, metadata FROM (
			SELECT id, seq, metadata, embedding::vector(%[1]d) <=> $1::vector(%[1]d) AS distance
			FROM face_vectors
			WHERE dim = %[1]d
			ORDER BY embedding::vector(%[1]d) <=> $1::vector(%[1]d)
			LIMIT $2
		) nearest
		WHERE distance <= $4
		ORDER BY distance, seq
		LIMIT $3
	`, s.dim)

	rows, err := tx.QueryContext(ctx, query,
		pgvector.NewVector(vector), k*catalog.HNSWSearchMultiplier, k, maxDistance)
	if err != nil {
		return nil, fmt.Errorf("query nearest faces: %w", err)
	}
	defer rows.Close()

	out := make([]catalog.Candidate, 0, k)
	for rows.Next() {
		var (
			c   catalog.Candidate
			raw []byte
		)
		if err := rows.Scan(&c.RecordID, &c.Distance, &raw); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c.Distance = catalog.ClampDistance(c.Distance)
		if c.Metadata, err = catalog.DecodeMetadata(raw); err != nil {
			s.markUnreadable(c.RecordID, err)
			continue
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}

// markUnreadable logs a row whose metadata cannot be decoded the first time
// it is seen and counts it as corrupt.
func (s *Store) markUnreadable(id string, err error) {
	s.unreadableMu.Lock()
	_, seen := s.unreadable[id]
	s.unreadable[id] = struct{}{}
	s.unreadableMu.Unlock()
	if !seen {
		s.logger.Warn("skipping corrupt record",
			"backend", "postgres", "record_id", id, "error", err)
	}
}

func (s *Store) forgetUnreadable(ids ...string) {
	s.unreadableMu.Lock()
	defer s.unreadableMu.Unlock()
	for _, id := range ids {
		delete(s.unreadable, id)
	}
}

func (s *Store) unreadableCount() int {
	s.unreadableMu.Lock()
	defer s.unreadableMu.Unlock()
	return len(s.unreadable)
}

// List pages through usable rows in insertion order. Rows whose metadata
// cannot be decoded are left out and counted as corrupt.
func (s *Store) List(ctx context.Context, offset, limit int) (catalog.Page, error) {
	var page catalog.Page
	err := s.retry.do(ctx, "list", func(ctx context.Context) error {
		var err error
		page, err = s.listPostgres(ctx, offset, limit)
		return err
	})
	return page, err
}

func (s *Store) listPostgres(ctx context.Context, offset, limit int) (catalog.Page, error) {
	page := catalog.Page{Enrollments: []catalog.Enrollment{}}
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM face_vectors WHERE dim = $1", s.dim).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("count face vectors: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, metadata FROM face_vectors
		WHERE dim = $1
		ORDER BY seq
		OFFSET $2 LIMIT $3
	`, s.dim, offset, limit)
	if err != nil {
		return page, fmt.Errorf("list face vectors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e   catalog.Enrollment
			raw []byte
		)
		if err := rows.Scan(&e.RecordID, &raw); err != nil {
			return page, fmt.Errorf("scan face vector: %w", err)
		}
		if e.Metadata, err = catalog.DecodeMetadata(raw); err != nil {
			s.markUnreadable(e.RecordID, err)
			continue
		}
		page.Enrollments = append(page.Enrollments, e)
	}
	if err := rows.Err(); err != nil {
		return page, fmt.Errorf("iterate face vectors: %w", err)
	}
	page.Total = max(page.Total-s.unreadableCount(), offset+len(page.Enrollments))
	return page, nil
}

// Ping checks that the database answers within the store timeout.
func (s *Store) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, s.retry.timeout)
	defer cancel()
	if err := s.pool.Ping(pingCtx); err != nil {
		return catalog.Unavailable("ping", err)
	}
	return nil
}

// Stats counts usable and corrupt rows. Rows whose metadata failed to decode
// since startup count as corrupt.
func (s *Store) Stats(ctx context.Context) (catalog.Stats, error) {
	st := catalog.Stats{Backend: "postgres"}
	err := s.retry.do(ctx, "stats", func(ctx context.Context) error {
		var records int
		var corrupt int64
		err := s.pool.QueryRow(ctx, `
			SELECT COUNT(*) FILTER (WHERE dim = $1), COUNT(*) FILTER (WHERE dim <> $1)
			FROM face_vectors
		`, s.dim).Scan(&records, &corrupt)
		if err != nil {
			return fmt.Errorf("count face vectors: %w", err)
		}
		unreadable := s.unreadableCount()
		st.Records = max(records-unreadable, 0)
		st.Corrupt = corrupt + int64(unreadable)
		return nil
	})
	return st, err
}

// ReportCorrupt logs every row whose dimension differs from the store's and
// returns how many there are.
func (s *Store) ReportCorrupt(ctx context.Context) (int, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, dim FROM face_vectors WHERE dim <> $1 ORDER BY seq", s.dim)
	if err != nil {
		return 0, fmt.Errorf("query corrupt records: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var id string
		var dim int
		if err := rows.Scan(&id, &dim); err != nil {
			return n, fmt.Errorf("scan corrupt record: %w", err)
		}
		s.logger.Warn("skipping corrupt record",
			"backend", "postgres", "record_id", id, "dim", dim, "expected_dim", s.dim)
		n++
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("iterate corrupt records: %w", err)
	}
	return n, nil
}

func (s *Store) activeIndex() *catalog.HNSWIndex {
	s.hnswMu.RLock()
	defer s.hnswMu.RUnlock()
	if !s.hnswEnabled {
		return nil
	}
	return s.hnswIndex
}

// IsHNSWEnabled returns whether queries are served from the HNSW index.
func (s *Store) IsHNSWEnabled() bool {
	return s.activeIndex() != nil
}

// indexState describes the table contents the HNSW index must match.
func (s *Store) indexState(ctx context.Context) (catalog.HNSWIndexMetadata, error) {
	var meta catalog.HNSWIndexMetadata
	var lastWrite sql.NullTime
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(MAX(seq), 0), MAX(updated_at)
		FROM face_vectors WHERE dim = $1
	`, s.dim).Scan(&meta.RecordCount, &meta.MaxSeq, &lastWrite)
	if err != nil {
		return meta, fmt.Errorf("query index state: %w", err)
	}
	if lastWrite.Valid {
		meta.LastWrite = lastWrite.Time.UTC()
	}
	return meta, nil
}

// EnableHNSW serves queries from an in-memory HNSW index. When path names a
// saved index that still matches the table it is loaded; otherwise the index
// is built from all usable rows.
func (s *Store) EnableHNSW(ctx context.Context, path string) error {
	state, err := s.indexState(ctx)
	if err != nil {
		return err
	}

	idx := catalog.NewHNSWIndex()
	loaded := false
	if path != "" {
		loaded = s.tryLoadIndex(idx, path, state)
	}
	if !loaded {
		records, err := s.loadAll(ctx)
		if err != nil {
			return err
		}
		idx.Build(records)
		s.logger.Info("built HNSW index", "records", len(records))
	}

	s.hnswMu.Lock()
	s.hnswIndex = idx
	s.hnswEnabled = true
	s.hnswIndexPath = path
	s.hnswMu.Unlock()
	return nil
}

func (s *Store) tryLoadIndex(idx *catalog.HNSWIndex, path string, state catalog.HNSWIndexMetadata) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	saved, err := catalog.LoadHNSWMetadata(path)
	if err != nil {
		s.logger.Warn("ignoring HNSW index metadata", "path", path, "error", err)
		return false
	}
	if saved.RecordCount != state.RecordCount || saved.MaxSeq != state.MaxSeq ||
		!saved.LastWrite.Equal(state.LastWrite) {
		s.logger.Info("saved HNSW index is stale, rebuilding", "path", path,
			"saved_records", saved.RecordCount, "records", state.RecordCount)
		return false
	}
	if err := idx.Load(path); err != nil {
		s.logger.Warn("failed to load HNSW index, rebuilding", "path", path, "error", err)
		return false
	}
	s.logger.Info("loaded HNSW index", "path", path, "records", idx.Count())
	return true
}

func (s *Store) loadAll(ctx context.Context) ([]catalog.IndexedRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, seq, embedding, metadata FROM face_vectors WHERE dim = $1 ORDER BY seq
	`, s.dim)
	if err != nil {
		return nil, fmt.Errorf("query face vectors: %w", err)
	}
	defer rows.Close()

	var out []catalog.IndexedRecord
	for rows.Next() {
		var (
			r   catalog.IndexedRecord
			vec pgvector.Vector
			raw []byte
		)
		if err := rows.Scan(&r.Record.ID, &r.Seq, &vec, &raw); err != nil {
			return nil, fmt.Errorf("scan face vector: %w", err)
		}
		r.Record.Vector = vec.Slice()
		if r.Record.Metadata, err = catalog.DecodeMetadata(raw); err != nil {
			s.markUnreadable(r.Record.ID, err)
			continue
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate face vectors: %w", err)
	}
	return out, nil
}

// SaveHNSWIndex persists the HNSW index to the path given to EnableHNSW.
func (s *Store) SaveHNSWIndex(ctx context.Context) error {
	s.hnswMu.RLock()
	idx, path, enabled := s.hnswIndex, s.hnswIndexPath, s.hnswEnabled
	s.hnswMu.RUnlock()

	if !enabled || idx == nil || path == "" {
		return nil
	}
	state, err := s.indexState(ctx)
	if err != nil {
		return err
	}
	if err := idx.SaveWithMetadata(path, state); err != nil {
		return fmt.Errorf("save HNSW index: %w", err)
	}
	s.logger.Info("saved HNSW index", "path", path, "records", idx.Count())
	return nil
}

// Verify interface compliance.
var (
	_ catalog.EmbeddingStore = (*Store)(nil)
	_ catalog.RangeQuerier   = (*Store)(nil)
	_ catalog.Pinger         = (*Store)(nil)
	_ catalog.Lister         = (*Store)(nil)
)
