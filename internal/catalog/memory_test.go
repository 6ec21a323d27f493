package catalog

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(id, person string, v ...float32) VectorRecord {
	return VectorRecord{ID: id, Vector: v, Metadata: Metadata{PersonIDKey: person}}
}

func ids(cands []Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.RecordID
	}
	return out
}

func TestMemory_QueryOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)

	require.NoError(t, m.Upsert(ctx, rec("far", "p1", 0, 1)))
	require.NoError(t, m.Upsert(ctx, rec("near", "p2", 1, 0.1)))
	require.NoError(t, m.Upsert(ctx, rec("exact", "p3", 1, 0)))

	got, err := m.Query(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"exact", "near", "far"}, ids(got))
	assert.Equal(t, 0.0, got[0].Distance)
	assert.InDelta(t, 1.0, got[2].Distance, 1e-9)
}

func TestMemory_QueryTruncatesToK(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)
	for i := range 10 {
		require.NoError(t, m.Upsert(ctx, rec(fmt.Sprintf("r%d", i), fmt.Sprintf("p%d", i), 1, float32(i))))
	}

	got, err := m.Query(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"r0", "r1", "r2"}, ids(got))

	got, err = m.Query(ctx, []float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemory_TiesBreakByInsertion(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)

	require.NoError(t, m.Upsert(ctx, rec("a", "p1", 1, 1)))
	require.NoError(t, m.Upsert(ctx, rec("b", "p2", 1, 1)))
	require.NoError(t, m.Upsert(ctx, rec("c", "p3", 2, 2)))

	got, err := m.Query(ctx, []float32{1, 1}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(got))

	// Updating a keeps its original position.
	require.NoError(t, m.Upsert(ctx, rec("a", "p1", 3, 3)))
	got, err = m.Query(ctx, []float32{1, 1}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(got))
}

func TestMemory_EmptyCatalog(t *testing.T) {
	got, err := NewMemory(3).Query(context.Background(), []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestMemory_UpsertReplacesSamePerson(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)

	require.NoError(t, m.Upsert(ctx, rec("old", "alice", 1, 0)))
	require.NoError(t, m.Upsert(ctx, rec("new", "alice", 0, 1)))

	assert.Equal(t, 1, m.Len())
	_, ok := m.Get("old")
	assert.False(t, ok)

	got, err := m.Query(ctx, []float32{0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].RecordID)
	assert.Equal(t, "alice", got[0].Metadata.PersonID())
}

func TestMemory_UpsertSameIDChangesPerson(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)

	require.NoError(t, m.Upsert(ctx, rec("r1", "alice", 1, 0)))
	require.NoError(t, m.Upsert(ctx, rec("r1", "bob", 1, 0)))
	require.NoError(t, m.Upsert(ctx, rec("r2", "alice", 0, 1)))

	assert.Equal(t, 2, m.Len())
	r1, ok := m.Get("r1")
	require.True(t, ok)
	assert.Equal(t, "bob", r1.Metadata.PersonID())
}

func TestMemory_RejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(3)

	assert.ErrorIs(t, m.Upsert(ctx, rec("r", "p", 1, 0)), ErrInvalidInput)
	assert.ErrorIs(t, m.Upsert(ctx, rec("", "p", 1, 0, 0)), ErrInvalidInput)
	assert.ErrorIs(t, m.Upsert(ctx, rec("r", "", 1, 0, 0)), ErrInvalidInput)
	assert.Equal(t, 0, m.Len())

	_, err := m.Query(ctx, []float32{1, 0}, 5)
	var dimErr *DimensionError
	assert.ErrorAs(t, err, &dimErr)
}

func TestMemory_QueryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemory(2).Query(ctx, []float32{1, 0}, 5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemory_DeleteAbsentIsNoop(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)
	require.NoError(t, m.Upsert(ctx, rec("r1", "p1", 1, 0)))

	assert.NoError(t, m.Delete(ctx, "missing"))
	assert.NoError(t, m.Delete(ctx, "r1"))
	assert.NoError(t, m.Delete(ctx, "r1"))
	assert.Equal(t, 0, m.Len())

	// The person can be enrolled again under a new record.
	require.NoError(t, m.Upsert(ctx, rec("r2", "p1", 1, 0)))
	assert.Equal(t, 1, m.Len())
}

func TestMemory_StoredCopiesAreIsolated(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)
	r := rec("r1", "p1", 1, 0)
	require.NoError(t, m.Upsert(ctx, r))

	r.Vector[0] = 0
	r.Metadata[PersonIDKey] = "mutated"

	got, err := m.Query(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.0, got[0].Distance)
	assert.Equal(t, "p1", got[0].Metadata.PersonID())

	got[0].Metadata[PersonIDKey] = "changed"
	again, err := m.Query(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, "p1", again[0].Metadata.PersonID())
}

func TestMemory_SkipsCorruptRecords(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)
	require.NoError(t, m.Upsert(ctx, rec("good", "p1", 1, 0)))
	m.Restore([]VectorRecord{rec("bad", "p2", 1, 0, 0)})

	got, err := m.Query(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, ids(got))
	assert.Equal(t, int64(1), m.CorruptCount())

	st, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Backend: "memory", Records: 2, Corrupt: 1}, st)
}

func TestMemory_SnapshotRestore(t *testing.T) {
	ctx := context.Background()
	src := NewMemory(2)
	require.NoError(t, src.Upsert(ctx, rec("a", "p1", 1, 0)))
	require.NoError(t, src.Upsert(ctx, rec("b", "p2", 0, 1)))

	snap := src.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].ID)

	dst := NewMemory(2)
	dst.Restore(snap)
	got, err := dst.Query(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(got))
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(4)

	var wg sync.WaitGroup
	errs := make(chan error, 200)
	for w := range 4 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := range 25 {
				id := fmt.Sprintf("w%d-%d", w, i)
				if err := m.Upsert(ctx, rec(id, id, 1, float32(w), float32(i), 1)); err != nil {
					errs <- err
				}
			}
		}()
		go func() {
			defer wg.Done()
			for range 25 {
				got, err := m.Query(ctx, []float32{1, 1, 1, 1}, 5)
				if err != nil {
					errs <- err
					continue
				}
				for i := 1; i < len(got); i++ {
					if got[i].Distance < got[i-1].Distance {
						errs <- fmt.Errorf("unordered results: %v", got)
					}
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, 100, m.Len())
}
