package catalog_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-matcher/internal/catalog"
	"github.com/kozaktomas/face-matcher/internal/catalog/mock"
)

func record(id, person string, v ...float32) catalog.VectorRecord {
	return catalog.VectorRecord{ID: id, Vector: v, Metadata: catalog.Metadata{catalog.PersonIDKey: person}}
}

func TestNewFailover_Validation(t *testing.T) {
	_, err := catalog.NewFailover(nil, catalog.NewMemory(2), nil)
	assert.Error(t, err)

	_, err = catalog.NewFailover(mock.NewStore(2), catalog.NewMemory(3), nil)
	assert.Error(t, err)

	f, err := catalog.NewFailover(mock.NewStore(2), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, f.Dimension())
}

func TestFailover_ServesFromPrimary(t *testing.T) {
	ctx := context.Background()
	primary := mock.NewStore(2)
	fallback := catalog.NewMemory(2)
	f, err := catalog.NewFailover(primary, fallback, nil)
	require.NoError(t, err)

	require.NoError(t, f.Upsert(ctx, record("r1", "p1", 1, 0)))
	got, err := f.Query(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)

	assert.Len(t, got, 1)
	assert.Equal(t, 1, primary.Len())
	assert.Equal(t, 0, fallback.Len())
	assert.False(t, f.Degraded())
}

func TestFailover_SwitchesOnUnavailable(t *testing.T) {
	ctx := context.Background()
	primary := mock.NewStore(2)
	primary.Add(record("remote", "p1", 1, 0))
	fallback := catalog.NewMemory(2)
	require.NoError(t, fallback.Upsert(ctx, record("local", "p2", 1, 0)))

	f, err := catalog.NewFailover(primary, fallback, nil)
	require.NoError(t, err)

	primary.SetQueryError(catalog.Unavailable("query", errors.New("dial tcp: connection refused")))
	got, err := f.Query(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "local", got[0].RecordID)
	assert.True(t, f.Degraded())
	assert.True(t, catalog.IsDegraded(f))

	// Sticky: the primary is not consulted again until a probe succeeds.
	calls := primary.QueryCalls.Load()
	_, err = f.Query(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Equal(t, calls, primary.QueryCalls.Load())

	st, err := f.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "memory", st.Backend)
	assert.True(t, st.Degraded)
}

func TestFailover_OtherErrorsDoNotSwitch(t *testing.T) {
	ctx := context.Background()
	primary := mock.NewStore(2)
	f, err := catalog.NewFailover(primary, catalog.NewMemory(2), nil)
	require.NoError(t, err)

	boom := fmt.Errorf("query: %w", catalog.ErrCorruption)
	primary.SetQueryError(boom)

	_, err = f.Query(ctx, []float32{1, 0}, 5)
	assert.ErrorIs(t, err, catalog.ErrCorruption)
	assert.False(t, f.Degraded())
}

func TestFailover_WithoutFallbackSurfacesUnavailable(t *testing.T) {
	primary := mock.NewStore(2)
	primary.SetQueryError(catalog.Unavailable("query", context.DeadlineExceeded))
	f, err := catalog.NewFailover(primary, nil, nil)
	require.NoError(t, err)

	_, err = f.Query(context.Background(), []float32{1, 0}, 5)
	assert.ErrorIs(t, err, catalog.ErrUnavailable)
	assert.False(t, f.Degraded())
}

func TestFailover_ProbeRecovers(t *testing.T) {
	ctx := context.Background()
	primary := mock.NewStore(2)
	f, err := catalog.NewFailover(primary, catalog.NewMemory(2), nil)
	require.NoError(t, err)

	assert.True(t, f.Probe(ctx))
	assert.Equal(t, int64(0), primary.PingCalls.Load())

	primary.SetUpsertError(catalog.Unavailable("upsert", errors.New("timeout")))
	require.NoError(t, f.Upsert(ctx, record("r1", "p1", 1, 0)))
	require.True(t, f.Degraded())

	primary.SetPingError(errors.New("still down"))
	assert.False(t, f.Probe(ctx))
	assert.True(t, f.Degraded())

	primary.SetPingError(nil)
	primary.SetUpsertError(nil)
	assert.True(t, f.Probe(ctx))
	assert.False(t, f.Degraded())

	require.NoError(t, f.Upsert(ctx, record("r2", "p2", 0, 1)))
	assert.Equal(t, 1, primary.Len())
}

func TestFailover_RunProbeStopsOnCancel(t *testing.T) {
	f, err := catalog.NewFailover(mock.NewStore(2), catalog.NewMemory(2), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.RunProbe(ctx, 5e6)
		close(done)
	}()
	cancel()
	<-done
}
