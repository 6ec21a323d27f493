package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Failover serves from a primary store and switches to a fallback store once
// the primary reports ErrUnavailable. The switch is sticky until Probe sees
// the primary again.
//
// The two stores are substitutes, not replicas: records written while
// degraded live only in the fallback, and results read while degraded are
// provisional.
type Failover struct {
	primary  EmbeddingStore
	fallback EmbeddingStore
	degraded atomic.Bool
	logger   *slog.Logger
}

// NewFailover wraps primary with an optional fallback. With a nil fallback,
// primary errors surface to the caller unchanged.
func NewFailover(primary, fallback EmbeddingStore, logger *slog.Logger) (*Failover, error) {
	if primary == nil {
		return nil, errors.New("primary store is required")
	}
	if fallback != nil && fallback.Dimension() != primary.Dimension() {
		return nil, fmt.Errorf("fallback dimension %d does not match primary dimension %d",
			fallback.Dimension(), primary.Dimension())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Failover{primary: primary, fallback: fallback, logger: logger}, nil
}

// Dimension returns the shared vector dimension.
func (f *Failover) Dimension() int {
	return f.primary.Dimension()
}

// Degraded reports whether requests are being served by the fallback.
func (f *Failover) Degraded() bool {
	return f.degraded.Load()
}

// Upsert writes to the active store.
func (f *Failover) Upsert(ctx context.Context, rec VectorRecord) error {
	return f.do("upsert", func(s EmbeddingStore) error {
		return s.Upsert(ctx, rec)
	})
}

// Delete removes from the active store.
func (f *Failover) Delete(ctx context.Context, id string) error {
	return f.do("delete", func(s EmbeddingStore) error {
		return s.Delete(ctx, id)
	})
}

// Query reads from the active store.
func (f *Failover) Query(ctx context.Context, vector []float32, k int) ([]Candidate, error) {
	var out []Candidate
	err := f.do("query", func(s EmbeddingStore) error {
		var err error
		out, err = s.Query(ctx, vector, k)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// QueryWithin reads from the active store, restricted to maxDistance.
func (f *Failover) QueryWithin(ctx context.Context, vector []float32, k int, maxDistance float64) ([]Candidate, error) {
	var out []Candidate
	err := f.do("query", func(s EmbeddingStore) error {
		var err error
		out, err = QueryWithin(ctx, s, vector, k, maxDistance)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List pages through the active store.
func (f *Failover) List(ctx context.Context, offset, limit int) (Page, error) {
	var page Page
	err := f.do("list", func(s EmbeddingStore) error {
		var err error
		page, err = List(ctx, s, offset, limit)
		return err
	})
	return page, err
}

// Stats reports the active store's stats.
func (f *Failover) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := f.do("stats", func(s EmbeddingStore) error {
		var err error
		st, err = s.Stats(ctx)
		return err
	})
	st.Degraded = f.Degraded()
	return st, err
}

// Pin runs fn against the active store. When the primary becomes unavailable
// inside fn, fn is run again from the start against the fallback.
func (f *Failover) Pin(fn func(EmbeddingStore) error) error {
	return f.do("query", fn)
}

func (f *Failover) do(op string, fn func(EmbeddingStore) error) error {
	if f.fallback == nil {
		return fn(f.primary)
	}
	if !f.degraded.Load() {
		err := fn(f.primary)
		if err == nil || !errors.Is(err, ErrUnavailable) {
			return err
		}
		if f.degraded.CompareAndSwap(false, true) {
			f.logger.Warn("primary catalog unavailable, switching to fallback", "op", op, "error", err)
		}
	}
	return fn(f.fallback)
}

// Probe pings the primary and leaves degraded mode when it answers.
// Returns true when the primary is active after the call.
func (f *Failover) Probe(ctx context.Context) bool {
	if !f.degraded.Load() {
		return true
	}
	pinger, ok := f.primary.(Pinger)
	if !ok {
		return false
	}
	if err := pinger.Ping(ctx); err != nil {
		f.logger.Debug("primary catalog still unavailable", "error", err)
		return false
	}
	if f.degraded.CompareAndSwap(true, false) {
		f.logger.Info("primary catalog reachable again, leaving fallback")
	}
	return true
}

// RunProbe calls Probe every interval until ctx is done.
func (f *Failover) RunProbe(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Probe(ctx)
		}
	}
}

// Verify interface compliance.
var (
	_ EmbeddingStore = (*Failover)(nil)
	_ RangeQuerier   = (*Failover)(nil)
	_ Degrader       = (*Failover)(nil)
	_ Pinner         = (*Failover)(nil)
	_ Lister         = (*Failover)(nil)
)
