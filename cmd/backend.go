package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/kozaktomas/face-matcher/internal/catalog"
	"github.com/kozaktomas/face-matcher/internal/catalog/postgres"
	"github.com/kozaktomas/face-matcher/internal/config"
	"github.com/kozaktomas/face-matcher/internal/facematch"
	"github.com/kozaktomas/face-matcher/internal/logging"
	"github.com/kozaktomas/face-matcher/internal/profile"
	"github.com/kozaktomas/face-matcher/internal/recognition"
)

// backend is an opened catalog with everything that must be closed with it.
type backend struct {
	store    catalog.EmbeddingStore
	pg       *postgres.Store
	failover *catalog.Failover
	pool     *postgres.Pool
	resolver *profile.SQLResolver
	logger   *slog.Logger
}

// loadConfig loads and validates the configuration and builds the logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// openBackend connects the configured catalog. The database must be reachable
// here; the memory fallback only covers outages after startup.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger, withFallback bool) (*backend, error) {
	b := &backend{logger: logger}
	dim := cfg.Catalog.Dimension

	if cfg.Catalog.Backend == "memory" {
		logger.Warn("using in-memory catalog, enrolled faces are lost on exit")
		b.store = catalog.NewMemory(dim, catalog.WithMemoryLogger(logger))
		return b, nil
	}

	logger.Info("connecting to PostgreSQL")
	pool, err := postgres.NewPool(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	b.pool = pool

	if _, err := pool.Migrate(ctx, dim, logger); err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	pg, err := postgres.NewStore(pool, dim,
		postgres.WithTimeout(cfg.Catalog.Timeout),
		postgres.WithLogger(logger),
	)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.pg = pg
	b.store = pg

	if n, err := pg.ReportCorrupt(ctx); err != nil {
		logger.Warn("failed to check for corrupt records", "error", err)
	} else if n > 0 {
		logger.Warn("catalog contains records with a foreign dimension, they are ignored", "count", n)
	}

	if cfg.Catalog.HNSW {
		if err := pg.EnableHNSW(ctx, cfg.Catalog.HNSWIndexPath); err != nil {
			logger.Warn("failed to build HNSW index, using PostgreSQL queries", "error", err)
		}
	}

	if withFallback && cfg.Catalog.Fallback {
		fo, err := catalog.NewFailover(pg, catalog.NewMemory(dim, catalog.WithMemoryLogger(logger)), logger)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.failover = fo
		b.store = fo
	}
	return b, nil
}

// newService builds the recognition service, with profile lookups when a
// profile database is configured.
func (b *backend) newService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*recognition.Service, error) {
	searcher, err := facematch.NewSearcher(cfg.Matching.RetrievalSimilarity)
	if err != nil {
		return nil, err
	}

	opts := []recognition.Option{recognition.WithLogger(logger)}
	if cfg.Profiles.URL != "" && b.resolver == nil {
		resolver, err := profile.OpenSQL(ctx, cfg.Profiles.URL, cfg.Profiles.Table)
		if err != nil {
			return nil, fmt.Errorf("failed to open profile database: %w", err)
		}
		b.resolver = resolver
	}
	if b.resolver != nil {
		opts = append(opts, recognition.WithResolver(b.resolver))
	}

	return recognition.NewService(b.store, searcher, recognition.Policy{
		AcceptSimilarity: cfg.Matching.AcceptSimilarity,
		MaxResults:       cfg.Matching.MaxResults,
		BatchConcurrency: cfg.Matching.BatchConcurrency,
	}, opts...)
}

// requirePostgres rejects commands that make no sense on a throwaway catalog.
func requirePostgres(cfg *config.Config) error {
	if cfg.Catalog.Backend != "postgres" {
		return errors.New("this command requires CATALOG_BACKEND=postgres")
	}
	return nil
}

// saveIndex persists the HNSW index if one is configured.
func (b *backend) saveIndex(ctx context.Context) {
	if b.pg == nil || !b.pg.IsHNSWEnabled() {
		return
	}
	if err := b.pg.SaveHNSWIndex(ctx); err != nil {
		b.logger.Warn("failed to save HNSW index", "error", err)
	}
}

// Close releases the database connections.
func (b *backend) Close() {
	if b.resolver != nil {
		if err := b.resolver.Close(); err != nil {
			b.logger.Warn("failed to close profile database", "error", err)
		}
	}
	if b.pool != nil {
		if err := b.pool.Close(); err != nil {
			b.logger.Warn("failed to close PostgreSQL pool", "error", err)
		}
	}
}
