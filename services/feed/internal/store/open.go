package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/example/feed-platform/internal/platform/db"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

type OpenOptions struct {
	Backend     string
	DatabaseURL string
	SQLitePath  string
	// ExtraMigrations run after PostgresMigrations in the same version
	// sequence, for tables other packages keep in the feed database.
	ExtraMigrations []string
	Log             *zap.Logger
}

// Open builds the configured backend and migrates it. The postgres pool is
// returned so other components can share it; it is nil for other backends.
func Open(ctx context.Context, opts OpenOptions) (Store, *pgxpool.Pool, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	switch opts.Backend {
	case BackendPostgres:
		pool, err := db.Open(ctx, opts.DatabaseURL, db.Options{})
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		migrations := append(append([]string{}, PostgresMigrations...), opts.ExtraMigrations...)
		if err := db.Migrate(ctx, pool, migrations, log.Named("migrate")); err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Info("feed store: postgres")
		return NewPostgresStore(pool), pool, nil
	case BackendSQLite:
		st, err := OpenSQLite(opts.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", opts.SQLitePath, err)
		}
		log.Info("feed store: sqlite", zap.String("path", opts.SQLitePath))
		return st, nil, nil
	case BackendMemory, "":
		log.Warn("using in-memory feed store (development only)")
		return NewMemoryStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
