package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/quay/zlog"
	"github.com/remind101/migrate"

	"github.com/dephealth/watchtower/datastore"
	"github.com/dephealth/watchtower/datastore/postgres/migrations"
	"github.com/dephealth/watchtower/internal/poolstats"
)

var _ datastore.Store = (*Store)(nil)

// Invalidator invalidates externally cached state for a package after
// a write. Implementations are best-effort; the store logs and
// discards their errors.
type Invalidator interface {
	InvalidatePackage(ctx context.Context, name string) error
}

// Connect initializes a [pgxpool.Pool] based on the connection string
// and registers pool metrics under applicationName.
func Connect(ctx context.Context, connString string, applicationName string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	const appnameKey = `application_name`
	params := cfg.ConnConfig.RuntimeParams
	if _, ok := params[appnameKey]; !ok {
		params[appnameKey] = applicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := prometheus.Register(poolstats.NewCollector(pool, applicationName)); err != nil {
		zlog.Info(ctx).Msg("pool metrics already registered")
	}

	return pool, nil
}

// InitPostgresStore initializes a datastore.Store given the pgxpool.Pool
func InitPostgresStore(_ context.Context, pool *pgxpool.Pool, inv Invalidator, doMigration bool) (datastore.Store, error) {
	db := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer db.Close()

	// do migrations if requested
	if doMigration {
		migrator := migrate.NewPostgresMigrator(db)
		migrator.Table = migrations.MigrationTable
		err := migrator.Exec(migrate.Up, migrations.Migrations...)
		if err != nil {
			return nil, fmt.Errorf("failed to perform migrations: %w", err)
		}
	}

	return NewStore(pool, inv), nil
}

// Store implements the datastore.Store interface.
//
// All the other exported methods live in their own files.
type Store struct {
	pool *pgxpool.Pool
	inv  Invalidator
}

// NewStore returns a Store backed by pool. A nil Invalidator disables
// cache invalidation.
func NewStore(pool *pgxpool.Pool, inv Invalidator) *Store {
	return &Store{
		pool: pool,
		inv:  inv,
	}
}

func (s *Store) Close(_ context.Context) error {
	s.pool.Close()
	return nil
}

// jsonb marshals v for passing to a $n::jsonb parameter.
func jsonb(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode jsonb value: %w", err)
	}
	return string(b), nil
}
