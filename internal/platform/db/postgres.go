package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// New creates a new PostgreSQL connection pool.
func New(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("platform/db: parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("platform/db: new pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("platform/db: ping: %w", err)
	}

	return pool, nil
}

// OpenAll connects one pool per alias. Already opened pools are closed on failure.
func OpenAll(ctx context.Context, dsns map[string]string) (map[string]*pgxpool.Pool, error) {
	pools := make(map[string]*pgxpool.Pool, len(dsns))
	for alias, dsn := range dsns {
		pool, err := New(ctx, dsn)
		if err != nil {
			for _, p := range pools {
				p.Close()
			}
			return nil, fmt.Errorf("platform/db: alias %s: %w", alias, err)
		}
		pools[alias] = pool
	}
	return pools, nil
}
