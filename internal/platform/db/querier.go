package db

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultAlias names the database used when a logic unit does not pick one.
const DefaultAlias = "main"

// ErrUnknownAlias is returned when a logic unit targets an unconfigured database.
var ErrUnknownAlias = errors.New("platform/db: unknown database alias")

// Querier runs a statement and returns every row as a column map.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) ([]map[string]any, error)
}

// PoolQuerier adapts a pgx pool to Querier.
type PoolQuerier struct {
	pool *pgxpool.Pool
}

// NewPoolQuerier wraps pool.
func NewPoolQuerier(pool *pgxpool.Pool) PoolQuerier {
	return PoolQuerier{pool: pool}
}

// Query executes sql and collects the result rows.
func (q PoolQuerier) Query(ctx context.Context, sql string, args ...any) ([]map[string]any, error) {
	rows, err := q.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("platform/db: query: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("platform/db: collect rows: %w", err)
	}
	if out == nil {
		out = []map[string]any{}
	}
	return out, nil
}

// Registry resolves database aliases to query handles. Handles are owned by the caller.
type Registry struct {
	handles map[string]Querier
}

// NewRegistry builds a registry over the given alias map.
func NewRegistry(handles map[string]Querier) *Registry {
	copied := make(map[string]Querier, len(handles))
	for alias, q := range handles {
		copied[alias] = q
	}
	return &Registry{handles: copied}
}

// RegistryFromPools wraps every pool in a PoolQuerier.
func RegistryFromPools(pools map[string]*pgxpool.Pool) *Registry {
	handles := make(map[string]Querier, len(pools))
	for alias, pool := range pools {
		handles[alias] = NewPoolQuerier(pool)
	}
	return NewRegistry(handles)
}

// Get returns the handle for alias. Empty and "default" resolve to DefaultAlias.
func (r *Registry) Get(alias string) (Querier, error) {
	if alias == "" || alias == "default" {
		alias = DefaultAlias
	}
	if r != nil {
		if q, ok := r.handles[alias]; ok {
			return q, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownAlias, alias)
}

// Aliases lists configured aliases in sorted order.
func (r *Registry) Aliases() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.handles))
	for alias := range r.handles {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}
