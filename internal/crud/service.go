package crud

import (
	"context"
	"fmt"
	"sync"

	"github.com/odyssey-erp/odyssey-edge/internal/auth"
	"github.com/odyssey-erp/odyssey-edge/internal/platform/db"
	"github.com/odyssey-erp/odyssey-edge/internal/rbac"
)

// Schema memoises physical column lists per database alias and table.
type Schema struct {
	columns sync.Map
}

// Columns returns the columns of table on alias, discovering them through q once.
func (s *Schema) Columns(ctx context.Context, alias string, q db.Querier, table string) ([]string, error) {
	key := alias + "/" + table
	if cached, ok := s.columns.Load(key); ok {
		return cached.([]string), nil
	}
	cols, err := db.TableColumns(ctx, q, table)
	if err != nil {
		return nil, err
	}
	// Missing tables are not memoised so a later migration is picked up.
	if len(cols) > 0 {
		s.columns.Store(key, cols)
	}
	return cols, nil
}

// Forget drops every memoised column list.
func (s *Schema) Forget() {
	s.columns.Range(func(key, _ any) bool {
		s.columns.Delete(key)
		return true
	})
}

// Exec builds and runs req against q and returns the rows the caller may see.
func Exec(ctx context.Context, schema *Schema, engine *rbac.Engine, alias string, q db.Querier, user *auth.UserInfo, req Request) ([]map[string]any, error) {
	physical, err := schema.Columns(ctx, alias, q, req.Table)
	if err != nil {
		return nil, err
	}
	stmt, err := NewBuilder(engine).Build(user, req, physical)
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, fmt.Errorf("crud: %s %s: %w", req.Operation, req.Table, err)
	}
	return Project(rows, stmt.Readable), nil
}
