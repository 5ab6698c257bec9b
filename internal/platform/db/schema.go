package db

import (
	"context"
	"fmt"
)

const tableColumnsQuery = `SELECT column_name FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1
ORDER BY ordinal_position`

// TableColumns discovers the physical columns of table in ordinal order.
// An empty result means the table does not exist in the current schema.
func TableColumns(ctx context.Context, q Querier, table string) ([]string, error) {
	rows, err := q.Query(ctx, tableColumnsQuery, table)
	if err != nil {
		return nil, fmt.Errorf("platform/db: columns of %s: %w", table, err)
	}
	cols := make([]string, 0, len(rows))
	for _, row := range rows {
		name, ok := row["column_name"].(string)
		if !ok || name == "" {
			continue
		}
		cols = append(cols, name)
	}
	return cols, nil
}
