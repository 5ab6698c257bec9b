package db

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuerier struct {
	rows []map[string]any
	sql  string
	args []any
}

func (f *fakeQuerier) Query(ctx context.Context, sql string, args ...any) ([]map[string]any, error) {
	f.sql = sql
	f.args = args
	return f.rows, nil
}

func TestRegistryDefaultAlias(t *testing.T) {
	main := &fakeQuerier{}
	reports := &fakeQuerier{}
	reg := NewRegistry(map[string]Querier{"main": main, "reports": reports})

	q, err := reg.Get("")
	require.NoError(t, err)
	assert.Same(t, main, q)

	q, err = reg.Get("default")
	require.NoError(t, err)
	assert.Same(t, main, q)

	q, err = reg.Get("reports")
	require.NoError(t, err)
	assert.Same(t, reports, q)

	_, err = reg.Get("missing")
	assert.True(t, errors.Is(err, ErrUnknownAlias))
	assert.Equal(t, []string{"main", "reports"}, reg.Aliases())
}

func TestTableColumnsSkipsBlankNames(t *testing.T) {
	q := &fakeQuerier{rows: []map[string]any{
		{"column_name": "id"},
		{"column_name": ""},
		{"column_name": "s_email"},
	}}
	cols, err := TableColumns(context.Background(), q, "users")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "s_email"}, cols)
	assert.Equal(t, []any{"users"}, q.args)
}
