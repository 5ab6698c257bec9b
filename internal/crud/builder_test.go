package crud

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-edge/internal/auth"
	"github.com/odyssey-erp/odyssey-edge/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-edge/internal/rbac"
)

var (
	anon   *auth.UserInfo
	member = auth.NewUserInfo("u-1", "m@x.io")
	admin  = auth.NewUserInfo("u-9", "a@x.io", "admin")

	postColumns = []string{"id", "user_id", "title", "s_email", "c_secret", "_created_at"}
)

func limit(n int64) *int64 { return &n }

func TestSelectDefaultColumnsAndPaging(t *testing.T) {
	b := NewBuilder(rbac.NewEngine(nil))
	stmt, err := b.Build(member, Request{
		Table:     "posts",
		Operation: rbac.OpSelect,
		Where:     map[string]any{"title": "hi"},
		OrderBy:   "id desc, title",
		Limit:     limit(10),
		Offset:    limit(20),
	}, postColumns)
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT "id", "user_id", "title", "_created_at" FROM "posts" WHERE "title" = $1 ORDER BY "id" DESC, "title" ASC LIMIT $2 OFFSET $3`,
		stmt.SQL)
	assert.Equal(t, []any{"hi", int64(10), int64(20)}, stmt.Args)
}

func TestSelectOptionalClausesOmitted(t *testing.T) {
	b := NewBuilder(rbac.NewEngine(nil))
	stmt, err := b.Build(admin, Request{Table: "posts", Operation: rbac.OpSelect, Columns: []string{"c_secret"}}, postColumns)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "c_secret" FROM "posts"`, stmt.SQL)
	assert.Empty(t, stmt.Args)
}

func TestSelectExplicitRestrictedColumnFails(t *testing.T) {
	b := NewBuilder(rbac.NewEngine(nil))
	_, err := b.Build(member, Request{Table: "posts", Operation: rbac.OpSelect, Columns: []string{"title", "c_secret"}}, postColumns)
	require.Error(t, err)
	assert.True(t, errors.Is(err, httpx.ErrValidation))
	assert.Contains(t, err.Error(), "Permission denied for columns: c_secret")
}

func TestSelectRejectsUnknownIdentifiers(t *testing.T) {
	b := NewBuilder(rbac.NewEngine(nil))

	_, err := b.Build(member, Request{Table: "posts", Operation: rbac.OpSelect, Where: map[string]any{"x; drop": 1}}, postColumns)
	assert.True(t, errors.Is(err, httpx.ErrValidation))

	_, err = b.Build(member, Request{Table: "posts", Operation: rbac.OpSelect, OrderBy: "1; drop table posts"}, postColumns)
	assert.True(t, errors.Is(err, httpx.ErrValidation))

	_, err = b.Build(member, Request{Table: "posts", Operation: rbac.OpSelect, OrderBy: "id sideways"}, postColumns)
	assert.True(t, errors.Is(err, httpx.ErrValidation))

	_, err = b.Build(member, Request{Table: "ghost", Operation: rbac.OpSelect}, nil)
	assert.True(t, errors.Is(err, httpx.ErrNotFound))
}

func TestSelectOwnerFilterMerged(t *testing.T) {
	cfg, err := rbac.ParseConfig([]byte(`{"tables":{"notes":{"select":["owner","admin"]}},"ownerColumns":{"notes":"author_id"}}`))
	require.NoError(t, err)
	b := NewBuilder(rbac.NewEngine(cfg))

	stmt, err := b.Build(member, Request{
		Table:     "notes",
		Operation: rbac.OpSelect,
		Columns:   []string{"id"},
		Where:     map[string]any{"author_id": "u-other", "id": 3},
	}, []string{"id", "author_id", "body"})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "id" FROM "notes" WHERE "author_id" = $1 AND "id" = $2`, stmt.SQL)
	assert.Equal(t, []any{"u-1", 3}, stmt.Args)
}

func TestInsertPermissions(t *testing.T) {
	b := NewBuilder(rbac.NewEngine(nil))
	req := Request{
		Table:     "posts",
		Operation: rbac.OpInsert,
		Data:      map[string]any{"title": "hello", "s_email": "a@b.c"},
	}

	_, err := b.Build(anon, req, postColumns)
	require.Error(t, err)
	assert.Equal(t, "Permission denied for insert on table posts", err.Error())

	_, err = b.Build(member, req, postColumns)
	require.Error(t, err)
	assert.Equal(t, "Permission denied for columns: s_email, title", err.Error())

	stmt, err := b.Build(admin, req, postColumns)
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "posts" ("s_email", "title") VALUES ($1, $2) RETURNING *`, stmt.SQL)
	assert.Equal(t, []any{"a@b.c", "hello"}, stmt.Args)
	assert.Contains(t, stmt.Readable, "c_secret")
}

func TestInsertSystemColumnNeverWritable(t *testing.T) {
	b := NewBuilder(rbac.NewEngine(nil))
	_, err := b.Build(admin, Request{Table: "posts", Operation: rbac.OpInsert, Data: map[string]any{"_created_at": "now"}}, postColumns)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Permission denied for columns: _created_at")

	_, err = b.Build(admin, Request{Table: "posts", Operation: rbac.OpInsert}, postColumns)
	assert.True(t, errors.Is(err, httpx.ErrValidation))
}

func TestUpdateParameterIndicesContinueAfterSet(t *testing.T) {
	b := NewBuilder(rbac.NewEngine(nil))
	stmt, err := b.Build(member, Request{
		Table:     "posts",
		Operation: rbac.OpUpdate,
		Data:      map[string]any{"title": "new"},
		Where:     map[string]any{"id": 5, "user_id": "u-other"},
	}, postColumns)
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "posts" SET "title" = $1 WHERE "id" = $2 AND "user_id" = $3 RETURNING *`, stmt.SQL)
	assert.Equal(t, []any{"new", 5, "u-1"}, stmt.Args)
}

func TestUpdateAndDeleteRequireFilter(t *testing.T) {
	b := NewBuilder(rbac.NewEngine(nil))

	_, err := b.Build(admin, Request{Table: "posts", Operation: rbac.OpUpdate, Data: map[string]any{"title": "x"}}, postColumns)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a filter")

	_, err = b.Build(admin, Request{Table: "posts", Operation: rbac.OpDelete}, postColumns)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a filter")
}

func TestDelete(t *testing.T) {
	b := NewBuilder(rbac.NewEngine(nil))

	_, err := b.Build(member, Request{Table: "posts", Operation: rbac.OpDelete, Where: map[string]any{"id": 1}}, postColumns)
	require.Error(t, err)
	assert.Equal(t, "Permission denied for delete on table posts", err.Error())

	stmt, err := b.Build(admin, Request{Table: "posts", Operation: rbac.OpDelete, Where: map[string]any{"id": 1, "title": nil}}, postColumns)
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "posts" WHERE "id" = $1 AND "title" IS NULL RETURNING *`, stmt.SQL)
	assert.Equal(t, []any{1}, stmt.Args)
}

func TestQuotedIdentifiers(t *testing.T) {
	b := NewBuilder(rbac.NewEngine(nil))
	stmt, err := b.Build(admin, Request{Table: `we"ird`, Operation: rbac.OpSelect}, []string{`co"l`})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "co""l" FROM "we""ird"`, stmt.SQL)
}

type fakeQuerier struct {
	columns []string
	rows    []map[string]any
	calls   []string
	schema  int
}

func (f *fakeQuerier) Query(_ context.Context, sql string, _ ...any) ([]map[string]any, error) {
	if strings.Contains(sql, "information_schema") {
		f.schema++
		out := make([]map[string]any, 0, len(f.columns))
		for _, c := range f.columns {
			out = append(out, map[string]any{"column_name": c})
		}
		return out, nil
	}
	f.calls = append(f.calls, sql)
	return f.rows, nil
}

func TestExecProjectsReturnedRows(t *testing.T) {
	q := &fakeQuerier{
		columns: postColumns,
		rows:    []map[string]any{{"id": 1, "user_id": "u-1", "title": "t", "s_email": "x@y", "c_secret": "k", "_created_at": "now"}},
	}
	var schema Schema
	engine := rbac.NewEngine(nil)

	rows, err := Exec(context.Background(), &schema, engine, "main", q, member, Request{
		Table:     "posts",
		Operation: rbac.OpUpdate,
		Data:      map[string]any{"title": "t"},
		Where:     map[string]any{"id": 1},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]any{"id": 1, "user_id": "u-1", "title": "t", "s_email": "x@y", "_created_at": "now"}, rows[0])

	_, err = Exec(context.Background(), &schema, engine, "main", q, admin, Request{Table: "posts", Operation: rbac.OpSelect})
	require.NoError(t, err)
	assert.Equal(t, 1, q.schema)
	assert.Len(t, q.calls, 2)
}

func TestRequestFromParams(t *testing.T) {
	req, err := RequestFromParams("posts", rbac.OpSelect, map[string]any{
		"where":   map[string]any{"id": 1},
		"columns": []any{"id", "title"},
		"orderBy": "id desc",
		"limit":   "5",
		"offset":  int64(10),
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": 1}, req.Where)
	assert.Equal(t, []string{"id", "title"}, req.Columns)
	assert.Equal(t, int64(5), *req.Limit)
	assert.Equal(t, int64(10), *req.Offset)

	req, err = RequestFromParams("posts", rbac.OpSelect, map[string]any{"columns": "id, title", "where": `{"id":2}`})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "title"}, req.Columns)
	assert.Equal(t, map[string]any{"id": float64(2)}, req.Where)

	_, err = RequestFromParams("posts", rbac.OpSelect, map[string]any{"limit": "ten"})
	assert.True(t, errors.Is(err, httpx.ErrValidation))

	_, err = RequestFromParams("posts", rbac.OpSelect, map[string]any{"where": 3})
	assert.True(t, errors.Is(err, httpx.ErrValidation))
}

func TestRequestFromParamsRejectsNestedValues(t *testing.T) {
	_, err := RequestFromParams("posts", rbac.OpSelect, map[string]any{
		"where": map[string]any{"id": map[string]any{"$gt": 1}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, httpx.ErrValidation))
	assert.Equal(t, "parameter where.id must be a scalar value", err.Error())

	_, err = RequestFromParams("posts", rbac.OpInsert, map[string]any{
		"data": `{"title":"x","tags":["a","b"]}`,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, httpx.ErrValidation))
	assert.Equal(t, "parameter data.tags must be a scalar value", err.Error())
}
