package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-edge/internal/auth"
	"github.com/odyssey-erp/odyssey-edge/internal/bundle"
	"github.com/odyssey-erp/odyssey-edge/internal/platform/db"
	"github.com/odyssey-erp/odyssey-edge/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-edge/internal/rbac"
)

type fakeLoader struct {
	units map[string]*bundle.LogicUnit
	perms *rbac.Config
}

func (f *fakeLoader) Tenant() string { return "acme" }

func (f *fakeLoader) Load(_ context.Context, namespace, name string) (*bundle.LogicUnit, error) {
	u, ok := f.units[namespace+"/"+name]
	if !ok {
		return nil, httpx.Errorf(httpx.ErrNotFound, "logic unit %s/%s not found", namespace, name)
	}
	return u, nil
}

func (f *fakeLoader) Permissions(context.Context) (*rbac.Config, error) {
	return f.perms, nil
}

type call struct {
	sql  string
	args []any
}

type fakeQuerier struct {
	mu      sync.Mutex
	calls   []call
	rows    []map[string]any
	columns []string
}

func (f *fakeQuerier) Query(_ context.Context, sql string, args ...any) ([]map[string]any, error) {
	if strings.Contains(sql, "information_schema") {
		out := make([]map[string]any, 0, len(f.columns))
		for _, c := range f.columns {
			out = append(out, map[string]any{"column_name": c})
		}
		return out, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{sql: sql, args: args})
	return f.rows, nil
}

type fakeQueue struct {
	tenant, path string
	params       map[string]any
	user         *auth.UserInfo
}

func (f *fakeQueue) EnqueueInvoke(_ context.Context, tenant, path string, params map[string]any, user *auth.UserInfo) (string, error) {
	f.tenant, f.path, f.params, f.user = tenant, path, params, user
	return "task-1", nil
}

type fakeSecrets map[string]string

func (f fakeSecrets) Get(_ context.Context, tenant, name string) (string, error) {
	v, ok := f[tenant+":"+name]
	if !ok {
		return "", httpx.Errorf(httpx.ErrNotFound, "secret %s not found", name)
	}
	return v, nil
}

func unit(kind bundle.Kind, path, content string, cfg *bundle.LogicConfig) *bundle.LogicUnit {
	ns, name, _ := bundle.SplitPath(path)
	if cfg == nil {
		cfg = &bundle.LogicConfig{}
	}
	return &bundle.LogicUnit{Kind: kind, Namespace: ns, Name: name, Content: content, Config: cfg}
}

type fixture struct {
	exec    *Executor
	loader  *fakeLoader
	main    *fakeQuerier
	reports *fakeQuerier
	queue   *fakeQueue
}

func newFixture(units ...*bundle.LogicUnit) *fixture {
	loader := &fakeLoader{units: map[string]*bundle.LogicUnit{}}
	for _, u := range units {
		loader.units[u.Path()] = u
	}
	main := &fakeQuerier{rows: []map[string]any{{"id": int64(1)}}}
	reports := &fakeQuerier{rows: []map[string]any{{"total": int64(42)}}}
	queue := &fakeQueue{}
	exec := New(Deps{
		Bundles:   loader,
		Databases: db.NewRegistry(map[string]db.Querier{"main": main, "reports": reports}),
		Secrets:   fakeSecrets{"acme:stripe": "sk_test"},
		Queue:     queue,
	})
	return &fixture{exec: exec, loader: loader, main: main, reports: reports, queue: queue}
}

var member = auth.NewUserInfo("u-1", "m@x.io", "editor")

func TestExecuteSQLUnit(t *testing.T) {
	u := unit(bundle.KindSQL, "users/get", "SELECT * FROM users WHERE id = :id AND org = :org OR owner = :id", &bundle.LogicConfig{
		Params: map[string]bundle.ParamSpec{"org": {Type: bundle.TypeString}},
	})
	f := newFixture(u)

	res, err := f.exec.Execute(context.Background(), Invocation{Unit: u, Params: map[string]any{"id": int64(5)}})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"id": int64(1)}}, res)
	require.Len(t, f.main.calls, 1)
	assert.Equal(t, "SELECT * FROM users WHERE id = $1 AND org = $2 OR owner = $1", f.main.calls[0].sql)
	assert.Equal(t, []any{int64(5), nil}, f.main.calls[0].args)
}

func TestExecuteSQLUnknownAlias(t *testing.T) {
	u := unit(bundle.KindSQL, "x/y", "SELECT 1", &bundle.LogicConfig{Database: "ghost"})
	f := newFixture(u)

	_, err := f.exec.Execute(context.Background(), Invocation{Unit: u})
	require.Error(t, err)
	assert.True(t, errors.Is(err, db.ErrUnknownAlias))
	assert.Equal(t, 500, httpx.Classify(err).Code)
}

func TestExecuteScriptMemoizesCompilation(t *testing.T) {
	u := unit(bundle.KindScript, "math/double", `return function(params, ctx) return { value = params.n * 2 } end`, nil)
	f := newFixture(u)

	res, err := f.exec.Execute(context.Background(), Invocation{Unit: u, Params: map[string]any{"n": int64(21)}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"value": int64(42)}, res)

	first := u.Config.Compiled()
	require.NotNil(t, first)
	_, err = f.exec.Execute(context.Background(), Invocation{Unit: u, Params: map[string]any{"n": int64(1)}})
	require.NoError(t, err)
	assert.Same(t, first, u.Config.Compiled())
}

func TestScriptCapabilities(t *testing.T) {
	helper := unit(bundle.KindScript, "util/_stamp", `return function(params, ctx) return { tag = params.tag .. "!" } end`, nil)
	u := unit(bundle.KindScript, "report/summary", `
return function(params, ctx)
  local totals = ctx.db.query("reports", "SELECT sum(x) AS total FROM t WHERE org = $1", { params.org })
  local ids = ctx.db.default("SELECT id FROM users")
  local stamped = ctx.invoke("util/_stamp", { tag = "ok" })
  local job = ctx.enqueue("mail/send", { to = ctx.user.email })
  return {
    total = totals[1].total,
    first = ids[1].id,
    tag = stamped.tag,
    job = job,
    secret = ctx.secrets.get("stripe"),
    who = ctx.user.id,
    rid = ctx.request.requestId,
  }
end`, nil)
	f := newFixture(u, helper)

	res, err := f.exec.Execute(context.Background(), Invocation{
		Unit:    u,
		Params:  map[string]any{"org": "o-1"},
		User:    member,
		Request: RequestInfo{Method: "POST", Path: "/report/summary", RequestID: "req-9"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"total":  int64(42),
		"first":  int64(1),
		"tag":    "ok!",
		"job":    "task-1",
		"secret": "sk_test",
		"who":    "u-1",
		"rid":    "req-9",
	}, res)
	assert.Equal(t, []any{"o-1"}, f.reports.calls[0].args)
	assert.Equal(t, "acme", f.queue.tenant)
	assert.Equal(t, "mail/send", f.queue.path)
	assert.Equal(t, map[string]any{"to": "m@x.io"}, f.queue.params)
	assert.Same(t, member, f.queue.user)
}

func TestScriptStorageDisabled(t *testing.T) {
	u := unit(bundle.KindScript, "files/url", `return function(p, ctx) return ctx.storage.url("a.png") end`, nil)
	f := newFixture(u)
	_, err := f.exec.Execute(context.Background(), Invocation{Unit: u})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestSubInvocationDepthLimit(t *testing.T) {
	u := unit(bundle.KindScript, "loop/self", `return function(p, ctx) return ctx.invoke("loop/self", {}) end`, &bundle.LogicConfig{Access: "public"})
	f := newFixture(u)

	_, err := f.exec.Invoke(context.Background(), "loop/self", nil, nil, RequestInfo{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, httpx.ErrValidation))
	assert.Contains(t, err.Error(), "invocation depth limit 8 exceeded")
}

func TestSubInvocationChecksAccess(t *testing.T) {
	admins := unit(bundle.KindSQL, "admin/_purge", "DELETE FROM t", &bundle.LogicConfig{Access: "admin"})
	u := unit(bundle.KindScript, "app/run", `return function(p, ctx) return ctx.invoke("admin/_purge", {}) end`, nil)
	f := newFixture(u, admins)

	_, err := f.exec.Execute(context.Background(), Invocation{Unit: u, User: member})
	require.Error(t, err)
	assert.True(t, errors.Is(err, httpx.ErrForbidden))
	assert.Empty(t, f.main.calls)
}

func TestInvokeResolvesParams(t *testing.T) {
	u := unit(bundle.KindSQL, "users/get", "SELECT * FROM users WHERE id = :id", &bundle.LogicConfig{
		Params: map[string]bundle.ParamSpec{"id": {Type: bundle.TypeInt, Required: true}},
	})
	f := newFixture(u)

	_, err := f.exec.Invoke(context.Background(), "users/get", map[string]any{}, member, RequestInfo{})
	require.Error(t, err)
	assert.Equal(t, "missing required parameter: id", err.Error())

	_, err = f.exec.Invoke(context.Background(), "users/get", map[string]any{"id": "12"}, member, RequestInfo{})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(12)}, f.main.calls[0].args)

	_, err = f.exec.Invoke(context.Background(), "nope", nil, member, RequestInfo{})
	assert.True(t, errors.Is(err, httpx.ErrNotFound))
}

func TestExecuteCRUDUnit(t *testing.T) {
	u := unit(bundle.KindCRUD, "posts/list", "", &bundle.LogicConfig{CRUD: &bundle.CRUDConfig{Table: "posts", Operation: "select"}})
	f := newFixture(u)
	f.main.columns = []string{"id", "title", "c_secret"}
	f.main.rows = []map[string]any{{"id": int64(1), "title": "t", "c_secret": "x"}}

	res, err := f.exec.Execute(context.Background(), Invocation{
		Unit:   u,
		User:   member,
		Params: map[string]any{"where": map[string]any{"title": "t"}, "limit": int64(5)},
	})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"id": int64(1), "title": "t"}}, res)
	require.Len(t, f.main.calls, 1)
	assert.Equal(t, `SELECT "id", "title" FROM "posts" WHERE "title" = $1 LIMIT $2`, f.main.calls[0].sql)

	_, err = f.exec.Execute(context.Background(), Invocation{Unit: u, Params: map[string]any{}})
	require.Error(t, err)
	assert.Equal(t, "Permission denied for select on table posts", err.Error())
}

func TestExecuteCRUDUnitWithoutBinding(t *testing.T) {
	u := unit(bundle.KindCRUD, "posts/list", "", nil)
	f := newFixture(u)
	_, err := f.exec.Execute(context.Background(), Invocation{Unit: u, User: member})
	require.Error(t, err)
	assert.Equal(t, 500, httpx.Classify(err).Code)
}

func TestAuthorize(t *testing.T) {
	admin := auth.NewUserInfo("a", "", "admin")

	assert.NoError(t, Authorize("public", nil))
	assert.True(t, errors.Is(Authorize("authenticated", nil), httpx.ErrForbidden))
	assert.NoError(t, Authorize("authenticated", member))
	assert.NoError(t, Authorize("editor", member))
	assert.True(t, errors.Is(Authorize("billing", member), httpx.ErrForbidden))
	assert.True(t, errors.Is(Authorize("billing", nil), httpx.ErrForbidden))
	assert.NoError(t, Authorize("billing", admin))
}
