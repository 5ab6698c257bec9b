// Package executor runs logic units: SQL templates, sandboxed scripts and CRUD bindings.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-edge/internal/auth"
	"github.com/odyssey-erp/odyssey-edge/internal/bundle"
	"github.com/odyssey-erp/odyssey-edge/internal/crud"
	"github.com/odyssey-erp/odyssey-edge/internal/observability"
	"github.com/odyssey-erp/odyssey-edge/internal/platform/db"
	"github.com/odyssey-erp/odyssey-edge/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-edge/internal/rbac"
	"github.com/odyssey-erp/odyssey-edge/internal/script"
)

// DefaultMaxDepth bounds nested sub-invocations.
const DefaultMaxDepth = 8

// Loader resolves logic units and the tenant policy document.
type Loader interface {
	Tenant() string
	Load(ctx context.Context, namespace, name string) (*bundle.LogicUnit, error)
	Permissions(ctx context.Context) (*rbac.Config, error)
}

// URLIssuer presigns object storage URLs.
type URLIssuer interface {
	URL(ctx context.Context, tenant, key, method string) (string, error)
}

// SecretResolver resolves tenant secrets.
type SecretResolver interface {
	Get(ctx context.Context, tenant, name string) (string, error)
}

// Enqueuer schedules a deferred invocation and returns its task id.
type Enqueuer interface {
	EnqueueInvoke(ctx context.Context, tenant, path string, params map[string]any, user *auth.UserInfo) (string, error)
}

// Deps wires an Executor.
type Deps struct {
	Bundles   Loader
	Databases *db.Registry
	Schema    *crud.Schema
	Scripts   *script.Runtime
	Storage   URLIssuer
	Secrets   SecretResolver
	Queue     Enqueuer
	Metrics   *observability.Metrics
	Logger    *slog.Logger
	MaxDepth  int
}

// Executor runs logic units against the configured capabilities.
type Executor struct {
	bundles  Loader
	dbs      *db.Registry
	schema   *crud.Schema
	scripts  *script.Runtime
	storage  URLIssuer
	secrets  SecretResolver
	queue    Enqueuer
	metrics  *observability.Metrics
	logger   *slog.Logger
	maxDepth int
}

// New constructs an Executor.
func New(d Deps) *Executor {
	e := &Executor{
		bundles:  d.Bundles,
		dbs:      d.Databases,
		schema:   d.Schema,
		scripts:  d.Scripts,
		storage:  d.Storage,
		secrets:  d.Secrets,
		queue:    d.Queue,
		metrics:  d.Metrics,
		logger:   d.Logger,
		maxDepth: d.MaxDepth,
	}
	if e.schema == nil {
		e.schema = &crud.Schema{}
	}
	if e.scripts == nil {
		e.scripts = script.NewRuntime(0)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.maxDepth <= 0 {
		e.maxDepth = DefaultMaxDepth
	}
	return e
}

// SetQueue attaches the deferred invocation queue after construction.
func (e *Executor) SetQueue(q Enqueuer) {
	e.queue = q
}

// RequestInfo describes the inbound request exposed to scripts.
type RequestInfo struct {
	Method    string
	Path      string
	RequestID string
	Headers   map[string]string
}

// Invocation is one execution of a resolved unit with resolved parameters.
type Invocation struct {
	Unit    *bundle.LogicUnit
	Params  map[string]any
	User    *auth.UserInfo
	Request RequestInfo

	depth int
}

// Execute runs inv.Unit and records the outcome.
func (e *Executor) Execute(ctx context.Context, inv Invocation) (any, error) {
	if inv.Unit == nil {
		return nil, errors.New("executor: nil unit")
	}
	start := time.Now()
	res, err := e.execute(ctx, inv)
	e.metrics.ObserveExecution(string(inv.Unit.Kind), time.Since(start), err)
	return res, err
}

func (e *Executor) execute(ctx context.Context, inv Invocation) (any, error) {
	switch inv.Unit.Kind {
	case bundle.KindSQL:
		return e.executeSQL(ctx, inv)
	case bundle.KindScript:
		return e.executeScript(ctx, inv)
	case bundle.KindCRUD:
		return e.executeCRUD(ctx, inv)
	default:
		return nil, fmt.Errorf("executor: unit %s has unsupported kind %q", inv.Unit.Path(), inv.Unit.Kind)
	}
}

// Invoke resolves path, enforces its access requirement for user and executes it.
// Private units are reachable here; the public router rejects them earlier.
func (e *Executor) Invoke(ctx context.Context, path string, params map[string]any, user *auth.UserInfo, req RequestInfo) (any, error) {
	return e.invoke(ctx, path, params, user, req, 0)
}

func (e *Executor) invoke(ctx context.Context, path string, params map[string]any, user *auth.UserInfo, req RequestInfo, depth int) (any, error) {
	if depth > e.maxDepth {
		return nil, httpx.Errorf(httpx.ErrValidation, "invocation depth limit %d exceeded", e.maxDepth)
	}
	namespace, name, ok := bundle.SplitPath(path)
	if !ok {
		return nil, httpx.Errorf(httpx.ErrNotFound, "logic unit %s not found", path)
	}
	unit, err := e.bundles.Load(ctx, namespace, name)
	if err != nil {
		return nil, err
	}
	if err := Authorize(unit.Config.AccessRequirement(), user); err != nil {
		return nil, err
	}
	resolved, err := unit.Config.ResolveParams(params)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, Invocation{Unit: unit, Params: resolved, User: user, Request: req, depth: depth})
}

func (e *Executor) querier(unit *bundle.LogicUnit, alias string) (db.Querier, error) {
	q, err := e.dbs.Get(alias)
	if err != nil {
		return nil, fmt.Errorf("executor: unit %s: %w", unit.Path(), err)
	}
	return q, nil
}

func (e *Executor) executeSQL(ctx context.Context, inv Invocation) (any, error) {
	q, err := e.querier(inv.Unit, inv.Unit.Config.DatabaseAlias())
	if err != nil {
		return nil, err
	}
	params := inv.Params
	if declared := inv.Unit.Config.Params; len(declared) > 0 {
		params = make(map[string]any, len(inv.Params)+len(declared))
		for name := range declared {
			params[name] = nil
		}
		for k, v := range inv.Params {
			params[k] = v
		}
	}
	sql, args, err := Bind(inv.Unit.Content, params)
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("executor: unit %s: %w", inv.Unit.Path(), err)
	}
	return rows, nil
}

func (e *Executor) program(unit *bundle.LogicUnit) (*script.Program, error) {
	if prog, ok := unit.Config.Compiled().(*script.Program); ok {
		return prog, nil
	}
	prog, err := script.Compile(unit.Path(), unit.Content)
	if err != nil {
		return nil, err
	}
	unit.Config.SetCompiled(prog)
	return prog, nil
}

func (e *Executor) executeScript(ctx context.Context, inv Invocation) (any, error) {
	prog, err := e.program(inv.Unit)
	if err != nil {
		return nil, err
	}
	return e.scripts.Run(ctx, prog, inv.Params, &capabilities{e: e, inv: inv})
}

func (e *Executor) executeCRUD(ctx context.Context, inv Invocation) (any, error) {
	binding := inv.Unit.Config.CRUD
	if binding == nil || binding.Table == "" {
		return nil, fmt.Errorf("executor: unit %s has no table binding", inv.Unit.Path())
	}
	op, err := rbac.ParseOperation(binding.Operation)
	if err != nil {
		return nil, fmt.Errorf("executor: unit %s: %w", inv.Unit.Path(), err)
	}
	req, err := crud.RequestFromParams(binding.Table, op, inv.Params)
	if err != nil {
		return nil, err
	}
	perms, err := e.bundles.Permissions(ctx)
	if err != nil {
		return nil, err
	}
	alias := inv.Unit.Config.DatabaseAlias()
	q, err := e.querier(inv.Unit, alias)
	if err != nil {
		return nil, err
	}
	return crud.Exec(ctx, e.schema, rbac.NewEngine(perms), alias, q, inv.User, req)
}
