// Package script runs script logic units inside an interpreted Lua sandbox whose
// only reach outside the interpreter is the capability table handed to the handler.
package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// Capabilities is the surface a handler may use. Implementations enforce tenancy.
type Capabilities interface {
	Query(ctx context.Context, alias, sql string, args []any) ([]map[string]any, error)
	StorageURL(ctx context.Context, key, method string) (string, error)
	Secret(ctx context.Context, key string) (string, error)
	Invoke(ctx context.Context, path string, params map[string]any) (any, error)
	Enqueue(ctx context.Context, path string, params map[string]any) (string, error)
	Log(message string)
	Request() map[string]any
	User() map[string]any
}

// Program is a compiled chunk, safe to share between states.
type Program struct {
	name  string
	proto *lua.FunctionProto
}

// Compile parses and compiles source once.
func Compile(name, source string) (*Program, error) {
	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return nil, fmt.Errorf("script: parse %s: %w", name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("script: compile %s: %w", name, err)
	}
	return &Program{name: name, proto: proto}, nil
}

// Interpreter bounds for a single run.
const (
	callStackSize   = 200
	registrySize    = 1024
	registryMaxSize = 64 * 1024
	maxStringBytes  = 1 << 20
)

var removedGlobals = []string{"dofile", "loadfile", "load", "loadstring", "require", "module", "collectgarbage"}

// Runtime executes programs. Each run gets a fresh interpreter state.
type Runtime struct {
	timeout time.Duration
}

// NewRuntime builds a runtime bounding each run by timeout (zero means the caller's deadline only).
func NewRuntime(timeout time.Duration) *Runtime {
	return &Runtime{timeout: timeout}
}

// Run evaluates prog, which must return a function(params, ctx), and calls it.
func (r *Runtime) Run(ctx context.Context, prog *Program, params map[string]any, caps Capabilities) (any, error) {
	if prog == nil {
		return nil, errors.New("script: nil program")
	}
	if r != nil && r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs:    true,
		CallStackSize:   callStackSize,
		RegistrySize:    registrySize,
		RegistryMaxSize: registryMaxSize,
	})
	defer L.Close()
	openSandboxLibs(L)
	L.SetContext(ctx)

	var capErr error
	ctxTable := buildContext(ctx, L, caps, &capErr)
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		caps.Log(strings.Join(parts, " "))
		return 0
	}))

	L.Push(L.NewFunctionFromProto(prog.proto))
	if err := L.PCall(0, 1, nil); err != nil {
		return nil, fmt.Errorf("script: load %s: %w", prog.name, err)
	}
	handler, ok := L.Get(-1).(*lua.LFunction)
	L.Pop(1)
	if !ok {
		return nil, fmt.Errorf("script: %s must return a handler function", prog.name)
	}

	err := L.CallByParam(lua.P{Fn: handler, NRet: 1, Protect: true}, toLua(L, params), ctxTable)
	if err != nil {
		if capErr != nil {
			return nil, capErr
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("script: %s: %w", prog.name, ctxErr)
		}
		return nil, fmt.Errorf("script: %s: %w", prog.name, err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	return fromLua(ret), nil
}

func openSandboxLibs(L *lua.LState) {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range removedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	if str, ok := L.GetGlobal(lua.StringLibName).(*lua.LTable); ok {
		str.RawSetString("rep", L.NewFunction(boundedRep))
	}
}

// boundedRep is string.rep refusing results over maxStringBytes.
func boundedRep(L *lua.LState) int {
	str := L.CheckString(1)
	n := L.CheckInt(2)
	if n <= 0 || str == "" {
		L.Push(lua.LString(""))
		return 1
	}
	if n > maxStringBytes/len(str) {
		L.RaiseError("string.rep result exceeds %d bytes", maxStringBytes)
		return 0
	}
	L.Push(lua.LString(strings.Repeat(str, n)))
	return 1
}

// buildContext exposes caps as the ctx table. Capability failures are kept in
// capErr so their error kind survives the trip through the interpreter.
func buildContext(ctx context.Context, L *lua.LState, caps Capabilities, capErr *error) *lua.LTable {
	fail := func(L *lua.LState, err error) int {
		*capErr = err
		L.RaiseError("%s", err.Error())
		return 0
	}

	query := func(L *lua.LState, alias string, sqlIdx int) int {
		sql := L.CheckString(sqlIdx)
		rows, err := caps.Query(ctx, alias, sql, argList(L.Get(sqlIdx+1)))
		if err != nil {
			return fail(L, err)
		}
		L.Push(toLua(L, rows))
		return 1
	}

	db := L.NewTable()
	db.RawSetString("query", L.NewFunction(func(L *lua.LState) int {
		return query(L, L.CheckString(1), 2)
	}))
	db.RawSetString("default", L.NewFunction(func(L *lua.LState) int {
		return query(L, "default", 1)
	}))

	storage := L.NewTable()
	storage.RawSetString("url", L.NewFunction(func(L *lua.LState) int {
		u, err := caps.StorageURL(ctx, L.CheckString(1), L.OptString(2, "GET"))
		if err != nil {
			return fail(L, err)
		}
		L.Push(lua.LString(u))
		return 1
	}))

	secrets := L.NewTable()
	secrets.RawSetString("get", L.NewFunction(func(L *lua.LState) int {
		val, err := caps.Secret(ctx, L.CheckString(1))
		if err != nil {
			return fail(L, err)
		}
		L.Push(lua.LString(val))
		return 1
	}))

	tbl := L.NewTable()
	tbl.RawSetString("db", db)
	tbl.RawSetString("storage", storage)
	tbl.RawSetString("secrets", secrets)
	tbl.RawSetString("invoke", L.NewFunction(func(L *lua.LState) int {
		res, err := caps.Invoke(ctx, L.CheckString(1), paramMap(L.Get(2)))
		if err != nil {
			return fail(L, err)
		}
		L.Push(toLua(L, res))
		return 1
	}))
	tbl.RawSetString("enqueue", L.NewFunction(func(L *lua.LState) int {
		id, err := caps.Enqueue(ctx, L.CheckString(1), paramMap(L.Get(2)))
		if err != nil {
			return fail(L, err)
		}
		L.Push(lua.LString(id))
		return 1
	}))
	tbl.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		caps.Log(L.CheckString(1))
		return 0
	}))
	tbl.RawSetString("request", toLua(L, caps.Request()))
	if user := caps.User(); user != nil {
		tbl.RawSetString("user", toLua(L, user))
	}
	return tbl
}
