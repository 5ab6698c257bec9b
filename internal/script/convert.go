package script

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	lua "github.com/yuin/gopher-lua"
)

const maxDepth = 64

// toLua converts a Go value produced by JSON decoding or a database driver.
func toLua(L *lua.LState, v any) lua.LValue {
	return toLuaDepth(L, v, 0)
}

func toLuaDepth(L *lua.LState, v any, depth int) lua.LValue {
	if depth > maxDepth {
		return lua.LNil
	}
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(t)
	case string:
		return lua.LString(t)
	case []byte:
		return lua.LString(string(t))
	case int:
		return lua.LNumber(t)
	case int16:
		return lua.LNumber(t)
	case int32:
		return lua.LNumber(t)
	case int64:
		return lua.LNumber(t)
	case float32:
		return lua.LNumber(t)
	case float64:
		return lua.LNumber(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return lua.LString(t.String())
		}
		return lua.LNumber(f)
	case time.Time:
		return lua.LString(t.UTC().Format(time.RFC3339Nano))
	case map[string]any:
		tbl := L.CreateTable(0, len(t))
		for k, inner := range t {
			tbl.RawSetString(k, toLuaDepth(L, inner, depth+1))
		}
		return tbl
	case map[string]string:
		tbl := L.CreateTable(0, len(t))
		for k, inner := range t {
			tbl.RawSetString(k, lua.LString(inner))
		}
		return tbl
	case []any:
		tbl := L.CreateTable(len(t), 0)
		for _, inner := range t {
			tbl.Append(toLuaDepth(L, inner, depth+1))
		}
		return tbl
	case []map[string]any:
		tbl := L.CreateTable(len(t), 0)
		for _, inner := range t {
			tbl.Append(toLuaDepth(L, inner, depth+1))
		}
		return tbl
	case []string:
		tbl := L.CreateTable(len(t), 0)
		for _, inner := range t {
			tbl.Append(lua.LString(inner))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprint(t))
	}
}

// fromLua converts a Lua value into plain Go values. Tables with only a
// contiguous 1..n integer key set become slices; other tables become maps.
func fromLua(v lua.LValue) any {
	return fromLuaDepth(v, 0)
}

func fromLuaDepth(v lua.LValue, depth int) any {
	if depth > maxDepth {
		return nil
	}
	switch t := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(t)
	case lua.LString:
		return string(t)
	case lua.LNumber:
		f := float64(t)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case *lua.LTable:
		n := t.MaxN()
		if n > 0 && countKeys(t) == n {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, fromLuaDepth(t.RawGetInt(i), depth+1))
			}
			return out
		}
		out := map[string]any{}
		t.ForEach(func(k, val lua.LValue) {
			out[k.String()] = fromLuaDepth(val, depth+1)
		})
		return out
	default:
		return v.String()
	}
}

func countKeys(t *lua.LTable) int {
	n := 0
	t.ForEach(func(_, _ lua.LValue) { n++ })
	return n
}

// argList converts a Lua argument table into positional arguments.
func argList(v lua.LValue) []any {
	switch t := fromLua(v).(type) {
	case nil:
		return nil
	case []any:
		return t
	case map[string]any:
		if len(t) == 0 {
			return nil
		}
		return []any{t}
	default:
		return []any{t}
	}
}

// paramMap converts a Lua table into named parameters.
func paramMap(v lua.LValue) map[string]any {
	switch t := fromLua(v).(type) {
	case map[string]any:
		return t
	default:
		return map[string]any{}
	}
}
