package crud

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/odyssey-erp/odyssey-edge/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-edge/internal/rbac"
)

// Request parameter names understood by CRUD units.
const (
	ParamWhere   = "where"
	ParamData    = "data"
	ParamColumns = "columns"
	ParamOrderBy = "orderBy"
	ParamLimit   = "limit"
	ParamOffset  = "offset"
)

// RequestFromParams reads a Request for table/op out of invocation parameters.
func RequestFromParams(table string, op rbac.Operation, params map[string]any) (Request, error) {
	req := Request{Table: table, Operation: op}
	var err error
	if req.Where, err = objectParam(params, ParamWhere); err != nil {
		return Request{}, err
	}
	if req.Data, err = objectParam(params, ParamData); err != nil {
		return Request{}, err
	}
	if req.Columns, err = columnsParam(params[ParamColumns]); err != nil {
		return Request{}, err
	}
	if raw, ok := params[ParamOrderBy]; ok && raw != nil {
		s, ok := raw.(string)
		if !ok {
			return Request{}, httpx.Errorf(httpx.ErrValidation, "parameter %s must be a string", ParamOrderBy)
		}
		req.OrderBy = s
	}
	if req.Limit, err = intParam(params, ParamLimit); err != nil {
		return Request{}, err
	}
	if req.Offset, err = intParam(params, ParamOffset); err != nil {
		return Request{}, err
	}
	return req, nil
}

func objectParam(params map[string]any, name string) (map[string]any, error) {
	raw, ok := params[name]
	if !ok || raw == nil {
		return nil, nil
	}
	var out map[string]any
	switch v := raw.(type) {
	case map[string]any:
		out = v
	case string:
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil, httpx.Errorf(httpx.ErrValidation, "parameter %s must be an object", name)
		}
	default:
		return nil, httpx.Errorf(httpx.ErrValidation, "parameter %s must be an object", name)
	}
	// Values bind as single column arguments.
	for column, value := range out {
		switch value.(type) {
		case map[string]any, []any:
			return nil, httpx.Errorf(httpx.ErrValidation, "parameter %s.%s must be a scalar value", name, column)
		}
	}
	return out, nil
}

func columnsParam(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, httpx.Errorf(httpx.ErrValidation, "parameter %s must list column names", ParamColumns)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, httpx.Errorf(httpx.ErrValidation, "parameter %s must list column names", ParamColumns)
	}
}

func intParam(params map[string]any, name string) (*int64, error) {
	raw, ok := params[name]
	if !ok || raw == nil {
		return nil, nil
	}
	var n int64
	switch v := raw.(type) {
	case int:
		n = int64(v)
	case int64:
		n = v
	case float64:
		if v != math.Trunc(v) {
			return nil, httpx.Errorf(httpx.ErrValidation, "parameter %s must be an integer", name)
		}
		n = int64(v)
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return nil, httpx.Errorf(httpx.ErrValidation, "parameter %s must be an integer", name)
		}
		n = parsed
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, httpx.Errorf(httpx.ErrValidation, "parameter %s must be an integer", name)
		}
		n = parsed
	default:
		return nil, fmt.Errorf("crud: parameter %s has type %T: %w", name, raw, httpx.ErrValidation)
	}
	return &n, nil
}
