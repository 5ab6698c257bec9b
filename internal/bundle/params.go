package bundle

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/odyssey-erp/odyssey-edge/internal/platform/httpx"
)

// ParamType is the declared type of a parameter.
type ParamType string

// Supported parameter types. An empty type accepts any value unchanged.
const (
	TypeString ParamType = "string"
	TypeInt    ParamType = "int"
	TypeNumber ParamType = "number"
	TypeBool   ParamType = "bool"
	TypeJSON   ParamType = "json"
)

// ParamSpec declares one parameter of a logic unit.
type ParamSpec struct {
	Type     ParamType       `json:"type,omitempty"`
	Required bool            `json:"required,omitempty"`
	Default  any             `json:"default,omitempty"`
	Schema   json.RawMessage `json:"schema,omitempty"`
}

// ResolveParams applies defaults, enforces required parameters and coerces declared
// types. Undeclared parameters pass through untouched.
func (c *LogicConfig) ResolveParams(provided map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(provided))
	for k, v := range provided {
		out[k] = NormalizeJSON(v)
	}
	if c == nil {
		return out, nil
	}
	names := make([]string, 0, len(c.Params))
	for name := range c.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	var missing []string
	for _, name := range names {
		spec := c.Params[name]
		val, ok := out[name]
		if !ok || val == nil {
			if spec.Default != nil {
				val, ok = NormalizeJSON(spec.Default), true
			}
		}
		if !ok || val == nil {
			if spec.Required {
				missing = append(missing, name)
			}
			continue
		}
		coerced, err := spec.Coerce(name, val)
		if err != nil {
			return nil, err
		}
		out[name] = coerced
	}
	if len(missing) > 0 {
		return nil, httpx.Errorf(httpx.ErrValidation, "missing required parameter: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// Coerce converts v to the declared type.
func (p ParamSpec) Coerce(name string, v any) (any, error) {
	invalid := func() error {
		return httpx.Errorf(httpx.ErrValidation, "parameter %s must be of type %s", name, p.Type)
	}
	switch p.Type {
	case "":
		return v, nil
	case TypeString:
		switch t := v.(type) {
		case string:
			return t, nil
		case int64, float64, bool:
			return fmt.Sprint(t), nil
		}
		return nil, invalid()
	case TypeInt:
		switch t := v.(type) {
		case int64:
			return t, nil
		case int:
			return int64(t), nil
		case float64:
			if t != math.Trunc(t) {
				return nil, invalid()
			}
			return int64(t), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
			if err != nil {
				return nil, invalid()
			}
			return n, nil
		}
		return nil, invalid()
	case TypeNumber:
		switch t := v.(type) {
		case float64:
			return t, nil
		case int64:
			return float64(t), nil
		case int:
			return float64(t), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if err != nil {
				return nil, invalid()
			}
			return f, nil
		}
		return nil, invalid()
	case TypeBool:
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(t))
			if err != nil {
				return nil, invalid()
			}
			return b, nil
		}
		return nil, invalid()
	case TypeJSON:
		if s, ok := v.(string); ok {
			var decoded any
			dec := json.NewDecoder(strings.NewReader(s))
			dec.UseNumber()
			if err := dec.Decode(&decoded); err == nil {
				v = NormalizeJSON(decoded)
			}
		}
		if len(p.Schema) > 0 {
			if err := validateSchema(name, p.Schema, v); err != nil {
				return nil, err
			}
		}
		return v, nil
	default:
		return nil, httpx.Errorf(httpx.ErrValidation, "parameter %s declares unknown type %s", name, p.Type)
	}
}

func validateSchema(name string, schema json.RawMessage, v any) error {
	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewGoLoader(v))
	if err != nil {
		return fmt.Errorf("bundle: schema of parameter %s: %w", name, err)
	}
	if result.Valid() {
		return nil
	}
	reasons := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		reasons = append(reasons, e.String())
	}
	return httpx.Errorf(httpx.ErrValidation, "parameter %s does not match schema: %s", name, strings.Join(reasons, "; "))
}

// NormalizeJSON replaces json.Number values with int64 or float64, recursively.
func NormalizeJSON(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, inner := range t {
			t[k] = NormalizeJSON(inner)
		}
		return t
	case []any:
		for i, inner := range t {
			t[i] = NormalizeJSON(inner)
		}
		return t
	default:
		return v
	}
}
