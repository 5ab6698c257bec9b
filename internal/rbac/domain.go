package rbac

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Operation is a data operation subject to authorization.
type Operation string

// Supported operations.
const (
	OpSelect Operation = "select"
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ParseOperation validates an operation name.
func ParseOperation(raw string) (Operation, error) {
	switch op := Operation(strings.ToLower(strings.TrimSpace(raw))); op {
	case OpSelect, OpInsert, OpUpdate, OpDelete:
		return op, nil
	default:
		return "", fmt.Errorf("rbac: unknown operation %q", raw)
	}
}

const (
	// DefaultTable holds the rules applied to tables without their own entry.
	DefaultTable = "_default"
	// DefaultOwnerColumn is the owner column used when a table has none configured.
	DefaultOwnerColumn = "user_id"
)

// ColumnPermissions lists the roles allowed per column operation.
// A nil list is unconfigured; an empty list allows nobody.
type ColumnPermissions struct {
	Select []string `json:"select"`
	Insert []string `json:"insert"`
	Update []string `json:"update"`
}

// Roles returns the role list for op and whether it is configured.
func (c ColumnPermissions) Roles(op Operation) ([]string, bool) {
	var roles []string
	switch op {
	case OpSelect:
		roles = c.Select
	case OpInsert:
		roles = c.Insert
	case OpUpdate:
		roles = c.Update
	}
	return roles, roles != nil
}

// TablePermissions lists the roles allowed per table operation plus column rules.
type TablePermissions struct {
	Select  []string                     `json:"select"`
	Insert  []string                     `json:"insert"`
	Update  []string                     `json:"update"`
	Delete  []string                     `json:"delete"`
	Columns map[string]ColumnPermissions `json:"columns,omitempty"`
}

// Roles returns the role list for op and whether it is configured.
func (t TablePermissions) Roles(op Operation) ([]string, bool) {
	var roles []string
	switch op {
	case OpSelect:
		roles = t.Select
	case OpInsert:
		roles = t.Insert
	case OpUpdate:
		roles = t.Update
	case OpDelete:
		roles = t.Delete
	}
	return roles, roles != nil
}

// Config is the tenant security policy document.
type Config struct {
	Tables       map[string]TablePermissions `json:"tables"`
	OwnerColumns map[string]string           `json:"ownerColumns"`
}

// ParseConfig decodes a policy document and normalizes role names.
// Explicit empty role lists survive normalization as empty, not nil.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("rbac: decode config: %w", err)
	}
	for name, table := range cfg.Tables {
		table.Select = normalizeRoles(table.Select)
		table.Insert = normalizeRoles(table.Insert)
		table.Update = normalizeRoles(table.Update)
		table.Delete = normalizeRoles(table.Delete)
		for col, rule := range table.Columns {
			rule.Select = normalizeRoles(rule.Select)
			rule.Insert = normalizeRoles(rule.Insert)
			rule.Update = normalizeRoles(rule.Update)
			table.Columns[col] = rule
		}
		cfg.Tables[name] = table
	}
	return &cfg, nil
}

func normalizeRoles(roles []string) []string {
	if roles == nil {
		return nil
	}
	out := make([]string, 0, len(roles))
	seen := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(strings.ToLower(r))
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
