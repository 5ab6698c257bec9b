// Package rbac decides table and column access for a caller and derives row-level filters.
package rbac

import (
	"strings"

	"github.com/odyssey-erp/odyssey-edge/internal/auth"
	"github.com/odyssey-erp/odyssey-edge/internal/platform/httpx"
)

// Filter is a flat column to literal equality map restricting rows to the caller.
type Filter map[string]any

// Decision is the outcome of a table-level check.
type Decision struct {
	Allowed bool
	// Owner is set when access was granted only through the owner role.
	Owner bool
	// Filter is non-nil exactly when Owner is set.
	Filter Filter
	Reason string
}

var hardcodedDefaults = TablePermissions{
	Select: []string{auth.RoleAuthenticated},
	Insert: []string{auth.RoleAuthenticated},
	Update: []string{auth.RoleOwner, auth.RoleAdmin},
	Delete: []string{auth.RoleAdmin},
}

// Engine evaluates a policy document. It performs no I/O.
type Engine struct {
	cfg *Config
}

// NewEngine builds an engine over cfg. A nil cfg applies only the built-in defaults.
func NewEngine(cfg *Config) *Engine {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Engine{cfg: cfg}
}

// OwnerColumn returns the owner column of table.
func (e *Engine) OwnerColumn(table string) string {
	if col := strings.TrimSpace(e.cfg.OwnerColumns[table]); col != "" {
		return col
	}
	return DefaultOwnerColumn
}

func (e *Engine) tableRoles(table string, op Operation) []string {
	if t, ok := e.cfg.Tables[table]; ok {
		if roles, ok := t.Roles(op); ok {
			return roles
		}
	}
	if t, ok := e.cfg.Tables[DefaultTable]; ok {
		if roles, ok := t.Roles(op); ok {
			return roles
		}
	}
	roles, _ := hardcodedDefaults.Roles(op)
	return roles
}

func (e *Engine) columnRoles(table, column string, op Operation) []string {
	if t, ok := e.cfg.Tables[table]; ok {
		if rule, ok := t.Columns[column]; ok {
			if roles, ok := rule.Roles(op); ok {
				return roles
			}
		}
	}
	roles, _ := DefaultColumnRule(column).Roles(op)
	return roles
}

// CheckTable decides table-level access. Non-owner roles are evaluated first and
// grant unconditionally; the owner role grants with a filter on the owner column.
func (e *Engine) CheckTable(user *auth.UserInfo, table string, op Operation) Decision {
	allowed := e.tableRoles(table, op)
	nonOwner := make([]string, 0, len(allowed))
	hasOwner := false
	for _, r := range allowed {
		if r == auth.RoleOwner {
			hasOwner = true
			continue
		}
		nonOwner = append(nonOwner, r)
	}
	if hasAnyRole(user, nonOwner, false) {
		return Decision{Allowed: true}
	}
	if hasOwner && user != nil {
		return Decision{
			Allowed: true,
			Owner:   true,
			Filter:  Filter{e.OwnerColumn(table): user.ID},
		}
	}
	return Decision{Reason: "Permission denied for " + string(op) + " on table " + table}
}

// CheckColumn decides column-level access for op. owner reports whether the
// table-level decision qualified the caller as row owner.
func (e *Engine) CheckColumn(user *auth.UserInfo, table, column string, op Operation, owner bool) bool {
	return hasAnyRole(user, e.columnRoles(table, column, op), owner)
}

// Check runs the table-level gate and then every supplied column for op.
func (e *Engine) Check(user *auth.UserInfo, table string, op Operation, columns []string) (Decision, error) {
	d := e.CheckTable(user, table, op)
	if !d.Allowed {
		return d, httpx.Errorf(httpx.ErrValidation, "%s", d.Reason)
	}
	var denied []string
	for _, col := range columns {
		if !e.CheckColumn(user, table, col, op, d.Owner) {
			denied = append(denied, col)
		}
	}
	if len(denied) > 0 {
		d.Allowed = false
		d.Reason = "Permission denied for columns: " + strings.Join(denied, ", ")
		return d, httpx.Errorf(httpx.ErrValidation, "%s", d.Reason)
	}
	return d, nil
}

// FilterColumns resolves the select list. Without requested columns every physical
// column the caller may read is returned and confidential or private columns are
// dropped for non-admins. Requested columns must each pass or the call fails.
func (e *Engine) FilterColumns(user *auth.UserInfo, table string, requested, physical []string, owner bool) ([]string, error) {
	if len(requested) == 0 {
		out := make([]string, 0, len(physical))
		for _, col := range physical {
			if ClassifyColumn(col).Restricted() && !user.IsAdmin() {
				continue
			}
			if !e.CheckColumn(user, table, col, OpSelect, owner) {
				continue
			}
			out = append(out, col)
		}
		if len(out) == 0 {
			return nil, httpx.Errorf(httpx.ErrValidation, "Permission denied for columns: no readable columns on table %s", table)
		}
		return out, nil
	}

	known := make(map[string]struct{}, len(physical))
	for _, col := range physical {
		known[col] = struct{}{}
	}
	seen := make(map[string]struct{}, len(requested))
	out := make([]string, 0, len(requested))
	var unknown, denied []string
	for _, col := range requested {
		if _, dup := seen[col]; dup {
			continue
		}
		seen[col] = struct{}{}
		if _, ok := known[col]; !ok {
			unknown = append(unknown, col)
			continue
		}
		if !e.CheckColumn(user, table, col, OpSelect, owner) {
			denied = append(denied, col)
			continue
		}
		out = append(out, col)
	}
	if len(unknown) > 0 {
		return nil, httpx.Errorf(httpx.ErrValidation, "unknown columns on table %s: %s", table, strings.Join(unknown, ", "))
	}
	if len(denied) > 0 {
		return nil, httpx.Errorf(httpx.ErrValidation, "Permission denied for columns: %s", strings.Join(denied, ", "))
	}
	return out, nil
}

func hasAnyRole(user *auth.UserInfo, roles []string, owner bool) bool {
	for _, r := range roles {
		switch r {
		case auth.RolePublic:
			return true
		case auth.RoleAuthenticated:
			if user != nil {
				return true
			}
		case auth.RoleOwner:
			if owner && user != nil {
				return true
			}
		default:
			if user.HasRole(r) {
				return true
			}
		}
	}
	return false
}
