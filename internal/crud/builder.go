// Package crud assembles parameterized statements for permission-checked table operations.
package crud

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-edge/internal/auth"
	"github.com/odyssey-erp/odyssey-edge/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-edge/internal/rbac"
)

// Request describes one table operation as requested by a caller.
type Request struct {
	Table     string
	Operation rbac.Operation
	Where     map[string]any
	Data      map[string]any
	Columns   []string
	OrderBy   string
	Limit     *int64
	Offset    *int64
}

// Statement is a ready to run query with positional arguments.
type Statement struct {
	SQL  string
	Args []any
	// Readable lists the columns the caller may see in returned rows.
	Readable []string
}

// Builder turns requests into statements after consulting the permission engine.
type Builder struct {
	engine *rbac.Engine
}

// NewBuilder constructs a builder.
func NewBuilder(engine *rbac.Engine) *Builder {
	return &Builder{engine: engine}
}

// Build checks permissions for req and assembles its statement. physical is the
// discovered column list of req.Table and bounds every identifier used.
func (b *Builder) Build(user *auth.UserInfo, req Request, physical []string) (Statement, error) {
	if len(physical) == 0 {
		return Statement{}, httpx.Errorf(httpx.ErrNotFound, "table %s not found", req.Table)
	}
	known := make(map[string]struct{}, len(physical))
	for _, col := range physical {
		known[col] = struct{}{}
	}
	if err := checkKnown(req.Table, known, keys(req.Where)); err != nil {
		return Statement{}, err
	}
	if err := checkKnown(req.Table, known, keys(req.Data)); err != nil {
		return Statement{}, err
	}

	switch req.Operation {
	case rbac.OpSelect:
		return b.buildSelect(user, req, physical, known)
	case rbac.OpInsert:
		return b.buildInsert(user, req, physical)
	case rbac.OpUpdate:
		return b.buildUpdate(user, req, physical)
	case rbac.OpDelete:
		return b.buildDelete(user, req, physical)
	default:
		return Statement{}, httpx.Errorf(httpx.ErrValidation, "unsupported operation %q", req.Operation)
	}
}

func (b *Builder) buildSelect(user *auth.UserInfo, req Request, physical []string, known map[string]struct{}) (Statement, error) {
	d, err := b.engine.Check(user, req.Table, rbac.OpSelect, nil)
	if err != nil {
		return Statement{}, err
	}
	cols, err := b.engine.FilterColumns(user, req.Table, req.Columns, physical, d.Owner)
	if err != nil {
		return Statement{}, err
	}
	order, err := parseOrderBy(req.Table, req.OrderBy, known)
	if err != nil {
		return Statement{}, err
	}

	var sb strings.Builder
	args := make([]any, 0, len(req.Where)+2)
	sb.WriteString("SELECT ")
	sb.WriteString(identList(cols))
	sb.WriteString(" FROM ")
	sb.WriteString(quote(req.Table))
	args = writeWhere(&sb, merge(req.Where, d.Filter), args)
	if order != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(order)
	}
	if req.Limit != nil {
		if *req.Limit < 0 {
			return Statement{}, httpx.Errorf(httpx.ErrValidation, "limit must not be negative")
		}
		args = append(args, *req.Limit)
		sb.WriteString(" LIMIT $" + strconv.Itoa(len(args)))
	}
	if req.Offset != nil {
		if *req.Offset < 0 {
			return Statement{}, httpx.Errorf(httpx.ErrValidation, "offset must not be negative")
		}
		args = append(args, *req.Offset)
		sb.WriteString(" OFFSET $" + strconv.Itoa(len(args)))
	}
	return Statement{SQL: sb.String(), Args: args, Readable: cols}, nil
}

func (b *Builder) buildInsert(user *auth.UserInfo, req Request, physical []string) (Statement, error) {
	cols := keys(req.Data)
	if len(cols) == 0 {
		return Statement{}, httpx.Errorf(httpx.ErrValidation, "insert on table %s requires data", req.Table)
	}
	d, err := b.engine.Check(user, req.Table, rbac.OpInsert, cols)
	if err != nil {
		return Statement{}, err
	}
	row := merge(req.Data, d.Filter)
	cols = keys(row)

	var sb strings.Builder
	args := make([]any, 0, len(cols))
	sb.WriteString("INSERT INTO ")
	sb.WriteString(quote(req.Table))
	sb.WriteString(" (")
	sb.WriteString(identList(cols))
	sb.WriteString(") VALUES (")
	for i, col := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		args = append(args, row[col])
		sb.WriteString("$" + strconv.Itoa(len(args)))
	}
	sb.WriteString(") RETURNING *")
	return Statement{SQL: sb.String(), Args: args, Readable: b.readable(user, req.Table, physical, d.Owner)}, nil
}

func (b *Builder) buildUpdate(user *auth.UserInfo, req Request, physical []string) (Statement, error) {
	cols := keys(req.Data)
	if len(cols) == 0 {
		return Statement{}, httpx.Errorf(httpx.ErrValidation, "update on table %s requires data", req.Table)
	}
	d, err := b.engine.Check(user, req.Table, rbac.OpUpdate, cols)
	if err != nil {
		return Statement{}, err
	}
	filter := merge(req.Where, d.Filter)
	if len(filter) == 0 {
		return Statement{}, httpx.Errorf(httpx.ErrValidation, "update on table %s requires a filter", req.Table)
	}

	var sb strings.Builder
	args := make([]any, 0, len(cols)+len(filter))
	sb.WriteString("UPDATE ")
	sb.WriteString(quote(req.Table))
	sb.WriteString(" SET ")
	for i, col := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		args = append(args, req.Data[col])
		sb.WriteString(quote(col) + " = $" + strconv.Itoa(len(args)))
	}
	args = writeWhere(&sb, filter, args)
	sb.WriteString(" RETURNING *")
	return Statement{SQL: sb.String(), Args: args, Readable: b.readable(user, req.Table, physical, d.Owner)}, nil
}

func (b *Builder) buildDelete(user *auth.UserInfo, req Request, physical []string) (Statement, error) {
	d, err := b.engine.Check(user, req.Table, rbac.OpDelete, nil)
	if err != nil {
		return Statement{}, err
	}
	filter := merge(req.Where, d.Filter)
	if len(filter) == 0 {
		return Statement{}, httpx.Errorf(httpx.ErrValidation, "delete on table %s requires a filter", req.Table)
	}

	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(quote(req.Table))
	args := writeWhere(&sb, filter, make([]any, 0, len(filter)))
	sb.WriteString(" RETURNING *")
	return Statement{SQL: sb.String(), Args: args, Readable: b.readable(user, req.Table, physical, d.Owner)}, nil
}

// readable resolves the implicit select list used to project returned rows.
func (b *Builder) readable(user *auth.UserInfo, table string, physical []string, owner bool) []string {
	cols, err := b.engine.FilterColumns(user, table, nil, physical, owner)
	if err != nil {
		return []string{}
	}
	return cols
}

// Project keeps only readable columns of every row.
func Project(rows []map[string]any, readable []string) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		projected := make(map[string]any, len(readable))
		for _, col := range readable {
			if v, ok := row[col]; ok {
				projected[col] = v
			}
		}
		out = append(out, projected)
	}
	return out
}

// merge unions the caller map with the row-level filter; filter keys win.
func merge(caller map[string]any, filter rbac.Filter) map[string]any {
	out := make(map[string]any, len(caller)+len(filter))
	for k, v := range caller {
		out[k] = v
	}
	for k, v := range filter {
		out[k] = v
	}
	return out
}

func writeWhere(sb *strings.Builder, filter map[string]any, args []any) []any {
	cols := keys(filter)
	for i, col := range cols {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		v := filter[col]
		if v == nil {
			sb.WriteString(quote(col) + " IS NULL")
			continue
		}
		args = append(args, v)
		sb.WriteString(quote(col) + " = $" + strconv.Itoa(len(args)))
	}
	return args
}

func parseOrderBy(table, raw string, known map[string]struct{}) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		fields := strings.Fields(part)
		if len(fields) == 0 || len(fields) > 2 {
			return "", httpx.Errorf(httpx.ErrValidation, "invalid orderBy %q", raw)
		}
		col := fields[0]
		if _, ok := known[col]; !ok {
			return "", httpx.Errorf(httpx.ErrValidation, "unknown columns on table %s: %s", table, col)
		}
		dir := "ASC"
		if len(fields) == 2 {
			switch strings.ToUpper(fields[1]) {
			case "ASC":
			case "DESC":
				dir = "DESC"
			default:
				return "", httpx.Errorf(httpx.ErrValidation, "invalid orderBy direction %q", fields[1])
			}
		}
		out = append(out, quote(col)+" "+dir)
	}
	return strings.Join(out, ", "), nil
}

func checkKnown(table string, known map[string]struct{}, cols []string) error {
	var unknown []string
	for _, col := range cols {
		if _, ok := known[col]; !ok {
			unknown = append(unknown, col)
		}
	}
	if len(unknown) > 0 {
		return httpx.Errorf(httpx.ErrValidation, "unknown columns on table %s: %s", table, strings.Join(unknown, ", "))
	}
	return nil
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func quote(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

func identList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = quote(col)
	}
	return strings.Join(quoted, ", ")
}

// String renders a statement for debug logs.
func (s Statement) String() string {
	return fmt.Sprintf("%s %v", s.SQL, s.Args)
}
