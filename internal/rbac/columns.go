package rbac

import "strings"

// ColumnClass is the security class derived from a column name prefix.
type ColumnClass int

// Column classes, keyed on the leading pattern of the column name.
const (
	ClassPlain        ColumnClass = iota // no recognized prefix
	ClassSensitive                       // s_*
	ClassConfidential                    // c_*
	ClassPrivate                         // p_*
	ClassSystem                          // _*
)

// ClassifyColumn derives the class of a column from its name.
func ClassifyColumn(column string) ColumnClass {
	switch {
	case strings.HasPrefix(column, "s_"):
		return ClassSensitive
	case strings.HasPrefix(column, "c_"):
		return ClassConfidential
	case strings.HasPrefix(column, "p_"):
		return ClassPrivate
	case strings.HasPrefix(column, "_"):
		return ClassSystem
	default:
		return ClassPlain
	}
}

// Restricted reports whether the class is hidden from implicit selects of non-admins.
func (c ColumnClass) Restricted() bool {
	return c == ClassConfidential || c == ClassPrivate
}

// DefaultColumnRule is the rule applied to a column without explicit configuration.
func DefaultColumnRule(column string) ColumnPermissions {
	switch ClassifyColumn(column) {
	case ClassSensitive:
		return ColumnPermissions{
			Select: []string{"owner", "admin"},
			Insert: []string{"owner", "admin"},
			Update: []string{"owner", "admin"},
		}
	case ClassConfidential, ClassPrivate:
		return ColumnPermissions{
			Select: []string{"admin"},
			Insert: []string{"admin"},
			Update: []string{"admin"},
		}
	case ClassSystem:
		return ColumnPermissions{
			Select: []string{"authenticated"},
			Insert: []string{},
			Update: []string{},
		}
	default:
		return ColumnPermissions{
			Select: []string{"authenticated"},
			Insert: []string{"owner", "admin"},
			Update: []string{"owner", "admin"},
		}
	}
}
