package executor

import (
	"strconv"
	"strings"

	"github.com/odyssey-erp/odyssey-edge/internal/platform/httpx"
)

// Bind rewrites ":name" placeholders of a SQL template into positional "$n" markers.
// Names are numbered in order of first occurrence and a repeated name reuses its
// position. Casts ("::"), quoted literals (including E'' and dollar-quoted bodies),
// quoted identifiers and comments are left alone.
func Bind(template string, params map[string]any) (string, []any, error) {
	var (
		out   strings.Builder
		names []string
		index = map[string]int{}
	)
	out.Grow(len(template))
	n := len(template)
	for i := 0; i < n; {
		ch := template[i]
		switch {
		case ch == '\'' || ch == '"':
			end := skipQuoted(template, i, ch)
			out.WriteString(template[i:end])
			i = end
		case (ch == 'E' || ch == 'e') && i+1 < n && template[i+1] == '\'' && !afterIdent(template, i):
			end := skipEscaped(template, i+1)
			out.WriteString(template[i:end])
			i = end
		case ch == '$' && !afterIdent(template, i):
			end, ok := skipDollarQuoted(template, i)
			if !ok {
				out.WriteByte(ch)
				i++
				continue
			}
			out.WriteString(template[i:end])
			i = end
		case ch == '-' && i+1 < n && template[i+1] == '-':
			end := strings.IndexByte(template[i:], '\n')
			if end < 0 {
				end = n - i
			}
			out.WriteString(template[i : i+end])
			i += end
		case ch == '/' && i+1 < n && template[i+1] == '*':
			end := strings.Index(template[i+2:], "*/")
			if end < 0 {
				out.WriteString(template[i:])
				i = n
				continue
			}
			out.WriteString(template[i : i+2+end+2])
			i += 2 + end + 2
		case ch == ':' && i+1 < n && template[i+1] == ':':
			out.WriteString("::")
			i += 2
		case ch == ':' && i+1 < n && isIdentStart(template[i+1]):
			j := i + 1
			for j < n && isIdentPart(template[j]) {
				j++
			}
			name := template[i+1 : j]
			pos, seen := index[name]
			if !seen {
				names = append(names, name)
				pos = len(names)
				index[name] = pos
			}
			out.WriteString("$" + strconv.Itoa(pos))
			i = j
		default:
			out.WriteByte(ch)
			i++
		}
	}

	args := make([]any, len(names))
	var missing []string
	for i, name := range names {
		v, ok := params[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		args[i] = v
	}
	if len(missing) > 0 {
		return "", nil, httpx.Errorf(httpx.ErrValidation, "missing required parameter: %s", strings.Join(missing, ", "))
	}
	return out.String(), args, nil
}

// skipQuoted returns the index just past the quoted run starting at i. A doubled
// quote character is an escape.
func skipQuoted(s string, i int, quote byte) int {
	for j := i + 1; j < len(s); j++ {
		if s[j] != quote {
			continue
		}
		if j+1 < len(s) && s[j+1] == quote {
			j++
			continue
		}
		return j + 1
	}
	return len(s)
}

// skipEscaped is skipQuoted for E'' strings, where a backslash escapes the
// next character.
func skipEscaped(s string, i int) int {
	for j := i + 1; j < len(s); j++ {
		switch {
		case s[j] == '\\':
			j++
		case s[j] == '\'' && j+1 < len(s) && s[j+1] == '\'':
			j++
		case s[j] == '\'':
			return j + 1
		}
	}
	return len(s)
}

// skipDollarQuoted returns the index just past a $tag$...$tag$ body starting
// at i. ok is false when s[i:] does not open one, as with "$1".
func skipDollarQuoted(s string, i int) (int, bool) {
	j := i + 1
	if j < len(s) && isIdentStart(s[j]) {
		for j < len(s) && isIdentPart(s[j]) {
			j++
		}
	}
	if j >= len(s) || s[j] != '$' {
		return 0, false
	}
	delim := s[i : j+1]
	end := strings.Index(s[j+1:], delim)
	if end < 0 {
		return len(s), true
	}
	return j + 1 + end + len(delim), true
}

func afterIdent(s string, i int) bool {
	return i > 0 && (isIdentPart(s[i-1]) || s[i-1] == '$')
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9')
}
