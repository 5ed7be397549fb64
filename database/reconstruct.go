package database

import (
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tomyedwab/sqlext/database/dialect"
)

// ReconstructSQL renders the statement with literal values in place of its
// placeholders, for logs and debugging only; the result is never executed.
//
// overrides are quoted as given and take precedence over bound parameters.
// Bound values are resolved (live references are read now), cast to their
// declared type, truncated to their maximum length and quoted by the
// connection. Placeholders are matched as whole tokens, so ":id" never
// touches ":identifier", and text inside quotes or comments is left alone.
// Placeholders without a value stay as they are.
func (s *Stmt) ReconstructSQL(overrides Params) string {
	named := make(map[string]string, len(overrides))
	for k, v := range overrides {
		if key, err := namedKey(k); err == nil {
			named[key.name] = s.conn.Quote(v)
		}
	}
	return substitute(s.sql, s.conn.dialect, func(key paramKey) (string, bool) {
		if key.name != "" {
			if lit, ok := named[key.name]; ok {
				return lit, true
			}
		}
		p, ok := s.params[key]
		if !ok {
			return "", false
		}
		v := Cast(p.current(), p.typ)
		if p.maxLen > 0 {
			v = Truncate(v, p.maxLen)
		}
		if v == nil {
			return "NULL", true
		}
		return s.conn.Quote(v), true
	})
}

// substitute walks query once, replacing every placeholder token for which
// lookup returns a literal. "?" placeholders are numbered by occurrence.
func substitute(query string, d dialect.Dialect, lookup func(paramKey) (string, bool)) string {
	var sb strings.Builder
	sb.Grow(len(query) + 32)
	backslash := d == dialect.MySQL
	ordinal := 0

	for i := 0; i < len(query); {
		ch := query[i]
		switch {
		case ch == '\'' || ch == '"' || ch == '`':
			end := skipQuoted(query, i, ch, backslash && ch != '`')
			sb.WriteString(query[i:end])
			i = end
		case ch == '-' && strings.HasPrefix(query[i:], "--"), ch == '#' && d == dialect.MySQL:
			end := strings.IndexByte(query[i:], '\n')
			if end < 0 {
				end = len(query) - i
			}
			sb.WriteString(query[i : i+end])
			i += end
		case ch == '/' && strings.HasPrefix(query[i:], "/*"):
			end := strings.Index(query[i+2:], "*/")
			if end < 0 {
				end = len(query)
			} else {
				end = i + 2 + end + 2
			}
			sb.WriteString(query[i:end])
			i = end
		case ch == ':' && strings.HasPrefix(query[i:], "::"):
			sb.WriteString("::")
			i += 2
		case ch == '?':
			ordinal++
			if lit, ok := lookup(paramKey{pos: ordinal}); ok {
				sb.WriteString(lit)
			} else {
				sb.WriteByte(ch)
			}
			i++
		case ch == '@' && strings.HasPrefix(query[i:], "@@"):
			end := i + 2
			for end < len(query) && (isIdentPart(query[end]) || query[end] == '.') {
				end++
			}
			sb.WriteString(query[i:end])
			i = end
		case ch == '$' && d == dialect.PostgreSQL && dollarTag(query, i) != "":
			end := skipDollarQuoted(query, i, dollarTag(query, i))
			sb.WriteString(query[i:end])
			i = end
		case placeholderPrefix(ch, d) && i+1 < len(query):
			key, end := placeholderAt(query, i)
			if end == i {
				sb.WriteByte(ch)
				i++
				continue
			}
			if lit, ok := lookup(key); ok {
				sb.WriteString(lit)
			} else {
				sb.WriteString(query[i:end])
			}
			i = end
		default:
			sb.WriteByte(ch)
			i++
		}
	}
	return sb.String()
}

// skipQuoted returns the index just past the quoted section starting at i.
// Doubled quotes continue the section; so do backslash escapes when enabled.
func skipQuoted(query string, i int, quote byte, backslash bool) int {
	for j := i + 1; j < len(query); j++ {
		switch query[j] {
		case '\\':
			if backslash {
				j++
			}
		case quote:
			if j+1 < len(query) && query[j+1] == quote {
				j++
				continue
			}
			return j + 1
		}
	}
	return len(query)
}

// dollarTag returns the opening delimiter of a PostgreSQL dollar-quoted
// string at i ("$$" or "$tag$"), or "" when there is none.
func dollarTag(query string, i int) string {
	j := i + 1
	if j < len(query) && isIdentStart(query[j]) {
		for j < len(query) && isIdentPart(query[j]) {
			j++
		}
	}
	if j < len(query) && query[j] == '$' {
		return query[i : j+1]
	}
	return ""
}

func skipDollarQuoted(query string, i int, tag string) int {
	end := strings.Index(query[i+len(tag):], tag)
	if end < 0 {
		return len(query)
	}
	return i + len(tag) + end + len(tag)
}

// placeholderPrefix reports whether ch opens a named or numbered placeholder
// in d. ":" is accepted everywhere; "@" and "$" only where the server itself
// reads them as parameters, so MySQL user variables stay intact.
func placeholderPrefix(ch byte, d dialect.Dialect) bool {
	switch ch {
	case ':':
		return true
	case '@':
		return d == dialect.SQLServer || d == dialect.SQLite
	case '$':
		return d == dialect.PostgreSQL || d == dialect.SQLite
	}
	return false
}

// placeholderAt reads the placeholder starting with the prefix at i. It
// returns end == i when there is none. ":name", "@name" and "$name" are named;
// "$n" and ":n" are 1-based ordinals. Which prefixes apply is decided by
// placeholderPrefix.
func placeholderAt(query string, i int) (paramKey, int) {
	j := i + 1
	if isDigit(query[j]) {
		for j < len(query) && isDigit(query[j]) {
			j++
		}
		n, err := strconv.Atoi(query[i+1 : j])
		if err != nil || n < 1 {
			return paramKey{}, i
		}
		return paramKey{pos: n}, j
	}
	if !isIdentStart(query[j]) {
		return paramKey{}, i
	}
	for j < len(query) && isIdentPart(query[j]) {
		j++
	}
	return paramKey{name: query[i+1 : j]}, j
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= utf8.RuneSelf
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

// Cast coerces value to the declared parameter type: ParamBool gives a bool,
// ParamInt an int64, ParamNull nil. ParamStr and unknown types return value
// unchanged.
func Cast(value any, typ ParamType) any {
	switch typ {
	case ParamBool:
		return toBool(value)
	case ParamNull:
		return nil
	case ParamInt:
		return toInt(value)
	default:
		return value
	}
}

// Truncate cuts a string to at most length characters. Non-string values and
// negative lengths pass through untouched.
func Truncate(value any, length int) any {
	s, ok := value.(string)
	if !ok || length < 0 {
		return value
	}
	if utf8.RuneCountInString(s) <= length {
		return s
	}
	n := 0
	for i := range s {
		if n == length {
			return s[:i]
		}
		n++
	}
	return s
}

func toBool(value any) bool {
	if value == nil {
		return false
	}
	if b, ok := value.([]byte); ok {
		value = string(b)
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.String:
		s := rv.String()
		return s != "" && s != "0"
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	default:
		return true
	}
}

func toInt(value any) int64 {
	if value == nil {
		return 0
	}
	if b, ok := value.([]byte); ok {
		value = string(b)
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			return 1
		}
		return 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return int64(rv.Float())
	case reflect.String:
		return parseLeadingInt(rv.String())
	default:
		return 0
	}
}

// parseLeadingInt reads the numeric prefix of s, the way loosely typed
// callers expect "42abc" to mean 42.
func parseLeadingInt(s string) int64 {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && isDigit(s[end]) {
		end++
	}
	if end == digits {
		return 0
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
