package dialect

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

const timeLayout = "2006-01-02 15:04:05.999999"

// Quote renders v as a literal for this dialect. nil becomes NULL; every other
// value is converted to text and quoted as a string, the same way a driver's
// own quote routine would.
func (d Dialect) Quote(v any) string {
	if v == nil {
		return "NULL"
	}
	if valuer, ok := v.(driver.Valuer); ok {
		inner, err := valuer.Value()
		if err != nil {
			return "NULL"
		}
		if _, again := inner.(driver.Valuer); again {
			return d.QuoteString(fmt.Sprint(inner))
		}
		return d.Quote(inner)
	}
	return d.QuoteString(d.text(v))
}

// QuoteString escapes s and wraps it in single quotes.
func (d Dialect) QuoteString(s string) string {
	switch d {
	case MySQL:
		return "'" + escapeBackslash(s) + "'"
	case PostgreSQL:
		return pq.QuoteLiteral(s)
	default:
		return "'" + strings.ReplaceAll(s, "'", "''") + "'"
	}
}

func (d Dialect) text(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		if d == PostgreSQL {
			return strconv.FormatBool(x)
		}
		if x {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(x)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format(timeLayout)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// escapeBackslash mirrors mysql_real_escape_string.
func escapeBackslash(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case 0:
			sb.WriteString(`\0`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\\':
			sb.WriteString(`\\`)
		case '\'':
			sb.WriteString(`\'`)
		case '"':
			sb.WriteString(`\"`)
		case 0x1a:
			sb.WriteString(`\Z`)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
