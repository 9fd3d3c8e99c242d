package dump

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"mysql-porter/internal/schema"
)

// InsertStatement renders row as a single-row INSERT terminated by ";\n".
func InsertStatement(row *Row) string {
	var b strings.Builder
	b.Grow(64 + 16*len(row.Values))
	b.WriteString("INSERT INTO ")
	b.WriteString(schema.QuoteIdentifier(row.Table))
	b.WriteString(" (")
	for i, c := range row.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(schema.QuoteIdentifier(c))
	}
	b.WriteString(") VALUES (")
	for i, v := range row.Values {
		if i > 0 {
			b.WriteString(", ")
		}
		writeValue(&b, v)
	}
	b.WriteString(");\n")
	return b.String()
}

// Literal renders a single value as a MySQL literal.
func Literal(v any) string {
	var b strings.Builder
	writeValue(&b, v)
	return b.String()
}

func writeValue(b *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		b.WriteString("NULL")
	case string:
		writeQuoted(b, val)
	case []byte:
		if len(val) == 0 {
			b.WriteString("''")
			return
		}
		b.WriteString("0x")
		b.WriteString(hex.EncodeToString(val))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case int:
		b.WriteString(strconv.Itoa(val))
	case int32:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case uint64:
		b.WriteString(strconv.FormatUint(val, 10))
	case uint32:
		b.WriteString(strconv.FormatUint(uint64(val), 10))
	case float64:
		writeFloat(b, val, 64)
	case float32:
		writeFloat(b, float64(val), 32)
	case bool:
		if val {
			b.WriteString("1")
		} else {
			b.WriteString("0")
		}
	case time.Time:
		if val.IsZero() {
			b.WriteString("'0000-00-00 00:00:00'")
			return
		}
		layout := "2006-01-02 15:04:05"
		if val.Nanosecond() != 0 {
			layout = "2006-01-02 15:04:05.999999"
		}
		b.WriteByte('\'')
		b.WriteString(val.Format(layout))
		b.WriteByte('\'')
	default:
		writeQuoted(b, fmt.Sprint(val))
	}
}

func writeFloat(b *strings.Builder, f float64, bits int) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		b.WriteString("NULL")
		return
	}
	b.WriteString(strconv.FormatFloat(f, 'g', -1, bits))
}

// writeQuoted escapes backslash, quotes, CR, LF, NUL and Ctrl-Z the way
// mysql_real_escape_string does.
func writeQuoted(b *strings.Builder, s string) {
	b.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case 0:
			b.WriteString(`\0`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\x1a':
			b.WriteString(`\Z`)
		case '\'':
			b.WriteString(`\'`)
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('\'')
}
