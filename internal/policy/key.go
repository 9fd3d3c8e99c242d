package policy

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatKey renders a primary key value the way retained row keys are written
// in configuration: integers in base 10, strings and bytes verbatim.
func FormatKey(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case int:
		return strconv.Itoa(val)
	case int8:
		return strconv.FormatInt(int64(val), 10)
	case int16:
		return strconv.FormatInt(int64(val), 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint8:
		return strconv.FormatUint(uint64(val), 10)
	case uint16:
		return strconv.FormatUint(uint64(val), 10)
	case uint32:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		return val.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprint(val)
	}
}

// CompositeKey joins the values of a multi-column primary key with commas.
func CompositeKey(values ...any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = FormatKey(v)
	}
	return strings.Join(parts, ",")
}
