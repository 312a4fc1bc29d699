package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NormalizeKey converts a natural-key value to a canonical string form used
// by in-memory key caches (e.g. "2024-03-15" or "8429529").
//
// Backends must not assume a particular underlying type for keys; drivers
// return dates as time.Time, strings or []byte depending on the backend, and
// this helper keeps lookup caches consistent across all of them.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case time.Time:
		return t.UTC().Format("2006-01-02")
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
