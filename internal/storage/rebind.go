package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// RebindNumbered rewrites '?' placeholders as prefix+N (N starting at 1),
// e.g. "$1" for Postgres or "@p1" for SQL Server.
//
// Question marks inside single-quoted string literals, double-quoted
// identifiers and bracketed identifiers are left alone.
func RebindNumbered(query, prefix string) string {
	if strings.IndexByte(query, '?') < 0 {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)

	n := 0
	var quote byte
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
			b.WriteByte(c)
		case c == '\'' || c == '"':
			quote = c
			b.WriteByte(c)
		case c == '[':
			quote = ']'
			b.WriteByte(c)
		case c == '?':
			n++
			b.WriteString(prefix)
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// NormalizeKey converts a scanned key value to a canonical string form
// suitable for in-memory lookup maps (e.g. "Health and beauty" or "A").
//
// Drivers disagree on the Go type of TEXT columns (string vs []byte) and of
// integer columns (int64 vs int32); this keeps lookups consistent across
// backends.
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
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int:
		return strconv.Itoa(t)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
