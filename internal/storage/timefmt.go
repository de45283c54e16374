package storage

import "time"

// TimestampLayout is how every backend stores timestamps: UTC text with
// second precision. Equal instants therefore compare equal as strings.
const TimestampLayout = "2006-01-02T15:04:05Z"

// FormatTime renders t in TimestampLayout, truncated to the second.
func FormatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(TimestampLayout)
}
