package utils

import (
	"strconv"
	"strings"
	"time"
)

// DateOnlyFormat is the day granularity some upstream builds expect for range bounds.
const DateOnlyFormat = "2006-01-02"

// timestampLayouts are tried in order after the numeric epoch check.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	DateOnlyFormat,
}

// ParseTimestamp accepts RFC 3339 / ISO-8601 timestamps, date-only strings and
// millisecond epoch numbers. The result is in UTC.
func ParseTimestamp(value string) (time.Time, bool) {
	s := strings.TrimSpace(value)
	if s == "" {
		return time.Time{}, false
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), true
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// FormatISO renders t the way range bounds are sent upstream (UTC, millisecond precision).
func FormatISO(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// FormatDay truncates t to its UTC calendar day.
func FormatDay(t time.Time) string {
	return t.UTC().Format(DateOnlyFormat)
}
