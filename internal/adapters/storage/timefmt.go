package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// TimeLayout is the text format every table stores timestamps in. The fraction is fixed width
// so that ORDER BY on the text column is chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders t in TimeLayout, in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// NullTime returns nil for the zero time so the column stays NULL.
func NullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return FormatTime(t)
}

// NullString returns nil for the empty string so the column stays NULL.
func NullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ParseTime accepts the stored layout plus the formats SQLite itself produces.
func ParseTime(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		t, err := time.Parse(f, s)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time: %s", s)
}

// ParseNullTime returns the zero time for NULL or empty columns.
func ParseNullTime(ns sql.NullString) time.Time {
	if !ns.Valid || ns.String == "" {
		return time.Time{}
	}
	t, _ := ParseTime(ns.String)
	return t
}
