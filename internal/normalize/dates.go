package normalize

import (
	"strings"
	"time"
)

// dateTimeLayouts are tried in order. Zone-less layouts parse as UTC so the
// calendar day is the one written in the source.
var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"1/2/2006 3:04:05 PM",
	"1/2/2006 3:04 PM",
	"1/2/2006 15:04",
	"1/2/2006",
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 2006",
	"January 2, 2006",
}

// ParseDateTime parses an ISO-like (or common register export) date-time.
// It reports false instead of failing when no layout fits.
func ParseDateTime(text string) (time.Time, bool) {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return time.Time{}, false
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseDay parses a calendar date in YYYY-MM-DD form, as used for the run
// date filter
func ParseDay(text string) (time.Time, bool) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(text))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SameDay reports whether t falls on the calendar day of day, comparing the
// dates as written and ignoring time zones
func SameDay(t, day time.Time) bool {
	y1, m1, d1 := t.Date()
	y2, m2, d2 := day.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
