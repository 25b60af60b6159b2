package normalize

import (
	"strconv"
	"strings"
	"time"
)

// Italian month names, accepted in the "D month YYYY" long form alongside
// English because several platforms localize review dates.
var italianMonths = map[string]time.Month{
	"gennaio":   time.January,
	"febbraio":  time.February,
	"marzo":     time.March,
	"aprile":    time.April,
	"maggio":    time.May,
	"giugno":    time.June,
	"luglio":    time.July,
	"agosto":    time.August,
	"settembre": time.September,
	"ottobre":   time.October,
	"novembre":  time.November,
	"dicembre":  time.December,
}

// ParseReviewDate normalizes a raw date string. Formats are tried in a fixed
// order: ISO YYYY-MM-DD prefix, DD-MM-YYYY (only when dayFirst is set, for
// platforms known to emit it), English "Month D, YYYY", "D month YYYY" in
// English or Italian, then Unix epoch seconds in the 1e9..1e11 range.
// Unrecognized input returns nil; the ingestion store substitutes the insert
// date, which is deliberate and documented there.
func ParseReviewDate(raw string, dayFirst bool) *time.Time {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}

	if len(s) >= 10 {
		if t, err := time.Parse("2006-01-02", s[:10]); err == nil {
			return &t
		}
	}

	if dayFirst {
		if t, err := time.Parse("02-01-2006", s); err == nil {
			return &t
		}
	}

	if t, err := time.Parse("January 2, 2006", s); err == nil {
		return &t
	}

	if t := parseDayMonthYear(s); t != nil {
		return t
	}

	if t := parseEpochSeconds(s); t != nil {
		return t
	}

	return nil
}

// parseDayMonthYear handles "2 January 2006" with English or Italian month names.
func parseDayMonthYear(s string) *time.Time {
	fields := strings.Fields(s)
	if len(fields) != 3 {
		return nil
	}

	if t, err := time.Parse("2 January 2006", s); err == nil {
		return &t
	}

	month, ok := italianMonths[strings.ToLower(fields[1])]
	if !ok {
		return nil
	}
	day, err := strconv.Atoi(fields[0])
	if err != nil || day < 1 || day > 31 {
		return nil
	}
	year, err := strconv.Atoi(fields[2])
	if err != nil {
		return nil
	}

	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return nil // day overflowed the month
	}
	return &t
}

// parseEpochSeconds accepts Unix epoch seconds in [1e9, 1e11). The range
// guard keeps small counters and millisecond timestamps from being mistaken
// for dates.
func parseEpochSeconds(s string) *time.Time {
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	if n < 1e9 || n >= 1e11 {
		return nil
	}
	t := time.Unix(int64(n), 0).UTC()
	return &t
}
