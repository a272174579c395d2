// Package datefmt normalizes loosely formatted date strings for display.
package datefmt

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// fallbackLayouts are tried in order when the input is not an ISO date.
// Day-first wins over month-first for ambiguous values such as 05/03/2024.
var fallbackLayouts = []string{
	"2/1/2006",
	"1/2/2006",
	"2-1-2006",
}

// FormatDate converts an ISO date, an ISO date with a time component, or one
// of the fallback layouts into DD/MM/YYYY. Unrecognized input is returned
// unchanged; FormatDate never fails.
func FormatDate(s string) string {
	if s == "" {
		return ""
	}

	date := stripTime(strings.TrimSpace(s))

	if y, m, d, ok := splitISO(date); ok {
		return render(y, m, d)
	}

	for _, layout := range fallbackLayouts {
		t, err := time.Parse(layout, date)
		if err != nil {
			continue
		}
		return render(t.Year(), int(t.Month()), t.Day())
	}

	return s
}

// Parse decomposes s the same way FormatDate does and returns the calendar
// day at midnight UTC. The second result is false when s is not a date.
func Parse(s string) (time.Time, bool) {
	date := stripTime(strings.TrimSpace(s))
	if date == "" {
		return time.Time{}, false
	}
	if y, m, d, ok := splitISO(date); ok {
		return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC), true
	}
	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, date); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func stripTime(s string) string {
	if i := strings.IndexAny(s, "T "); i >= 0 {
		return s[:i]
	}
	return s
}

// splitISO reads YYYY-MM-DD as integers. No time.Time is built from local
// time, so the calendar day cannot shift.
func splitISO(s string) (year, month, day int, ok bool) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 || len(parts[0]) != 4 {
		return 0, 0, 0, false
	}
	nums := make([]int, 3)
	for i, p := range parts {
		if p == "" || len(p) > 4 || !allDigits(p) {
			return 0, 0, 0, false
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, 0, 0, false
		}
		nums[i] = n
	}
	year, month, day = nums[0], nums[1], nums[2]
	if !validDay(year, month, day) {
		return 0, 0, 0, false
	}
	return year, month, day, true
}

// allDigits rejects the signs strconv.Atoi would otherwise accept.
func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func validDay(year, month, day int) bool {
	if month < 1 || month > 12 || day < 1 {
		return false
	}
	// Day 0 of the next month is the last day of this one.
	last := time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
	return day <= last
}

func render(year, month, day int) string {
	return fmt.Sprintf("%02d/%02d/%04d", day, month, year)
}
