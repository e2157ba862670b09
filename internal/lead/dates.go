package lead

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the layout dates are written back with.
const DateLayout = "2006-01-02"

var dateLayouts = []string{
	DateLayout,
	"2006-01-02 15:04:05",
	time.RFC3339,
	"01/02/2006",
	"1/2/2006",
	"01-02-06",
	"1/2/06",
	"2006/01/02",
}

// Excel day 0 is 1899-12-30 once the 1900 leap-year bug is accounted for.
var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// Day returns the calendar date of t as UTC midnight, read in t's own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween counts whole calendar days from one date to another.
func DaysBetween(from, to time.Time) int {
	return int(math.Round(Day(to).Sub(Day(from)).Hours() / 24))
}

// ParseDate reads a date cell. An empty cell yields (nil, nil).
func ParseDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			d := Day(t)
			return &d, nil
		}
	}
	if serial, err := strconv.ParseFloat(raw, 64); err == nil && serial > 0 && serial < 2958466 {
		d := Day(excelEpoch.AddDate(0, 0, int(serial)))
		return &d, nil
	}
	return nil, fmt.Errorf("unrecognised date %q", raw)
}

// FormatDate renders an optional date cell.
func FormatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(DateLayout)
}

// ParseCount reads a non-negative counter cell. Spreadsheets often store
// integers as "3.0", which is accepted.
func ParseCount(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative count %d", n)
		}
		if n > math.MaxInt32 {
			return 0, fmt.Errorf("invalid count %q", raw)
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != math.Trunc(f) || f < 0 || f > math.MaxInt32 {
		return 0, fmt.Errorf("invalid count %q", raw)
	}
	return int(f), nil
}
