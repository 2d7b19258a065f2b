// Package temporal resolves the split calendar-date / time-of-day columns of
// the clinical schema into ordered instants, and renders instants and
// durations for the API payload surface.
package temporal

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Payload surface layouts. The dashboard parses these verbatim, so they are
// part of the compatibility surface.
const (
	DateTimeLayout = "02.01.2006 15:04:05"
	DateLayout     = "02.01.2006"
	TimeLayout     = "15:04"
)

// Combine merges a calendar date with an optional time-of-day reading into a
// single instant. A missing time-of-day resolves to midnight of that date;
// absence is a data-quality condition, never an error.
func Combine(day time.Time, clock *time.Time) time.Time {
	h, m, s := 0, 0, 0
	if clock != nil {
		h, m, s = clock.Clock()
	}
	y, mo, d := day.Date()
	return time.Date(y, mo, d, h, m, s, 0, day.Location())
}

// CombineOpt is Combine for an optional date. A missing date yields nil.
func CombineOpt(day *time.Time, clock *time.Time) *time.Time {
	if day == nil {
		return nil
	}
	v := Combine(*day, clock)
	return &v
}

// HoursBetween returns the elapsed hours from start to end, fractional,
// rounded to two decimals. Callers are expected to pass start <= end; a
// future start yields a negative value reported as-is.
func HoursBetween(start, end time.Time) float64 {
	return round2(end.Sub(start).Hours())
}

// HoursBetweenOpt is HoursBetween for an optional start instant.
func HoursBetweenOpt(start *time.Time, end time.Time) *float64 {
	if start == nil {
		return nil
	}
	v := HoursBetween(*start, end)
	return &v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Latest returns the most recent of the given instants, ignoring nils.
// Returns nil when every value is nil.
func Latest(values ...*time.Time) *time.Time {
	var max *time.Time
	for _, v := range values {
		if v == nil {
			continue
		}
		if max == nil || v.After(*max) {
			max = v
		}
	}
	return max
}

// FormatDuration renders a fractional hour count as "3y, 2w, 5d, 6h",
// omitting zero components. Sub-hour values render as "0h"; negative values
// render as "N/A".
func FormatDuration(hours float64) string {
	if hours < 0 {
		return "N/A"
	}

	total := int(hours)
	years := total / (365 * 24)
	rem := total % (365 * 24)
	weeks := rem / (7 * 24)
	rem = rem % (7 * 24)
	days := rem / 24
	rem = rem % 24

	var parts []string
	if years > 0 {
		parts = append(parts, fmt.Sprintf("%dy", years))
	}
	if weeks > 0 {
		parts = append(parts, fmt.Sprintf("%dw", weeks))
	}
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if rem > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%dh", rem))
	}
	return strings.Join(parts, ", ")
}

// Age returns whole years from dateOfBirth to ref, accounting for whether
// the birthday has occurred in ref's year.
func Age(dateOfBirth, ref time.Time) int {
	age := ref.Year() - dateOfBirth.Year()
	if ref.Month() < dateOfBirth.Month() ||
		(ref.Month() == dateOfBirth.Month() && ref.Day() < dateOfBirth.Day()) {
		age--
	}
	return age
}

// FormatDateTime renders an instant as "02.01.2006 15:04:05".
func FormatDateTime(t time.Time) string {
	return t.Format(DateTimeLayout)
}

// FormatDateTimeOpt renders an optional instant, nil-for-nil.
func FormatDateTimeOpt(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.Format(DateTimeLayout)
	return &v
}

// FormatDate renders the calendar-date part as "02.01.2006".
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// FormatDateOpt renders an optional calendar date, nil-for-nil.
func FormatDateOpt(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.Format(DateLayout)
	return &v
}

// FormatTime renders the time-of-day part as "15:04".
func FormatTime(t time.Time) string {
	return t.Format(TimeLayout)
}

// FormatTimeOpt renders an optional time-of-day, nil-for-nil.
func FormatTimeOpt(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.Format(TimeLayout)
	return &v
}

var dateLayouts = []string{"2.1.2006", "2006-01-02", "1/2/2006"}

var timeLayouts = []string{"15:04:05", "15:04", "3:04:05 PM", "3:04 PM"}

// ParseDate parses a calendar date in day-first dotted, ISO, or US slash
// notation.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// ParseTime parses a time-of-day in 24-hour or AM/PM notation.
func ParseTime(s string) (time.Time, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// ParseDateTime parses "<date> <time>" where the time part is optional and
// each part accepts the same notations as ParseDate and ParseTime.
func ParseDateTime(s string) (time.Time, error) {
	parts := strings.SplitN(strings.TrimSpace(s), " ", 2)
	day, err := ParseDate(parts[0])
	if err != nil {
		return time.Time{}, err
	}
	if len(parts) == 1 || strings.TrimSpace(parts[1]) == "" {
		return day, nil
	}
	clock, err := ParseTime(parts[1])
	if err != nil {
		return time.Time{}, err
	}
	return Combine(day, &clock), nil
}
