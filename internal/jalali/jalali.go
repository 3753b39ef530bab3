// Package jalali holds the Solar Hijri date helpers used by the portal,
// whose dates are always YYYY/MM/DD strings in Asia/Tehran.
package jalali

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	ptime "github.com/yaa110/go-persian-calendar"

	"atabat-scraper/internal/digits"
)

var datePattern = regexp.MustCompile(`^(\d{4})/(\d{2})/(\d{2})$`)

// Tehran is the portal's time zone.
var Tehran = loadTehran()

func loadTehran() *time.Location {
	loc, err := time.LoadLocation("Asia/Tehran")
	if err != nil {
		return time.FixedZone("IRST", 3*60*60+30*60)
	}
	return loc
}

// Format renders t as a Jalali YYYY/MM/DD date in Tehran.
func Format(t time.Time) string {
	pt := ptime.New(t.In(Tehran))
	return fmt.Sprintf("%04d/%02d/%02d", pt.Year(), int(pt.Month()), pt.Day())
}

// Today returns now's Jalali date in Tehran.
func Today(now time.Time) string {
	return Format(now)
}

// SameDay reports whether a and b fall on the same Tehran calendar day.
func SameDay(a, b time.Time) bool {
	return Format(a) == Format(b)
}

// Parse splits a YYYY/MM/DD Jalali date, accepting Persian digits, and
// rejects dates that do not exist in the calendar.
func Parse(s string) (year, month, day int, err error) {
	s = digits.ToEnglish(s)
	m := datePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, 0, fmt.Errorf("invalid jalali date %q: want YYYY/MM/DD", s)
	}
	year, _ = strconv.Atoi(m[1])
	month, _ = strconv.Atoi(m[2])
	day, _ = strconv.Atoi(m[3])
	if month < 1 || month > 12 || day < 1 || day > monthLength(month) {
		return 0, 0, 0, fmt.Errorf("invalid jalali date %q: out of range", s)
	}
	pt := ptime.Date(year, ptime.Month(month), day, 12, 0, 0, 0, Tehran)
	if pt.Year() != year || int(pt.Month()) != month || pt.Day() != day {
		return 0, 0, 0, fmt.Errorf("invalid jalali date %q: no such day", s)
	}
	return year, month, day, nil
}

func monthLength(month int) int {
	switch {
	case month <= 6:
		return 31
	case month <= 11:
		return 30
	}
	// Esfand has 30 days in leap years; ptime.Date settles which.
	return 30
}

// Normalize returns s with ASCII digits when it is a valid date.
func Normalize(s string) (string, error) {
	y, m, d, err := Parse(s)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d/%02d/%02d", y, m, d), nil
}

// Valid reports whether s is a real YYYY/MM/DD Jalali date.
func Valid(s string) bool {
	_, _, _, err := Parse(s)
	return err == nil
}

// InRange reports whether from <= date <= to. Zero-padded dates compare
// correctly as strings once normalized; invalid input is never in range.
func InRange(date, from, to string) bool {
	d, err := Normalize(date)
	if err != nil {
		return false
	}
	if from != "" {
		f, err := Normalize(from)
		if err != nil || d < f {
			return false
		}
	}
	if to != "" {
		t, err := Normalize(to)
		if err != nil || d > t {
			return false
		}
	}
	return true
}

// AddDays shifts a Jalali date by n days.
func AddDays(s string, n int) (string, error) {
	y, m, d, err := Parse(s)
	if err != nil {
		return "", err
	}
	pt := ptime.Date(y, ptime.Month(m), d, 12, 0, 0, 0, Tehran)
	return Format(pt.Time().AddDate(0, 0, n)), nil
}

// At returns the Tehran instant of a Jalali date and an HH:MM clock time.
func At(date, clock string) (time.Time, error) {
	y, m, d, err := Parse(date)
	if err != nil {
		return time.Time{}, err
	}
	hm, err := time.Parse("15:04", digits.ToEnglish(clock))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, want HH:MM", clock)
	}
	return ptime.Date(y, ptime.Month(m), d, hm.Hour(), hm.Minute(), 0, 0, Tehran).Time(), nil
}
