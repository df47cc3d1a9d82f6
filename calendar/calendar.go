// Package calendar implements the systemd-timer-inspired calendar expression
// language: parsing a textual expression and resolving the next instant after
// a given time that the expression allows.
package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/rustyhorde/barto/barrors"
)

// RandSource is the injectable random source for R fields. *SystemRand wraps
// math/rand.Rand for production; tests supply a fixed-sequence fake so that
// next_fire results are reproducible. See DESIGN.md for the grounding note on
// why this is a seam rather than a package-level global.
type RandSource interface {
	// Intn returns a value in [0, n).
	Intn(n int) int
}

const (
	minYear = 1970
	maxYear = 2200
)

var weekdayNames = map[string]time.Weekday{
	"Mon": time.Monday,
	"Tue": time.Tuesday,
	"Wed": time.Wednesday,
	"Thu": time.Thursday,
	"Fri": time.Friday,
	"Sat": time.Saturday,
	"Sun": time.Sunday,
}

var weekdayOrder = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

var shortcuts = map[string]string{
	"minutely":  "*-*-* *:*:00",
	"hourly":    "*-*-* *:00:00",
	"daily":     "*-*-* 00:00:00",
	"weekly":    "Mon *-*-* 00:00:00",
	"monthly":   "*-*-01 00:00:00",
	"quarterly": "*-{01,04,07,10}-01 00:00:00",
	"yearly":    "*-01-01 00:00:00",
}

// Expression is a parsed calendar expression: one field per date/time
// component plus an optional weekday set.
type Expression struct {
	source   string
	weekdays [7]bool // indexed by time.Weekday; ignored when anyDay is set
	anyDay   bool
	year     field
	month    field
	day      field
	hour     field
	minute   field
	second   field
}

// Parse parses a calendar expression, resolving shortcut identifiers first.
func Parse(expr string) (*Expression, error) {
	trimmed := strings.TrimSpace(expr)
	if expanded, ok := shortcuts[trimmed]; ok {
		trimmed = expanded
	}
	fields := strings.Fields(trimmed)

	var weekdayTok string
	var dateTok, timeTok string
	switch len(fields) {
	case 2:
		dateTok, timeTok = fields[0], fields[1]
	case 3:
		weekdayTok, dateTok, timeTok = fields[0], fields[1], fields[2]
	default:
		return nil, fmt.Errorf("%w: expected 2 or 3 space-separated tokens in %q", barrors.ParseError, expr)
	}

	e := &Expression{source: trimmed, anyDay: true}

	if weekdayTok != "" {
		set, err := parseWeekdaySet(weekdayTok)
		if err != nil {
			return nil, err
		}
		e.weekdays = set
		e.anyDay = false
	}

	dateParts := strings.Split(dateTok, "-")
	if len(dateParts) != 3 {
		return nil, fmt.Errorf("%w: date_spec must be year-month-day, got %q", barrors.ParseError, dateTok)
	}
	var err error
	if e.year, err = parseField(dateParts[0], minYear, maxYear); err != nil {
		return nil, err
	}
	if e.month, err = parseField(dateParts[1], 1, 12); err != nil {
		return nil, err
	}
	if e.day, err = parseField(dateParts[2], 1, 31); err != nil {
		return nil, err
	}

	timeParts := strings.Split(timeTok, ":")
	if len(timeParts) != 3 {
		return nil, fmt.Errorf("%w: time_spec must be hour:minute:second, got %q", barrors.ParseError, timeTok)
	}
	if e.hour, err = parseField(timeParts[0], 0, 23); err != nil {
		return nil, err
	}
	if e.minute, err = parseField(timeParts[1], 0, 59); err != nil {
		return nil, err
	}
	if e.second, err = parseField(timeParts[2], 0, 59); err != nil {
		return nil, err
	}

	return e, nil
}

func parseWeekdaySet(tok string) ([7]bool, error) {
	var set [7]bool
	for _, part := range splitOn(tok, ',') {
		if lo, hi, ok := splitRange(part); ok {
			loW, err := weekday(lo)
			if err != nil {
				return set, err
			}
			hiW, err := weekday(hi)
			if err != nil {
				return set, err
			}
			started := false
			for _, w := range weekdayOrder {
				if w == loW {
					started = true
				}
				if started {
					set[w] = true
				}
				if w == hiW {
					break
				}
			}
			if !started {
				return set, fmt.Errorf("%w: unknown weekday range %q", barrors.ParseError, part)
			}
			continue
		}
		w, err := weekday(part)
		if err != nil {
			return set, err
		}
		set[w] = true
	}
	return set, nil
}

func weekday(s string) (time.Weekday, error) {
	w, ok := weekdayNames[s]
	if !ok {
		return 0, fmt.Errorf("%w: unknown weekday %q", barrors.ParseError, s)
	}
	return w, nil
}

// ErrNoFutureFire is returned by NextFire when no valid instant exists up to
// and including year 2200.
var ErrNoFutureFire = fmt.Errorf("%w: no future fire time through year %d", barrors.ParseError, maxYear)

// NextFire returns the smallest instant strictly after now that the
// expression allows. R fields are resolved fresh against rng for this call
// only; the resolved values are held fixed for the remainder of this single
// NextFire invocation.
func (e *Expression) NextFire(now time.Time, rng RandSource) (time.Time, error) {
	r := e.resolve(rng)
	t := now.UTC().Add(time.Second).Truncate(time.Second)

	for {
		if t.Year() > maxYear {
			return time.Time{}, ErrNoFutureFire
		}

		y, ok := r.year.nextAllowed(t.Year(), minYear, maxYear)
		if !ok {
			return time.Time{}, ErrNoFutureFire
		}
		if y != t.Year() {
			t = time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
			continue
		}

		m, ok := r.month.nextAllowed(int(t.Month()), 1, 12)
		if !ok {
			ny, ok2 := r.year.nextAllowed(t.Year()+1, minYear, maxYear)
			if !ok2 {
				return time.Time{}, ErrNoFutureFire
			}
			t = time.Date(ny, time.January, 1, 0, 0, 0, 0, time.UTC)
			continue
		}
		if m != int(t.Month()) {
			t = time.Date(t.Year(), time.Month(m), 1, 0, 0, 0, 0, time.UTC)
			continue
		}

		maxDay := daysInMonth(t.Year(), int(t.Month()))
		d, ok := r.day.nextAllowed(t.Day(), 1, maxDay)
		if !ok {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
			continue
		}
		if d != t.Day() {
			t = time.Date(t.Year(), t.Month(), d, 0, 0, 0, 0, time.UTC)
			continue
		}

		if !r.anyDay && !r.weekdays[t.Weekday()] {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, time.UTC)
			continue
		}

		h, ok := r.hour.nextAllowed(t.Hour(), 0, 23)
		if !ok {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, time.UTC)
			continue
		}
		if h != t.Hour() {
			t = time.Date(t.Year(), t.Month(), t.Day(), h, 0, 0, 0, time.UTC)
			continue
		}

		mi, ok := r.minute.nextAllowed(t.Minute(), 0, 59)
		if !ok {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, time.UTC)
			continue
		}
		if mi != t.Minute() {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), mi, 0, 0, time.UTC)
			continue
		}

		s, ok := r.second.nextAllowed(t.Second(), 0, 59)
		if !ok {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute()+1, 0, 0, time.UTC)
			continue
		}
		if s != t.Second() {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), s, 0, time.UTC)
			continue
		}

		return t, nil
	}
}

// resolve returns a copy of e with every kindRandom field replaced by a
// kindSingle field drawn once from rng.
func (e *Expression) resolve(rng RandSource) *Expression {
	r := *e
	r.year = resolveField(e.year, minYear, maxYear, rng)
	r.month = resolveField(e.month, 1, 12, rng)
	r.day = resolveField(e.day, 1, 31, rng)
	r.hour = resolveField(e.hour, 0, 23, rng)
	r.minute = resolveField(e.minute, 0, 59, rng)
	r.second = resolveField(e.second, 0, 59, rng)
	return &r
}

func resolveField(f field, domainMin, domainMax int, rng RandSource) field {
	if f.kind != kindRandom {
		return f
	}
	v := domainMin + rng.Intn(domainMax-domainMin+1)
	return field{kind: kindSingle, single: v}
}

func daysInMonth(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func (e *Expression) String() string { return e.source }
