package cron

import (
	"strings"
	"time"
)

// SearchYears bounds how far Next looks ahead before giving up. Eight years
// is the longest gap between leap days (2096 to 2104).
const SearchYears = 8

// Expression is a parsed five-field cron pattern. It is immutable and safe
// for concurrent use.
type Expression struct {
	pattern string

	minute bits
	hour   bits
	dom    bits
	month  bits
	dow    bits

	domStar bool
	dowStar bool
}

// descriptors are the predefined schedules accepted in place of five fields.
var descriptors = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":   "0 * * * *",
}

// Parse parses a five-field pattern: minute, hour, day-of-month, month,
// day-of-week. A predefined descriptor such as "@daily" is also accepted and
// normalized to its five-field form.
func Parse(pattern string) (*Expression, error) {
	if d := strings.ToLower(strings.TrimSpace(pattern)); strings.HasPrefix(d, "@") {
		expanded, ok := descriptors[d]
		if !ok {
			return nil, &ParseError{Pattern: pattern, Token: d, Reason: "unknown descriptor"}
		}
		pattern = expanded
	}
	fields := strings.Fields(pattern)
	if len(fields) != 5 {
		return nil, &ParseError{Pattern: pattern, Reason: "expected 5 whitespace-separated fields"}
	}

	e := &Expression{pattern: strings.Join(fields, " ")}
	var err error
	if e.minute, _, err = parseField(pattern, fields[0], minuteBounds); err != nil {
		return nil, err
	}
	if e.hour, _, err = parseField(pattern, fields[1], hourBounds); err != nil {
		return nil, err
	}
	if e.dom, e.domStar, err = parseField(pattern, fields[2], domBounds); err != nil {
		return nil, err
	}
	if e.month, _, err = parseField(pattern, fields[3], monthBounds); err != nil {
		return nil, err
	}
	if e.dow, e.dowStar, err = parseField(pattern, fields[4], dowBounds); err != nil {
		return nil, err
	}
	return e, nil
}

// MustParse is like Parse but panics on error. Intended for package-level patterns.
func MustParse(pattern string) *Expression {
	e, err := Parse(pattern)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns the pattern with normalized whitespace.
func (e *Expression) String() string { return e.pattern }

// Equal reports whether both expressions match exactly the same instants.
func (e *Expression) Equal(o *Expression) bool {
	if e == nil || o == nil {
		return e == o
	}
	return e.minute == o.minute && e.hour == o.hour && e.dom == o.dom &&
		e.month == o.month && e.dow == o.dow &&
		e.domStar == o.domStar && e.dowStar == o.dowStar
}

// Matches reports whether t (at minute resolution) satisfies the pattern.
func (e *Expression) Matches(t time.Time) bool {
	return e.month.has(int(t.Month())) && e.dayMatches(t) &&
		e.hour.has(t.Hour()) && e.minute.has(t.Minute())
}

func (e *Expression) dayMatches(t time.Time) bool {
	dom := e.dom.has(t.Day())
	dow := e.dow.has(int(t.Weekday()))
	if e.domStar || e.dowStar {
		return dom && dow
	}
	return dom || dow
}

// Next returns the earliest instant strictly after from (truncated to the
// minute) that matches the pattern, evaluated in from's location.
//
// The search walks coarse to fine: a month miss jumps to the next month, a
// day miss to the next midnight, an hour miss to the next hour. Hours and
// minutes advance in absolute time so DST transitions never move backwards.
func (e *Expression) Next(from time.Time) (time.Time, error) {
	loc := from.Location()
	t := from.Add(-time.Duration(from.Second())*time.Second - time.Duration(from.Nanosecond())).Add(time.Minute)
	limit := t.Year() + SearchYears

	for {
		if t.Year() > limit {
			return time.Time{}, &UnsatisfiableScheduleError{Pattern: e.pattern, From: from, Horizon: SearchYears}
		}
		if !e.month.has(int(t.Month())) {
			t = startOfDay(t.Year(), t.Month()+1, 1, loc)
			continue
		}
		if !e.dayMatches(t) {
			t = startOfDay(t.Year(), t.Month(), t.Day()+1, loc)
			continue
		}
		if !e.hour.has(t.Hour()) {
			t = t.Add(-time.Duration(t.Minute()) * time.Minute).Add(time.Hour)
			continue
		}
		if !e.minute.has(t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t, nil
	}
}

// Preview returns up to n consecutive fire times after from.
func Preview(e *Expression, from time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	t := from
	for i := 0; i < n; i++ {
		next, err := e.Next(t)
		if err != nil {
			break
		}
		out = append(out, next)
		t = next
	}
	return out
}

// startOfDay returns the first existing instant of the given (normalized)
// date. Midnight can fall into a DST gap in some zones.
func startOfDay(y int, m time.Month, d int, loc *time.Location) time.Time {
	y, m, d = time.Date(y, m, d, 12, 0, 0, 0, loc).Date()
	t := time.Date(y, m, d, 0, 0, 0, 0, loc)
	for t.Day() != d {
		t = t.Add(time.Hour)
	}
	return t
}
