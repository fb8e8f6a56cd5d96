package cron

import (
	"strconv"
	"strings"
)

// bits is a match set over a field domain; bit v is set when value v matches.
type bits uint64

func (b bits) has(v int) bool { return v >= 0 && v < 64 && b&(1<<uint(v)) != 0 }

func (b bits) values() []int {
	out := make([]int, 0, 8)
	for v := 0; v < 64; v++ {
		if b.has(v) {
			out = append(out, v)
		}
	}
	return out
}

type bounds struct {
	name  string
	min   int
	max   int
	names map[string]int
}

var (
	minuteBounds = bounds{name: "minute", min: 0, max: 59}
	hourBounds   = bounds{name: "hour", min: 0, max: 23}
	domBounds    = bounds{name: "day-of-month", min: 1, max: 31}
	monthBounds  = bounds{name: "month", min: 1, max: 12, names: map[string]int{
		"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
		"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
	}}
	dowBounds = bounds{name: "day-of-week", min: 0, max: 6, names: map[string]int{
		"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
	}}
)

// parseField parses one comma-separated field. star reports whether the field
// contains an unrestricted "*" (or "*/1") part.
func parseField(pattern, raw string, b bounds) (set bits, star bool, err error) {
	if raw == "" {
		return 0, false, &ParseError{Pattern: pattern, Field: b.name, Token: raw, Reason: "empty field"}
	}
	for _, part := range strings.Split(raw, ",") {
		s, isStar, err := parsePart(pattern, part, b)
		if err != nil {
			return 0, false, err
		}
		set |= s
		star = star || isStar
	}
	return set, star, nil
}

func parsePart(pattern, part string, b bounds) (bits, bool, error) {
	fail := func(reason string) (bits, bool, error) {
		return 0, false, &ParseError{Pattern: pattern, Field: b.name, Token: part, Reason: reason}
	}
	if part == "" {
		return fail("empty list element")
	}

	rng, stepStr, hasStep := strings.Cut(part, "/")
	step := 1
	if hasStep {
		n, ok := number(stepStr)
		if !ok || n <= 0 {
			return fail("step must be a positive integer")
		}
		step = n
	}

	var lo, hi int
	star := false
	switch {
	case rng == "*":
		lo, hi = b.min, b.max
		star = step == 1
	case strings.Contains(rng, "-"):
		l, r, _ := strings.Cut(rng, "-")
		var ok bool
		if lo, ok = b.value(l); !ok {
			return fail("unrecognized value " + strconv.Quote(l))
		}
		if hi, ok = b.value(r); !ok {
			return fail("unrecognized value " + strconv.Quote(r))
		}
		if lo > hi {
			return fail("range start is after range end")
		}
	default:
		v, ok := b.value(rng)
		if !ok {
			return fail("unrecognized value " + strconv.Quote(rng))
		}
		lo, hi = v, v
		if hasStep {
			// "A/S" runs from A to the end of the domain.
			hi = b.max
		}
	}
	if lo < b.min || hi > b.max {
		return fail("value out of range " + strconv.Itoa(b.min) + "-" + strconv.Itoa(b.max))
	}

	var set bits
	for v := lo; v <= hi; v += step {
		set |= 1 << uint(v)
	}
	return set, star, nil
}

// value resolves an integer or (case-insensitive) name token.
func (b bounds) value(tok string) (int, bool) {
	if tok == "" {
		return 0, false
	}
	if n, ok := number(tok); ok {
		return n, true
	}
	if b.names == nil {
		return 0, false
	}
	n, ok := b.names[strings.ToLower(tok)]
	return n, ok
}

// number parses an unsigned decimal token; signs are not part of the grammar.
func number(tok string) (int, bool) {
	if tok == "" || len(tok) > 4 {
		return 0, false
	}
	n := 0
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
