package cron

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrParse         = errors.New("cron: invalid pattern")
	ErrUnsatisfiable = errors.New("cron: unsatisfiable schedule")
)

// ParseError reports a malformed pattern. Field is empty for arity errors.
type ParseError struct {
	Pattern string
	Field   string
	Token   string
	Reason  string
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("cron: pattern %q: %s", e.Pattern, e.Reason)
	}
	return fmt.Sprintf("cron: pattern %q: %s field: token %q: %s", e.Pattern, e.Field, e.Token, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrParse }

// UnsatisfiableScheduleError is returned by Next when no instant matches
// within the search horizon (e.g. "0 0 30 2 *").
type UnsatisfiableScheduleError struct {
	Pattern string
	From    time.Time
	Horizon int // years
}

func (e *UnsatisfiableScheduleError) Error() string {
	return fmt.Sprintf("cron: pattern %q has no match within %d years after %s",
		e.Pattern, e.Horizon, e.From.Format(time.RFC3339))
}

func (e *UnsatisfiableScheduleError) Unwrap() error { return ErrUnsatisfiable }
