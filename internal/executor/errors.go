package executor

import (
	"errors"
	"fmt"
)

var (
	ErrEmpty          = errors.New("no graphs scheduled")
	ErrForced         = errors.New("shutdown forced; running units were canceled")
	ErrManualGraph    = errors.New("manual graphs cannot be scheduled")
	ErrDuplicateGraph = errors.New("graph is already registered")
	ErrRunning        = errors.New("executor is already running")
	ErrNilGraph       = errors.New("graph is nil")
)

// ManualGraphRejectedError is returned by Add for graphs with a manual schedule.
type ManualGraphRejectedError struct {
	Graph string
}

func (e *ManualGraphRejectedError) Error() string {
	return fmt.Sprintf("graph %q: %v", e.Graph, ErrManualGraph)
}

func (e *ManualGraphRejectedError) Unwrap() error { return ErrManualGraph }
