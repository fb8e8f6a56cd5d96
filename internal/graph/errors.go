package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNameRequired    = errors.New("graph name is required")
	ErrCommitted       = errors.New("graph is committed")
	ErrInvalidSchedule = errors.New("graph has no schedule")
	ErrCyclic          = errors.New("graph contains a cycle")
	ErrDuplicateNode   = errors.New("duplicate node name")
	ErrMissingInput    = errors.New("missing task input")
	ErrTaskExecution   = errors.New("task execution failed")
)

// CyclicGraphError names one concrete cycle, in edge order.
type CyclicGraphError struct {
	Graph string
	Nodes []string
}

func (e *CyclicGraphError) Error() string {
	path := append(append([]string(nil), e.Nodes...), e.Nodes[0])
	return fmt.Sprintf("graph %q: cycle %s", e.Graph, strings.Join(path, " -> "))
}

func (e *CyclicGraphError) Unwrap() error { return ErrCyclic }

// DuplicateNodeError is returned when a different node is added under a name
// that is already registered.
type DuplicateNodeError struct {
	Graph string
	Name  string
}

func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("graph %q: node %q is already registered", e.Graph, e.Name)
}

func (e *DuplicateNodeError) Unwrap() error { return ErrDuplicateNode }

// MissingInputError is returned when a declared input is bound by no parent,
// keyword argument or config.
type MissingInputError struct {
	Graph string
	Task  string
	Input string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("graph %q: task %q: input %q is not bound", e.Graph, e.Task, e.Input)
}

func (e *MissingInputError) Unwrap() error { return ErrMissingInput }

// TaskExecutionError is returned when a node fails after its retries.
type TaskExecutionError struct {
	Graph    string
	Task     string
	Attempts int
	Err      error
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("graph %q: task %q failed after %d attempt(s): %v", e.Graph, e.Task, e.Attempts, e.Err)
}

// Is matches ErrTaskExecution; Unwrap exposes the task's own error.
func (e *TaskExecutionError) Is(target error) bool { return target == ErrTaskExecution }
func (e *TaskExecutionError) Unwrap() error        { return e.Err }
