package executor

import "time"

// RunEvent describes one unit: published as graph.dispatched when it starts
// and as graph.finished or graph.failed when it returns.
type RunEvent struct {
	ID       string        `json:"id"`
	Graph    string        `json:"graph"`
	Batch    uint64        `json:"batch"`
	At       time.Time     `json:"at"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// ScheduleEvent is published as graph.scheduled when a graph gets a fire time,
// and as graph.dropped when its next time cannot be computed.
type ScheduleEvent struct {
	Graph string    `json:"graph"`
	At    time.Time `json:"at,omitempty"`
	Error string    `json:"error,omitempty"`
}
