package executor

import (
	"context"
	"fmt"
	"time"

	"cronflow/internal/runtime/supervisor"
	logx "cronflow/pkg/logx"
)

// Drain waits for every live unit to finish. If ctx ends first, every unit's
// context is canceled, Drain waits up to the kill grace for them to return,
// and ErrForced is returned.
func (e *Executor) Drain(ctx context.Context) error {
	e.prune()
	e.mu.Lock()
	units := append([]*unit(nil), e.live...)
	e.mu.Unlock()
	if len(units) == 0 {
		return nil
	}

	e.log.Info("draining live units", logx.Int("live_units", len(units)))
	start := time.Now()
	for _, u := range units {
		select {
		case <-u.handle.Done():
		case <-ctx.Done():
			return e.force(units)
		}
	}
	e.prune()
	e.log.Info("drain complete", logx.Duration("took", time.Since(start)))
	return nil
}

func (e *Executor) force(units []*unit) error {
	alive := 0
	for _, u := range units {
		if u.handle.Alive() {
			alive++
			u.handle.Cancel()
		}
	}
	e.log.Warn("forcing shutdown; canceling live units", logx.Int("live_units", alive), logx.Duration("kill_grace", e.killGrace))

	grace, cancel := context.WithTimeout(context.Background(), e.killGrace)
	defer cancel()
	stuck := 0
	for _, u := range units {
		_ = u.handle.Wait(grace)
		if u.handle.Alive() {
			stuck++
			e.log.Error("unit did not stop within kill grace", logx.String("graph", u.graph), logx.String("run_id", u.id))
		}
	}
	e.prune()
	if stuck > 0 {
		return fmt.Errorf("%w (%d unit(s) still running)", ErrForced, stuck)
	}
	return ErrForced
}

// UnitInfo describes one live unit.
type UnitInfo struct {
	ID      string    `json:"id"`
	Graph   string    `json:"graph"`
	Batch   uint64    `json:"batch"`
	At      time.Time `json:"at"`
	Started time.Time `json:"started"`
}

// PendingInfo is the JSON-friendly form of an Entry.
type PendingInfo struct {
	At     time.Time `json:"at"`
	Graphs []string  `json:"graphs"`
}

// Snapshot is a point-in-time view of the executor.
type Snapshot struct {
	Pending []PendingInfo       `json:"pending"`
	Live    []UnitInfo          `json:"live"`
	Units   supervisor.Snapshot `json:"units"`
}

func (e *Executor) Snapshot() Snapshot {
	var snap Snapshot
	for _, entry := range e.Pending() {
		names := make([]string, len(entry.Graphs))
		for i, g := range entry.Graphs {
			names[i] = g.Name()
		}
		snap.Pending = append(snap.Pending, PendingInfo{At: entry.At, Graphs: names})
	}
	e.mu.Lock()
	for _, u := range e.live {
		if u.handle.Alive() {
			snap.Live = append(snap.Live, UnitInfo{ID: u.id, Graph: u.graph, Batch: u.batch, At: u.at, Started: u.handle.Started})
		}
	}
	e.mu.Unlock()
	snap.Units = e.sup.Snapshot()
	return snap
}
