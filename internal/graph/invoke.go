package graph

import (
	"context"
	"fmt"
	"time"

	"cronflow/internal/eventbus"
	"cronflow/internal/task"
	logx "cronflow/pkg/logx"
)

// ConfigInput is the input name bound to the graph's configuration file.
const ConfigInput = "config"

// Invoke runs every node once in commit order and returns the result of the
// last node. It commits the graph first if needed.
//
// A declared input is bound, in order of precedence, to the parent of that
// name, to kwargs[name], or (for "config") to the graph configuration.
// Variadic nodes also receive every keyword argument and every parent result.
// The first node to fail after its retries aborts the run with a
// *TaskExecutionError; nodes after it do not run.
func (g *Graph) Invoke(ctx context.Context, kwargs map[string]any) (any, error) {
	if err := g.Commit(); err != nil {
		return nil, err
	}
	r := &run{g: g, kwargs: kwargs, results: make(map[string]any, len(g.order))}

	var last any
	for i, n := range g.order {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("graph %q: %w", g.name, err)
		}
		in, err := r.bind(i, n)
		if err != nil {
			return nil, err
		}

		start := time.Now()
		g.log.Debug("task.started", logx.String("task", n.Name()))
		v, attempts, err := n.Run(ctx, in, r.onRetry)
		if err != nil {
			g.log.Debug("task.failed", logx.String("task", n.Name()), logx.Int("attempts", attempts), logx.Err(err))
			return nil, &TaskExecutionError{Graph: g.name, Task: n.Name(), Attempts: attempts, Err: err}
		}
		g.log.Debug("task.finished", logx.String("task", n.Name()), logx.Int("attempts", attempts), logx.Duration("duration", time.Since(start)))

		r.results[n.Name()] = v
		last = v
	}
	return last, nil
}

// run is the private state of one invocation.
type run struct {
	g       *Graph
	kwargs  map[string]any
	results map[string]any
}

func (r *run) bind(i int, n *task.Node) (task.Args, error) {
	g := r.g
	in := task.Args{}
	if n.Variadic() {
		for k, v := range r.kwargs {
			in[k] = v
		}
		for _, p := range g.parents[n.Name()] {
			in[p] = r.results[p]
		}
	}
	for _, b := range g.bindings[i] {
		switch {
		case b.fromParent:
			in[b.name] = r.results[b.name]
		case hasKey(r.kwargs, b.name):
			in[b.name] = r.kwargs[b.name]
		case b.name == ConfigInput && g.source != nil:
			cfg, err := g.source.Get()
			if err != nil {
				return nil, &TaskExecutionError{Graph: g.name, Task: n.Name(), Err: err}
			}
			in[b.name] = cfg
		default:
			return nil, &MissingInputError{Graph: g.name, Task: n.Name(), Input: b.name}
		}
	}
	return in, nil
}

func (r *run) onRetry(ev task.RetryEvent) {
	ev.Graph = r.g.name
	r.g.log.Warn("task.retry", logx.String("task", ev.Task), logx.Int("attempt", ev.Attempt), logx.Duration("delay", ev.Delay), logx.String("err", ev.Error))
	eventbus.Emit(r.g.bus, eventbus.TaskRetry, time.Now(), ev)
}

func hasKey(m map[string]any, k string) bool {
	_, ok := m[k]
	return ok
}
