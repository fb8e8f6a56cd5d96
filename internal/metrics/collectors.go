package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"cronflow/internal/eventbus"
	"cronflow/internal/executor"
	"cronflow/internal/task"
)

const namespace = "cronflow"

// Collectors owns a private registry with the cronflow metrics plus the Go
// runtime and process collectors.
type Collectors struct {
	reg *prometheus.Registry

	dispatched *prometheus.CounterVec
	runs       *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	retries    *prometheus.CounterVec
	dropped    *prometheus.CounterVec
}

// NewCollectors registers every metric. live reports the number of running
// units for the cronflow_live_units gauge; nil reports 0.
func NewCollectors(live func() int) *Collectors {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	c := &Collectors{
		reg: reg,
		dispatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_dispatched_total",
			Help:      "Graph occurrences dispatched by the executor.",
		}, []string{"graph"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_runs_total",
			Help:      "Finished graph runs by outcome.",
		}, []string{"graph", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "graph_run_duration_seconds",
			Help:      "Wall time of graph runs.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 10),
		}, []string{"graph"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_retries_total",
			Help:      "Task retries scheduled after a failed attempt.",
		}, []string{"task"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_dropped_total",
			Help:      "Graphs removed from the schedule because no next time could be computed.",
		}, []string{"graph"}),
	}
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_units",
		Help:      "Graph runs currently executing.",
	}, func() float64 {
		if live == nil {
			return 0
		}
		return float64(live())
	})
	return c
}

// Registry is the registry to serve.
func (c *Collectors) Registry() *prometheus.Registry { return c.reg }

// Observe updates metrics from one bus event. Unknown events are ignored.
func (c *Collectors) Observe(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.GraphDispatched:
		if re, ok := ev.Data.(executor.RunEvent); ok {
			c.dispatched.WithLabelValues(re.Graph).Inc()
		}
	case eventbus.GraphFinished, eventbus.GraphFailed:
		re, ok := ev.Data.(executor.RunEvent)
		if !ok {
			return
		}
		status := "success"
		if ev.Type == eventbus.GraphFailed {
			status = "failure"
		}
		c.runs.WithLabelValues(re.Graph, status).Inc()
		c.duration.WithLabelValues(re.Graph).Observe(re.Duration.Seconds())
	case eventbus.TaskRetry:
		if re, ok := ev.Data.(task.RetryEvent); ok {
			c.retries.WithLabelValues(re.Task).Inc()
		}
	case eventbus.GraphDropped:
		if se, ok := ev.Data.(executor.ScheduleEvent); ok {
			c.dropped.WithLabelValues(se.Graph).Inc()
		}
	}
}

// Consume feeds events from bus into the collectors until ctx is done.
func (c *Collectors) Consume(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(512)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			c.Observe(ev)
		}
	}
}
