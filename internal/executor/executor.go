package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"cronflow/internal/eventbus"
	"cronflow/internal/graph"
	"cronflow/internal/runtime/supervisor"
	logx "cronflow/pkg/logx"
)

const (
	DefaultKillGrace = 5 * time.Second
	previewRuns      = 3
)

// Executor schedules graphs and runs each occurrence as an isolated unit.
type Executor struct {
	log       logx.Logger
	bus       eventbus.Bus
	clock     Clock
	loc       *time.Location
	killGrace time.Duration
	failEvery time.Duration
	initial   []*graph.Graph
	sup       *supervisor.Supervisor

	mu         sync.Mutex
	queue      queue
	registered map[*graph.Graph]struct{}
	live       []*unit
	batch      uint64

	wake    chan struct{}
	running atomic.Bool

	failMu   sync.Mutex
	failLogs map[string]*failLog
}

type unit struct {
	id     string
	graph  string
	at     time.Time
	batch  uint64
	handle *supervisor.Handle
}

type failLog struct {
	limiter    *rate.Limiter
	suppressed int
}

// Option configures an Executor.
type Option func(*Executor)

func WithLogger(log logx.Logger) Option { return func(e *Executor) { e.log = log } }

// WithBus publishes lifecycle events (see the eventbus constants).
func WithBus(bus eventbus.Bus) Option { return func(e *Executor) { e.bus = bus } }

func WithClock(c Clock) Option {
	return func(e *Executor) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLocation sets the timezone cron patterns are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(e *Executor) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithKillGrace bounds how long Drain waits for units after canceling them.
func WithKillGrace(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.killGrace = d
		}
	}
}

// WithFailureLogRate logs at most one failure per graph per interval.
// Suppressed failures are counted into the next log line. 0 logs every failure.
func WithFailureLogRate(d time.Duration) Option {
	return func(e *Executor) { e.failEvery = d }
}

// WithGraphs registers graphs as if by Add once all options are applied.
// Registration errors are logged.
func WithGraphs(gs ...*graph.Graph) Option {
	return func(e *Executor) { e.initial = append(e.initial, gs...) }
}

func New(opts ...Option) *Executor {
	e := &Executor{
		clock:      realClock{},
		loc:        time.Local,
		killGrace:  DefaultKillGrace,
		registered: map[*graph.Graph]struct{}{},
		wake:       make(chan struct{}, 1),
		failLogs:   map[string]*failLog{},
	}
	for _, o := range opts {
		if o != nil {
			o(e)
		}
	}
	e.sup = supervisor.New(context.Background(), supervisor.WithLogger(e.log))
	for _, g := range e.initial {
		if err := e.Add(g); err != nil {
			e.log.Error("graph registration failed", logx.Err(err))
		}
	}
	e.initial = nil
	return e
}

// Add commits g and schedules its first occurrence after now.
func (e *Executor) Add(g *graph.Graph) error {
	if g == nil {
		return ErrNilGraph
	}
	if g.IsManual() {
		return &ManualGraphRejectedError{Graph: g.Name()}
	}
	if err := g.Commit(); err != nil {
		return err
	}
	now := e.clock.Now().In(e.loc)
	next, err := g.Next(now)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if _, dup := e.registered[g]; dup {
		e.mu.Unlock()
		return fmt.Errorf("graph %q: %w", g.Name(), ErrDuplicateGraph)
	}
	e.registered[g] = struct{}{}
	e.queue = e.queue.insert(next, []*graph.Graph{g}, false)
	e.mu.Unlock()

	e.log.Info("graph registered",
		logx.String("graph", g.Name()),
		logx.String("schedule", g.Schedule()),
		logx.Int("tasks", g.Len()),
		logx.Strings("order", g.Order()),
		logx.Strings("next_runs", formatTimes(g.Preview(now, previewRuns))),
	)
	eventbus.Emit(e.bus, eventbus.GraphScheduled, now, ScheduleEvent{Graph: g.Name(), At: next})
	e.poke()
	return nil
}

// poke wakes the dispatch loop so it re-reads the queue.
func (e *Executor) poke() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Start runs the dispatch loop until ctx is done (returning nil) or nothing
// is left to schedule (returning ErrEmpty). Units keep running after Start
// returns; use Drain to wait for them.
func (e *Executor) Start(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer e.running.Store(false)

	unitCtx := context.WithoutCancel(ctx)
	e.log.Info("executor started", logx.Int("graphs", e.registeredCount()), logx.String("timezone", e.loc.String()))

	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return ErrEmpty
		}
		var entry Entry
		entry, e.queue = e.queue.pop()
		e.mu.Unlock()

		if wait := entry.At.Sub(e.clock.Now()); wait > 0 {
			timer := e.clock.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				e.requeue(entry)
				e.log.Info("executor stopped", logx.Int("live_units", e.Live()))
				return nil
			case <-e.wake:
				// Something was added; it may be due sooner.
				timer.Stop()
				e.requeue(entry)
				continue
			case <-timer.C():
			}
		}
		if ctx.Err() != nil {
			e.requeue(entry)
			e.log.Info("executor stopped", logx.Int("live_units", e.Live()))
			return nil
		}

		e.dispatch(unitCtx, entry)
		e.prune()
	}
}

func (e *Executor) requeue(entry Entry) {
	e.mu.Lock()
	e.queue = e.queue.insert(entry.At, entry.Graphs, true)
	e.mu.Unlock()
}

// dispatch launches every graph of entry as one batch and re-schedules each
// at its next occurrence after max(now, entry.At).
func (e *Executor) dispatch(ctx context.Context, entry Entry) {
	e.mu.Lock()
	e.batch++
	batch := e.batch
	e.mu.Unlock()

	now := e.clock.Now()
	from := entry.At
	if now.After(from) {
		from = now
	}
	from = from.In(e.loc)

	for _, g := range entry.Graphs {
		e.launch(ctx, g, entry.At, batch)

		next, err := g.Next(from)
		if err != nil {
			e.mu.Lock()
			delete(e.registered, g)
			e.mu.Unlock()
			e.log.Error("graph dropped from schedule", logx.String("graph", g.Name()), logx.Err(err))
			eventbus.Emit(e.bus, eventbus.GraphDropped, now, ScheduleEvent{Graph: g.Name(), Error: err.Error()})
			continue
		}
		e.mu.Lock()
		e.queue = e.queue.insert(next, []*graph.Graph{g}, false)
		e.mu.Unlock()
		eventbus.Emit(e.bus, eventbus.GraphScheduled, now, ScheduleEvent{Graph: g.Name(), At: next})
	}
}

func (e *Executor) launch(ctx context.Context, g *graph.Graph, at time.Time, batch uint64) {
	u := &unit{id: uuid.NewString(), graph: g.Name(), at: at, batch: batch}
	ev := RunEvent{ID: u.id, Graph: u.graph, Batch: batch, At: at}

	ev.Started = e.clock.Now()
	e.log.Debug("graph dispatched", logx.String("graph", u.graph), logx.String("run_id", u.id), logx.Uint64("batch", batch))
	eventbus.Emit(e.bus, eventbus.GraphDispatched, ev.Started, ev)

	u.handle = e.sup.GoContext(ctx, u.graph, func(ctx context.Context) error {
		start := time.Now()
		_, err := g.Invoke(ctx, nil)
		done := ev
		done.Duration = time.Since(start)
		if err != nil {
			done.Error = err.Error()
			e.logFailure(done)
			eventbus.Emit(e.bus, eventbus.GraphFailed, time.Now(), done)
			return err
		}
		e.log.Debug("graph finished", logx.String("graph", u.graph), logx.String("run_id", u.id), logx.Duration("duration", done.Duration))
		eventbus.Emit(e.bus, eventbus.GraphFinished, time.Now(), done)
		return nil
	})

	e.mu.Lock()
	e.live = append(e.live, u)
	e.mu.Unlock()
}

// logFailure throttles failure logs per graph.
func (e *Executor) logFailure(ev RunEvent) {
	e.failMu.Lock()
	fl := e.failLogs[ev.Graph]
	if fl == nil {
		limit := rate.Inf
		if e.failEvery > 0 {
			limit = rate.Every(e.failEvery)
		}
		fl = &failLog{limiter: rate.NewLimiter(limit, 1)}
		e.failLogs[ev.Graph] = fl
	}
	if !fl.limiter.Allow() {
		fl.suppressed++
		e.failMu.Unlock()
		return
	}
	suppressed := fl.suppressed
	fl.suppressed = 0
	e.failMu.Unlock()

	e.log.Error("graph run failed",
		logx.String("graph", ev.Graph),
		logx.String("run_id", ev.ID),
		logx.Duration("duration", ev.Duration),
		logx.Int("suppressed", suppressed),
		logx.String("err", ev.Error),
	)
}

// prune forgets units that have finished.
func (e *Executor) prune() {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.live[:0]
	for _, u := range e.live {
		if u.handle.Alive() {
			kept = append(kept, u)
		}
	}
	for i := len(kept); i < len(e.live); i++ {
		e.live[i] = nil
	}
	e.live = kept
}

// Live returns the number of units still running.
func (e *Executor) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, u := range e.live {
		if u.handle.Alive() {
			n++
		}
	}
	return n
}

// Pending returns a copy of the schedule, soonest first.
func (e *Executor) Pending() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.ascending()
}

func (e *Executor) registeredCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.registered)
}

func formatTimes(ts []time.Time) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Format(time.RFC3339)
	}
	return out
}
