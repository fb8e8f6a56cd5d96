package executor

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"cronflow/internal/cron"
	"cronflow/internal/eventbus"
	"cronflow/internal/graph"
	"cronflow/internal/task"
	logx "cronflow/pkg/logx"
)

// fakeClock jumps to the requested instant on NewTimer. Once limit waits have
// been granted, new timers never fire so the dispatch loop idles.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	limit   int
	waits   int
	timers  int
	stopped int
}

func newFakeClock(now time.Time, limit int) *fakeClock { return &fakeClock{now: now, limit: limit} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timers++
	ft := &fakeTimer{clock: c}
	if c.waits >= c.limit {
		return ft
	}
	c.waits++
	ft.prev = c.now
	c.now = c.now.Add(d)
	ft.ch = make(chan time.Time, 1)
	ft.ch <- c.now
	return ft
}

// counts returns how many timers were created and how many were stopped
// before firing.
func (c *fakeClock) counts() (timers, stopped int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers, c.stopped
}

type fakeTimer struct {
	clock *fakeClock
	ch    chan time.Time
	prev  time.Time
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.clock.stopped++
	if t.ch != nil {
		// A granted wait that lost the select never happened.
		t.clock.waits--
		t.clock.now = t.prev
	}
	return true
}

func noop() task.Func {
	return func(ctx context.Context, in task.Args) (any, error) { return nil, nil }
}

func newGraph(t *testing.T, name, schedule string, fn task.Func) *graph.Graph {
	t.Helper()
	g, err := graph.New(name, schedule)
	if err != nil {
		t.Fatalf("graph.New: %v", err)
	}
	if err := g.AddEdges([]*task.Node{task.New(name+"-task", fn)}); err != nil {
		t.Fatalf("AddEdges: %v", err)
	}
	return g
}

func waitEvents(t *testing.T, ch <-chan eventbus.Event, typ string, n int) []eventbus.Event {
	t.Helper()
	var out []eventbus.Event
	deadline := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case ev := <-ch:
			if ev.Type == typ {
				out = append(out, ev)
			}
		case <-deadline:
			t.Fatalf("got %d %s events, want %d", len(out), typ, n)
		}
	}
	return out
}

var t0 = time.Date(2024, 1, 1, 10, 0, 30, 0, time.UTC)

func TestAddRejectsManualAndDuplicates(t *testing.T) {
	t.Parallel()
	e := New(WithClock(newFakeClock(t0, 0)), WithLocation(time.UTC))

	manual := newGraph(t, "manual", graph.Manual, noop())
	err := e.Add(manual)
	var me *ManualGraphRejectedError
	if !errors.As(err, &me) || !errors.Is(err, ErrManualGraph) || me.Graph != "manual" {
		t.Fatalf("err = %v, want ManualGraphRejectedError", err)
	}

	g := newGraph(t, "g", "* * * * *", noop())
	if err := e.Add(g); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := e.Add(g); !errors.Is(err, ErrDuplicateGraph) {
		t.Fatalf("second Add err = %v, want ErrDuplicateGraph", err)
	}
	if err := e.Add(nil); !errors.Is(err, ErrNilGraph) {
		t.Fatalf("nil Add err = %v", err)
	}

	never := newGraph(t, "never", "0 0 30 2 *", noop())
	if err := e.Add(never); !errors.Is(err, cron.ErrUnsatisfiable) {
		t.Fatalf("unsatisfiable Add err = %v", err)
	}

	cyclic, _ := graph.New("cyclic", "* * * * *")
	a := task.New("a", noop())
	b := task.New("b", noop())
	_ = cyclic.AddEdge(a, b)
	_ = cyclic.AddEdge(b, a)
	if err := e.Add(cyclic); !errors.Is(err, graph.ErrCyclic) {
		t.Fatalf("cyclic Add err = %v, want ErrCyclic", err)
	}
}

func TestAddMergesSameInstant(t *testing.T) {
	t.Parallel()
	e := New(WithClock(newFakeClock(t0, 0)), WithLocation(time.UTC),
		WithGraphs(
			newGraph(t, "a", "*/5 * * * *", noop()),
			newGraph(t, "b", "0,5 * * * *", noop()),
			newGraph(t, "c", "* * * * *", noop()),
		))

	pending := e.Pending()
	if len(pending) != 2 {
		t.Fatalf("pending = %d entries, want 2", len(pending))
	}
	first, second := pending[0], pending[1]
	if !first.At.Equal(time.Date(2024, 1, 1, 10, 1, 0, 0, time.UTC)) || len(first.Graphs) != 1 || first.Graphs[0].Name() != "c" {
		t.Fatalf("first entry = %+v", first)
	}
	if !second.At.Equal(time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC)) || len(second.Graphs) != 2 ||
		second.Graphs[0].Name() != "a" || second.Graphs[1].Name() != "b" {
		t.Fatalf("second entry = %+v", second)
	}
}

func TestStartDispatchesBatchesInOrder(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(256)
	defer unsub()

	clock := newFakeClock(t0, 3)
	e := New(WithClock(clock), WithLocation(time.UTC), WithBus(bus),
		WithGraphs(
			newGraph(t, "A", "*/2 * * * *", noop()),
			newGraph(t, "B", "*/2 * * * *", noop()),
			newGraph(t, "C", "* * * * *", noop()),
		))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Start(ctx) }()

	got := waitEvents(t, events, eventbus.GraphDispatched, 5)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start = %v, want nil", err)
	}

	type want struct {
		graph  string
		minute int
	}
	wants := []want{{"C", 1}, {"A", 2}, {"B", 2}, {"C", 2}, {"C", 3}}
	batches := map[int]uint64{}
	for i, ev := range got {
		re := ev.Data.(RunEvent)
		if re.Graph != wants[i].graph || re.At.Minute() != wants[i].minute {
			t.Fatalf("dispatch %d = %s@%s, want %s@10:%02d", i, re.Graph, re.At.Format("15:04"), wants[i].graph, wants[i].minute)
		}
		if re.ID == "" {
			t.Fatalf("dispatch %d has no run id", i)
		}
		if b, ok := batches[re.At.Minute()]; ok && b != re.Batch {
			t.Fatalf("graphs due at 10:%02d were split across batches", re.At.Minute())
		}
		batches[re.At.Minute()] = re.Batch
	}
	if batches[1] == batches[2] || batches[2] == batches[3] {
		t.Fatalf("distinct instants shared a batch: %v", batches)
	}

	if err := e.Drain(context.Background()); err != nil {
		t.Fatalf("Drain = %v", err)
	}
	if e.Live() != 0 {
		t.Fatalf("live = %d after drain", e.Live())
	}
	// Every graph is still scheduled after the loop stopped.
	n := 0
	for _, p := range e.Pending() {
		n += len(p.Graphs)
	}
	if n != 3 {
		t.Fatalf("pending graphs = %d, want 3", n)
	}
}

func TestStartEmpty(t *testing.T) {
	t.Parallel()
	if err := New().Start(context.Background()); !errors.Is(err, ErrEmpty) {
		t.Fatalf("Start = %v, want ErrEmpty", err)
	}
}

func TestStartStopsAndRequeuesOnCancel(t *testing.T) {
	t.Parallel()
	e := New(WithClock(newFakeClock(t0, 0)), WithLocation(time.UTC), WithGraphs(newGraph(t, "g", "* * * * *", noop())))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Start(ctx) }()

	for deadline := time.Now().Add(5 * time.Second); !e.running.Load(); {
		if time.Now().After(deadline) {
			t.Fatal("Start never began")
		}
		time.Sleep(time.Millisecond)
	}
	if err := e.Start(context.Background()); !errors.Is(err, ErrRunning) {
		t.Fatalf("second Start = %v, want ErrRunning", err)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	pending := e.Pending()
	if len(pending) != 1 || pending[0].Graphs[0].Name() != "g" {
		t.Fatalf("pending = %+v, want g requeued", pending)
	}
}

func TestStartReleasesPendingTimers(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(t0, 0)
	e := New(WithClock(clock), WithLocation(time.UTC), WithGraphs(newGraph(t, "hourly", "0 * * * *", noop())))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Start(ctx) }()

	waitParked := func(min int) {
		t.Helper()
		for deadline := time.Now().Add(5 * time.Second); ; {
			timers, stopped := clock.counts()
			if timers >= min && timers-stopped == 1 {
				return
			}
			if time.Now().After(deadline) {
				t.Fatalf("loop never parked: timers=%d stopped=%d", timers, stopped)
			}
			time.Sleep(time.Millisecond)
		}
	}
	// The wake from registration releases the first timer.
	waitParked(2)
	before, _ := clock.counts()
	if err := e.Add(newGraph(t, "daily", "0 0 * * *", noop())); err != nil {
		t.Fatalf("Add: %v", err)
	}
	waitParked(before + 1)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	if timers, stopped := clock.counts(); timers != stopped {
		t.Fatalf("timers=%d stopped=%d, want every unfired timer stopped", timers, stopped)
	}
}

func TestUnitsOutliveStopAndDrainWaits(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(64)
	defer unsub()

	release := make(chan struct{})
	sawCancel := make(chan bool, 1)
	slow := newGraph(t, "slow", "* * * * *", func(ctx context.Context, in task.Args) (any, error) {
		<-release
		sawCancel <- ctx.Err() != nil
		return nil, nil
	})
	e := New(WithClock(newFakeClock(t0, 1)), WithLocation(time.UTC), WithBus(bus), WithGraphs(slow))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Start(ctx) }()
	waitEvents(t, events, eventbus.GraphDispatched, 1)
	cancel()
	<-done

	if e.Live() != 1 {
		t.Fatalf("live = %d, want 1 after stop", e.Live())
	}
	drained := make(chan error, 1)
	go func() { drained <- e.Drain(context.Background()) }()
	select {
	case err := <-drained:
		t.Fatalf("Drain returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	if err := <-drained; err != nil {
		t.Fatalf("Drain = %v", err)
	}
	if <-sawCancel {
		t.Fatal("stopping the loop canceled a running unit")
	}
	waitEvents(t, events, eventbus.GraphFinished, 1)
}

func TestDrainForcesOnDeadline(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(64)
	defer unsub()

	blocked := newGraph(t, "blocked", "* * * * *", func(ctx context.Context, in task.Args) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e := New(WithClock(newFakeClock(t0, 1)), WithLocation(time.UTC), WithBus(bus), WithGraphs(blocked), WithKillGrace(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Start(ctx) }()
	waitEvents(t, events, eventbus.GraphDispatched, 1)
	cancel()
	<-done

	dctx, dcancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer dcancel()
	err := e.Drain(dctx)
	if !errors.Is(err, ErrForced) {
		t.Fatalf("Drain = %v, want ErrForced", err)
	}
	if strings.Contains(err.Error(), "still running") {
		t.Fatalf("unit should have stopped within the grace: %v", err)
	}
	if e.Live() != 0 {
		t.Fatalf("live = %d after forced drain", e.Live())
	}
	ev := waitEvents(t, events, eventbus.GraphFailed, 1)[0].Data.(RunEvent)
	if ev.Graph != "blocked" || ev.Error == "" {
		t.Fatalf("failed event = %+v", ev)
	}
}

func TestDrainReportsStuckUnits(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(64)
	defer unsub()

	release := make(chan struct{})
	defer close(release)
	stuck := newGraph(t, "stuck", "* * * * *", func(ctx context.Context, in task.Args) (any, error) {
		<-release
		return nil, nil
	})
	e := New(WithClock(newFakeClock(t0, 1)), WithLocation(time.UTC), WithBus(bus), WithGraphs(stuck), WithKillGrace(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Start(ctx) }()
	waitEvents(t, events, eventbus.GraphDispatched, 1)
	cancel()
	<-done

	dctx, dcancel := context.WithCancel(context.Background())
	dcancel()
	err := e.Drain(dctx)
	if !errors.Is(err, ErrForced) || !strings.Contains(err.Error(), "1 unit(s) still running") {
		t.Fatalf("Drain = %v, want ErrForced with a stuck unit", err)
	}
}

func TestDrainWithNothingLive(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := New().Drain(ctx); err != nil {
		t.Fatalf("Drain = %v, want nil", err)
	}
}

func TestFailureLogsAreThrottled(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	e := New(WithLogger(logx.NewWriter(&buf, "debug")), WithFailureLogRate(time.Hour))
	for i := 0; i < 3; i++ {
		e.logFailure(RunEvent{ID: "x", Graph: "flaky", Error: "boom"})
	}
	e.logFailure(RunEvent{ID: "y", Graph: "other", Error: "boom"})
	if n := strings.Count(buf.String(), "graph run failed"); n != 2 {
		t.Fatalf("failure logs = %d, want 2 (one per graph)\n%s", n, buf.String())
	}
	if e.failLogs["flaky"].suppressed != 2 {
		t.Fatalf("suppressed = %d, want 2", e.failLogs["flaky"].suppressed)
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	e := New(WithClock(newFakeClock(t0, 0)), WithLocation(time.UTC), WithGraphs(newGraph(t, "g", "*/10 * * * *", noop())))
	snap := e.Snapshot()
	if len(snap.Pending) != 1 || snap.Pending[0].Graphs[0] != "g" || snap.Pending[0].At.Minute() != 10 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if len(snap.Live) != 0 {
		t.Fatalf("live = %+v, want none", snap.Live)
	}
}
