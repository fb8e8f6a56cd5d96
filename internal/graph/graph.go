package graph

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"cronflow/internal/config"
	"cronflow/internal/cron"
	"cronflow/internal/eventbus"
	"cronflow/internal/task"
	logx "cronflow/pkg/logx"
)

// Manual is the schedule of graphs that are only invoked explicitly.
const Manual = "manual"

// Graph is a set of task nodes and parent -> child edges.
//
// Building (AddEdges) and Commit are safe for concurrent use; after Commit
// the graph is read-only and Invoke may run concurrently.
type Graph struct {
	name     string
	schedule string
	expr     *cron.Expression

	source     *config.Source
	configPath string
	log        logx.Logger
	bus        eventbus.Bus

	mu        sync.Mutex
	nodes     []*task.Node // registration order
	index     map[string]int
	parents   map[string][]string
	children  map[string][]string
	edges     map[edge]struct{}
	committed bool
	commitErr error

	// Set by Commit.
	order    []*task.Node
	bindings [][]binding
}

type edge struct{ from, to string }

// Option configures a Graph.
type Option func(*Graph)

// WithConfig attaches a configuration file. Tasks that declare an input
// named "config" receive a private copy of its decoded contents.
func WithConfig(path string) Option {
	return func(g *Graph) { g.configPath = strings.TrimSpace(path) }
}

// WithConfigSource attaches an existing configuration source.
func WithConfigSource(src *config.Source) Option { return func(g *Graph) { g.source = src } }

func WithLogger(log logx.Logger) Option { return func(g *Graph) { g.log = log } }

// WithBus publishes task retry events.
func WithBus(bus eventbus.Bus) Option { return func(g *Graph) { g.bus = bus } }

// New creates a graph. schedule is a five-field cron pattern or Manual; a
// malformed pattern fails here with a *cron.ParseError.
func New(name, schedule string, opts ...Option) (*Graph, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}
	g := &Graph{
		name:     name,
		schedule: strings.TrimSpace(schedule),
		index:    map[string]int{},
		parents:  map[string][]string{},
		children: map[string][]string{},
		edges:    map[edge]struct{}{},
	}
	if !strings.EqualFold(g.schedule, Manual) {
		expr, err := cron.Parse(g.schedule)
		if err != nil {
			return nil, fmt.Errorf("graph %q: %w", name, err)
		}
		g.expr = expr
		g.schedule = expr.String()
	} else {
		g.schedule = Manual
	}
	for _, o := range opts {
		if o != nil {
			o(g)
		}
	}
	if g.source == nil && g.configPath != "" {
		g.source = config.NewSource(g.configPath, config.WithSourceLogger(g.log))
	}
	g.log = g.log.With(logx.String("graph", name))
	return g, nil
}

// MustNew is like New but panics on error.
func MustNew(name, schedule string, opts ...Option) *Graph {
	g, err := New(name, schedule, opts...)
	if err != nil {
		panic(err)
	}
	return g
}

func (g *Graph) Name() string     { return g.name }
func (g *Graph) Schedule() string { return g.schedule }
func (g *Graph) IsManual() bool   { return g.expr == nil }

// ConfigSource returns the attached configuration, or nil.
func (g *Graph) ConfigSource() *config.Source { return g.source }

// Next returns the first fire time strictly after the given instant.
func (g *Graph) Next(after time.Time) (time.Time, error) {
	if g.expr == nil {
		return time.Time{}, fmt.Errorf("graph %q: %w", g.name, ErrInvalidSchedule)
	}
	return g.expr.Next(after)
}

// AddEdges registers every parent and child and adds an edge from each parent
// to each child. With no children it only registers the parents as roots.
// Passing the same node again is a no-op; a different node under a known name
// fails with *DuplicateNodeError and leaves the graph unchanged.
func (g *Graph) AddEdges(parents []*task.Node, children ...*task.Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.committed {
		return fmt.Errorf("graph %q: %w", g.name, ErrCommitted)
	}

	pending := map[string]*task.Node{}
	all := append(append([]*task.Node(nil), parents...), children...)
	for _, n := range all {
		if err := n.Validate(); err != nil {
			return fmt.Errorf("graph %q: %w", g.name, err)
		}
		seen, ok := pending[n.Name()]
		if !ok {
			if i, known := g.index[n.Name()]; known {
				seen, ok = g.nodes[i], true
			}
		}
		if ok && seen != n {
			return &DuplicateNodeError{Graph: g.name, Name: n.Name()}
		}
		pending[n.Name()] = n
	}

	for _, n := range all {
		g.register(n)
	}
	for _, p := range parents {
		for _, c := range children {
			e := edge{from: p.Name(), to: c.Name()}
			if _, dup := g.edges[e]; dup {
				continue
			}
			g.edges[e] = struct{}{}
			g.children[e.from] = append(g.children[e.from], e.to)
			g.parents[e.to] = append(g.parents[e.to], e.from)
		}
	}
	return nil
}

// AddEdge adds an edge from parent to each child.
func (g *Graph) AddEdge(parent *task.Node, children ...*task.Node) error {
	return g.AddEdges([]*task.Node{parent}, children...)
}

func (g *Graph) register(n *task.Node) {
	if _, ok := g.index[n.Name()]; ok {
		return
	}
	g.index[n.Name()] = len(g.nodes)
	g.nodes = append(g.nodes, n)
}

// Order returns node names in execution order, or nil before Commit.
func (g *Graph) Order() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.committed || g.commitErr != nil {
		return nil
	}
	out := make([]string, len(g.order))
	for i, n := range g.order {
		out[i] = n.Name()
	}
	return out
}

// Len returns the number of registered nodes.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes)
}

func (g *Graph) String() string { return fmt.Sprintf("graph(%s, %s)", g.name, g.schedule) }

// Preview returns up to n fire times after from. Manual graphs have none.
func (g *Graph) Preview(from time.Time, n int) []time.Time {
	if g.expr == nil {
		return nil
	}
	return cron.Preview(g.expr, from, n)
}
