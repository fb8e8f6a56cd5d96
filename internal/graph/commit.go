package graph

import (
	"cronflow/internal/task"
	logx "cronflow/pkg/logx"
)

// binding resolves one declared input of a node.
type binding struct {
	name       string
	fromParent bool
}

// Commit freezes the graph. It orders nodes with Kahn's algorithm, breaking
// ties by registration order, and builds each node's input bindings. A graph
// with a cycle is rejected with *CyclicGraphError and stays rejected.
// Calling Commit again returns the first result.
func (g *Graph) Commit() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.committed {
		return g.commitErr
	}
	g.committed = true

	order, leftover := g.topoSort()
	if len(leftover) > 0 {
		g.commitErr = &CyclicGraphError{Graph: g.name, Nodes: g.findCycle(leftover)}
		return g.commitErr
	}

	g.order = order
	g.bindings = make([][]binding, len(order))
	for i, n := range order {
		isParent := map[string]bool{}
		for _, p := range g.parents[n.Name()] {
			isParent[p] = true
		}
		inputs := n.Inputs()
		bs := make([]binding, len(inputs))
		for j, in := range inputs {
			bs[j] = binding{name: in, fromParent: isParent[in]}
		}
		g.bindings[i] = bs
	}
	g.log.Debug("graph committed", logx.Int("nodes", len(order)))
	return nil
}

// topoSort returns the ordered nodes and, on a cycle, the names never freed.
func (g *Graph) topoSort() ([]*task.Node, map[string]bool) {
	indeg := make(map[string]int, len(g.nodes))
	for _, n := range g.nodes {
		indeg[n.Name()] = len(g.parents[n.Name()])
	}

	// ready is kept sorted by registration index, so among all nodes whose
	// parents are done the earliest registered runs first.
	ready := make([]int, 0, len(g.nodes))
	for i, n := range g.nodes {
		if indeg[n.Name()] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]*task.Node, 0, len(g.nodes))
	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		n := g.nodes[i]
		order = append(order, n)
		for _, c := range g.children[n.Name()] {
			indeg[c]--
			if indeg[c] == 0 {
				ready = insertSorted(ready, g.index[c])
			}
		}
	}

	if len(order) == len(g.nodes) {
		return order, nil
	}
	leftover := map[string]bool{}
	for name, d := range indeg {
		if d > 0 {
			leftover[name] = true
		}
	}
	return order, leftover
}

func insertSorted(s []int, v int) []int {
	i := len(s)
	for i > 0 && s[i-1] > v {
		i--
	}
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

// findCycle walks parent links inside the leftover set. Every leftover node
// still has a leftover parent, so the walk must revisit a node; the revisited
// stretch is a cycle.
func (g *Graph) findCycle(leftover map[string]bool) []string {
	var start string
	for _, n := range g.nodes {
		if leftover[n.Name()] {
			start = n.Name()
			break
		}
	}

	pos := map[string]int{}
	var walk []string
	for cur := start; ; {
		if at, seen := pos[cur]; seen {
			cycle := walk[at:]
			// walk follows child -> parent; report parent -> child, starting
			// at the earliest registered node.
			out := make([]string, len(cycle))
			for i := range cycle {
				out[i] = cycle[len(cycle)-1-i]
			}
			first := 0
			for i, name := range out {
				if g.index[name] < g.index[out[first]] {
					first = i
				}
			}
			return append(out[first:], out[:first]...)
		}
		pos[cur] = len(walk)
		walk = append(walk, cur)
		next := ""
		for _, p := range g.parents[cur] {
			if leftover[p] {
				next = p
				break
			}
		}
		if next == "" {
			return walk
		}
		cur = next
	}
}
