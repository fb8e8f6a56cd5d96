package executor

import (
	"time"

	"cronflow/internal/graph"
)

// Entry is one schedule slot: every graph due at At, in merge order.
type Entry struct {
	At     time.Time
	Graphs []*graph.Graph
}

// queue is sorted by descending At so the soonest entry is at the tail.
type queue []Entry

// insert adds graphs at t. An entry with the same instant gets them appended;
// with front set they are placed before the existing graphs instead.
func (q queue) insert(t time.Time, gs []*graph.Graph, front bool) queue {
	for i := range q {
		if q[i].At.Equal(t) {
			if front {
				q[i].Graphs = append(append([]*graph.Graph(nil), gs...), q[i].Graphs...)
			} else {
				q[i].Graphs = append(q[i].Graphs, gs...)
			}
			return q
		}
	}
	i := len(q)
	for i > 0 && q[i-1].At.Before(t) {
		i--
	}
	q = append(q, Entry{})
	copy(q[i+1:], q[i:])
	q[i] = Entry{At: t, Graphs: append([]*graph.Graph(nil), gs...)}
	return q
}

func (q queue) pop() (Entry, queue) {
	last := len(q) - 1
	e := q[last]
	q[last] = Entry{}
	return e, q[:last]
}

// ascending copies the queue soonest first.
func (q queue) ascending() []Entry {
	out := make([]Entry, len(q))
	for i := range q {
		e := q[len(q)-1-i]
		out[i] = Entry{At: e.At, Graphs: append([]*graph.Graph(nil), e.Graphs...)}
	}
	return out
}
