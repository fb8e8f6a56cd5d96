package graph

import (
	"context"

	"cronflow/internal/task"
)

// AsTask wraps g as a variadic task node. The node's parents' results (and
// any keyword arguments of the outer graph) become g's keyword arguments, and
// g's result becomes the node's result. opts are applied after WithVariadic.
func (g *Graph) AsTask(name string, opts ...task.Option) *task.Node {
	fn := func(ctx context.Context, in task.Args) (any, error) {
		return g.Invoke(ctx, in)
	}
	return task.New(name, fn, append([]task.Option{task.WithVariadic()}, opts...)...)
}
