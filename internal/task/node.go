package task

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Func is the body of a task. A nil result means "no result" and is handed
// to children as nil.
type Func func(ctx context.Context, in Args) (any, error)

// Node is a named, immutable unit of work.
type Node struct {
	name     string
	fn       Func
	inputs   []string
	variadic bool
	policy   Policy
}

// Option configures a Node.
type Option func(*Node)

// WithInputs declares the named parameters the task reads from Args, in order.
// A name is satisfied by the parent task with that name, by a keyword argument
// passed to the graph, or by the graph config when the name is "config".
func WithInputs(names ...string) Option {
	return func(n *Node) {
		for _, name := range names {
			name = strings.TrimSpace(name)
			if name != "" {
				n.inputs = append(n.inputs, name)
			}
		}
	}
}

// WithVariadic makes the task receive every parent result keyed by parent name,
// in addition to its declared inputs.
func WithVariadic() Option { return func(n *Node) { n.variadic = true } }

// WithRetries sets how many times a failed attempt is retried.
func WithRetries(retries int) Option { return func(n *Node) { n.policy.Retries = retries } }

// WithRetryDelay sets the wait before the first retry.
func WithRetryDelay(d time.Duration) Option { return func(n *Node) { n.policy.Delay = d } }

// WithBackoff sets the multiplier applied to the delay after each retry.
func WithBackoff(factor float64) Option { return func(n *Node) { n.policy.Backoff = factor } }

// WithPolicy replaces the whole retry policy.
func WithPolicy(p Policy) Option { return func(n *Node) { n.policy = p } }

// New builds a task node. Validate reports whether the result is usable.
func New(name string, fn Func, opts ...Option) *Node {
	n := &Node{name: strings.TrimSpace(name), fn: fn, policy: DefaultPolicy()}
	for _, o := range opts {
		if o != nil {
			o(n)
		}
	}
	n.policy = n.policy.normalized()
	return n
}

// Validate returns ErrInvalidNode when the node has no name or no function.
func (n *Node) Validate() error {
	if n == nil {
		return fmt.Errorf("%w: nil node", ErrInvalidNode)
	}
	if n.name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidNode)
	}
	if n.fn == nil {
		return fmt.Errorf("%w: %s has no function", ErrInvalidNode, n.name)
	}
	return nil
}

func (n *Node) Name() string     { return n.name }
func (n *Node) Variadic() bool   { return n.variadic }
func (n *Node) String() string   { return "task(" + n.name + ")" }
func (n *Node) Inputs() []string { return append([]string(nil), n.inputs...) }
