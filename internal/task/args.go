package task

import (
	"fmt"
	"sort"
)

// Args holds the inputs bound to one task invocation, keyed by name.
type Args map[string]any

// Has reports whether name is bound, even to nil.
func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// Get returns the value bound to name, or nil.
func (a Args) Get(name string) any { return a[name] }

// Names returns the bound names in sorted order.
func (a Args) Names() []string {
	out := make([]string, 0, len(a))
	for k := range a {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Arg returns the value bound to name converted to T.
func Arg[T any](a Args, name string) (T, error) {
	var zero T
	v, ok := a[name]
	if !ok {
		return zero, fmt.Errorf("input %q is not bound", name)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("input %q is %T, not %T", name, v, zero)
	}
	return t, nil
}
