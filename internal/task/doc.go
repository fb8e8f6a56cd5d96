// Package task defines the unit of work composed into graphs.
//
// A Node wraps a function, the names of the inputs it expects, and a retry
// policy. Nodes are immutable once built and may be shared by several graphs.
//
//	fetch := task.New("fetch", fetchFn, task.WithRetries(3), task.WithRetryDelay(time.Second))
//	store := task.New("store", storeFn, task.WithInputs("fetch", "config"))
package task
