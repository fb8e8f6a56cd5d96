// Package graph composes task nodes into a directed acyclic graph with
// data-passing edges.
//
// A graph is built with AddEdges, frozen by Commit (which rejects cycles and
// fixes a deterministic topological order), and run with Invoke. Each
// invocation has its own results table: a node's result is passed to each of
// its children under the node's name.
//
// Graphs carry either a five-field cron schedule or Manual. Only scheduled
// graphs can be registered with an executor; manual graphs are invoked
// directly or wrapped as a task with AsTask.
package graph
