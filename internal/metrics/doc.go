// Package metrics exports executor activity as Prometheus metrics.
//
// Collectors are fed from the event bus; Server serves them over HTTP together
// with /healthz, an optional /status JSON snapshot and optional pprof handlers.
package metrics
