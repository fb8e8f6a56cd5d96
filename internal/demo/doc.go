// Package demo holds example graphs covering each feature of cronflow:
// a single task, message passing, concurrent graphs, retries, config files
// and manual sub-graph composition. cmd/cronflow registers the scheduled ones
// with -demo.
package demo
