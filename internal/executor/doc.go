// Package executor fires registered graphs at their cron times.
//
// The executor keeps a schedule queue of (time, graphs) entries. Its dispatch
// loop waits for the soonest entry, launches each due graph as an isolated
// unit (a supervised goroutine with its own context), and immediately
// re-schedules the graph at its next fire time. Graphs due at the same
// instant are dispatched together, in registration order, as one batch.
//
// Stopping the loop never interrupts running units. Drain waits for them and,
// if its context ends first, cancels them and reports ErrForced.
package executor
