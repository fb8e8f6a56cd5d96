package task

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy controls how often a failed node is retried.
//
// Attempt 0 runs immediately. Attempt k (k >= 1) waits Delay * Backoff^(k-1).
// A node runs at most Retries+1 times.
type Policy struct {
	Retries int
	Delay   time.Duration
	Backoff float64
}

// DefaultPolicy runs a node exactly once.
func DefaultPolicy() Policy { return Policy{Retries: 0, Delay: 0, Backoff: 1} }

func (p Policy) normalized() Policy {
	if p.Retries < 0 {
		p.Retries = 0
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	if p.Backoff <= 0 || math.IsNaN(p.Backoff) || math.IsInf(p.Backoff, 0) {
		p.Backoff = 1
	}
	return p
}

// BackOff returns a fresh backoff sequence for one invocation. It yields
// exactly Retries delays and then backoff.Stop.
func (p Policy) BackOff() backoff.BackOff {
	p = p.normalized()
	if p.Retries == 0 {
		return &backoff.StopBackOff{}
	}
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     p.Delay,
		RandomizationFactor: 0,
		Multiplier:          p.Backoff,
		MaxInterval:         time.Duration(math.MaxInt64),
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	exp.Reset()
	return backoff.WithMaxRetries(exp, uint64(p.Retries))
}

// Delays lists the waits before each retry, in order.
func (p Policy) Delays() []time.Duration {
	b := p.BackOff()
	out := make([]time.Duration, 0, p.normalized().Retries)
	for {
		d := b.NextBackOff()
		if d == backoff.Stop {
			return out
		}
		out = append(out, d)
	}
}
