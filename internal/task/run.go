package task

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryEvent describes a failed attempt that will be retried.
type RetryEvent struct {
	Graph   string        `json:"graph,omitempty"`
	Task    string        `json:"task"`
	Attempt int           `json:"attempt"` // index of the next attempt; the first retry is 1
	Delay   time.Duration `json:"delay"`
	Error   string        `json:"error"`
}

// Run invokes the task until it succeeds or its policy is exhausted.
// onRetry, if non-nil, is called before every wait. It returns the result,
// the number of attempts made, and the last error.
//
// Panics are recovered and count as failed attempts. Errors wrapped with
// NoRetry stop immediately. Waits end early when ctx is done.
func (n *Node) Run(ctx context.Context, in Args, onRetry func(RetryEvent)) (any, int, error) {
	if err := n.Validate(); err != nil {
		return nil, 0, err
	}

	var (
		result   any
		attempts int
	)
	op := func() error {
		attempts++
		v, err := n.call(ctx, in)
		if err == nil {
			result = v
			return nil
		}
		if IsNoRetry(err) {
			var nr noRetryError
			errors.As(err, &nr)
			return backoff.Permanent(nr.err)
		}
		return err
	}
	notify := func(err error, d time.Duration) {
		if onRetry != nil {
			onRetry(RetryEvent{Task: n.name, Attempt: attempts, Delay: d, Error: err.Error()})
		}
	}

	err := backoff.RetryNotify(op, backoff.WithContext(n.policy.BackOff(), ctx), notify)
	if err != nil {
		return nil, attempts, err
	}
	return result, attempts, nil
}

func (n *Node) call(ctx context.Context, in Args) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = nil
			err = &PanicError{Task: n.name, Value: r, Stack: string(debug.Stack())}
		}
	}()
	return n.fn(ctx, in)
}
