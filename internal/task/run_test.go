package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunSucceedsAfterRetries(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	n := New("flaky", func(ctx context.Context, in Args) (any, error) {
		if calls.Add(1) < 4 {
			return nil, errors.New("not yet")
		}
		return "ok", nil
	}, WithRetries(3), WithRetryDelay(time.Millisecond), WithBackoff(1.5))

	var retries []RetryEvent
	v, attempts, err := n.Run(context.Background(), nil, func(ev RetryEvent) { retries = append(retries, ev) })
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if v != "ok" {
		t.Fatalf("result = %v, want ok", v)
	}
	if attempts != 4 || calls.Load() != 4 {
		t.Fatalf("attempts = %d calls = %d, want 4", attempts, calls.Load())
	}
	if len(retries) != 3 {
		t.Fatalf("retry events = %d, want 3", len(retries))
	}
	for i, ev := range retries {
		if ev.Attempt != i+1 || ev.Task != "flaky" || ev.Error != "not yet" {
			t.Fatalf("retry event %d = %+v", i, ev)
		}
	}
}

func TestRunExhaustsRetries(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	boom := errors.New("boom")
	n := New("always", func(ctx context.Context, in Args) (any, error) {
		calls.Add(1)
		return nil, boom
	}, WithRetries(2))

	_, attempts, err := n.Run(context.Background(), nil, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if attempts != 3 || calls.Load() != 3 {
		t.Fatalf("attempts = %d calls = %d, want 3", attempts, calls.Load())
	}
}

func TestRunNoRetryStopsImmediately(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	bad := errors.New("bad input")
	n := New("strict", func(ctx context.Context, in Args) (any, error) {
		calls.Add(1)
		return nil, NoRetry(bad)
	}, WithRetries(5))

	_, attempts, err := n.Run(context.Background(), nil, nil)
	if !errors.Is(err, bad) || IsNoRetry(err) {
		t.Fatalf("err = %v, want unwrapped bad input", err)
	}
	if attempts != 1 || calls.Load() != 1 {
		t.Fatalf("attempts = %d calls = %d, want 1", attempts, calls.Load())
	}
}

func TestRunRecoversPanics(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	n := New("panicky", func(ctx context.Context, in Args) (any, error) {
		if calls.Add(1) == 1 {
			panic("kaboom")
		}
		return 7, nil
	}, WithRetries(1))

	v, attempts, err := n.Run(context.Background(), nil, nil)
	if err != nil || v != 7 || attempts != 2 {
		t.Fatalf("Run = (%v, %d, %v), want (7, 2, nil)", v, attempts, err)
	}

	n = New("always-panics", func(ctx context.Context, in Args) (any, error) { panic("again") })
	_, _, err = n.Run(context.Background(), nil, nil)
	var pe *PanicError
	if !errors.As(err, &pe) || pe.Task != "always-panics" || pe.Value != "again" {
		t.Fatalf("err = %v, want PanicError", err)
	}
}

func TestRunStopsWaitingOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	n := New("slow-retry", func(ctx context.Context, in Args) (any, error) {
		calls.Add(1)
		cancel()
		return nil, errors.New("fail")
	}, WithRetries(3), WithRetryDelay(time.Hour))

	done := make(chan error, 1)
	go func() {
		_, _, err := n.Run(ctx, nil, nil)
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestRunPassesArgs(t *testing.T) {
	t.Parallel()
	n := New("echo", func(ctx context.Context, in Args) (any, error) {
		return Arg[string](in, "msg")
	}, WithInputs("msg"))
	v, _, err := n.Run(context.Background(), Args{"msg": "hi"}, nil)
	if err != nil || v != "hi" {
		t.Fatalf("Run = (%v, %v), want hi", v, err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	fn := func(ctx context.Context, in Args) (any, error) { return nil, nil }
	tests := []struct {
		name string
		node *Node
		ok   bool
	}{
		{"valid", New("a", fn), true},
		{"nil", nil, false},
		{"empty name", New("  ", fn), false},
		{"nil func", New("a", nil), false},
	}
	for _, tt := range tests {
		err := tt.node.Validate()
		if (err == nil) != tt.ok {
			t.Fatalf("%s: Validate() = %v", tt.name, err)
		}
		if err != nil && !errors.Is(err, ErrInvalidNode) {
			t.Fatalf("%s: error %v does not wrap ErrInvalidNode", tt.name, err)
		}
	}
}
