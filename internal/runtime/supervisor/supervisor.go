package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	logx "cronflow/pkg/logx"
)

// Supervisor manages goroutines tied to a shared context.
//   - Every goroutine gets a Handle (ID, liveness, result, cancel)
//   - Panic recovery
//   - Optional cancel-on-first-error
//   - Timeout-aware waiting
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	// Best-effort operational counters, not a synchronization primitive.
	started uint64
	active  int64

	log         logx.Logger
	cancelOnErr bool
	errOnce     sync.Once
	firstErr    atomic.Value // stores error
	wg          sync.WaitGroup

	mu    sync.Mutex
	stats map[string]*gorStats
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError makes the first non-nil error from any goroutine cancel
// the supervisor context.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		stats:  map[string]*gorStats{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the supervisor context without waiting for goroutines to exit.
// Goroutines started with GoContext on an unrelated context are not affected.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first error recorded by any goroutine.
func (s *Supervisor) Err() error {
	if err, ok := s.firstErr.Load().(error); ok {
		return err
	}
	return nil
}

// Go runs fn under the supervisor context.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) *Handle {
	return s.GoContext(s.ctx, name, fn)
}

// GoContext runs fn under its own cancelable child of ctx. The returned
// Handle can cancel just this goroutine.
func (s *Supervisor) GoContext(ctx context.Context, name string, fn func(ctx context.Context) error) *Handle {
	hctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		ID:      uuid.New(),
		Name:    name,
		Started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	if fn == nil {
		cancel()
		close(h.done)
		return h
	}

	atomic.AddUint64(&s.started, 1)
	atomic.AddInt64(&s.active, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer atomic.AddInt64(&s.active, -1)
		defer close(h.done)
		defer cancel()

		s.noteStart(name, h.Started, false)
		err := s.run(name, hctx, fn)
		if err != nil && errors.Is(err, context.Canceled) && hctx.Err() != nil {
			// Canceled on request; still visible on the handle.
			h.setErr(err)
			s.noteStop(name, h.Started, nil)
			return
		}
		if err != nil {
			err = fmt.Errorf("%s: %w", name, err)
			s.setErr(err)
			if s.cancelOnErr {
				s.cancel()
			}
		}
		h.setErr(err)
		s.noteStop(name, h.Started, err)
	}()
	return h
}

// run calls fn, converting a panic into a *PanicError.
func (s *Supervisor) run(name string, ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			s.notePanic(name, r)
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.Stack(stack))
			err = &PanicError{Name: name, Value: r, Stack: stack}
		}
	}()
	s.log.Debug("goroutine started", logx.String("name", name))
	err = fn(ctx)
	s.log.Debug("goroutine stopped", logx.String("name", name))
	return err
}

// Stop cancels the supervisor context and waits.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine has returned or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return s.Err()
	}
}

func (s *Supervisor) setErr(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() { s.firstErr.Store(err) })
}

// PanicError is a recovered panic from a supervised goroutine.
type PanicError struct {
	Name  string
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic in %s: %v", e.Name, e.Value) }

// Handle tracks one supervised goroutine.
type Handle struct {
	ID      uuid.UUID
	Name    string
	Started time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Done is closed when the goroutine has returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Alive reports whether the goroutine is still running.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Cancel cancels the goroutine's context.
func (h *Handle) Cancel() { h.cancel() }

// Err returns the goroutine's result once it has returned.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Wait blocks until the goroutine returns or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) setErr(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
}
