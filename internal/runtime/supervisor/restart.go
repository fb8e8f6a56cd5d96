package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	logx "cronflow/pkg/logx"
)

// RestartOption configures GoRestart.
type RestartOption func(*restartCfg)

type restartCfg struct {
	minBackoff  time.Duration
	maxBackoff  time.Duration
	maxRestarts int // <=0 means unlimited
}

// WithRestartBackoff sets the exponential backoff window between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(c *restartCfg) {
		if min > 0 {
			c.minBackoff = min
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

// WithMaxRestarts limits restarts before giving up. The initial run is not a restart.
func WithMaxRestarts(n int) RestartOption { return func(c *restartCfg) { c.maxRestarts = n } }

// GoRestart runs fn and restarts it on error or panic until the supervisor
// context is canceled. A nil return stops the loop. Intended for long-running
// watchers where transient failures should self-heal.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) *Handle {
	cfg := restartCfg{minBackoff: 250 * time.Millisecond, maxBackoff: 30 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.maxBackoff < cfg.minBackoff {
		cfg.maxBackoff = cfg.minBackoff
	}

	// The loop itself runs under a distinct name so per-run stats stay under name.
	return s.Go(name+".restart", func(ctx context.Context) error {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = cfg.minBackoff
		exp.MaxInterval = cfg.maxBackoff
		exp.RandomizationFactor = 0.2
		exp.MaxElapsedTime = 0
		exp.Reset()
		var b backoff.BackOff = exp
		if cfg.maxRestarts > 0 {
			b = backoff.WithMaxRetries(exp, uint64(cfg.maxRestarts))
		}

		restarts := 0
		op := func() error {
			startedAt := time.Now()
			s.noteStart(name, startedAt, restarts > 0)
			err := s.run(name, ctx, fn)
			if ctx.Err() != nil || err == nil || errors.Is(err, context.Canceled) {
				s.noteStop(name, startedAt, nil)
				return nil
			}
			s.noteStop(name, startedAt, err)
			restarts++
			// A run that stayed up for a while starts the backoff over.
			if time.Since(startedAt) >= 30*time.Second {
				b.Reset()
			}
			return err
		}
		notify := func(err error, wait time.Duration) {
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
		}

		if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Error("goroutine gave up after restarts", logx.String("name", name), logx.Int("restarts", restarts), logx.Err(err))
			return fmt.Errorf("gave up after %d restarts: %w", restarts, err)
		}
		return nil
	})
}
