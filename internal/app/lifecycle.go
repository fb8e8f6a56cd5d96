package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cronflow/internal/config"
	logx "cronflow/pkg/logx"
	"cronflow/pkg/systemd"
)

// applyConfig applies a reloaded settings file. Logging and metrics change
// live; executor settings need a restart.
func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	prev := a.cfg
	sections, attrs := config.SummarizeChange(prev, cfg)
	a.cfg = cfg
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.notify(systemd.StateReloading)
	defer a.notify(systemd.StateReady)

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(cfg.Logging.LogConfig())
		case "metrics":
			a.mserv.Reconfigure(ctx, metricsConfig(cfg.Metrics))
		case "executor", "graphs":
			a.log.Warn("setting changed; restart required for it to take effect", logx.String("section", s))
		}
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// shutdown stops background services. Each step is bounded so one component
// cannot stall the exit.
func (a *App) shutdown() {
	a.step("supervisor", 2*time.Second, a.sup.Stop)
	a.step("metrics", time.Second, func(c context.Context) error { a.mserv.Stop(c); return nil })
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

func (a *App) step(name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-ctx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
