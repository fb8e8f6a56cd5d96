package app

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"cronflow/internal/executor"
	"cronflow/internal/runtime/supervisor"
	logx "cronflow/pkg/logx"
	"cronflow/pkg/systemd"
)

// errSignal ends the dispatch loop when the first shutdown signal arrives.
var errSignal = errors.New("shutdown signal")

// Run dispatches until ctx is done or a signal arrives, then drains. A second
// signal during the drain cancels every live unit.
func (a *App) Run(ctx context.Context, signals <-chan os.Signal) int {
	a.sup = supervisor.New(context.WithoutCancel(ctx),
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(false),
	)
	cfg := a.cfg
	a.startBackground()
	a.mserv.Reconfigure(ctx, metricsConfig(cfg.Metrics))

	a.notify(systemd.StateReady)
	a.log.Info("cronflow started", logx.Int("pending", len(a.exec.Pending())))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return a.exec.Start(egCtx) })
	eg.Go(func() error {
		select {
		case sig := <-signals:
			a.log.Info("shutdown signal received; draining", logx.String("signal", sig.String()))
			return errSignal
		case <-egCtx.Done():
			return nil
		}
	})

	code := 0
	switch err := eg.Wait(); {
	case err == nil, errors.Is(err, errSignal):
	case errors.Is(err, executor.ErrEmpty):
		a.log.Warn("nothing left to schedule")
	default:
		a.log.Error("dispatch loop failed", logx.Err(err))
		code = 1
	}

	a.notify(systemd.StateStopping)
	if err := a.drain(signals); err != nil {
		code = 1
	}
	a.shutdown()
	return code
}

// drain waits for live units. A signal cancels them.
func (a *App) drain(signals <-chan os.Signal) error {
	dctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case sig := <-signals:
			a.log.Warn("second signal received; forcing shutdown", logx.String("signal", sig.String()))
			cancel()
		case <-dctx.Done():
		}
	}()

	err := a.exec.Drain(dctx)
	if errors.Is(err, executor.ErrForced) {
		a.log.Error("forced shutdown", logx.Err(err))
	}
	return err
}

// startBackground runs the settings and graph config watchers, reload
// fan-out, metrics feed and systemd watchdog under the app supervisor.
func (a *App) startBackground() {
	a.sup.Go("metrics.consume", func(c context.Context) error { return a.coll.Consume(c, a.bus) })
	a.sup.Go("systemd.watchdog", systemd.Watchdog)
	for _, src := range a.sources {
		a.sup.GoRestart("graph.config.watch", src.Watch, supervisor.WithRestartBackoff(time.Second, time.Minute))
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	if a.cfgm == nil {
		return
	}
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	sub := a.cfgm.Subscribe(4)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return nil
			case cfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(c, cfg)
			}
		}
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.WithRestartBackoff(time.Second, time.Minute))
}
