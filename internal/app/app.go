package app

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"cronflow/internal/config"
	"cronflow/internal/eventbus"
	"cronflow/internal/executor"
	"cronflow/internal/graph"
	"cronflow/internal/metrics"
	"cronflow/internal/runtime/supervisor"
	logx "cronflow/pkg/logx"
	"cronflow/pkg/systemd"
)

// GraphBuilder returns graphs to register. dir is the graphs.config_dir
// setting; opts wire the graphs into the app's logger and event bus.
type GraphBuilder func(dir string, opts ...graph.Option) ([]*graph.Graph, error)

// App is the cronflow daemon: settings, logging, executor and the optional
// metrics endpoint.
type App struct {
	cfgPath  string
	builders []GraphBuilder
	execOpts []executor.Option
	notify   func(state string)

	cfgm  *config.Manager
	cfg   *config.Config
	logs  *logx.Service
	log   logx.Logger
	bus   eventbus.Bus
	exec  *executor.Executor
	coll  *metrics.Collectors
	mserv *metrics.Server
	sup   *supervisor.Supervisor

	// Distinct graph config files, watched while running.
	sources []*config.Source
}

type Option func(*App)

// WithConfigPath loads daemon settings from path. Without it defaults are used
// and hot reload is off.
func WithConfigPath(path string) Option {
	return func(a *App) { a.cfgPath = strings.TrimSpace(path) }
}

func WithGraphs(b GraphBuilder) Option {
	return func(a *App) {
		if b != nil {
			a.builders = append(a.builders, b)
		}
	}
}

// WithExecutorOptions appends options after the ones derived from settings.
func WithExecutorOptions(opts ...executor.Option) Option {
	return func(a *App) { a.execOpts = append(a.execOpts, opts...) }
}

// WithNotify replaces the sd_notify hook.
func WithNotify(fn func(state string)) Option {
	return func(a *App) {
		if fn != nil {
			a.notify = fn
		}
	}
}

// New loads settings, sets up logging and registers every graph. Any error
// here is a startup failure.
func New(opts ...Option) (*App, error) {
	a := &App{notify: func(state string) { _, _ = systemd.Notify(state) }}
	for _, o := range opts {
		if o != nil {
			o(a)
		}
	}

	cfg := config.Default()
	if a.cfgPath != "" {
		a.cfgm = config.NewManager(a.cfgPath)
		a.cfgm.SetValidator(validateReload)
		loaded, err := a.cfgm.Load()
		if err != nil {
			return nil, fmt.Errorf("load settings %s: %w", a.cfgPath, err)
		}
		cfg = loaded
	}
	a.cfg = cfg

	settings, err := cfg.Executor.Resolve()
	if err != nil {
		return nil, err
	}

	a.logs, a.log = logx.New(cfg.Logging.LogConfig())
	a.log = a.log.With(logx.String("comp", "app"))
	a.bus = eventbus.New()

	execOpts := append([]executor.Option{
		executor.WithLogger(a.log.With(logx.String("comp", "executor"))),
		executor.WithBus(a.bus),
		executor.WithLocation(settings.Location),
		executor.WithKillGrace(settings.KillGrace),
		executor.WithFailureLogRate(settings.FailureLogRate),
	}, a.execOpts...)
	a.exec = executor.New(execOpts...)

	a.coll = metrics.NewCollectors(a.exec.Live)
	a.mserv = metrics.NewServer(a.coll.Registry(), a.log.With(logx.String("comp", "metrics")))
	a.mserv.SetStatus(func() any { return a.exec.Snapshot() })

	gopts := []graph.Option{
		graph.WithLogger(a.log.With(logx.String("comp", "graph"))),
		graph.WithBus(a.bus),
	}
	for _, b := range a.builders {
		gs, err := b(cfg.Graphs.ConfigDir, gopts...)
		if err != nil {
			a.logs.Close()
			return nil, fmt.Errorf("build graphs: %w", err)
		}
		for _, g := range gs {
			if err := a.exec.Add(g); err != nil {
				a.logs.Close()
				return nil, fmt.Errorf("register graph %q: %w", g.Name(), err)
			}
			a.addSource(g.ConfigSource())
		}
	}
	return a, nil
}

func (a *App) addSource(src *config.Source) {
	if src == nil {
		return
	}
	for _, s := range a.sources {
		if s == src {
			return
		}
	}
	a.sources = append(a.sources, src)
}

// validateReload rejects settings the running daemon cannot apply.
func validateReload(_ context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Addr()); err != nil {
			return fmt.Errorf("metrics.address: %w", err)
		}
	}
	return nil
}

func (a *App) Executor() *executor.Executor { return a.exec }

func (a *App) Logger() logx.Logger { return a.log }

// Run builds an App from opts and runs it. It returns the process exit code:
// 0 after a graceful drain, 1 after a forced shutdown or a startup failure.
func Run(ctx context.Context, signals <-chan os.Signal, opts ...Option) int {
	a, err := New(opts...)
	if err != nil {
		fmt.Fprintln(logx.Stderr(), "fatal:", err)
		return 1
	}
	return a.Run(ctx, signals)
}

func metricsConfig(c config.MetricsConfig) metrics.Config {
	return metrics.Config{Enabled: c.Enabled, Addr: c.Addr(), Pprof: c.Pprof}
}
