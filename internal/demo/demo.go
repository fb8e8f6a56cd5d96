package demo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"cronflow/internal/config"
	"cronflow/internal/graph"
	"cronflow/internal/task"
)

// EveryMinute is the schedule used by every scheduled demo.
const EveryMinute = "* * * * *"

// ConfigFile is looked up in the graphs config dir by the config demo.
const ConfigFile = "demo.yaml"

// Builder returns every scheduled demo, printing to out. It matches
// app.GraphBuilder.
func Builder(out io.Writer) func(dir string, opts ...graph.Option) ([]*graph.Graph, error) {
	return func(dir string, opts ...graph.Option) ([]*graph.Graph, error) {
		if dir == "" {
			dir = "."
		}
		var gs []*graph.Graph
		add := func(g ...*graph.Graph) { gs = append(gs, g...) }

		hello, err := HelloWorld(out, opts...)
		if err != nil {
			return nil, err
		}
		add(hello)
		mp, err := MessagePassing(out, opts...)
		if err != nil {
			return nil, err
		}
		add(mp)
		multi, err := MultiGraph(out, 5*time.Second, opts...)
		if err != nil {
			return nil, err
		}
		add(multi...)
		retry, err := Retry(out, 1500*time.Millisecond, opts...)
		if err != nil {
			return nil, err
		}
		add(retry)
		cfg, err := Configs(out, config.NewSource(filepath.Join(dir, ConfigFile)), opts...)
		if err != nil {
			return nil, err
		}
		add(cfg...)
		return gs, nil
	}
}

func single(name string, n *task.Node, opts ...graph.Option) (*graph.Graph, error) {
	g, err := graph.New(name, EveryMinute, opts...)
	if err != nil {
		return nil, err
	}
	if err := g.AddEdges([]*task.Node{n}); err != nil {
		return nil, err
	}
	return g, nil
}

// HelloWorld is a one-task graph.
func HelloWorld(out io.Writer, opts ...graph.Option) (*graph.Graph, error) {
	hello := task.New("hello_world", func(ctx context.Context, in task.Args) (any, error) {
		fmt.Fprintln(out, "Hello, world!")
		return nil, nil
	})
	return single("hello world", hello, opts...)
}

// MessagePassing fans root out to three children and joins them in leaf:
//
//	      root
//	    /  |   \
//	add_2 add_3 do_nothing
//	    \  |   /
//	      leaf
func MessagePassing(out io.Writer, opts ...graph.Option) (*graph.Graph, error) {
	root := task.New("root", func(ctx context.Context, in task.Args) (any, error) {
		return map[string]any{"some_key": 0}, nil
	})
	adder := func(name string, n int) *task.Node {
		return task.New(name, func(ctx context.Context, in task.Args) (any, error) {
			msg, err := task.Arg[map[string]any](in, "root")
			if err != nil {
				return nil, err
			}
			v, _ := msg["some_key"].(int)
			fmt.Fprintf(out, "%s got %d and returned %d\n", name, v, v+n)
			return map[string]any{"new": v + n}, nil
		}, task.WithInputs("root"))
	}
	add2, add3 := adder("add_2", 2), adder("add_3", 3)
	doNothing := task.New("do_nothing", func(ctx context.Context, in task.Args) (any, error) {
		fmt.Fprintf(out, "do_nothing received %v and returned nothing\n", in.Names())
		return nil, nil
	}, task.WithVariadic())
	leaf := task.New("leaf", func(ctx context.Context, in task.Args) (any, error) {
		a, _ := in.Get("add_2").(map[string]any)
		b, _ := in.Get("add_3").(map[string]any)
		if a["new"] != 2 || b["new"] != 3 || in.Get("do_nothing") != nil {
			return nil, fmt.Errorf("leaf got unexpected inputs %v", map[string]any(in))
		}
		fmt.Fprintln(out, "leaf received all inputs correctly")
		return true, nil
	}, task.WithInputs("add_2", "add_3", "do_nothing"))

	g, err := graph.New("message passing demo", EveryMinute, opts...)
	if err != nil {
		return nil, err
	}
	if err := g.AddEdges([]*task.Node{root}, add2, add3, doNothing); err != nil {
		return nil, err
	}
	if err := g.AddEdges([]*task.Node{add2, add3, doNothing}, leaf); err != nil {
		return nil, err
	}
	return g, nil
}

// MultiGraph returns two graphs due at the same instant. The first sleeps for
// pause, so the second finishes first although it was dispatched second.
func MultiGraph(out io.Writer, pause time.Duration, opts ...graph.Option) ([]*graph.Graph, error) {
	slow := task.New("sleep", func(ctx context.Context, in task.Args) (any, error) {
		fmt.Fprintf(out, "graph 1: sleeping for %s\n", pause)
		select {
		case <-time.After(pause):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		fmt.Fprintln(out, "graph 1: finished after graph 2")
		return nil, nil
	})
	fast := task.New("every_minute", func(ctx context.Context, in task.Args) (any, error) {
		fmt.Fprintln(out, "graph 2: started after graph 1 and finished first")
		return nil, nil
	})
	g1, err := single("graph 1", slow, opts...)
	if err != nil {
		return nil, err
	}
	g2, err := single("graph 2", fast, opts...)
	if err != nil {
		return nil, err
	}
	return []*graph.Graph{g1, g2}, nil
}

var errFlaky = errors.New("flaky failure")

// Retry fails its first three attempts in each run and succeeds on the fourth.
func Retry(out io.Writer, delay time.Duration, opts ...graph.Option) (*graph.Graph, error) {
	var calls atomic.Int64
	canFail := task.New("can_fail", func(ctx context.Context, in task.Args) (any, error) {
		n := calls.Add(1)
		if n%4 != 0 {
			fmt.Fprintf(out, "can_fail: attempt %d failed\n", (n-1)%4+1)
			return nil, errFlaky
		}
		fmt.Fprintln(out, "can_fail: succeeded after 3 retries")
		return n, nil
	}, task.WithRetries(3), task.WithRetryDelay(delay), task.WithBackoff(1))
	return single("retry demo", canFail, opts...)
}

// Configs returns two graphs reading one shared config file: one prints
// "key", the other the sorted top-level keys. The file is re-read only when
// it changes.
func Configs(out io.Writer, src *config.Source, opts ...graph.Option) ([]*graph.Graph, error) {
	opts = append(opts[:len(opts):len(opts)], graph.WithConfigSource(src))
	read := task.New("read_config", func(ctx context.Context, in task.Args) (any, error) {
		cfg, err := task.Arg[map[string]any](in, graph.ConfigInput)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(out, "value of 'key' in config is %v\n", cfg["key"])
		return cfg["key"], nil
	}, task.WithInputs(graph.ConfigInput))
	value, err := single("config files demo", read, opts...)
	if err != nil {
		return nil, err
	}

	list := task.New("list_keys", func(ctx context.Context, in task.Args) (any, error) {
		cfg, err := task.Arg[map[string]any](in, graph.ConfigInput)
		if err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(cfg))
		for k := range cfg {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(out, "config keys: %s\n", strings.Join(keys, ", "))
		return keys, nil
	}, task.WithInputs(graph.ConfigInput))
	keys, err := single("config keys demo", list, opts...)
	if err != nil {
		return nil, err
	}
	return []*graph.Graph{value, keys}, nil
}
