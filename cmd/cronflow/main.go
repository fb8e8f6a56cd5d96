package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cronflow/internal/app"
	"cronflow/internal/cron"
	"cronflow/internal/demo"
)

func main() {
	var (
		cfgPath  string
		withDemo bool
		next     string
		count    int
	)
	flag.StringVar(&cfgPath, "config", "", "path to settings file (json, yaml or hcl); defaults apply when empty")
	flag.BoolVar(&withDemo, "demo", false, "register the demo graphs")
	flag.StringVar(&next, "next", "", "print the next fire times of a cron pattern and exit")
	flag.IntVar(&count, "n", 5, "number of fire times printed by -next")
	flag.Parse()

	if next != "" {
		os.Exit(preview(next, count))
	}

	// Buffered for two: the second signal forces shutdown while draining.
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	opts := []app.Option{app.WithConfigPath(cfgPath)}
	if withDemo {
		opts = append(opts, app.WithGraphs(demo.Builder(os.Stdout)))
	}
	os.Exit(app.Run(context.Background(), signals, opts...))
}

func preview(pattern string, n int) int {
	expr, err := cron.Parse(pattern)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid pattern:", err)
		return 2
	}
	times := cron.Preview(expr, time.Now(), n)
	if len(times) == 0 {
		fmt.Fprintf(os.Stderr, "%q never fires within %d years\n", expr.String(), cron.SearchYears)
		return 1
	}
	for _, t := range times {
		fmt.Println(t.Format(time.RFC3339))
	}
	return 0
}
