// Command worker takes a single task batch from the bag, publishes the primes
// in it and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hossein1376/grape/slogger"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/kamune-org/taskbag"
)

func main() {
	_, _ = maxprocs.Set()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		addr       = flag.String("addr", "127.0.0.1:2099", "bag address")
		name       = flag.String("name", taskbag.DefaultName, "bag name")
		id         = flag.String("id", "", "worker id, random when empty")
		useUDP     = flag.Bool("udp", false, "connect over kcp instead of tcp")
		connectFor = flag.Duration("connect-for", 30*time.Second, "how long to retry the initial connection")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slogger.NewDefault(slogger.WithLevel(level))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []taskbag.DialOption{
		taskbag.DialWithName(*name),
		taskbag.DialWithRetry(*connectFor),
	}
	if *useUDP {
		opts = append(opts, taskbag.DialWithUDP())
	}
	bag, err := taskbag.Dial(ctx, *addr, opts...)
	if err != nil {
		return fmt.Errorf("dialing bag: %w", err)
	}
	defer bag.Close()

	var workerOpts []taskbag.WorkerOption
	if *id != "" {
		workerOpts = append(workerOpts, taskbag.WorkerWithID(*id))
	}
	report, err := taskbag.RunWorker(ctx, bag, workerOpts...)
	if err != nil {
		return fmt.Errorf("worker %s failed in %s: %w", report.ID, report.State, err)
	}

	switch {
	case report.Task == nil:
		fmt.Println("No tasks available.")
	case report.Published:
		fmt.Printf("Published primes %v from %v\n", report.Primes, []int64(report.Task))
	default:
		fmt.Printf("No primes in %v\n", []int64(report.Task))
	}
	return nil
}
