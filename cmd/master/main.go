// Command master distributes a prime search over the task bag and prints the
// primes workers sent back.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/hossein1376/grape/slogger"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/term"

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
		useUDP     = flag.Bool("udp", false, "connect over kcp instead of tcp")
		ceiling    = flag.Int64("max", 0, "range ceiling, prompted for when omitted")
		batchSize  = flag.Int64("granularity", 0, "batch size, prompted for when omitted")
		policy     = flag.String("policy", "first", "collect policy: first or all")
		retries    = flag.Int("retries", taskbag.DefaultRetries, "result polls before giving up")
		interval   = flag.Duration("interval", taskbag.DefaultRetryInterval, "delay between result polls")
		connectFor = flag.Duration("connect-for", 30*time.Second, "how long to retry the initial connection")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slogger.NewDefault(slogger.WithLevel(level))

	collect, err := taskbag.ParseCollectPolicy(*policy)
	if err != nil {
		return err
	}
	cfg, err := configuration(*ceiling, *batchSize)
	if err != nil {
		return err
	}

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

	producer, err := taskbag.NewProducer(
		bag,
		taskbag.ProducerWithPolicy(collect),
		taskbag.ProducerWithRetries(*retries),
		taskbag.ProducerWithRetryInterval(*interval),
	)
	if err != nil {
		return fmt.Errorf("new producer: %w", err)
	}

	c, err := producer.Run(ctx, cfg)
	if err != nil {
		return err
	}
	if c.Exhausted {
		fmt.Printf("Gave up after %d retries, %d of %d batches received.\n", *retries, c.Batches, c.Expected)
	}
	if len(c.Primes) == 0 {
		fmt.Println("No primes received.")
		return nil
	}
	fmt.Println("Prime numbers found:")
	for _, p := range c.Sorted() {
		fmt.Println(p)
	}
	return nil
}

// configuration resolves the run parameters from the flags, prompting for the
// missing ones on an interactive terminal.
func configuration(ceiling, batchSize int64) (taskbag.Configuration, error) {
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	var err error
	if ceiling == 0 {
		ceiling, err = ask("Enter the range ceiling (MAX):", taskbag.DefaultRangeCeiling, interactive)
		if err != nil {
			return taskbag.Configuration{}, err
		}
	}
	if batchSize == 0 {
		batchSize, err = ask("Enter the batch size (GRANULARITY):", taskbag.DefaultBatchSize, interactive)
		if err != nil {
			return taskbag.Configuration{}, err
		}
	}
	cfg := taskbag.Configuration{RangeCeiling: ceiling, BatchSize: batchSize}
	return cfg, cfg.Validate()
}

func ask(message string, def int64, interactive bool) (int64, error) {
	if !interactive {
		return def, nil
	}
	var answer string
	prompt := &survey.Input{
		Message: message,
		Default: strconv.FormatInt(def, 10),
	}
	err := survey.AskOne(prompt, &answer, survey.WithValidator(positiveInt))
	if err != nil {
		return 0, fmt.Errorf("prompt: %w", err)
	}
	return strconv.ParseInt(answer, 10, 64)
}

func positiveInt(ans any) error {
	s, ok := ans.(string)
	if !ok {
		return errors.New("expected text")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return errors.New("please enter a positive integer")
	}
	return nil
}
