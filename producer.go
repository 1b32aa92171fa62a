package taskbag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
)

const (
	DefaultRetries       = 20
	DefaultRetryInterval = 2 * time.Second
)

// CollectPolicy decides when a collector is satisfied.
type CollectPolicy int

const (
	// CollectFirstBatch stops as soon as any prime has been received.
	CollectFirstBatch CollectPolicy = iota
	// CollectAllBatches stops once one result batch per task batch arrived.
	CollectAllBatches
)

func (p CollectPolicy) String() string {
	switch p {
	case CollectFirstBatch:
		return "first"
	case CollectAllBatches:
		return "all"
	default:
		return fmt.Sprintf("CollectPolicy(%d)", int(p))
	}
}

func ParseCollectPolicy(s string) (CollectPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "first", "":
		return CollectFirstBatch, nil
	case "all":
		return CollectAllBatches, nil
	default:
		return 0, fmt.Errorf("unknown collect policy %q", s)
	}
}

// Collection is what a collector gathered from the results queue.
type Collection struct {
	// Primes in the order they were received.
	Primes []int64
	// Batches is the number of non-empty result batches received.
	Batches int
	// Expected is the number of task batches distributed.
	Expected int
	// Exhausted is set when the retry budget ran out before the policy was
	// satisfied.
	Exhausted bool
}

// Sorted returns the primes in ascending order.
func (c Collection) Sorted() []int64 {
	s := slices.Clone(c.Primes)
	slices.Sort(s)
	return s
}

// Split returns the task batches of cfg in ascending order:
// [0,B), [B,2B), ..., with the last one ending at the range ceiling.
func Split(cfg Configuration) ([]Batch, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	batches := make([]Batch, 0, cfg.Batches())
	for i := int64(0); i < cfg.RangeCeiling; i += cfg.BatchSize {
		end := min(i+cfg.BatchSize, cfg.RangeCeiling)
		b := make(Batch, 0, end-i)
		for j := i; j < end; j++ {
			b = append(b, j)
		}
		batches = append(batches, b)
	}
	return batches, nil
}

// Producer distributes the range of a configuration as task batches and
// collects the primes workers publish back.
type Producer struct {
	bag           Bag
	retries       int
	retryInterval time.Duration
	policy        CollectPolicy
	logger        *slog.Logger
	tasks         string
	results       string
}

type ProducerOption func(*Producer) error

func ProducerWithRetries(retries int) ProducerOption {
	return func(p *Producer) error {
		if retries <= 0 {
			return errors.New("retries must be positive")
		}
		p.retries = retries
		return nil
	}
}

func ProducerWithRetryInterval(interval time.Duration) ProducerOption {
	return func(p *Producer) error {
		if interval < 0 {
			return errors.New("retry interval cannot be negative")
		}
		p.retryInterval = interval
		return nil
	}
}

func ProducerWithPolicy(policy CollectPolicy) ProducerOption {
	return func(p *Producer) error {
		if policy != CollectFirstBatch && policy != CollectAllBatches {
			return fmt.Errorf("invalid policy: %s", policy)
		}
		p.policy = policy
		return nil
	}
}

func ProducerWithLogger(logger *slog.Logger) ProducerOption {
	return func(p *Producer) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		p.logger = logger
		return nil
	}
}

// ProducerWithKeys overrides the keys tasks are published under and results
// are collected from. A store only advances its task cursor for its
// configured task queue, so a custom tasks key should match that setting.
func ProducerWithKeys(tasks, results string) ProducerOption {
	return func(p *Producer) error {
		if tasks == "" || results == "" {
			return errors.New("keys cannot be empty")
		}
		p.tasks, p.results = tasks, results
		return nil
	}
}

func NewProducer(bag Bag, opts ...ProducerOption) (*Producer, error) {
	if bag == nil {
		return nil, errors.New("bag cannot be nil")
	}
	p := &Producer{
		bag:           bag,
		retries:       DefaultRetries,
		retryInterval: DefaultRetryInterval,
		policy:        CollectFirstBatch,
		logger:        slog.Default(),
		tasks:         TasksKey,
		results:       ResultsKey,
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, fmt.Errorf("applying options: %w", err)
		}
	}
	return p, nil
}

// Distribute publishes cfg once and then every task batch in ascending
// order. It returns the number of batches published.
func (p *Producer) Distribute(ctx context.Context, cfg Configuration) (int, error) {
	batches, err := Split(cfg)
	if err != nil {
		return 0, err
	}
	if err := p.bag.SetConfiguration(ctx, cfg); err != nil {
		return 0, fmt.Errorf("setting configuration: %w", err)
	}
	for i, b := range batches {
		if err := p.bag.Publish(ctx, p.tasks, b); err != nil {
			return i, fmt.Errorf("publishing batch %d: %w", i, err)
		}
	}
	p.logger.Info(
		"distributed tasks",
		slog.Int64("range_ceiling", cfg.RangeCeiling),
		slog.Int64("batch_size", cfg.BatchSize),
		slog.Int("batches", len(batches)),
	)
	return len(batches), nil
}

// Collect polls the results queue until the policy is satisfied or the retry
// budget runs out. A partial or empty collection is not an error.
func (p *Producer) Collect(ctx context.Context, cfg Configuration) (Collection, error) {
	if err := cfg.Validate(); err != nil {
		return Collection{}, err
	}
	c := Collection{Expected: int(cfg.Batches())}
	p.logger.Info("waiting for workers to complete")

	for retries := p.retries; retries > 0; retries-- {
		available, err := p.bag.Count(ctx, p.results)
		if err != nil {
			return c, fmt.Errorf("counting results: %w", err)
		}
		if available == 0 {
			p.logger.Info("no results yet, waiting", slog.Int("retries_left", retries-1))
			if err := sleep(ctx, p.retryInterval); err != nil {
				return c, err
			}
			continue
		}

		// empty batches use up an attempt, so a pass never takes more than
		// the batches still missing
		for attempts := c.Expected - c.Batches; attempts > 0; attempts-- {
			batch, ok, err := p.bag.Take(ctx, p.results)
			if err != nil {
				return c, fmt.Errorf("taking result: %w", err)
			}
			if !ok {
				break
			}
			if len(batch) == 0 {
				continue
			}
			c.Primes = append(c.Primes, batch...)
			c.Batches++
			p.logger.Info("received primes batch", slog.Any("primes", []int64(batch)))
		}
		if p.satisfied(c) {
			return c, nil
		}
		if err := sleep(ctx, p.retryInterval); err != nil {
			return c, err
		}
	}

	c.Exhausted = true
	p.logger.Warn(
		"retry budget exhausted",
		slog.Int("batches", c.Batches),
		slog.Int("expected", c.Expected),
	)
	return c, nil
}

// Run distributes cfg and collects its results.
func (p *Producer) Run(ctx context.Context, cfg Configuration) (Collection, error) {
	if _, err := p.Distribute(ctx, cfg); err != nil {
		return Collection{}, fmt.Errorf("distributing: %w", err)
	}
	c, err := p.Collect(ctx, cfg)
	if err != nil {
		return c, fmt.Errorf("collecting: %w", err)
	}
	return c, nil
}

func (p *Producer) satisfied(c Collection) bool {
	switch p.policy {
	case CollectAllBatches:
		return c.Batches >= c.Expected
	default:
		return len(c.Primes) > 0
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
