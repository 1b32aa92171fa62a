// Package taskbag coordinates distributed prime discovery through a shared,
// network-reachable bag of FIFO queues.
//
// A producer publishes the run configuration, splits the numeric range into
// batches under [TasksKey] and later collects result batches from
// [ResultsKey]. Workers are single shot: each takes at most one task batch,
// computes the primes in it and publishes them back.
package taskbag

import (
	"context"
	"errors"
	"fmt"
)

const (
	TasksKey   = "tasks"
	ResultsKey = "results"

	// DefaultName is the name a store registers itself under and clients ask
	// for during the introduction.
	DefaultName = "TaskBag"

	DefaultRangeCeiling int64 = 100
	DefaultBatchSize    int64 = 10
)

var (
	ErrInvalidConfiguration = errors.New("range ceiling and batch size must be positive")
)

// Batch is an ordered sequence of integers handed over as a single unit.
type Batch []int64

// Clone returns a copy of b which shares no memory with it.
func (b Batch) Clone() Batch {
	if b == nil {
		return nil
	}
	c := make(Batch, len(b))
	copy(c, b)
	return c
}

// Configuration is the shared run parameters a producer publishes before
// distributing tasks.
type Configuration struct {
	RangeCeiling int64 `json:"range_ceiling"`
	BatchSize    int64 `json:"batch_size"`
}

func DefaultConfiguration() Configuration {
	return Configuration{
		RangeCeiling: DefaultRangeCeiling,
		BatchSize:    DefaultBatchSize,
	}
}

func (c Configuration) Validate() error {
	if c.RangeCeiling <= 0 || c.BatchSize <= 0 {
		return fmt.Errorf(
			"%w: got (%d, %d)", ErrInvalidConfiguration, c.RangeCeiling, c.BatchSize,
		)
	}
	return nil
}

// Batches returns the number of task batches the configuration splits into,
// ceil(RangeCeiling / BatchSize). It is zero for an invalid configuration.
func (c Configuration) Batches() int64 {
	if c.Validate() != nil {
		return 0
	}
	return (c.RangeCeiling + c.BatchSize - 1) / c.BatchSize
}

func (c Configuration) String() string {
	return fmt.Sprintf("(range ceiling: %d, batch size: %d)", c.RangeCeiling, c.BatchSize)
}

// Bag is the contract of the shared store. Every method may block on the
// network when the implementation is remote; Take may additionally wait for a
// bounded period when the queue is empty.
//
// Take and Peek report the empty-signal with ok == false. An error is only
// returned when the store could not be reached or failed internally.
type Bag interface {
	Publish(ctx context.Context, key string, batch Batch) error
	Take(ctx context.Context, key string) (batch Batch, ok bool, err error)
	Peek(ctx context.Context, key string) (batch Batch, ok bool, err error)
	Count(ctx context.Context, key string) (int, error)

	SetConfiguration(ctx context.Context, cfg Configuration) error
	Configuration(ctx context.Context) (Configuration, error)

	TaskCursor(ctx context.Context) (int64, error)
	AdvanceTaskCursor(ctx context.Context) error
}
