package taskbag

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		cfg     Configuration
		batches int
		last    Batch
	}{
		{Configuration{RangeCeiling: 100, BatchSize: 10}, 10, Batch{90, 91, 92, 93, 94, 95, 96, 97, 98, 99}},
		{Configuration{RangeCeiling: 25, BatchSize: 10}, 3, Batch{20, 21, 22, 23, 24}},
		{Configuration{RangeCeiling: 1, BatchSize: 10}, 1, Batch{0}},
		{Configuration{RangeCeiling: 3, BatchSize: 1}, 3, Batch{2}},
	}
	for _, tt := range tests {
		t.Run(tt.cfg.String(), func(t *testing.T) {
			batches, err := Split(tt.cfg)
			require.NoError(t, err)
			require.Len(t, batches, tt.batches)
			assert.Equal(t, tt.last, batches[len(batches)-1])

			var all []int64
			for _, b := range batches {
				all = append(all, b...)
			}
			require.Len(t, all, int(tt.cfg.RangeCeiling))
			for i, n := range all {
				assert.EqualValues(t, i, n)
			}
		})
	}

	_, err := Split(Configuration{RangeCeiling: 10})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestParseCollectPolicy(t *testing.T) {
	p, err := ParseCollectPolicy("ALL")
	require.NoError(t, err)
	assert.Equal(t, CollectAllBatches, p)

	p, err = ParseCollectPolicy("")
	require.NoError(t, err)
	assert.Equal(t, CollectFirstBatch, p)

	_, err = ParseCollectPolicy("some")
	assert.Error(t, err)
}

func TestDistribute(t *testing.T) {
	a := require.New(t)
	bag := newMemoryBag()
	p, err := NewProducer(bag)
	a.NoError(err)

	cfg := Configuration{RangeCeiling: 20, BatchSize: 10}
	n, err := p.Distribute(context.Background(), cfg)
	a.NoError(err)
	a.Equal(2, n)

	got, err := bag.Configuration(context.Background())
	a.NoError(err)
	a.Equal(cfg, got)
	a.Len(bag.queues[TasksKey], 2)
	a.Equal(Batch{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, bag.queues[TasksKey][0])
}

func TestCollectFirstBatch(t *testing.T) {
	a := require.New(t)
	bag := newMemoryBag()
	ctx := context.Background()
	a.NoError(bag.Publish(ctx, ResultsKey, Batch{11, 13}))

	p, err := NewProducer(bag, ProducerWithRetryInterval(time.Millisecond))
	a.NoError(err)
	c, err := p.Collect(ctx, Configuration{RangeCeiling: 20, BatchSize: 10})
	a.NoError(err)
	a.False(c.Exhausted)
	a.Equal(2, c.Expected)
	a.Equal(1, c.Batches)
	a.Equal([]int64{11, 13}, c.Primes)
}

func TestCollectAllBatches(t *testing.T) {
	a := require.New(t)
	bag := newMemoryBag()
	ctx := context.Background()
	a.NoError(bag.Publish(ctx, ResultsKey, Batch{11, 13, 17, 19}))
	a.NoError(bag.Publish(ctx, ResultsKey, Batch{}))

	p, err := NewProducer(
		bag,
		ProducerWithPolicy(CollectAllBatches),
		ProducerWithRetryInterval(time.Millisecond),
		ProducerWithRetries(1000),
	)
	a.NoError(err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = bag.Publish(ctx, ResultsKey, Batch{7, 2, 5, 3})
	}()

	c, err := p.Collect(ctx, Configuration{RangeCeiling: 20, BatchSize: 10})
	a.NoError(err)
	a.False(c.Exhausted)
	a.Equal(2, c.Batches)
	a.Equal([]int64{2, 3, 5, 7, 11, 13, 17, 19}, c.Sorted())
	a.False(slices.IsSorted(c.Primes))
}

func TestCollectBoundsTakesPerPass(t *testing.T) {
	a := require.New(t)
	bag := newMemoryBag()
	ctx := context.Background()
	for range 3 {
		a.NoError(bag.Publish(ctx, ResultsKey, Batch{}))
	}

	p, err := NewProducer(
		bag,
		ProducerWithPolicy(CollectAllBatches),
		ProducerWithRetries(1),
		ProducerWithRetryInterval(time.Millisecond),
	)
	a.NoError(err)
	c, err := p.Collect(ctx, Configuration{RangeCeiling: 20, BatchSize: 10})
	a.NoError(err)
	a.True(c.Exhausted)
	a.Zero(c.Batches)
	a.Equal(2, bag.takes[ResultsKey])

	n, err := bag.Count(ctx, ResultsKey)
	a.NoError(err)
	a.Equal(1, n)
}

func TestCollectExhausted(t *testing.T) {
	a := require.New(t)
	bag := newMemoryBag()
	p, err := NewProducer(bag, ProducerWithRetries(3), ProducerWithRetryInterval(time.Millisecond))
	a.NoError(err)

	c, err := p.Collect(context.Background(), Configuration{RangeCeiling: 1, BatchSize: 10})
	a.NoError(err)
	a.True(c.Exhausted)
	a.Empty(c.Primes)
	a.Equal(1, c.Expected)
}

func TestCollectCanceled(t *testing.T) {
	bag := newMemoryBag()
	p, err := NewProducer(bag, ProducerWithRetryInterval(time.Hour))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Collect(ctx, DefaultConfiguration())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProducerRun(t *testing.T) {
	a := require.New(t)
	bag := newMemoryBag()
	ctx := context.Background()
	cfg := Configuration{RangeCeiling: 30, BatchSize: 10}

	p, err := NewProducer(
		bag,
		ProducerWithPolicy(CollectAllBatches),
		ProducerWithRetries(1000),
		ProducerWithRetryInterval(time.Millisecond),
	)
	a.NoError(err)

	go func() {
		for {
			n, _ := bag.Count(ctx, TasksKey)
			if n == int(cfg.Batches()) {
				break
			}
			time.Sleep(time.Millisecond)
		}
		for range cfg.Batches() {
			_, _ = RunWorker(ctx, bag)
		}
	}()

	c, err := p.Run(ctx, cfg)
	a.NoError(err)
	a.False(c.Exhausted)
	a.Equal(3, c.Batches)
	a.Equal([]int64{2, 3, 5, 7, 11, 13, 17, 19, 23, 29}, c.Sorted())
}

func TestProducerOptions(t *testing.T) {
	_, err := NewProducer(nil)
	assert.Error(t, err)
	bag := newMemoryBag()
	for _, opt := range []ProducerOption{
		ProducerWithRetries(0),
		ProducerWithRetryInterval(-time.Second),
		ProducerWithPolicy(CollectPolicy(7)),
		ProducerWithLogger(nil),
		ProducerWithKeys("", ""),
	} {
		_, err := NewProducer(bag, opt)
		assert.Error(t, err)
	}
}
