package services

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/kamune-org/taskbag"
	"github.com/kamune-org/taskbag/internal/config"
	"github.com/kamune-org/taskbag/internal/model"
	"github.com/kamune-org/taskbag/internal/storage"
)

func newConfig() config.Config {
	cfg := config.Default()
	cfg.Storage.LogLevel = slog.LevelError
	cfg.Bag.PollInterval = 20 * time.Millisecond
	cfg.Bag.TakeTimeout = 2 * time.Second
	return cfg
}

func newService(t *testing.T, cfg config.Config) *Service {
	t.Helper()
	store, err := storage.New(cfg.Storage)
	require.NoError(t, err)
	s, err := New(store, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Close()
		_ = store.Close()
	})
	return s
}

func TestPublishTakeOrder(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	s := newService(t, newConfig())

	a.NoError(s.Publish(ctx, "k", taskbag.Batch{1, 2}))
	a.NoError(s.Publish(ctx, "k", taskbag.Batch{3}))
	a.NoError(s.Publish(ctx, "k", taskbag.Batch{}))

	n, err := s.Count(ctx, "k")
	a.NoError(err)
	a.Equal(3, n)

	for _, want := range []taskbag.Batch{{1, 2}, {3}, {}} {
		got, ok, err := s.Take(ctx, "k")
		a.NoError(err)
		a.True(ok)
		a.Equal(want, got)
	}

	n, err = s.Count(ctx, "k")
	a.NoError(err)
	a.Zero(n)
}

func TestPublishCopiesBatch(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	s := newService(t, newConfig())

	b := taskbag.Batch{7, 8}
	a.NoError(s.Publish(ctx, "k", b))
	b[0] = 100

	got, ok, err := s.Peek(ctx, "k")
	a.NoError(err)
	a.True(ok)
	a.Equal(taskbag.Batch{7, 8}, got)
}

func TestPeekIsIdempotent(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	s := newService(t, newConfig())

	_, ok, err := s.Peek(ctx, "unknown")
	a.NoError(err)
	a.False(ok)

	a.NoError(s.Publish(ctx, "k", taskbag.Batch{4, 5}))
	a.NoError(s.Publish(ctx, "k", taskbag.Batch{6}))
	for range 5 {
		got, ok, err := s.Peek(ctx, "k")
		a.NoError(err)
		a.True(ok)
		a.Equal(taskbag.Batch{4, 5}, got)
	}
	n, err := s.Count(ctx, "k")
	a.NoError(err)
	a.Equal(2, n)
}

func TestEmptyKey(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	s := newService(t, newConfig())

	a.ErrorIs(s.Publish(ctx, "", taskbag.Batch{1}), ErrEmptyKey)
	_, _, err := s.Take(ctx, "")
	a.ErrorIs(err, ErrEmptyKey)
	_, _, err = s.Peek(ctx, "")
	a.ErrorIs(err, ErrEmptyKey)
	_, err = s.Count(ctx, "")
	a.ErrorIs(err, ErrEmptyKey)
}

func TestTakeNoDuplicateDelivery(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	s := newService(t, newConfig())

	const total = 100
	a.NoError(s.SetConfiguration(ctx, taskbag.Configuration{RangeCeiling: total, BatchSize: 1}))
	for i := range total {
		a.NoError(s.Publish(ctx, taskbag.TasksKey, taskbag.Batch{int64(i)}))
	}

	var (
		mu   sync.Mutex
		seen = make(map[int64]int)
	)
	var g errgroup.Group
	for range 10 {
		g.Go(func() error {
			for {
				b, ok, err := s.Take(ctx, taskbag.TasksKey)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
				mu.Lock()
				for _, n := range b {
					seen[n]++
				}
				mu.Unlock()
			}
		})
	}
	a.NoError(g.Wait())

	a.Len(seen, total)
	for n, c := range seen {
		a.Equalf(1, c, "batch %d delivered %d times", n, c)
	}
	cursor, err := s.TaskCursor(ctx)
	a.NoError(err)
	a.Equal(int64(total), cursor)
}

func TestTakeWaitsForPublish(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	s := newService(t, newConfig())

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = s.Publish(ctx, taskbag.ResultsKey, taskbag.Batch{2, 3})
	}()

	got, ok, err := s.Take(ctx, taskbag.ResultsKey)
	a.NoError(err)
	a.True(ok)
	a.Equal(taskbag.Batch{2, 3}, got)
}

func TestTakeEndsWhenAllTasksTaken(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	cfg := newConfig()
	cfg.Bag.TakeTimeout = time.Minute
	s := newService(t, cfg)

	// 1 / 10 == 0 task batches, so the condition holds from the start
	a.NoError(s.SetConfiguration(ctx, taskbag.Configuration{RangeCeiling: 1, BatchSize: 10}))

	start := time.Now()
	_, ok, err := s.Take(ctx, taskbag.ResultsKey)
	a.NoError(err)
	a.False(ok)
	a.Less(time.Since(start), 5*time.Second)
}

func TestTakeTimeout(t *testing.T) {
	a := assert.New(t)
	cfg := newConfig()
	cfg.Bag.TakeTimeout = 150 * time.Millisecond
	s := newService(t, cfg)

	start := time.Now()
	_, ok, err := s.Take(context.Background(), "nothing")
	a.NoError(err)
	a.False(ok)
	a.GreaterOrEqual(time.Since(start), 150*time.Millisecond)
}

func TestTakeContextCancel(t *testing.T) {
	a := assert.New(t)
	cfg := newConfig()
	cfg.Bag.TakeTimeout = time.Minute
	s := newService(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, ok, err := s.Take(ctx, "nothing")
	a.NoError(err)
	a.False(ok)
}

func TestTakeCanceledLeavesBatch(t *testing.T) {
	a := assert.New(t)
	s := newService(t, newConfig())
	ctx := context.Background()

	canceled, cancel := context.WithCancel(ctx)
	cancel()

	a.NoError(s.Publish(ctx, taskbag.TasksKey, taskbag.Batch{2, 3, 5}))
	_, ok, err := s.Take(canceled, taskbag.TasksKey)
	a.NoError(err)
	a.False(ok)

	n, err := s.Count(ctx, taskbag.TasksKey)
	a.NoError(err)
	a.Equal(1, n)
	cursor, err := s.TaskCursor(ctx)
	a.NoError(err)
	a.Zero(cursor)
}

func TestTakeAbandonedBeforePublish(t *testing.T) {
	a := assert.New(t)
	cfg := newConfig()
	cfg.Bag.TakeTimeout = time.Minute
	s := newService(t, cfg)
	ctx := context.Background()

	waitCtx, cancel := context.WithCancel(ctx)
	done := make(chan bool, 1)
	go func() {
		_, ok, _ := s.Take(waitCtx, "results")
		done <- ok
	}()
	require.Eventually(t, func() bool {
		st, err := s.Stats(ctx)
		return err == nil && st.Waiting == 1
	}, time.Second, 10*time.Millisecond)
	cancel()
	a.False(<-done)

	a.NoError(s.Publish(ctx, "results", taskbag.Batch{2, 3, 5}))
	got, ok, err := s.Take(ctx, "results")
	a.NoError(err)
	a.True(ok)
	a.Equal(taskbag.Batch{2, 3, 5}, got)
}

func TestCustomTasksKey(t *testing.T) {
	a := assert.New(t)
	cfg := newConfig()
	cfg.Bag.TasksKey = "jobs"
	s := newService(t, cfg)
	ctx := context.Background()

	a.NoError(s.Publish(ctx, "jobs", taskbag.Batch{0, 1}))
	a.NoError(s.Publish(ctx, taskbag.TasksKey, taskbag.Batch{2, 3}))

	_, ok, err := s.Take(ctx, "jobs")
	a.NoError(err)
	a.True(ok)
	cursor, err := s.TaskCursor(ctx)
	a.NoError(err)
	a.EqualValues(1, cursor)

	// the default key is an ordinary queue now
	_, ok, err = s.Take(ctx, taskbag.TasksKey)
	a.NoError(err)
	a.True(ok)
	cursor, err = s.TaskCursor(ctx)
	a.NoError(err)
	a.EqualValues(1, cursor)
}

func TestCloseReleasesTakers(t *testing.T) {
	cfg := newConfig()
	cfg.Bag.TakeTimeout = time.Minute
	s := newService(t, cfg)

	done := make(chan bool, 1)
	go func() {
		_, ok, _ := s.Take(context.Background(), "nothing")
		done <- ok
	}()
	require.Eventually(t, func() bool {
		st, err := s.Stats(context.Background())
		return err == nil && st.Waiting == 1
	}, time.Second, 10*time.Millisecond)

	s.Close()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("take did not return after close")
	}
}

func TestConfigurationIsNeverTorn(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	s := newService(t, newConfig())

	cfg1 := taskbag.Configuration{RangeCeiling: 10, BatchSize: 5}
	cfg2 := taskbag.Configuration{RangeCeiling: 20, BatchSize: 10}

	var g errgroup.Group
	for i := range 50 {
		cfg := cfg1
		if i%2 == 1 {
			cfg = cfg2
		}
		g.Go(func() error { return s.SetConfiguration(ctx, cfg) })
		g.Go(func() error {
			got, err := s.Configuration(ctx)
			if err != nil {
				return err
			}
			a.Contains(
				[]taskbag.Configuration{taskbag.DefaultConfiguration(), cfg1, cfg2}, got,
			)
			return nil
		})
	}
	a.NoError(g.Wait())

	got, err := s.Configuration(ctx)
	a.NoError(err)
	a.Contains([]taskbag.Configuration{cfg1, cfg2}, got)
}

func TestSetConfigurationRejectsInvalid(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	s := newService(t, newConfig())

	err := s.SetConfiguration(ctx, taskbag.Configuration{RangeCeiling: 10, BatchSize: 0})
	a.ErrorIs(err, taskbag.ErrInvalidConfiguration)
	got, err := s.Configuration(ctx)
	a.NoError(err)
	a.Equal(taskbag.DefaultConfiguration(), got)
}

func TestAdvanceTaskCursor(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	s := newService(t, newConfig())

	var g errgroup.Group
	for range 20 {
		g.Go(func() error { return s.AdvanceTaskCursor(ctx) })
	}
	a.NoError(g.Wait())
	cursor, err := s.TaskCursor(ctx)
	a.NoError(err)
	a.Equal(int64(20), cursor)
}

func TestStateSurvivesRestart(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	cfg := newConfig()
	cfg.Storage.InMemory = false
	cfg.Storage.Path = filepath.Join(t.TempDir(), "badger")

	store, err := storage.New(cfg.Storage)
	require.NoError(t, err)
	s, err := New(store, cfg)
	require.NoError(t, err)

	want := taskbag.Configuration{RangeCeiling: 30, BatchSize: 10}
	a.NoError(s.SetConfiguration(ctx, want))
	a.NoError(s.Publish(ctx, taskbag.TasksKey, taskbag.Batch{0, 1}))
	a.NoError(s.Publish(ctx, taskbag.TasksKey, taskbag.Batch{2, 3}))
	_, ok, err := s.Take(ctx, taskbag.TasksKey)
	a.NoError(err)
	a.True(ok)
	s.Close()
	require.NoError(t, store.Close())

	store, err = storage.New(cfg.Storage)
	require.NoError(t, err)
	defer store.Close()
	s, err = New(store, cfg)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Configuration(ctx)
	a.NoError(err)
	a.Equal(want, got)
	cursor, err := s.TaskCursor(ctx)
	a.NoError(err)
	a.Equal(int64(1), cursor)
	b, ok, err := s.Peek(ctx, taskbag.TasksKey)
	a.NoError(err)
	a.True(ok)
	a.Equal(taskbag.Batch{2, 3}, b)
}

func TestSubscribe(t *testing.T) {
	a := assert.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	s := newService(t, newConfig())

	events := s.Subscribe(ctx, 16)
	a.NoError(s.Publish(ctx, "k", taskbag.Batch{1}))
	_, _, err := s.Take(ctx, "k")
	a.NoError(err)
	cfg := taskbag.Configuration{RangeCeiling: 5, BatchSize: 1}
	a.NoError(s.SetConfiguration(ctx, cfg))
	a.NoError(s.AdvanceTaskCursor(ctx))

	var kinds []EventKind
	for range 4 {
		select {
		case e := <-events:
			kinds = append(kinds, e.Kind)
			a.False(e.Time.IsZero())
		case <-time.After(time.Second):
			t.Fatal("missing event")
		}
	}
	a.Equal([]EventKind{EventPublish, EventTake, EventConfiguration, EventCursor}, kinds)

	cancel()
	select {
	case _, open := <-events:
		a.False(open)
	case <-time.After(time.Second):
		t.Fatal("subscription was not closed")
	}
}

func TestStats(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	s := newService(t, newConfig())

	a.NoError(s.Publish(ctx, "b", taskbag.Batch{1}))
	a.NoError(s.Publish(ctx, "a", taskbag.Batch{1}))
	a.NoError(s.Publish(ctx, "a", taskbag.Batch{2}))

	st, err := s.Stats(ctx)
	a.NoError(err)
	a.Equal([]QueueStats{{Key: "a", Count: 2}, {Key: "b", Count: 1}}, st.Queues)
	a.Equal(taskbag.DefaultConfiguration(), st.Configuration)
	a.Zero(st.Cursor)
}

func TestRateLimit(t *testing.T) {
	a := assert.New(t)
	cfg := newConfig()

	s := newService(t, cfg)
	for range 1000 {
		a.True(s.RateLimit("10.0.0.1"))
	}

	cfg.RateLimit = config.RateLimit{Enabled: true, Rate: 1, Burst: 3}
	s = newService(t, cfg)
	for range 3 {
		a.True(s.RateLimit("10.0.0.1"))
	}
	a.False(s.RateLimit("10.0.0.1"))
	a.True(s.RateLimit("10.0.0.2"))
}

func TestCorruptRecord(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	cfg := newConfig()
	store, err := storage.New(cfg.Storage)
	require.NoError(t, err)
	defer store.Close()

	err = store.Command(func(c model.Command) error {
		return c.QPush([]byte("k"), []byte{0xff})
	})
	require.NoError(t, err)
	s, err := New(store, cfg)
	require.NoError(t, err)
	defer s.Close()

	_, _, err = s.Peek(ctx, "k")
	a.ErrorIs(err, ErrCorruptRecord)
}
