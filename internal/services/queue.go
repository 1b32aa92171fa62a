package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kamune-org/taskbag"
	"github.com/kamune-org/taskbag/internal/model"
)

// Publish appends batch to the queue under key, creating it on first use,
// and wakes every take waiting on that key.
func (s *Service) Publish(_ context.Context, key string, batch taskbag.Batch) error {
	if key == "" {
		return ErrEmptyKey
	}
	batch = batch.Clone()
	if batch == nil {
		batch = taskbag.Batch{}
	}
	q := s.queue(key)

	q.mu.Lock()
	err := s.store.Command(func(c model.Command) error {
		return c.QPush([]byte(key), encodeBatch(batch))
	})
	if err != nil {
		q.mu.Unlock()
		return fmt.Errorf("pushing to %q: %w", key, err)
	}
	close(q.wake)
	q.wake = make(chan struct{})
	q.mu.Unlock()

	s.logger.Info(
		"added batch",
		slog.String("key", key),
		slog.Any("batch", []int64(batch)),
	)
	s.events.publish(Event{Kind: EventPublish, Key: key, Batch: batch})
	return nil
}

// Take removes and returns the oldest batch under key. With nothing queued it
// waits for a publish on key. After every poll interval without one it ends
// with the empty-signal once all tasks are accounted for, that is once the
// cursor reached RangeCeiling / BatchSize. The wait is also cut short by the
// take timeout and by ctx.
func (s *Service) Take(ctx context.Context, key string) (taskbag.Batch, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	q := s.queue(key)

	s.waiting.Add(1)
	defer s.waiting.Add(-1)

	timeout := time.NewTimer(s.cfg.TakeTimeout)
	defer timeout.Stop()

	polled := false
	for {
		batch, ok, wake, err := s.tryTake(ctx, q, key)
		if err != nil {
			return nil, false, err
		}
		if ok {
			s.logger.Info(
				"retrieved batch",
				slog.String("key", key),
				slog.Any("batch", []int64(batch)),
			)
			s.events.publish(Event{Kind: EventTake, Key: key, Batch: batch})
			return batch, true, nil
		}
		if s.closed.Load() || ctx.Err() != nil {
			return nil, false, nil
		}
		if polled && s.exhausted() {
			s.logger.Info("All tasks completed.", slog.String("key", key))
			return nil, false, nil
		}

		poll := time.NewTimer(s.cfg.PollInterval)
		select {
		case <-wake:
		case <-poll.C:
			polled = true
		case <-timeout.C:
			poll.Stop()
			s.logger.Debug("take timed out", slog.String("key", key))
			return nil, false, nil
		case <-ctx.Done():
			poll.Stop()
			return nil, false, nil
		}
		poll.Stop()
	}
}

// tryTake pops one batch if there is any. Otherwise it returns the channel
// that the next publish on key closes. Nothing is popped for a caller whose
// ctx is already done, as it would never receive the batch.
func (s *Service) tryTake(ctx context.Context, q *queue, key string) (taskbag.Batch, bool, <-chan struct{}, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ctx.Err() != nil {
		return nil, false, q.wake, nil
	}

	isTask := key == s.cfg.TasksKey
	if isTask {
		s.cursorMu.Lock()
		defer s.cursorMu.Unlock()
	}

	var (
		data []byte
		next int64
	)
	err := s.store.Command(func(c model.Command) error {
		var err error
		data, err = c.QPop([]byte(key))
		if err != nil || data == nil || !isTask {
			return err
		}
		next = s.cursor.Load() + 1
		return c.Set(bagNS, cursorKey, encodeCursor(next))
	})
	if err != nil {
		return nil, false, nil, fmt.Errorf("popping from %q: %w", key, err)
	}
	if data == nil {
		return nil, false, q.wake, nil
	}
	if isTask {
		s.cursor.Store(next)
	}

	batch, err := decodeBatch(data)
	if err != nil {
		return nil, false, nil, fmt.Errorf("decoding batch of %q: %w", key, err)
	}
	return batch, true, nil, nil
}

// exhausted reports whether every task batch of the current configuration
// has been handed out.
func (s *Service) exhausted() bool {
	cfg := s.configuration()
	if cfg.BatchSize <= 0 {
		return true
	}
	return s.cursor.Load() >= cfg.RangeCeiling/cfg.BatchSize
}

// Peek returns the oldest batch under key without removing it.
func (s *Service) Peek(_ context.Context, key string) (taskbag.Batch, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	var data []byte
	err := s.store.Query(func(q model.Query) error {
		var err error
		data, err = q.QPeek([]byte(key))
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("peeking %q: %w", key, err)
	}
	if data == nil {
		return nil, false, nil
	}
	batch, err := decodeBatch(data)
	if err != nil {
		return nil, false, fmt.Errorf("decoding batch of %q: %w", key, err)
	}
	return batch, true, nil
}

// Count returns the number of batches queued under key.
func (s *Service) Count(_ context.Context, key string) (int, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}
	var n uint64
	err := s.store.Query(func(q model.Query) error {
		var err error
		n, err = q.QLen([]byte(key))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("counting %q: %w", key, err)
	}
	return int(n), nil
}
