package services

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kamune-org/taskbag"
	"github.com/kamune-org/taskbag/internal/config"
	"github.com/kamune-org/taskbag/internal/model"
)

var (
	ErrEmptyKey = errors.New("key cannot be empty")

	bagNS = model.NewNameSpace("bag")

	configurationKey = []byte("configuration")
	cursorKey        = []byte("cursor")
)

// Service is the store-side Bag. Queue contents, the configuration and the
// task cursor are kept in the storage engine; the wake channels and limiters
// only live in memory.
type Service struct {
	store  model.Store
	cfg    config.Bag
	logger *slog.Logger

	mu     sync.Mutex
	queues map[string]*queue

	cfgMu   sync.RWMutex
	current taskbag.Configuration

	cursorMu sync.Mutex
	cursor   atomic.Int64

	waiting atomic.Int64
	closed  atomic.Bool
	events  *broker
	limiter *limiter
}

var _ taskbag.Bag = (*Service)(nil)

// queue is the in-memory companion of a stored queue. Mutations of the same
// key serialize on mu; wake is closed and replaced on every publish.
type queue struct {
	mu   sync.Mutex
	wake chan struct{}
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New builds the service on top of store, restoring the configuration and
// the cursor persisted by an earlier run.
func New(store model.Store, cfg config.Config, opts ...Option) (*Service, error) {
	s := &Service{
		store:  store,
		cfg:    cfg.Bag,
		logger: slog.Default(),
		queues: make(map[string]*queue),
		current: taskbag.Configuration{
			RangeCeiling: cfg.Bag.RangeCeiling,
			BatchSize:    cfg.Bag.BatchSize,
		},
		events:  newBroker(),
		limiter: newLimiter(cfg.RateLimit),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.TasksKey == "" {
		s.cfg.TasksKey = taskbag.TasksKey
	}
	if err := s.current.Validate(); err != nil {
		return nil, fmt.Errorf("initial configuration: %w", err)
	}
	if err := s.restore(); err != nil {
		return nil, fmt.Errorf("restoring state: %w", err)
	}
	return s, nil
}

func (s *Service) restore() error {
	return s.store.Query(func(q model.Query) error {
		data, err := q.Get(bagNS, configurationKey)
		switch {
		case err == nil:
			cfg, err := decodeConfiguration(data)
			if err != nil {
				return fmt.Errorf("decoding configuration: %w", err)
			}
			s.current = cfg
			s.logger.Info("restored configuration", slog.String("configuration", cfg.String()))
		case errors.Is(err, model.ErrMissing):
			// continue
		default:
			return fmt.Errorf("getting configuration: %w", err)
		}

		data, err = q.Get(bagNS, cursorKey)
		switch {
		case err == nil:
			cursor, err := decodeCursor(data)
			if err != nil {
				return fmt.Errorf("decoding cursor: %w", err)
			}
			s.cursor.Store(cursor)
		case errors.Is(err, model.ErrMissing):
			// continue
		default:
			return fmt.Errorf("getting cursor: %w", err)
		}
		return nil
	})
}

// Close wakes every waiting take and ends all event subscriptions. The
// storage is owned by the caller.
func (s *Service) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.mu.Lock()
	for _, q := range s.queues {
		q.mu.Lock()
		close(q.wake)
		q.wake = make(chan struct{})
		q.mu.Unlock()
	}
	s.mu.Unlock()
	s.events.close()
}

func (s *Service) queue(key string) *queue {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[key]
	if !ok {
		q = &queue{wake: make(chan struct{})}
		s.queues[key] = q
	}
	return q
}
