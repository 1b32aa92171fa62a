package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/hossein1376/grape/slogger"

	"github.com/kamune-org/taskbag/internal/config"
	"github.com/kamune-org/taskbag/internal/model"
)

const gcInterval = 5 * time.Minute

var (
	ErrTransactionPanic = errors.New("panic in transaction")
)

// Store is the badger backed storage engine.
type Store struct {
	db     *badger.DB
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ model.Store = (*Store)(nil)

func Open(cfg config.Storage) (*Store, error) {
	logger := newLogger(cfg.LogLevel)
	opts := badger.DefaultOptions(cfg.Path).
		WithLogger(logger).
		WithNamespaceOffset(0)
	if cfg.InMemory {
		logger.Infof("Serving from an in-memory storage, data will be lost on shutdown.")
		opts.Dir = ""
		opts.ValueDir = ""
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("openning storage: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{db: db, cancel: cancel}
	if !cfg.InMemory {
		s.wg.Add(1)
		go s.collectGarbage(ctx)
	}
	return s, nil
}

func (s *Store) collectGarbage(ctx context.Context) {
	defer s.wg.Done()
	defer func() {
		if msg := recover(); msg != nil {
			slog.Error("panic in store gc", slog.Any("panic", msg))
		}
	}()

	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for {
			err := s.db.RunValueLogGC(0.7)
			if err == nil {
				continue
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				slog.Warn("value log gc", slogger.Err("error", err))
			}
			break
		}
	}
}

func (s *Store) Close() error {
	s.cancel()
	s.wg.Wait()
	return s.db.Close()
}

func (s *Store) Query(f func(q model.Query) error) error {
	return s.db.View(func(tx *badger.Txn) (err error) {
		defer recoverTx("view", &err)
		return f(&Query{tx: tx})
	})
}

func (s *Store) Command(f func(c model.Command) error) error {
	return s.db.Update(func(tx *badger.Txn) (err error) {
		defer recoverTx("update", &err)
		return f(&Command{Query: Query{tx: tx}})
	})
}

// recoverTx turns a panic inside a transaction closure into an error, so the
// transaction is discarded instead of committed.
func recoverTx(kind string, err *error) {
	if msg := recover(); msg != nil {
		slog.Error(
			"recovered from panic in "+kind+" transaction",
			slog.Any("panic", msg),
			slog.String("stack", string(debug.Stack())),
		)
		*err = fmt.Errorf("%w: %v", ErrTransactionPanic, msg)
	}
}

type Query struct {
	tx *badger.Txn
}

type Command struct {
	Query
}
