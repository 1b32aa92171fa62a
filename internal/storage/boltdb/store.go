// Package boltdb is the bbolt backed storage engine. Every namespace and every
// queue lives in its own bucket.
package boltdb

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/kamune-org/taskbag/internal/config"
	"github.com/kamune-org/taskbag/internal/model"
)

const (
	queuesBucket = "queues"
	metaBucket   = "queue-meta"
)

var (
	ErrInMemory         = errors.New("bolt does not support in-memory storage")
	ErrTransactionPanic = errors.New("panic in transaction")
)

type Store struct {
	db *bolt.DB
}

var _ model.Store = (*Store)(nil)

func Open(cfg config.Storage) (*Store, error) {
	if cfg.InMemory {
		return nil, ErrInMemory
	}
	db, err := bolt.Open(cfg.Path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(queuesBucket)); err != nil {
			return fmt.Errorf("creating queues bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(metaBucket)); err != nil {
			return fmt.Errorf("creating meta bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Debug("opened bolt storage", slog.String("path", cfg.Path))

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Query(f func(q model.Query) error) error {
	return s.db.View(func(tx *bolt.Tx) (err error) {
		defer recoverTx("view", &err)
		return f(&Query{tx: tx})
	})
}

func (s *Store) Command(f func(c model.Command) error) error {
	return s.db.Update(func(tx *bolt.Tx) (err error) {
		defer recoverTx("update", &err)
		return f(&Command{Query: Query{tx: tx}})
	})
}

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
	tx *bolt.Tx
}

type Command struct {
	Query
}

func (q *Query) Get(ns model.Namespace, name []byte) ([]byte, error) {
	b := q.tx.Bucket(ns.Bytes())
	if b == nil {
		return nil, model.ErrMissing
	}
	value := b.Get(name)
	if value == nil {
		return nil, model.ErrMissing
	}
	// values are only valid for the life of the transaction
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (q *Query) Exists(ns model.Namespace, name []byte) (bool, error) {
	b := q.tx.Bucket(ns.Bytes())
	if b == nil {
		return false, nil
	}
	return b.Get(name) != nil, nil
}

func (c *Command) Set(ns model.Namespace, name, value []byte) error {
	b, err := c.tx.CreateBucketIfNotExists(ns.Bytes())
	if err != nil {
		return fmt.Errorf("create bucket %s: %w", ns, err)
	}
	if value == nil {
		value = []byte{}
	}
	if err := b.Put(name, value); err != nil {
		return fmt.Errorf("put: %w", err)
	}
	return nil
}

func (c *Command) Delete(ns model.Namespace, name []byte) error {
	b := c.tx.Bucket(ns.Bytes())
	if b == nil {
		return nil
	}
	if err := b.Delete(name); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}
