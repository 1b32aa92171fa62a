package storage

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/kamune-org/taskbag/internal/model"
)

func (q *Query) Get(ns model.Namespace, name []byte) ([]byte, error) {
	item, err := q.tx.Get(ns.Key(name))
	if err != nil {
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			return nil, model.ErrMissing
		default:
			return nil, fmt.Errorf("getting key: %w", err)
		}
	}
	value := make([]byte, 0, item.ValueSize())
	value, err = item.ValueCopy(value)
	if err != nil {
		return nil, fmt.Errorf("copying value: %w", err)
	}
	return value, nil
}

func (q *Query) Exists(ns model.Namespace, name []byte) (bool, error) {
	_, err := q.tx.Get(ns.Key(name))
	if err != nil {
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			return false, nil
		default:
			return false, fmt.Errorf("getting key: %w", err)
		}
	}
	return true, nil
}

// keys returns the suffixes of every key under ns, in key order.
func (q *Query) keys(ns model.Namespace) [][]byte {
	prefix := ns.Bytes()
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix

	it := q.tx.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().KeyCopy(nil)
		keys = append(keys, key[model.NamespaceLength:])
	}
	return keys
}
