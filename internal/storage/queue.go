package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/kamune-org/taskbag/internal/model"
)

var (
	queueNS      = model.NewNameSpace("queue")
	queueMetaNS  = model.NewNameSpace("qu_meta")
	queueNamesNS = model.NewNameSpace("qu_names")
	qHead        = []byte("head")
	qTail        = []byte("tail")
)

// QPush pushes an item to the named queue. It appends at the tail index.
func (c *Command) QPush(name, value []byte) error {
	tail, err := qGetMetaUint64(&c.Query, name, qTail)
	if err != nil {
		return err
	}
	if tail == 0 {
		if err := c.tx.Set(queueNamesNS.Key(name), nil); err != nil {
			return fmt.Errorf("registering queue name: %w", err)
		}
	}
	if err := c.tx.Set(qItemKey(name, tail), value); err != nil {
		return fmt.Errorf("setting queue item: %w", err)
	}
	// advance tail
	if err := qSetMetaUint64(c, name, qTail, tail+1); err != nil {
		return fmt.Errorf("advancing queue tail: %w", err)
	}
	return nil
}

// QPop pops the oldest item from the named queue. Returns nil if queue is empty.
func (c *Command) QPop(name []byte) ([]byte, error) {
	head, tail, err := qBounds(&c.Query, name)
	if err != nil {
		return nil, err
	}
	if head >= tail {
		return nil, nil
	}
	itemKey := qItemKey(name, head)
	val, err := qGetItem(&c.Query, itemKey)
	if err != nil || val == nil {
		return nil, err
	}
	if err := c.tx.Delete(itemKey); err != nil {
		return nil, fmt.Errorf("deleting queue item: %w", err)
	}
	// advance head
	if err := qSetMetaUint64(c, name, qHead, head+1); err != nil {
		return nil, fmt.Errorf("advancing queue head: %w", err)
	}
	return val, nil
}

func (q *Query) QPeek(name []byte) ([]byte, error) {
	head, tail, err := qBounds(q, name)
	if err != nil {
		return nil, err
	}
	if head >= tail {
		return nil, nil
	}
	return qGetItem(q, qItemKey(name, head))
}

func (q *Query) QLen(name []byte) (uint64, error) {
	head, tail, err := qBounds(q, name)
	if err != nil {
		return 0, err
	}
	if head >= tail {
		return 0, nil
	}
	return tail - head, nil
}

func (q *Query) QNames() ([][]byte, error) {
	return q.keys(queueNamesNS), nil
}

func qBounds(q *Query, name []byte) (head, tail uint64, err error) {
	head, err = qGetMetaUint64(q, name, qHead)
	if err != nil {
		return 0, 0, err
	}
	tail, err = qGetMetaUint64(q, name, qTail)
	if err != nil {
		return 0, 0, err
	}
	return head, tail, nil
}

func qGetItem(q *Query, key []byte) ([]byte, error) {
	item, err := q.tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting queue item: %w", err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("copying queue item value: %w", err)
	}
	// an empty item is still an item
	if val == nil {
		val = []byte{}
	}
	return val, nil
}

// qMetaKey builds a meta key for a queue: queueMetaNS + name + ':' + meta
func qMetaKey(name, meta []byte) []byte {
	suffix := make([]byte, 0, len(name)+1+len(meta))
	suffix = append(suffix, name...)
	suffix = append(suffix, ':')
	suffix = append(suffix, meta...)
	return queueMetaNS.Key(suffix)
}

// qItemKey builds an item key for a queue:
// queueNS + uvarint(len(name)) + name + 8-byte BE index
func qItemKey(name []byte, idx uint64) []byte {
	suffix := make([]byte, 0, binary.MaxVarintLen64+len(name)+8)
	suffix = binary.AppendUvarint(suffix, uint64(len(name)))
	suffix = append(suffix, name...)
	suffix = binary.BigEndian.AppendUint64(suffix, idx)
	return queueNS.Key(suffix)
}

func qGetMetaUint64(q *Query, name, meta []byte) (uint64, error) {
	item, err := q.tx.Get(qMetaKey(name, meta))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			// treat missing meta as zero
			return 0, nil
		}
		return 0, fmt.Errorf("getting queue meta %s: %w", meta, err)
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return 0, fmt.Errorf("copying queue meta %s: %w", meta, err)
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("invalid queue meta %s length: %d", meta, len(v))
	}
	return binary.BigEndian.Uint64(v), nil
}

func qSetMetaUint64(c *Command, name, meta []byte, v uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return c.tx.Set(qMetaKey(name, meta), buf)
}
