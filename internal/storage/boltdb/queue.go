package boltdb

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var (
	qHead = []byte("head")
	qTail = []byte("tail")
)

// QPush appends value to the queue's bucket under the tail index.
func (c *Command) QPush(name, value []byte) error {
	if len(name) == 0 {
		return fmt.Errorf("queue name cannot be empty")
	}
	queues := c.tx.Bucket([]byte(queuesBucket))
	q, err := queues.CreateBucketIfNotExists(name)
	if err != nil {
		return fmt.Errorf("create queue bucket %q: %w", name, err)
	}
	meta, err := c.tx.Bucket([]byte(metaBucket)).CreateBucketIfNotExists(name)
	if err != nil {
		return fmt.Errorf("create queue meta %q: %w", name, err)
	}
	tail := getUint64(meta, qTail)
	if value == nil {
		value = []byte{}
	}
	if err := q.Put(index(tail), value); err != nil {
		return fmt.Errorf("put queue item: %w", err)
	}
	if err := meta.Put(qTail, index(tail+1)); err != nil {
		return fmt.Errorf("advancing queue tail: %w", err)
	}
	return nil
}

// QPop removes the item under the head index. It returns nil if the queue is
// empty.
func (c *Command) QPop(name []byte) ([]byte, error) {
	q, meta := c.buckets(name)
	if q == nil || meta == nil {
		return nil, nil
	}
	head, tail := getUint64(meta, qHead), getUint64(meta, qTail)
	if head >= tail {
		return nil, nil
	}
	key := index(head)
	v := q.Get(key)
	if v == nil {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	if err := q.Delete(key); err != nil {
		return nil, fmt.Errorf("deleting queue item: %w", err)
	}
	if err := meta.Put(qHead, index(head+1)); err != nil {
		return nil, fmt.Errorf("advancing queue head: %w", err)
	}
	return out, nil
}

func (q *Query) QPeek(name []byte) ([]byte, error) {
	items, meta := q.buckets(name)
	if items == nil || meta == nil {
		return nil, nil
	}
	head, tail := getUint64(meta, qHead), getUint64(meta, qTail)
	if head >= tail {
		return nil, nil
	}
	v := items.Get(index(head))
	if v == nil {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (q *Query) QLen(name []byte) (uint64, error) {
	_, meta := q.buckets(name)
	if meta == nil {
		return 0, nil
	}
	head, tail := getUint64(meta, qHead), getUint64(meta, qTail)
	if head >= tail {
		return 0, nil
	}
	return tail - head, nil
}

func (q *Query) QNames() ([][]byte, error) {
	var names [][]byte
	err := q.tx.Bucket([]byte(queuesBucket)).ForEachBucket(func(k []byte) error {
		name := make([]byte, len(k))
		copy(name, k)
		names = append(names, name)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing queues: %w", err)
	}
	return names, nil
}

func (q *Query) buckets(name []byte) (items, meta *bolt.Bucket) {
	if len(name) == 0 {
		return nil, nil
	}
	items = q.tx.Bucket([]byte(queuesBucket)).Bucket(name)
	meta = q.tx.Bucket([]byte(metaBucket)).Bucket(name)
	return items, meta
}

func index(i uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, i)
}

func getUint64(b *bolt.Bucket, key []byte) uint64 {
	v := b.Get(key)
	if len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}
