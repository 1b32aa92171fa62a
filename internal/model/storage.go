package model

import (
	"errors"
)

var (
	ErrMissing = errors.New("key not found")
)

// Store runs closures inside read-only (Query) or read-write (Command)
// transactions. A closure returning an error rolls its transaction back.
type Store interface {
	Close() error
	Query(func(Query) error) error
	Command(func(Command) error) error
}

type Query interface {
	// Get returns ErrMissing when the key does not exist.
	Get(ns Namespace, name []byte) ([]byte, error)
	Exists(ns Namespace, name []byte) (bool, error)

	// QPeek returns the oldest item of the queue, or nil when it is empty.
	QPeek(name []byte) ([]byte, error)
	QLen(name []byte) (uint64, error)
	// QNames lists every queue that has ever been pushed to.
	QNames() ([][]byte, error)
}

type Command interface {
	Query
	Delete(ns Namespace, name []byte) error
	Set(ns Namespace, name, value []byte) error
	QPush(name, value []byte) error
	// QPop removes and returns the oldest item, or nil when the queue is
	// empty.
	QPop(name []byte) ([]byte, error)
}
