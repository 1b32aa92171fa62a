package model

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

const NamespaceLength = 8

// Namespace is an 8-byte key prefix that keeps unrelated records apart in a
// single key space.
type Namespace uint64

func NewNameSpace(name string) Namespace {
	if l := len(name); l > NamespaceLength {
		panic(fmt.Errorf("name space key is too long: %d", l))
	}
	b := make([]byte, NamespaceLength)
	copy(b, name)
	return Namespace(binary.BigEndian.Uint64(b))
}

func (ns Namespace) String() string {
	return strconv.FormatUint(uint64(ns), 10)
}

// Bytes returns the prefix itself.
func (ns Namespace) Bytes() []byte {
	b := make([]byte, NamespaceLength)
	binary.BigEndian.PutUint64(b, uint64(ns))
	return b
}

func (ns Namespace) Key(suffix []byte) []byte {
	key := make([]byte, NamespaceLength, NamespaceLength+len(suffix))
	binary.BigEndian.PutUint64(key[:NamespaceLength], uint64(ns))
	return append(key, suffix...)
}
