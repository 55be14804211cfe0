// Package db provides the key-value stores that back the run archive.
package db

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("key not found")

// Store is an ordered key-value store.
type Store interface {
	Put(key, value []byte) error
	// Get returns ErrNotFound when key is absent.
	Get(key []byte) ([]byte, error)
	// Iterate calls fn for every key with the given prefix, in key order,
	// until fn returns an error. Slices passed to fn are only valid during
	// the call.
	Iterate(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

const (
	BackendLevelDB = "leveldb"
	BackendPebble  = "pebble"
)

// Open opens the store of the named backend at path.
func Open(backend, path string) (Store, error) {
	switch backend {
	case BackendLevelDB, "":
		return NewLevelDB(path)
	case BackendPebble:
		return NewPebble(path)
	}
	return nil, fmt.Errorf("unknown storage backend %q", backend)
}
