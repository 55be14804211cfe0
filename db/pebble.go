package db

import (
	"errors"

	"github.com/cockroachdb/pebble"
)

// Pebble is a Store on a PebbleDB instance.
type Pebble struct {
	db *pebble.DB
}

// NewPebble opens (or creates) a PebbleDB instance at path.
func NewPebble(path string) (*Pebble, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Pebble{db: db}, nil
}

func (p *Pebble) Close() error {
	return p.db.Close()
}

func (p *Pebble) Put(key, value []byte) error {
	return p.db.Set(key, value, pebble.Sync)
}

func (p *Pebble) Get(key []byte) ([]byte, error) {
	val, closer, err := p.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()

	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (p *Pebble) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// prefixEnd returns the smallest key greater than every key with prefix,
// or nil when there is none.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
