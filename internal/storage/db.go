// Package storage provides the key-value stores behind the lifecycle journal.
package storage

import "errors"

// ErrNotFound is returned by Get for absent keys.
var ErrNotFound = errors.New("key not found")

// DB is the interface for key-value storage.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach visits keys with the given prefix in ascending byte order.
	// fn receives copies; a non-nil error from fn stops iteration and is
	// returned.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}
