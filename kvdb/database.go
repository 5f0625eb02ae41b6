// Package kvdb defines the key-value store the node persists its header
// chain in, with in-memory and pebble backed implementations.
package kvdb

import (
	"errors"
	"io"
)

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = errors.New("not found")

// KeyValueReader wraps the Has and Get method of a backing data store.
type KeyValueReader interface {
	// Has retrieves if a key is present in the key-value data store.
	Has(key []byte) (bool, error)

	// Get retrieves the given key if it's present in the key-value data store.
	Get(key []byte) ([]byte, error)
}

// KeyValueWriter wraps the Put method of a backing data store.
type KeyValueWriter interface {
	// Put inserts the given value into the key-value data store.
	Put(key []byte, value []byte) error

	// Delete removes the key from the key-value data store.
	Delete(key []byte) error
}

// Iterator iterates over a database's key/value pairs in ascending key order.
// Key and Value are only valid until the next call to Next.
type Iterator interface {
	Next() bool
	Error() error
	Key() []byte
	Value() []byte
	// Release releases associated resources. It is safe to call more than once.
	Release()
}

// Iteratee wraps the NewIterator methods of a backing data store.
type Iteratee interface {
	// NewIterator creates an iterator over the subset of database content
	// with a particular key prefix, starting at a particular initial key (or
	// after, if it does not exist). The start key does not include the prefix.
	NewIterator(prefix []byte, start []byte) Iterator
}

// Batch is a write-only store that commits its changes to the host database
// when Write is called. A batch cannot be used concurrently.
type Batch interface {
	KeyValueWriter

	// ValueSize retrieves the amount of data queued up for writing.
	ValueSize() int

	// Write flushes any accumulated data to disk.
	Write() error

	// Reset resets the batch for reuse.
	Reset()

	// Replay replays the batch contents.
	Replay(w KeyValueWriter) error
}

// Batcher wraps the NewBatch method of a backing data store.
type Batcher interface {
	NewBatch() Batch
}

// KeyValueStore contains all the methods required to allow handling different
// key-value data stores backing the high level database.
type KeyValueStore interface {
	KeyValueReader
	KeyValueWriter
	Batcher
	Iteratee
	io.Closer
}

// Reader contains the methods required to read data from the database.
type Reader interface {
	KeyValueReader
	Iteratee
}

// Database is the store the chain accessors operate on.
type Database interface {
	KeyValueStore
}
