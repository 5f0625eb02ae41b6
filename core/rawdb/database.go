package rawdb

import (
	"github.com/OCAX-labs/headersync/kvdb"
	"github.com/OCAX-labs/headersync/kvdb/memorydb"
	"github.com/OCAX-labs/headersync/kvdb/pebble"
)

type dbLayer struct {
	kvdb.KeyValueStore
}

// NewPebbleDBDatabase creates a persistent key-value database
func NewPebbleDBDatabase(file string, cache int, handles int, namespace string, readonly bool) (kvdb.Database, error) {
	db, err := pebble.New(file, cache, handles, namespace, readonly)
	if err != nil {
		return nil, err
	}
	return NewDatabase(db), nil
}

// NewDatabase creates a high level database on top of a given key-value data
// store
func NewDatabase(db kvdb.KeyValueStore) kvdb.Database {
	return &dbLayer{KeyValueStore: db}
}

// NewMemoryDatabase creates an ephemeral in-memory key-value database.
func NewMemoryDatabase() kvdb.Database {
	return NewDatabase(memorydb.New())
}
