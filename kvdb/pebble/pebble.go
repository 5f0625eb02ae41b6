// Package pebble implements the key-value database layer based on pebble.
package pebble

import (
	"errors"
	"sync"

	"github.com/OCAX-labs/headersync/kvdb"
	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

const (
	// minCache is the minimum amount of memory in megabytes to allocate to pebble
	// read and write caching.
	minCache = 16

	// minHandles is the minimum number of files handles to allocate to the open
	// database files.
	minHandles = 16
)

var errDatabaseClosed = errors.New("pebble database closed")

// Database is a persistent key-value store based on the pebble storage engine.
// Apart from basic data storage functionality it also supports batch writes and
// iterating over the keyspace in binary-alphabetical order.
type Database struct {
	fn     string
	db     *pebble.DB
	logger log.Logger

	quitLock sync.RWMutex
	closed   bool
}

var _ kvdb.KeyValueStore = (*Database)(nil)

// New returns a wrapped pebble DB object. The namespace is the prefix
// attached to log lines of this database.
func New(file string, cache int, handles int, namespace string, readonly bool) (*Database, error) {
	if cache < minCache {
		cache = minCache
	}
	if handles < minHandles {
		handles = minHandles
	}
	logger := log.With(log.NewNopLogger(), "database", file, "namespace", namespace)
	level.Info(logger).Log("msg", "Allocated cache and file handles", "cache", cache, "handles", handles)

	pcache := pebble.NewCache(int64(cache * 1024 * 1024))
	defer pcache.Unref()

	opts := &pebble.Options{
		Cache:        pcache,
		MaxOpenFiles: handles,
		ReadOnly:     readonly,
	}
	db, err := pebble.Open(file, opts)
	if err != nil {
		return nil, err
	}
	return &Database{fn: file, db: db, logger: logger}, nil
}

// Wrap adopts an already opened pebble instance, e.g. one on an in-memory
// filesystem.
func Wrap(db *pebble.DB) *Database {
	return &Database{db: db, logger: log.NewNopLogger()}
}

// SetLogger replaces the database logger.
func (d *Database) SetLogger(logger log.Logger) {
	d.logger = log.With(logger, "database", d.fn)
}

// Close stops the metrics collection, flushes any pending data to disk and closes
// all io accesses to the underlying key-value store.
func (d *Database) Close() error {
	d.quitLock.Lock()
	defer d.quitLock.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	return d.db.Close()
}

// Has retrieves if a key is present in the key-value store.
func (d *Database) Has(key []byte) (bool, error) {
	d.quitLock.RLock()
	defer d.quitLock.RUnlock()
	if d.closed {
		return false, errDatabaseClosed
	}
	_, closer, err := d.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	} else if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

// Get retrieves the given key if it's present in the key-value store.
func (d *Database) Get(key []byte) ([]byte, error) {
	d.quitLock.RLock()
	defer d.quitLock.RUnlock()
	if d.closed {
		return nil, errDatabaseClosed
	}
	dat, closer, err := d.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, kvdb.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	ret := common.CopyBytes(dat)
	closer.Close()
	return ret, nil
}

// Put inserts the given value into the key-value store.
func (d *Database) Put(key []byte, value []byte) error {
	d.quitLock.RLock()
	defer d.quitLock.RUnlock()
	if d.closed {
		return errDatabaseClosed
	}
	return d.db.Set(key, value, pebble.NoSync)
}

// Delete removes the key from the key-value store.
func (d *Database) Delete(key []byte) error {
	d.quitLock.RLock()
	defer d.quitLock.RUnlock()
	if d.closed {
		return errDatabaseClosed
	}
	return d.db.Delete(key, pebble.NoSync)
}

// NewBatch creates a write-only key-value store that buffers changes to its host
// database until a final write is called.
func (d *Database) NewBatch() kvdb.Batch {
	return &batch{
		b:  d.db.NewBatch(),
		db: d,
	}
}

// upperBound returns the upper bound for the given prefix
func upperBound(prefix []byte) (limit []byte) {
	for i := len(prefix) - 1; i >= 0; i-- {
		c := prefix[i]
		if c == 0xff {
			continue
		}
		limit = make([]byte, i+1)
		copy(limit, prefix)
		limit[i] = c + 1
		break
	}
	return limit
}

// NewIterator creates a binary-alphabetical iterator over a subset
// of database content with a particular key prefix, starting at a particular
// initial key (or after, if it does not exist).
func (d *Database) NewIterator(prefix []byte, start []byte) kvdb.Iterator {
	lower := make([]byte, 0, len(prefix)+len(start))
	lower = append(append(lower, prefix...), start...)
	iter, err := d.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		level.Error(d.logger).Log("msg", "Failed to open iterator", "err", err)
		return &pebbleIterator{err: err}
	}
	iter.First()
	return &pebbleIterator{iter: iter, moved: true}
}

// batch is a write-only batch that commits changes to its host database
// when Write is called. A batch cannot be used concurrently.
type batch struct {
	b      *pebble.Batch
	db     *Database
	writes []keyvalue
	size   int
}

type keyvalue struct {
	key    []byte
	value  []byte
	delete bool
}

func (b *batch) Put(key, value []byte) error {
	if err := b.b.Set(key, value, nil); err != nil {
		return err
	}
	b.writes = append(b.writes, keyvalue{common.CopyBytes(key), common.CopyBytes(value), false})
	b.size += len(key) + len(value)
	return nil
}

func (b *batch) Delete(key []byte) error {
	if err := b.b.Delete(key, nil); err != nil {
		return err
	}
	b.writes = append(b.writes, keyvalue{common.CopyBytes(key), nil, true})
	b.size += len(key)
	return nil
}

func (b *batch) ValueSize() int {
	return b.size
}

// Write flushes any accumulated data to disk.
func (b *batch) Write() error {
	b.db.quitLock.RLock()
	defer b.db.quitLock.RUnlock()
	if b.db.closed {
		return errDatabaseClosed
	}
	return b.b.Commit(pebble.Sync)
}

func (b *batch) Reset() {
	b.b.Reset()
	b.writes = b.writes[:0]
	b.size = 0
}

// Replay replays the batch contents.
func (b *batch) Replay(w kvdb.KeyValueWriter) error {
	for _, kv := range b.writes {
		if kv.delete {
			if err := w.Delete(kv.key); err != nil {
				return err
			}
			continue
		}
		if err := w.Put(kv.key, kv.value); err != nil {
			return err
		}
	}
	return nil
}

// pebbleIterator is a wrapper of underlying iterator in storage engine.
// The purpose of this structure is to implement the missing APIs.
type pebbleIterator struct {
	iter  *pebble.Iterator
	moved bool
	err   error
}

// Next moves the iterator to the next key/value pair. It returns whether the
// iterator is exhausted.
func (iter *pebbleIterator) Next() bool {
	if iter.iter == nil {
		return false
	}
	if iter.moved {
		iter.moved = false
		return iter.iter.Valid()
	}
	return iter.iter.Next()
}

func (iter *pebbleIterator) Error() error {
	if iter.iter == nil {
		return iter.err
	}
	return iter.iter.Error()
}

func (iter *pebbleIterator) Key() []byte {
	if iter.iter == nil {
		return nil
	}
	return iter.iter.Key()
}

func (iter *pebbleIterator) Value() []byte {
	if iter.iter == nil {
		return nil
	}
	return iter.iter.Value()
}

func (iter *pebbleIterator) Release() {
	if iter.iter != nil {
		iter.iter.Close()
		iter.iter = nil
	}
}
