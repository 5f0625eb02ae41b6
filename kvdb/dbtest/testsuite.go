// Package dbtest holds the behaviour every kvdb.KeyValueStore implementation
// must share.
package dbtest

import (
	"bytes"
	"crypto/rand"
	"sort"
	"testing"

	"github.com/OCAX-labs/headersync/kvdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDatabaseSuite runs a suite of tests against a KeyValueStore database
// implementation.
func TestDatabaseSuite(t *testing.T, New func() kvdb.KeyValueStore) {
	t.Run("Iterator", func(t *testing.T) {
		tests := []struct {
			content map[string]string
			prefix  string
			start   string
			order   []string
		}{
			// Empty databases should be iterable
			{map[string]string{}, "", "", nil},
			{map[string]string{}, "non-existent-prefix", "", nil},

			// Single-item databases should be iterable
			{map[string]string{"key": "val"}, "", "", []string{"key"}},
			{map[string]string{"key": "val"}, "k", "", []string{"key"}},
			{map[string]string{"key": "val"}, "l", "", nil},

			// Multi-item databases should be fully iterable
			{
				map[string]string{"k1": "v1", "k5": "v5", "k2": "v2", "k4": "v4", "k3": "v3"},
				"", "",
				[]string{"k1", "k2", "k3", "k4", "k5"},
			},
			{
				map[string]string{"k1": "v1", "k5": "v5", "k2": "v2", "k4": "v4", "k3": "v3"},
				"k", "",
				[]string{"k1", "k2", "k3", "k4", "k5"},
			},
			{
				map[string]string{"k1": "v1", "k5": "v5", "k2": "v2", "k4": "v4", "k3": "v3"},
				"l", "",
				nil,
			},
			// Multi-item databases should be prefix-iterable
			{
				map[string]string{
					"ka1": "va1", "ka5": "va5", "ka2": "va2", "ka4": "va4", "ka3": "va3",
					"kb1": "vb1", "kb5": "vb5", "kb2": "vb2", "kb4": "vb4", "kb3": "vb3",
				},
				"ka", "",
				[]string{"ka1", "ka2", "ka3", "ka4", "ka5"},
			},
			{
				map[string]string{
					"ka1": "va1", "ka5": "va5", "ka2": "va2", "ka4": "va4", "ka3": "va3",
					"kb1": "vb1", "kb5": "vb5", "kb2": "vb2", "kb4": "vb4", "kb3": "vb3",
				},
				"kc", "",
				nil,
			},
			// Multi-item databases should be prefix-iterable with start position
			{
				map[string]string{
					"ka1": "va1", "ka5": "va5", "ka2": "va2", "ka4": "va4", "ka3": "va3",
					"kb1": "vb1", "kb5": "vb5", "kb2": "vb2", "kb4": "vb4", "kb3": "vb3",
				},
				"ka", "3",
				[]string{"ka3", "ka4", "ka5"},
			},
			{
				map[string]string{
					"ka1": "va1", "ka5": "va5", "ka2": "va2", "ka4": "va4", "ka3": "va3",
					"kb1": "vb1", "kb5": "vb5", "kb2": "vb2", "kb4": "vb4", "kb3": "vb3",
				},
				"ka", "8",
				nil,
			},
		}
		for i, tt := range tests {
			// Create the key-value data store
			db := New()
			for key, val := range tt.content {
				require.NoError(t, db.Put([]byte(key), []byte(val)), "test %d", i)
			}
			// Iterate over the database with the given configs and verify the results
			it, idx := db.NewIterator([]byte(tt.prefix), []byte(tt.start)), 0
			for it.Next() {
				require.Less(t, idx, len(tt.order), "test %d: prefix=%q more items than expected", i, tt.prefix)
				assert.Equal(t, tt.order[idx], string(it.Key()), "test %d: item %d", i, idx)
				assert.Equal(t, tt.content[tt.order[idx]], string(it.Value()), "test %d: item %d", i, idx)
				idx++
			}
			assert.NoError(t, it.Error(), "test %d", i)
			assert.Equal(t, len(tt.order), idx, "test %d: iteration terminated prematurely", i)
			it.Release()
			db.Close()
		}
	})

	t.Run("IteratorWith", func(t *testing.T) {
		db := New()
		defer db.Close()

		keys := []string{"1", "2", "3", "4", "6", "10", "11", "12", "20", "21", "22"}
		sort.Strings(keys)
		for _, k := range keys {
			require.NoError(t, db.Put([]byte(k), nil))
		}

		{
			it := db.NewIterator(nil, nil)
			got, want := iterateKeys(it), keys
			require.NoError(t, it.Error())
			assert.Equal(t, want, got)
		}
		{
			it := db.NewIterator([]byte("1"), nil)
			got, want := iterateKeys(it), []string{"1", "10", "11", "12"}
			require.NoError(t, it.Error())
			assert.Equal(t, want, got)
		}
		{
			it := db.NewIterator([]byte("5"), nil)
			got, want := iterateKeys(it), []string{}
			require.NoError(t, it.Error())
			assert.Equal(t, want, got)
		}
		{
			it := db.NewIterator(nil, []byte("2"))
			got, want := iterateKeys(it), []string{"2", "20", "21", "22", "3", "4", "6"}
			require.NoError(t, it.Error())
			assert.Equal(t, want, got)
		}
		{
			it := db.NewIterator(nil, []byte("5"))
			got, want := iterateKeys(it), []string{"6"}
			require.NoError(t, it.Error())
			assert.Equal(t, want, got)
		}
	})

	t.Run("KeyValueOperations", func(t *testing.T) {
		db := New()
		defer db.Close()

		key := []byte("foo")

		got, err := db.Has(key)
		require.NoError(t, err)
		assert.False(t, got)

		_, err = db.Get(key)
		assert.ErrorIs(t, err, kvdb.ErrNotFound)

		value := []byte("hello world")
		require.NoError(t, db.Put(key, value))

		got, err = db.Has(key)
		require.NoError(t, err)
		assert.True(t, got)

		dat, err := db.Get(key)
		require.NoError(t, err)
		assert.Equal(t, value, dat)

		// Returned slices are owned by the caller.
		dat[0] = 'x'
		dat, err = db.Get(key)
		require.NoError(t, err)
		assert.Equal(t, value, dat)

		require.NoError(t, db.Put(key, []byte("overwritten")))
		dat, err = db.Get(key)
		require.NoError(t, err)
		assert.Equal(t, []byte("overwritten"), dat)

		require.NoError(t, db.Delete(key))
		got, err = db.Has(key)
		require.NoError(t, err)
		assert.False(t, got)
	})

	t.Run("Batch", func(t *testing.T) {
		db := New()
		defer db.Close()

		b := db.NewBatch()
		for _, k := range []string{"1", "2", "3", "4"} {
			require.NoError(t, b.Put([]byte(k), nil))
		}
		assert.Equal(t, 4, b.ValueSize())

		has, err := db.Has([]byte("1"))
		require.NoError(t, err)
		assert.False(t, has, "batch wrote before Write")

		require.NoError(t, b.Write())
		assert.Equal(t, []string{"1", "2", "3", "4"}, iterateKeys(db.NewIterator(nil, nil)))

		b.Reset()
		assert.Zero(t, b.ValueSize())

		// Mix writes and deletes
		require.NoError(t, b.Delete([]byte("2")))
		require.NoError(t, b.Put([]byte("5"), nil))
		require.NoError(t, b.Delete([]byte("3")))
		require.NoError(t, b.Put([]byte("3"), nil))
		require.NoError(t, b.Write())
		assert.Equal(t, []string{"1", "3", "4", "5"}, iterateKeys(db.NewIterator(nil, nil)))
	})

	t.Run("BatchReplay", func(t *testing.T) {
		db := New()
		defer db.Close()

		want := []string{"1", "2", "3", "4"}
		b := db.NewBatch()
		for _, k := range want {
			require.NoError(t, b.Put([]byte(k), nil))
		}

		b2 := db.NewBatch()
		require.NoError(t, b.Replay(b2))
		require.NoError(t, b2.Replay(db))
		assert.Equal(t, want, iterateKeys(db.NewIterator(nil, nil)))
	})

	t.Run("OperationsAfterClose", func(t *testing.T) {
		db := New()
		require.NoError(t, db.Put([]byte("key"), []byte("value")))
		require.NoError(t, db.Close())

		_, err := db.Get([]byte("key"))
		assert.Error(t, err)
		assert.Error(t, db.Put([]byte("another"), []byte("value")))
		_, err = db.Has([]byte("key"))
		assert.Error(t, err)
	})
}

// BenchDatabaseSuite runs a suite of benchmarks against a KeyValueStore database
// implementation.
func BenchDatabaseSuite(b *testing.B, New func() kvdb.KeyValueStore) {
	var (
		keys, vals   = makeDataset(1_000, 32, 32, false)
		sKeys, sVals = makeDataset(1_000, 32, 32, true)
	)
	benchWrite := func(b *testing.B, keys, vals [][]byte) {
		b.ResetTimer()
		b.ReportAllocs()

		db := New()
		defer db.Close()

		for i := 0; i < len(keys); i++ {
			db.Put(keys[i], vals[i])
		}
	}
	benchBatchWrite := func(b *testing.B, keys, vals [][]byte) {
		b.ResetTimer()
		b.ReportAllocs()

		db := New()
		defer db.Close()

		batch := db.NewBatch()
		for i := 0; i < len(keys); i++ {
			batch.Put(keys[i], vals[i])
		}
		batch.Write()
	}
	benchRead := func(b *testing.B, keys, vals [][]byte) {
		db := New()
		defer db.Close()

		for i := 0; i < len(keys); i++ {
			db.Put(keys[i], vals[i])
		}
		b.ResetTimer()
		b.ReportAllocs()

		for i := 0; i < len(keys); i++ {
			db.Get(keys[i])
		}
	}
	b.Run("WriteSorted", func(b *testing.B) { benchWrite(b, sKeys, sVals) })
	b.Run("WriteRandom", func(b *testing.B) { benchWrite(b, keys, vals) })
	b.Run("BatchWriteSorted", func(b *testing.B) { benchBatchWrite(b, sKeys, sVals) })
	b.Run("BatchWriteRandom", func(b *testing.B) { benchBatchWrite(b, keys, vals) })
	b.Run("ReadSorted", func(b *testing.B) { benchRead(b, sKeys, sVals) })
	b.Run("ReadRandom", func(b *testing.B) { benchRead(b, keys, vals) })
}

func iterateKeys(it kvdb.Iterator) []string {
	keys := []string{}
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	sort.Strings(keys)
	it.Release()
	return keys
}

func randBytes(len int) []byte {
	buf := make([]byte, len)
	if n, err := rand.Read(buf); n != len || err != nil {
		panic(err)
	}
	return buf
}

func makeDataset(size, ksize, vsize int, order bool) ([][]byte, [][]byte) {
	var keys [][]byte
	var vals [][]byte
	for i := 0; i < size; i++ {
		keys = append(keys, randBytes(ksize))
		vals = append(vals, randBytes(vsize))
	}
	if order {
		sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })
	}
	return keys, vals
}
