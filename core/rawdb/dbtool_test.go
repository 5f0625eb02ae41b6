package rawdb_test

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/OCAX-labs/headersync/core/rawdb"
	"github.com/OCAX-labs/headersync/core/types"
	"github.com/OCAX-labs/headersync/kvdb"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// populate writes n+1 headers with canonical mappings and a head marker.
func populate(t *testing.T, db kvdb.Database, n int) []*types.SealedHeader {
	t.Helper()
	headers := testHeaders(n)
	for _, h := range headers {
		rawdb.WriteHeader(db, h)
		rawdb.WriteCanonicalHash(db, h.Hash(), h.Number())
	}
	rawdb.WriteHeadHeaderHash(db, headers[n].Hash())
	rawdb.WriteDatabaseVersion(db, rawdb.DatabaseVersion)
	return headers
}

func TestParseTable(t *testing.T) {
	for _, table := range rawdb.Tables {
		parsed, err := rawdb.ParseTable(table.String())
		require.NoError(t, err)
		assert.Equal(t, table, parsed)
	}
	parsed, err := rawdb.ParseTable("headers")
	require.NoError(t, err)
	assert.Equal(t, rawdb.Headers, parsed)

	_, err = rawdb.ParseTable("Bodies")
	assert.ErrorIs(t, err, rawdb.ErrUnknownTable)
}

func TestDbToolListSeparatesTables(t *testing.T) {
	db := rawdb.NewMemoryDatabase()
	defer db.Close()
	headers := populate(t, db, 4)
	tool := rawdb.NewDbTool(db, nil)

	entries, err := tool.List(rawdb.Headers, 0, 0, false)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i, e := range entries {
		value, err := rawdb.DecodeValue(rawdb.Headers, e.Value)
		require.NoError(t, err)
		assert.Equal(t, headers[i].Hash(), value.(*types.Header).Hash())
	}

	entries, err = tool.List(rawdb.CanonicalHashes, 0, 0, false)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i, e := range entries {
		value, err := rawdb.DecodeValue(rawdb.CanonicalHashes, e.Value)
		require.NoError(t, err)
		assert.Equal(t, headers[i].Hash(), value.(common.Hash))
	}

	entries, err = tool.List(rawdb.HeaderNumbers, 0, 0, false)
	require.NoError(t, err)
	assert.Len(t, entries, 5)

	entries, err = tool.List(rawdb.Metadata, 0, 0, false)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// DatabaseVersion sorts before LastHeader.
	assert.Equal(t, []byte("DatabaseVersion"), entries[0].Key)
	assert.Equal(t, []byte("LastHeader"), entries[1].Key)
}

func TestDbToolListWindow(t *testing.T) {
	db := rawdb.NewMemoryDatabase()
	defer db.Close()
	headers := populate(t, db, 9)
	tool := rawdb.NewDbTool(db, nil)

	decode := func(entries []rawdb.Entry) []common.Hash {
		var hashes []common.Hash
		for _, e := range entries {
			hashes = append(hashes, common.BytesToHash(e.Value))
		}
		return hashes
	}

	entries, err := tool.List(rawdb.CanonicalHashes, 2, 3, false)
	require.NoError(t, err)
	assert.Equal(t, []common.Hash{headers[2].Hash(), headers[3].Hash(), headers[4].Hash()}, decode(entries))

	entries, err = tool.List(rawdb.CanonicalHashes, 1, 2, true)
	require.NoError(t, err)
	assert.Equal(t, []common.Hash{headers[8].Hash(), headers[7].Hash()}, decode(entries))

	entries, err = tool.List(rawdb.CanonicalHashes, 20, 0, true)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDbToolGet(t *testing.T) {
	db := rawdb.NewMemoryDatabase()
	defer db.Close()
	populate(t, db, 2)
	tool := rawdb.NewDbTool(db, nil)

	value, err := tool.Get(rawdb.Metadata, []byte("LastHeader"))
	require.NoError(t, err)
	assert.Len(t, value, common.HashLength)

	_, err = tool.Get(rawdb.Headers, []byte("LastHeader"))
	assert.Error(t, err)

	_, err = tool.Get(rawdb.Metadata, []byte("Missing"))
	assert.ErrorIs(t, err, kvdb.ErrNotFound)

	_, err = tool.Get(rawdb.Table(42), []byte("LastHeader"))
	assert.ErrorIs(t, err, rawdb.ErrUnknownTable)
}

func TestDbToolDropTable(t *testing.T) {
	db := rawdb.NewMemoryDatabase()
	defer db.Close()
	headers := populate(t, db, 3)
	tool := rawdb.NewDbTool(db, nil)

	deleted, err := tool.DropTable(rawdb.CanonicalHashes)
	require.NoError(t, err)
	assert.Equal(t, 4, deleted)

	entries, err := tool.List(rawdb.CanonicalHashes, 0, 0, false)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Headers share the prefix and must survive.
	assert.NotNil(t, rawdb.ReadHeader(db, headers[3].Hash(), 3))
	assert.Equal(t, headers[3].Hash(), rawdb.ReadHeadHeaderHash(db))
}

func TestDbToolDrop(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "chaindata")
	db, err := rawdb.NewPebbleDBDatabase(dir, 16, 16, "test", false)
	require.NoError(t, err)
	populate(t, db, 1)

	require.NoError(t, rawdb.NewDbTool(db, nil).Drop(dir))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestDecodeValue(t *testing.T) {
	value, err := rawdb.DecodeValue(rawdb.HeaderNumbers, []byte{0, 0, 0, 0, 0, 0, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, uint64(256), value)

	value, err = rawdb.DecodeValue(rawdb.Metadata, []byte{0xca, 0xfe})
	require.NoError(t, err)
	assert.Equal(t, hexutil.Bytes{0xca, 0xfe}, value)

	_, err = rawdb.DecodeValue(rawdb.CanonicalHashes, []byte{1, 2})
	assert.Error(t, err)

	_, err = rawdb.DecodeValue(rawdb.Headers, []byte{0x01})
	assert.Error(t, err)
}

func TestDbToolTotalDifficulties(t *testing.T) {
	db := rawdb.NewMemoryDatabase()
	defer db.Close()
	headers := populate(t, db, 2)
	for i, h := range headers {
		rawdb.WriteTd(db, h.Hash(), h.Number(), big.NewInt(int64(i+1)))
	}
	tool := rawdb.NewDbTool(db, nil)

	entries, err := tool.List(rawdb.TotalDifficulties, 0, 0, false)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	value, err := rawdb.DecodeValue(rawdb.TotalDifficulties, entries[2].Value)
	require.NoError(t, err)
	assert.Equal(t, (*hexutil.Big)(big.NewInt(3)), value)

	// Difficulty entries share the header prefix but stay out of Headers.
	entries, err = tool.List(rawdb.Headers, 0, 0, false)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	n, err := tool.DropTable(rawdb.TotalDifficulties)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Nil(t, rawdb.ReadTd(db, headers[1].Hash(), 1))
	assert.NotNil(t, rawdb.ReadHeader(db, headers[1].Hash(), 1))
}
