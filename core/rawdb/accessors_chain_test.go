package rawdb_test

import (
	"math/big"
	"testing"

	"github.com/OCAX-labs/headersync/consensus"
	"github.com/OCAX-labs/headersync/core"
	"github.com/OCAX-labs/headersync/core/rawdb"
	"github.com/OCAX-labs/headersync/core/types"
	"github.com/OCAX-labs/headersync/utils"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHeaders(n int) []*types.SealedHeader {
	config := consensus.DevChainConfig()
	genesis := core.GenesisHeader(config).Seal()
	return append([]*types.SealedHeader{genesis}, utils.MakeSealedHeaderChain(config, genesis.Header(), n, 1)...)
}

func TestHeaderStorage(t *testing.T) {
	db := rawdb.NewMemoryDatabase()
	defer db.Close()

	header := testHeaders(1)[1]

	assert.Nil(t, rawdb.ReadHeader(db, header.Hash(), header.Number()))
	assert.False(t, rawdb.HasHeader(db, header.Hash(), header.Number()))
	assert.Nil(t, rawdb.ReadHeaderNumber(db, header.Hash()))

	rawdb.WriteHeader(db, header)

	stored := rawdb.ReadHeader(db, header.Hash(), header.Number())
	require.NotNil(t, stored)
	assert.Equal(t, header.Hash(), stored.Hash())
	assert.True(t, rawdb.HasHeader(db, header.Hash(), header.Number()))

	number := rawdb.ReadHeaderNumber(db, header.Hash())
	require.NotNil(t, number)
	assert.Equal(t, header.Number(), *number)

	// Wrong number for the hash misses.
	assert.Nil(t, rawdb.ReadHeader(db, header.Hash(), header.Number()+1))

	rawdb.DeleteHeader(db, header.Hash(), header.Number())
	assert.Nil(t, rawdb.ReadHeader(db, header.Hash(), header.Number()))
	assert.Nil(t, rawdb.ReadHeaderNumber(db, header.Hash()))
}

func TestCanonicalMappingStorage(t *testing.T) {
	db := rawdb.NewMemoryDatabase()
	defer db.Close()

	headers := testHeaders(3)
	for _, h := range headers {
		rawdb.WriteHeader(db, h)
	}
	assert.Equal(t, common.Hash{}, rawdb.ReadCanonicalHash(db, 2))
	assert.Nil(t, rawdb.ReadCanonicalHeader(db, 2))

	rawdb.WriteCanonicalHash(db, headers[2].Hash(), 2)
	assert.Equal(t, headers[2].Hash(), rawdb.ReadCanonicalHash(db, 2))

	canonical := rawdb.ReadCanonicalHeader(db, 2)
	require.NotNil(t, canonical)
	assert.Equal(t, headers[2].Hash(), canonical.Hash())
	assert.Equal(t, uint64(2), canonical.Number())

	rawdb.DeleteCanonicalHash(db, 2)
	assert.Equal(t, common.Hash{}, rawdb.ReadCanonicalHash(db, 2))
}

func TestHeadHeaderStorage(t *testing.T) {
	db := rawdb.NewMemoryDatabase()
	defer db.Close()

	assert.Equal(t, common.Hash{}, rawdb.ReadHeadHeaderHash(db))

	hash := utils.RandomHash()
	rawdb.WriteHeadHeaderHash(db, hash)
	assert.Equal(t, hash, rawdb.ReadHeadHeaderHash(db))
}

func TestDatabaseVersion(t *testing.T) {
	db := rawdb.NewMemoryDatabase()
	defer db.Close()

	assert.Nil(t, rawdb.ReadDatabaseVersion(db))

	rawdb.WriteDatabaseVersion(db, rawdb.DatabaseVersion)
	version := rawdb.ReadDatabaseVersion(db)
	require.NotNil(t, version)
	assert.Equal(t, uint64(rawdb.DatabaseVersion), *version)
}

func TestPebbleDatabase(t *testing.T) {
	dir := t.TempDir()

	db, err := rawdb.NewPebbleDBDatabase(dir, 16, 16, "test", false)
	require.NoError(t, err)

	header := testHeaders(1)[1]
	rawdb.WriteHeader(db, header)
	rawdb.WriteCanonicalHash(db, header.Hash(), header.Number())
	require.NoError(t, db.Close())

	db, err = rawdb.NewPebbleDBDatabase(dir, 16, 16, "test", true)
	require.NoError(t, err)
	defer db.Close()

	canonical := rawdb.ReadCanonicalHeader(db, header.Number())
	require.NotNil(t, canonical)
	assert.Equal(t, header.Hash(), canonical.Hash())
}

func TestTdStorage(t *testing.T) {
	db := rawdb.NewMemoryDatabase()
	defer db.Close()

	header := testHeaders(1)[1]
	assert.Nil(t, rawdb.ReadTd(db, header.Hash(), header.Number()))

	td := new(big.Int).Lsh(big.NewInt(1), 80)
	rawdb.WriteTd(db, header.Hash(), header.Number(), td)
	assert.Equal(t, td, rawdb.ReadTd(db, header.Hash(), header.Number()))
	assert.Nil(t, rawdb.ReadTd(db, header.Hash(), header.Number()+1))

	rawdb.WriteHeader(db, header)
	rawdb.DeleteHeader(db, header.Hash(), header.Number())
	assert.Nil(t, rawdb.ReadTd(db, header.Hash(), header.Number()))
}
