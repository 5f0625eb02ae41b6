package types

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHeader(number uint64) *Header {
	return &Header{
		ParentHash: common.BytesToHash([]byte("parent hash")),
		UncleHash:  EmptyUncleHash,
		TxHash:     EmptyTxsHash,
		Difficulty: big.NewInt(0),
		Number:     number,
		GasLimit:   30_000_000,
		GasUsed:    21_000,
		Time:       1_700_000_000,
		Extra:      []byte("headersync"),
		BaseFee:    big.NewInt(7),
	}
}

func TestEmptyHashes(t *testing.T) {
	assert.Equal(t, common.HexToHash("1dcc4de8dec75d7aab85b567b6ccd41ad312451b948a7413f0a142fd40d49347"), EmptyUncleHash)
	assert.Equal(t, EmptyRootHash, DeriveSha(Transactions{}))
}

func TestHeaderRLP(t *testing.T) {
	h := testHeader(12)
	enc, err := rlp.EncodeToBytes(h)
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256Hash(enc), h.Hash())

	dec := new(Header)
	require.NoError(t, rlp.DecodeBytes(enc, dec))
	assert.Equal(t, h.Hash(), dec.Hash())
	assert.Equal(t, h.Number, dec.Number)
	assert.Equal(t, h.Extra, dec.Extra)
	assert.Equal(t, 0, h.BaseFee.Cmp(dec.BaseFee))

	// Pre-London headers carry no base fee and encode one field shorter.
	legacy := testHeader(12)
	legacy.BaseFee = nil
	legacyEnc, err := rlp.EncodeToBytes(legacy)
	require.NoError(t, err)
	assert.Less(t, len(legacyEnc), len(enc))

	dec = new(Header)
	require.NoError(t, rlp.DecodeBytes(legacyEnc, dec))
	assert.Nil(t, dec.BaseFee)
	assert.NotEqual(t, h.Hash(), legacy.Hash())
}

func TestSealedHeader(t *testing.T) {
	h := testHeader(5)
	sealed := h.Seal()

	assert.Equal(t, h.Hash(), sealed.Hash())
	assert.Equal(t, uint64(5), sealed.Number())
	assert.Equal(t, NumHash{Number: 5, Hash: h.Hash()}, sealed.NumHash())

	// Mutating the source does not affect the sealed copy.
	h.GasUsed++
	assert.NotEqual(t, h.Hash(), sealed.Hash())
	assert.Equal(t, sealed.Hash(), sealed.Header().Hash())

	unsealed := sealed.Unseal()
	unsealed.Extra = []byte("changed")
	assert.Equal(t, []byte("headersync"), sealed.Header().Extra)
}

func TestBlockHashOrNumber(t *testing.T) {
	hash := common.HexToHash("0xdeadc0de")

	for _, id := range []BlockHashOrNumber{HashID(hash), NumberID(0), NumberID(1111)} {
		enc, err := rlp.EncodeToBytes(id)
		require.NoError(t, err)

		var dec BlockHashOrNumber
		require.NoError(t, rlp.DecodeBytes(enc, &dec))
		assert.Equal(t, id, dec)
	}

	_, err := rlp.EncodeToBytes(BlockHashOrNumber{Hash: hash, Number: 1})
	assert.ErrorIs(t, err, errHashAndNumber)

	bad, _ := rlp.EncodeToBytes(make([]byte, 16))
	assert.Error(t, rlp.DecodeBytes(bad, new(BlockHashOrNumber)))

	parsed, err := ParseBlockHashOrNumber(hash.Hex())
	require.NoError(t, err)
	assert.Equal(t, HashID(hash), parsed)

	parsed, err = ParseBlockHashOrNumber("42")
	require.NoError(t, err)
	assert.Equal(t, NumberID(42), parsed)

	_, err = ParseBlockHashOrNumber("42abc")
	assert.Error(t, err)
	_, err = ParseBlockHashOrNumber("0x1234")
	assert.Error(t, err)

	sealed := testHeader(42).Seal()
	assert.True(t, NumberID(42).Matches(sealed))
	assert.True(t, HashID(sealed.Hash()).Matches(sealed))
	assert.False(t, HashID(hash).Matches(sealed))
}

func TestNewBlock(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := NewLondonSigner(big.NewInt(1))

	tx, err := SignNewTx(key, signer, &LegacyTx{Nonce: 1, GasPrice: big.NewInt(1), Gas: 21000})
	require.NoError(t, err)

	block := NewBlock(testHeader(3), []*Transaction{tx}, nil)
	assert.Equal(t, EmptyUncleHash, block.UncleHash())
	assert.NotEqual(t, EmptyTxsHash, block.TxHash())
	assert.Equal(t, DeriveSha(Transactions{tx}), block.TxHash())
	assert.Equal(t, tx, block.Transaction(tx.Hash()))
	assert.Equal(t, block.Header().Hash(), block.Hash())
	assert.Equal(t, block.Hash(), block.Sealed().Hash())

	enc, err := rlp.EncodeToBytes(block)
	require.NoError(t, err)
	dec := new(Block)
	require.NoError(t, rlp.DecodeBytes(enc, dec))
	assert.Equal(t, block.Hash(), dec.Hash())
	assert.Equal(t, uint64(len(enc)), dec.Size())
	require.Len(t, dec.Transactions(), 1)
	assert.Equal(t, tx.Hash(), dec.Transactions()[0].Hash())
}
