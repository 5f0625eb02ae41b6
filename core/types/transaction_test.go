package types

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	legacyTxHex     = "0xf867088504a817c8088302e2489435353535353535353535353535353535353535358202008025a064b1702d9298fee62dfeccc57d322a463ad55ca201256d01f62b45b2e1c21c12a064b1702d9298fee62dfeccc57d322a463ad55ca201256d01f62b45b2e1c21c10"
	dynamicFeeTxHex = "0x02f872041a8459682f008459682f0d8252089461815774383099e24810ab832a5b2a5425c154d58829a2241af62c000080c001a059e6b67f48fb32e7e570dfb11e042b5ad2e55e3ce3ce9cd989c7e06e07feeafda0016b83f4f980694ed2eee4d10667242b1f40dc406901b34125b008d334d47469"
)

func TestLegacyTransactionDecode(t *testing.T) {
	enc := hexutil.MustDecode(legacyTxHex)

	tx := new(Transaction)
	require.NoError(t, rlp.DecodeBytes(enc, tx))

	assert.Equal(t, uint8(LegacyTxType), tx.Type())
	assert.Equal(t, uint64(8), tx.Nonce())
	assert.Equal(t, big.NewInt(0x4a817c808), tx.GasPrice())
	assert.Equal(t, uint64(0x2e248), tx.Gas())
	assert.Equal(t, common.HexToAddress("0x3535353535353535353535353535353535353535"), *tx.To())
	assert.Equal(t, big.NewInt(0x200), tx.Value())
	assert.Empty(t, tx.Data())
	assert.Equal(t, big.NewInt(1), tx.ChainId())
	assert.True(t, tx.Protected())

	v, r, s := tx.RawSignatureValues()
	assert.Equal(t, big.NewInt(0x25), v)
	assert.Equal(t, hexutil.MustDecodeBig("0x64b1702d9298fee62dfeccc57d322a463ad55ca201256d01f62b45b2e1c21c12"), r)
	assert.Equal(t, hexutil.MustDecodeBig("0x64b1702d9298fee62dfeccc57d322a463ad55ca201256d01f62b45b2e1c21c10"), s)

	out, err := rlp.EncodeToBytes(tx)
	require.NoError(t, err)
	assert.Equal(t, enc, out)
	assert.Equal(t, crypto.Keccak256Hash(enc), tx.Hash())
	assert.Equal(t, uint64(len(enc)), tx.Size())
}

func TestDynamicFeeTransactionDecode(t *testing.T) {
	enc := hexutil.MustDecode(dynamicFeeTxHex)

	tx := new(Transaction)
	require.NoError(t, tx.UnmarshalBinary(enc))

	assert.Equal(t, uint8(DynamicFeeTxType), tx.Type())
	assert.Equal(t, big.NewInt(4), tx.ChainId())
	assert.Equal(t, uint64(26), tx.Nonce())
	assert.Equal(t, big.NewInt(1500000000), tx.GasTipCap())
	assert.Equal(t, big.NewInt(1500000013), tx.GasFeeCap())
	assert.Equal(t, uint64(21000), tx.Gas())
	assert.Equal(t, common.HexToAddress("0x61815774383099e24810ab832a5b2a5425c154d5"), *tx.To())
	assert.Equal(t, new(big.Int).Mul(big.NewInt(3), big.NewInt(1e18)), tx.Value())
	assert.Empty(t, tx.AccessList())

	v, _, _ := tx.RawSignatureValues()
	assert.Equal(t, big.NewInt(1), v)

	bin, err := tx.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, enc, bin)
	assert.Equal(t, crypto.Keccak256Hash(enc), tx.Hash())

	// Inside a list the typed transaction is wrapped in an RLP string.
	wrapped, err := rlp.EncodeToBytes(tx)
	require.NoError(t, err)
	assert.Equal(t, byte(0xb8), wrapped[0])
	assert.Equal(t, byte(len(enc)), wrapped[1])
	assert.Equal(t, enc, wrapped[2:])

	decoded := new(Transaction)
	require.NoError(t, rlp.DecodeBytes(wrapped, decoded))
	assert.Equal(t, tx.Hash(), decoded.Hash())
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	tx := new(Transaction)
	assert.ErrorIs(t, tx.UnmarshalBinary([]byte{0x05, 0xc0}), ErrTxTypeNotSupported)
	assert.Error(t, tx.UnmarshalBinary(nil))

	wrapped, err := rlp.EncodeToBytes([]byte{0x07, 0xc0})
	require.NoError(t, err)
	assert.ErrorIs(t, rlp.DecodeBytes(wrapped, tx), ErrTxTypeNotSupported)
}

func TestSignTransaction(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)
	to := common.HexToAddress("0x000000000000000000000000000000000000dead")
	signer := NewLondonSigner(big.NewInt(1))

	txs := map[string]TxData{
		"legacy": &LegacyTx{Nonce: 1, GasPrice: big.NewInt(1e9), Gas: 21000, To: &to, Value: big.NewInt(1)},
		"accessList": &AccessListTx{
			ChainID: big.NewInt(1), Nonce: 2, GasPrice: big.NewInt(1e9), Gas: 30000, To: &to,
			AccessList: AccessList{{Address: to, StorageKeys: []common.Hash{{0x01}}}},
		},
		"dynamicFee": &DynamicFeeTx{
			ChainID: big.NewInt(1), Nonce: 3, GasTipCap: big.NewInt(1), GasFeeCap: big.NewInt(2e9), Gas: 21000, To: &to,
		},
	}
	for name, inner := range txs {
		t.Run(name, func(t *testing.T) {
			tx, err := SignNewTx(key, signer, inner)
			require.NoError(t, err)

			from, err := Sender(signer, tx)
			require.NoError(t, err)
			assert.Equal(t, addr, from)

			enc, err := tx.MarshalBinary()
			require.NoError(t, err)
			decoded := new(Transaction)
			require.NoError(t, decoded.UnmarshalBinary(enc))
			assert.Equal(t, tx.Hash(), decoded.Hash())

			from, err = Sender(signer, decoded)
			require.NoError(t, err)
			assert.Equal(t, addr, from)

			_, err = Sender(NewLondonSigner(big.NewInt(5)), decoded)
			assert.ErrorIs(t, err, ErrInvalidChainId)
		})
	}
}

func TestSenderRejectsUnsigned(t *testing.T) {
	tx := NewTx(&LegacyTx{Nonce: 1, GasPrice: big.NewInt(1), Gas: 21000})
	_, err := Sender(NewLondonSigner(big.NewInt(1)), tx)
	assert.ErrorIs(t, err, ErrInvalidSig)
}

func TestTransactionJSON(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	to := common.HexToAddress("0x0d1d4e623D10F9FBA5Db95830F7d3839406C6AF2")
	signer := NewLondonSigner(big.NewInt(4))

	for _, inner := range []TxData{
		&LegacyTx{Nonce: 7, GasPrice: big.NewInt(3), Gas: 50000, To: &to, Value: big.NewInt(10), Data: []byte{1, 2}},
		&DynamicFeeTx{ChainID: big.NewInt(4), Nonce: 8, GasTipCap: big.NewInt(1), GasFeeCap: big.NewInt(9), Gas: 50000},
	} {
		tx, err := SignNewTx(key, signer, inner)
		require.NoError(t, err)

		data, err := json.Marshal(tx)
		require.NoError(t, err)

		parsed := new(Transaction)
		require.NoError(t, json.Unmarshal(data, parsed))
		assert.Equal(t, tx.Hash(), parsed.Hash())
		assert.Equal(t, tx.To(), parsed.To())
	}
}
