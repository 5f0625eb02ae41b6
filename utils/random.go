package utils

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"log"
	"math/big"
	"testing"

	"github.com/OCAX-labs/headersync/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func RandomBytes(size int) []byte {
	token := make([]byte, size)
	rand.Read(token)
	return token
}

func RandomHash() common.Hash {
	return common.BytesToHash(RandomBytes(32))
}

func RandomAddress() common.Address {
	return common.BytesToAddress(RandomBytes(20))
}

// GenerateRandomStringID generates a random hexadecimal string of length n.
func GenerateRandomStringID(n int) string {
	b := make([]byte, n)
	_, err := rand.Read(b)
	if err != nil {
		log.Fatal(err)
	}

	id := hex.EncodeToString(b)
	return id[:n]
}

// GenerateKey returns a fresh secp256k1 key or fails the test.
func GenerateKey(t testing.TB) *ecdsa.PrivateKey {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

// NewRandomTransaction returns an unsigned dynamic fee transfer to a random address.
func NewRandomTransaction(chainID *big.Int, nonce uint64) *types.Transaction {
	to := RandomAddress()
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: big.NewInt(1_000_000_000),
		GasFeeCap: big.NewInt(30_000_000_000),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(1),
		Data:      RandomBytes(8),
	})
}

func NewRandomTransactionWithSignature(t testing.TB, key *ecdsa.PrivateKey, chainID *big.Int, nonce uint64) *types.Transaction {
	tx, err := types.SignTx(NewRandomTransaction(chainID, nonce), types.NewLondonSigner(chainID), key)
	require.NoError(t, err)
	return tx
}

// NewRandomBlock builds a block with two signed transactions on top of parent.
// The header commits to the transactions but is not otherwise valid.
func NewRandomBlock(t testing.TB, parent *types.Header, chainID *big.Int) *types.Block {
	key := GenerateKey(t)
	txs := types.Transactions{
		NewRandomTransactionWithSignature(t, key, chainID, 0),
		NewRandomTransactionWithSignature(t, key, chainID, 1),
	}
	header := &types.Header{
		ParentHash: parent.Hash(),
		Number:     parent.Number + 1,
		GasLimit:   parent.GasLimit,
		Time:       parent.Time + 12,
		Difficulty: new(big.Int),
	}
	return types.NewBlock(header, txs, nil)
}
