package core

import (
	"math/big"

	"github.com/OCAX-labs/headersync/consensus"
	"github.com/OCAX-labs/headersync/core/types"
	"github.com/ethereum/go-ethereum/params"
)

const (
	genesisGasLimit = 30_000_000
	genesisTime     = 1_700_000_000
)

// GenesisHeader returns the block zero header for config. Every node started
// with the same config agrees on its hash.
func GenesisHeader(config *consensus.ChainConfig) *types.Header {
	header := &types.Header{
		UncleHash:   types.EmptyUncleHash,
		Root:        types.EmptyRootHash,
		TxHash:      types.EmptyTxsHash,
		ReceiptHash: types.EmptyRootHash,
		Difficulty:  big.NewInt(1),
		GasLimit:    genesisGasLimit,
		Time:        genesisTime,
		Extra:       []byte("headersync genesis"),
	}
	if config.Merged {
		header.Difficulty = new(big.Int)
	}
	if config.IsLondon(0) {
		header.BaseFee = new(big.Int).SetUint64(params.InitialBaseFee)
	}
	if config.IsShanghai(genesisTime) {
		root := types.EmptyRootHash
		header.WithdrawalsHash = &root
	}
	return header
}
