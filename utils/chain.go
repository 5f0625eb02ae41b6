package utils

import (
	"math/big"

	"github.com/OCAX-labs/headersync/consensus"
	"github.com/OCAX-labs/headersync/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
)

// BlockTime is the timestamp distance between generated headers.
const BlockTime = 12

// MakeHeaderChain creates n headers on top of parent that pass
// consensus.Ethereum validation under config. Chains built from the same
// parent with different seeds fork at the first header.
func MakeHeaderChain(config *consensus.ChainConfig, parent *types.Header, n int, seed byte) []*types.Header {
	headers := make([]*types.Header, n)
	for i := 0; i < n; i++ {
		header := makeHeader(config, parent, seed)
		headers[i] = header
		parent = header
	}
	return headers
}

// MakeSealedHeaderChain is MakeHeaderChain with every header sealed.
func MakeSealedHeaderChain(config *consensus.ChainConfig, parent *types.Header, n int, seed byte) []*types.SealedHeader {
	return types.SealHeaders(MakeHeaderChain(config, parent, n, seed))
}

func makeHeader(config *consensus.ChainConfig, parent *types.Header, seed byte) *types.Header {
	number := parent.Number + 1
	gasLimit := parent.GasLimit
	if !config.IsLondon(parent.Number) && config.IsLondon(number) {
		gasLimit *= params.DefaultElasticityMultiplier
	}
	header := &types.Header{
		ParentHash:  parent.Hash(),
		UncleHash:   types.EmptyUncleHash,
		Coinbase:    common.Address{seed},
		Root:        parent.Root,
		TxHash:      types.EmptyTxsHash,
		ReceiptHash: types.EmptyRootHash,
		Difficulty:  new(big.Int),
		Number:      number,
		GasLimit:    gasLimit,
		GasUsed:     gasLimit / params.DefaultElasticityMultiplier,
		Time:        parent.Time + BlockTime,
		Extra:       []byte{seed},
	}
	if !config.Merged {
		header.Difficulty = big.NewInt(1)
	}
	if config.IsLondon(number) {
		header.BaseFee = consensus.CalcBaseFee(config, parent)
	}
	if config.IsShanghai(header.Time) {
		root := types.EmptyRootHash
		header.WithdrawalsHash = &root
	}
	return header
}
