package consensus_test

import (
	"math/big"
	"testing"

	"github.com/OCAX-labs/headersync/consensus"
	"github.com/OCAX-labs/headersync/core"
	"github.com/OCAX-labs/headersync/core/types"
	"github.com/OCAX-labs/headersync/utils"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func legacyConfig() *consensus.ChainConfig {
	return &consensus.ChainConfig{ChainID: big.NewInt(1)}
}

func TestValidateHeaderAcceptsGeneratedChain(t *testing.T) {
	config := consensus.DevChainConfig()
	engine := consensus.NewEthereum(config, nil)

	parent := core.GenesisHeader(config).Seal()
	for _, header := range utils.MakeSealedHeaderChain(config, parent.Header(), 16, 1) {
		require.NoError(t, engine.ValidateHeader(header, parent), "header %v", header)
		parent = header
	}
}

func TestValidateHeaderLondonTransition(t *testing.T) {
	london := uint64(3)
	config := &consensus.ChainConfig{ChainID: big.NewInt(1), LondonBlock: &london}
	engine := consensus.NewEthereum(config, nil)

	parent := core.GenesisHeader(config).Seal()
	require.Nil(t, parent.Header().BaseFee)

	for _, header := range utils.MakeSealedHeaderChain(config, parent.Header(), 6, 1) {
		require.NoError(t, engine.ValidateHeader(header, parent), "header %v", header)
		if header.Number() >= london {
			assert.NotNil(t, header.Header().BaseFee)
		}
		parent = header
	}
}

func TestValidateHeaderRejections(t *testing.T) {
	config := consensus.DevChainConfig()
	engine := consensus.NewEthereum(config, nil)

	genesis := core.GenesisHeader(config)
	chain := utils.MakeHeaderChain(config, genesis, 2, 1)
	parent, child := chain[0].Seal(), chain[1]

	tests := []struct {
		name   string
		mutate func(h *types.Header)
		want   error
	}{
		{"parent hash", func(h *types.Header) { h.ParentHash = common.Hash{0xde, 0xad} }, consensus.ErrParentHashMismatch},
		{"number gap", func(h *types.Header) { h.Number++ }, consensus.ErrNumberMismatch},
		{"same timestamp", func(h *types.Header) { h.Time = parent.Time() }, consensus.ErrTimestampInPast},
		{"extra data", func(h *types.Header) { h.Extra = make([]byte, 33) }, consensus.ErrExtraDataTooLong},
		{"gas used", func(h *types.Header) { h.GasUsed = h.GasLimit + 1 }, consensus.ErrGasUsedExceedsLimit},
		{"gas limit jump", func(h *types.Header) { h.GasLimit *= 2 }, consensus.ErrInvalidGasLimit},
		{"base fee missing", func(h *types.Header) { h.BaseFee = nil }, consensus.ErrBaseFeeMissing},
		{"base fee wrong", func(h *types.Header) { h.BaseFee = new(big.Int).Add(h.BaseFee, big.NewInt(1)) }, consensus.ErrBaseFeeMismatch},
		{"withdrawals missing", func(h *types.Header) { h.WithdrawalsHash = nil }, consensus.ErrWithdrawalsRootMissing},
		{"difficulty", func(h *types.Header) { h.Difficulty = big.NewInt(1) }, consensus.ErrInvalidDifficulty},
		{"ommers", func(h *types.Header) { h.UncleHash = common.Hash{1} }, consensus.ErrOmmersHashMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := types.CopyHeader(child)
			tt.mutate(header)

			err := engine.ValidateHeader(header.Seal(), parent)
			require.ErrorIs(t, err, tt.want)

			var verr *consensus.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.want, verr.Kind)
		})
	}
}

func TestValidateHeaderPreLondon(t *testing.T) {
	config := legacyConfig()
	engine := consensus.NewEthereum(config, nil)

	chain := utils.MakeHeaderChain(config, core.GenesisHeader(config), 2, 1)
	parent := chain[0].Seal()
	require.NoError(t, engine.ValidateHeader(chain[1].Seal(), parent))

	withFee := types.CopyHeader(chain[1])
	withFee.BaseFee = big.NewInt(7)
	assert.ErrorIs(t, engine.ValidateHeader(withFee.Seal(), parent), consensus.ErrBaseFeeUnexpected)

	withWithdrawals := types.CopyHeader(chain[1])
	withWithdrawals.WithdrawalsHash = &types.EmptyRootHash
	assert.ErrorIs(t, engine.ValidateHeader(withWithdrawals.Seal(), parent), consensus.ErrWithdrawalsUnexpected)
}

func TestCalcBaseFee(t *testing.T) {
	config := consensus.DevChainConfig()
	parent := &types.Header{
		Number:   10,
		GasLimit: 30_000_000,
		BaseFee:  big.NewInt(1_000_000_000),
	}

	parent.GasUsed = 15_000_000
	assert.Equal(t, int64(1_000_000_000), consensus.CalcBaseFee(config, parent).Int64())

	parent.GasUsed = 30_000_000
	assert.Equal(t, int64(1_125_000_000), consensus.CalcBaseFee(config, parent).Int64())

	parent.GasUsed = 0
	assert.Equal(t, int64(875_000_000), consensus.CalcBaseFee(config, parent).Int64())
}

func TestPreValidateBlock(t *testing.T) {
	config := consensus.DevChainConfig()
	engine := consensus.NewEthereum(config, nil)

	block := utils.NewRandomBlock(t, core.GenesisHeader(config), config.ChainID)
	require.NoError(t, engine.PreValidateBlock(block))

	// Dropping a transaction breaks the commitment in the header.
	tampered := block.WithBody(block.Transactions()[:1], nil)
	assert.ErrorIs(t, engine.PreValidateBlock(tampered), consensus.ErrTransactionRootMismatch)

	withUncle := block.WithBody(block.Transactions(), []*types.Header{core.GenesisHeader(config)})
	assert.ErrorIs(t, engine.PreValidateBlock(withUncle), consensus.ErrOmmersHashMismatch)
}
