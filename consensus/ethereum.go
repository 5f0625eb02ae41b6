package consensus

import (
	"math/big"

	"github.com/OCAX-labs/headersync/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/params"
)

// Ethereum validates headers against the execution layer header rules of
// the configured chain.
type Ethereum struct {
	config     *ChainConfig
	forkchoice *ForkchoiceWatch
}

// NewEthereum creates a validator whose fork-choice target is held by fc.
func NewEthereum(config *ChainConfig, fc *ForkchoiceWatch) *Ethereum {
	if fc == nil {
		fc = NewForkchoiceWatch(ForkchoiceState{})
	}
	return &Ethereum{config: config, forkchoice: fc}
}

func (e *Ethereum) ForkchoiceState() *ForkchoiceWatch { return e.forkchoice }

// ValidateHeader implements Consensus.
func (e *Ethereum) ValidateHeader(sealed, parentSealed *types.SealedHeader) error {
	header, parent := sealed.Header(), parentSealed.Header()
	number := header.Number

	if number != parent.Number+1 {
		return invalid(ErrNumberMismatch, number, "parent is #%d", parent.Number)
	}
	if header.ParentHash != parentSealed.Hash() {
		return invalid(ErrParentHashMismatch, number, "have %x, want %x", header.ParentHash, parentSealed.Hash())
	}
	if header.Time <= parent.Time {
		return invalid(ErrTimestampInPast, number, "%d <= parent %d", header.Time, parent.Time)
	}
	if uint64(len(header.Extra)) > params.MaximumExtraDataSize {
		return invalid(ErrExtraDataTooLong, number, "%d > %d", len(header.Extra), params.MaximumExtraDataSize)
	}
	if header.GasUsed > header.GasLimit {
		return invalid(ErrGasUsedExceedsLimit, number, "%d > %d", header.GasUsed, header.GasLimit)
	}
	if err := e.verifyGasLimit(parent, header); err != nil {
		return err
	}
	if err := e.verifyBaseFee(parent, header); err != nil {
		return err
	}
	switch shanghai := e.config.IsShanghai(header.Time); {
	case shanghai && header.WithdrawalsHash == nil:
		return invalid(ErrWithdrawalsRootMissing, number, "")
	case !shanghai && header.WithdrawalsHash != nil:
		return invalid(ErrWithdrawalsUnexpected, number, "")
	}
	if e.config.Merged {
		if header.Difficulty != nil && header.Difficulty.Sign() != 0 {
			return invalid(ErrInvalidDifficulty, number, "%v", header.Difficulty)
		}
		if header.UncleHash != types.EmptyUncleHash {
			return invalid(ErrOmmersHashMismatch, number, "ommers after the merge")
		}
	}
	return nil
}

func (e *Ethereum) verifyGasLimit(parent, header *types.Header) error {
	parentGasLimit := parent.GasLimit
	if !e.config.IsLondon(parent.Number) && e.config.IsLondon(header.Number) {
		parentGasLimit = parent.GasLimit * params.DefaultElasticityMultiplier
	}
	diff := int64(parentGasLimit) - int64(header.GasLimit)
	if diff < 0 {
		diff *= -1
	}
	limit := parentGasLimit / params.GasLimitBoundDivisor
	if uint64(diff) >= limit {
		return invalid(ErrInvalidGasLimit, header.Number, "have %d, want %d +-= %d", header.GasLimit, parentGasLimit, limit-1)
	}
	if header.GasLimit < params.MinGasLimit {
		return invalid(ErrInvalidGasLimit, header.Number, "%d below minimum %d", header.GasLimit, params.MinGasLimit)
	}
	return nil
}

func (e *Ethereum) verifyBaseFee(parent, header *types.Header) error {
	if !e.config.IsLondon(header.Number) {
		if header.BaseFee != nil {
			return invalid(ErrBaseFeeUnexpected, header.Number, "%v", header.BaseFee)
		}
		return nil
	}
	if header.BaseFee == nil {
		return invalid(ErrBaseFeeMissing, header.Number, "")
	}
	if expected := CalcBaseFee(e.config, parent); header.BaseFee.Cmp(expected) != 0 {
		return invalid(ErrBaseFeeMismatch, header.Number, "have %v, want %v", header.BaseFee, expected)
	}
	return nil
}

// PreValidateBlock implements Consensus.
func (e *Ethereum) PreValidateBlock(block *types.Block) error {
	if hash := types.CalcUncleHash(block.Uncles()); hash != block.UncleHash() {
		return invalid(ErrOmmersHashMismatch, block.Number(), "have %x, want %x", hash, block.UncleHash())
	}
	if e.config.Merged && len(block.Uncles()) > 0 {
		return invalid(ErrOmmersHashMismatch, block.Number(), "ommers after the merge")
	}
	if hash := types.DeriveSha(block.Transactions()); hash != block.TxHash() {
		return invalid(ErrTransactionRootMismatch, block.Number(), "have %x, want %x", hash, block.TxHash())
	}
	return nil
}

// CalcBaseFee calculates the base fee of the child of parent.
func CalcBaseFee(config *ChainConfig, parent *types.Header) *big.Int {
	// The first London block uses the initial base fee.
	if !config.IsLondon(parent.Number) || parent.BaseFee == nil {
		return new(big.Int).SetUint64(params.InitialBaseFee)
	}

	parentGasTarget := parent.GasLimit / params.DefaultElasticityMultiplier
	if parent.GasUsed == parentGasTarget {
		return new(big.Int).Set(parent.BaseFee)
	}

	var (
		num   = new(big.Int)
		denom = new(big.Int)
	)

	if parent.GasUsed > parentGasTarget {
		// max(1, parentBaseFee * gasUsedDelta / parentGasTarget / baseFeeChangeDenominator)
		num.SetUint64(parent.GasUsed - parentGasTarget)
		num.Mul(num, parent.BaseFee)
		num.Div(num, denom.SetUint64(parentGasTarget))
		num.Div(num, denom.SetUint64(params.DefaultBaseFeeChangeDenominator))
		baseFeeDelta := math.BigMax(num, common.Big1)

		return new(big.Int).Add(parent.BaseFee, baseFeeDelta)
	}
	// max(0, parentBaseFee - parentBaseFee * gasUsedDelta / parentGasTarget / baseFeeChangeDenominator)
	num.SetUint64(parentGasTarget - parent.GasUsed)
	num.Mul(num, parent.BaseFee)
	num.Div(num, denom.SetUint64(parentGasTarget))
	num.Div(num, denom.SetUint64(params.DefaultBaseFeeChangeDenominator))
	baseFee := new(big.Int).Sub(parent.BaseFee, num)

	return math.BigMax(baseFee, common.Big0)
}
