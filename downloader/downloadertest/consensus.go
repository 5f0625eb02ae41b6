package downloadertest

import (
	"sync/atomic"

	"github.com/OCAX-labs/headersync/consensus"
	"github.com/OCAX-labs/headersync/core/types"
	"github.com/ethereum/go-ethereum/common"
)

// TestConsensus accepts everything unless told to fail.
type TestConsensus struct {
	watch          *consensus.ForkchoiceWatch
	failValidation atomic.Bool
}

var _ consensus.Consensus = (*TestConsensus)(nil)

func NewTestConsensus() *TestConsensus {
	return &TestConsensus{watch: consensus.NewForkchoiceWatch(consensus.ForkchoiceState{})}
}

// UpdateTip publishes tip as the new fork-choice head.
func (c *TestConsensus) UpdateTip(tip common.Hash) {
	c.watch.Store(consensus.ForkchoiceState{HeadBlockHash: tip})
}

// SetFailValidation makes every following validation fail with
// consensus.ErrBaseFeeMissing.
func (c *TestConsensus) SetFailValidation(fail bool) {
	c.failValidation.Store(fail)
}

func (c *TestConsensus) ForkchoiceState() *consensus.ForkchoiceWatch { return c.watch }

func (c *TestConsensus) ValidateHeader(header, _ *types.SealedHeader) error {
	if c.failValidation.Load() {
		return &consensus.ValidationError{Kind: consensus.ErrBaseFeeMissing, Number: header.Number()}
	}
	return nil
}

func (c *TestConsensus) PreValidateBlock(block *types.Block) error {
	if c.failValidation.Load() {
		return &consensus.ValidationError{Kind: consensus.ErrBaseFeeMissing, Number: block.Number()}
	}
	return nil
}
