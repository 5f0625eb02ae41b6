// Package consensus validates headers and blocks received from peers and
// holds the fork-choice target the node syncs towards.
package consensus

import "github.com/OCAX-labs/headersync/core/types"

// Consensus is the rule set headers and blocks are checked against before
// they are accepted.
type Consensus interface {
	// ValidateHeader checks header against its parent. It returns a
	// *ValidationError whose Kind is one of the Err* sentinels.
	ValidateHeader(header, parent *types.SealedHeader) error

	// PreValidateBlock checks that the block body matches the commitments
	// in its header.
	PreValidateBlock(block *types.Block) error

	// ForkchoiceState returns the watch holding the current fork-choice target.
	ForkchoiceState() *ForkchoiceWatch
}
