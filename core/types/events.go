package types

// ChainHeadEvent is posted when the canonical header chain is extended.
type ChainHeadEvent struct {
	Header *SealedHeader
}
