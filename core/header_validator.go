package core

import (
	"errors"
	"fmt"

	"github.com/OCAX-labs/headersync/consensus"
	"github.com/OCAX-labs/headersync/core/types"
)

var (
	ErrUnknownAncestor = errors.New("unknown ancestor")
	ErrNonContiguous   = errors.New("non contiguous insert")
	ErrGenesisMismatch = errors.New("genesis mismatch")
)

// Validator checks a run of headers before it is written on top of parent.
type Validator interface {
	ValidateHeaders(parent *types.SealedHeader, headers []*types.SealedHeader) error
}

// HeaderValidator checks linkage and, when it has a consensus engine, the
// consensus rules of every header.
type HeaderValidator struct {
	engine consensus.Consensus
}

// NewHeaderValidator returns a validator. engine may be nil, in which case
// only linkage is checked.
func NewHeaderValidator(engine consensus.Consensus) *HeaderValidator {
	return &HeaderValidator{engine: engine}
}

func (v *HeaderValidator) ValidateHeaders(parent *types.SealedHeader, headers []*types.SealedHeader) error {
	if parent == nil {
		return ErrUnknownAncestor
	}
	prev := parent
	for i, header := range headers {
		if header.Number() != prev.Number()+1 || header.ParentHash() != prev.Hash() {
			return fmt.Errorf("%w: item %d is #%d [%x..], item %d is #%d [%x..] (parent [%x..])",
				ErrNonContiguous, i-1, prev.Number(), prev.Hash().Bytes()[:4],
				i, header.Number(), header.Hash().Bytes()[:4], header.ParentHash().Bytes()[:4])
		}
		if v.engine != nil {
			if err := v.engine.ValidateHeader(header, prev); err != nil {
				return err
			}
		}
		prev = header
	}
	return nil
}
