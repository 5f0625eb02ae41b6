package wire

import "github.com/OCAX-labs/headersync/core/types"

// GetBlockHeaders represents a block header query.
type GetBlockHeaders struct {
	Origin  types.BlockHashOrNumber // Block from which to retrieve headers
	Amount  uint64                  // Maximum number of headers to retrieve
	Skip    uint64                  // Blocks to skip between consecutive headers
	Reverse bool                    // Query direction (false = rising towards latest, true = falling towards genesis)
}

// BlockHeaders is the network packet for block header delivery.
type BlockHeaders []*types.Header

type (
	GetBlockHeadersPacket = RequestPair[GetBlockHeaders]
	BlockHeadersPacket    = RequestPair[BlockHeaders]
)
