// Package p2p defines the capabilities the sync components need from the
// peer-to-peer layer. Implementations live in network (TCP) and
// downloader/downloadertest (in-memory).
package p2p

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/OCAX-labs/headersync/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
)

// ErrNoPeers is returned when no connected peer can serve a request.
var ErrNoPeers = errors.New("no peers available")

// PeerID identifies a connected peer.
type PeerID string

// Priority orders outstanding requests when peers are scarce.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}
	return "normal"
}

// HeadersDirection is the order headers are walked from the start block.
type HeadersDirection uint8

const (
	// Rising walks towards the chain tip.
	Rising HeadersDirection = iota
	// Falling walks towards genesis.
	Falling
)

// IsFalling reports whether the direction is towards genesis, which is how
// the eth protocol encodes it.
func (d HeadersDirection) IsFalling() bool { return d == Falling }

// DirectionFromReverse converts the eth protocol reverse flag.
func DirectionFromReverse(reverse bool) HeadersDirection {
	if reverse {
		return Falling
	}
	return Rising
}

func (d HeadersDirection) String() string {
	if d == Falling {
		return "falling"
	}
	return "rising"
}

// HeadersRequest asks for Limit contiguous headers starting at Start.
type HeadersRequest struct {
	Start     types.BlockHashOrNumber
	Limit     uint64
	Direction HeadersDirection
}

func (r HeadersRequest) String() string {
	return fmt.Sprintf("start=%v limit=%d direction=%v", r.Start, r.Limit, r.Direction)
}

// HeadersResponse carries the headers a peer answered a request with.
type HeadersResponse struct {
	PeerID    PeerID
	RequestID uint64
	Headers   []*types.Header
}

// HeadersClient requests headers from the network. Responses are never
// trusted: callers validate them and report peers that misbehave.
type HeadersClient interface {
	// UpdateStatus advertises the local head to connected peers.
	UpdateStatus(height uint64, hash common.Hash, td *big.Int)

	// SendHeaderRequest sends the request under the given id without waiting
	// for a reply. It returns the peers the request went to; replies are
	// delivered through StreamHeaders.
	SendHeaderRequest(ctx context.Context, id uint64, req HeadersRequest) ([]PeerID, error)

	// StreamHeaders subscribes to every header response received. Each
	// subscriber receives its own copy.
	StreamHeaders(ch chan<- *HeadersResponse) event.Subscription

	// GetHeadersWithPriority sends the request to a single peer and waits
	// for its reply or for ctx to be done.
	GetHeadersWithPriority(ctx context.Context, req HeadersRequest, priority Priority) (*HeadersResponse, error)

	// ReportBadMessage flags the peer as having sent an invalid response.
	ReportBadMessage(peer PeerID)
}

// GetHeaders is GetHeadersWithPriority with PriorityNormal.
func GetHeaders(ctx context.Context, c HeadersClient, req HeadersRequest) (*HeadersResponse, error) {
	return c.GetHeadersWithPriority(ctx, req, PriorityNormal)
}
