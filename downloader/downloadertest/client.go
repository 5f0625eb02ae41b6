// Package downloadertest provides in-memory peers, consensus and downloaders
// for testing sync components.
package downloadertest

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/OCAX-labs/headersync/core/types"
	"github.com/OCAX-labs/headersync/p2p"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
)

// TestPeerID is the peer every response of a TestHeadersClient comes from
// unless SendResponse names another one.
const TestPeerID p2p.PeerID = "test-peer"

type headerRequest struct {
	id  uint64
	req p2p.HeadersRequest
}

// Status is the last status advertised through UpdateStatus.
type Status struct {
	Height uint64
	Hash   common.Hash
	TD     *big.Int
}

// TestHeadersClient is a p2p.HeadersClient without a network. Requests are
// queued for the test to pick up with OnHeaderRequest and the test answers
// them with SendHeaderResponse.
type TestHeadersClient struct {
	requests  chan headerRequest
	responses event.Feed
	nextID    atomic.Uint64

	mu      sync.Mutex
	reports []p2p.PeerID
	status  Status
}

var _ p2p.HeadersClient = (*TestHeadersClient)(nil)

func NewTestHeadersClient() *TestHeadersClient {
	return &TestHeadersClient{requests: make(chan headerRequest, 1)}
}

// OnHeaderRequest hands the next count requests to fn. A count of zero or
// less serves requests until ctx is done.
func (c *TestHeadersClient) OnHeaderRequest(ctx context.Context, count int, fn func(id uint64, req p2p.HeadersRequest)) error {
	for served := 0; count <= 0 || served < count; served++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-c.requests:
			fn(r.id, r.req)
		}
	}
	return nil
}

// SendHeaderResponse answers request id as TestPeerID.
func (c *TestHeadersClient) SendHeaderResponse(id uint64, headers []*types.Header) {
	c.SendResponse(&p2p.HeadersResponse{PeerID: TestPeerID, RequestID: id, Headers: headers})
}

// SendResponse delivers res to every subscriber. It blocks until all of
// them received it.
func (c *TestHeadersClient) SendResponse(res *p2p.HeadersResponse) {
	c.responses.Send(res)
}

func (c *TestHeadersClient) UpdateStatus(height uint64, hash common.Hash, td *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = Status{Height: height, Hash: hash, TD: td}
}

// Status returns the last advertised status.
func (c *TestHeadersClient) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *TestHeadersClient) SendHeaderRequest(ctx context.Context, id uint64, req p2p.HeadersRequest) ([]p2p.PeerID, error) {
	select {
	case c.requests <- headerRequest{id: id, req: req}:
		return []p2p.PeerID{TestPeerID}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *TestHeadersClient) StreamHeaders(ch chan<- *p2p.HeadersResponse) event.Subscription {
	return c.responses.Subscribe(ch)
}

func (c *TestHeadersClient) GetHeadersWithPriority(ctx context.Context, req p2p.HeadersRequest, _ p2p.Priority) (*p2p.HeadersResponse, error) {
	id := c.nextID.Add(1)

	ch := make(chan *p2p.HeadersResponse, 1)
	sub := c.StreamHeaders(ch)
	defer sub.Unsubscribe()

	if _, err := c.SendHeaderRequest(ctx, id, req); err != nil {
		return nil, err
	}
	for {
		select {
		case res := <-ch:
			if res.RequestID == id {
				return res, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *TestHeadersClient) ReportBadMessage(peer p2p.PeerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, peer)
}

// Reports returns every peer reported so far, in order.
func (c *TestHeadersClient) Reports() []p2p.PeerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]p2p.PeerID(nil), c.reports...)
}

func (c *TestHeadersClient) ReportCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reports)
}
