package network

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/OCAX-labs/headersync/p2p"
	"github.com/OCAX-labs/headersync/wire"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/go-kit/log/level"
)

// PooledTransactionsResponse is a PooledTransactions answer from a peer.
type PooledTransactionsResponse struct {
	PeerID       p2p.PeerID
	RequestID    uint64
	Transactions wire.PooledTransactions
}

// UpdateStatus implements p2p.HeadersClient. The new status is sent to every
// connected peer.
func (s *Server) UpdateStatus(height uint64, hash common.Hash, td *big.Int) {
	if td == nil {
		td = new(big.Int)
	}
	status := *s.local.Load()
	status.Height = height
	status.Head = hash
	status.TD = new(big.Int).Set(td)
	s.local.Store(&status)

	s.mu.RLock()
	peers := make([]*TCPPeer, 0, len(s.peerMap))
	for _, p := range s.peerMap {
		peers = append(peers, p)
	}
	s.mu.RUnlock()

	for _, p := range peers {
		if err := s.send(p, wire.StatusMsg, &status); err != nil {
			level.Debug(s.Logger).Log("msg", "failed to send status", "peer", p.ID(), "err", err)
		}
	}
}

// selectPeer picks the peer for a request. High priority requests go to the
// peer announcing the highest head; normal ones rotate over all peers so
// that a retry lands on a different peer.
func (s *Server) selectPeer(priority p2p.Priority) (*TCPPeer, error) {
	peers := s.Peers()
	if len(peers) == 0 {
		return nil, p2p.ErrNoPeers
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID() < peers[j].ID() })

	if priority == p2p.PriorityHigh {
		best := peers[0]
		for _, p := range peers[1:] {
			if p.Status().Height > best.Status().Height {
				best = p
			}
		}
		return best, nil
	}
	n := s.rotation.Add(1)
	return peers[int(n%uint64(len(peers)))], nil
}

func headersQuery(req p2p.HeadersRequest) wire.GetBlockHeaders {
	return wire.GetBlockHeaders{
		Origin:  req.Start,
		Amount:  req.Limit,
		Reverse: req.Direction.IsFalling(),
	}
}

// SendHeaderRequest implements p2p.HeadersClient.
func (s *Server) SendHeaderRequest(ctx context.Context, id uint64, req p2p.HeadersRequest) ([]p2p.PeerID, error) {
	peer, err := s.selectPeer(p2p.PriorityNormal)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	packet := &wire.GetBlockHeadersPacket{RequestID: id, Message: headersQuery(req)}
	if err := s.send(peer, wire.GetBlockHeadersMsg, packet); err != nil {
		return nil, err
	}
	return []p2p.PeerID{peer.ID()}, nil
}

// StreamHeaders implements p2p.HeadersClient. Subscribers must keep reading:
// the message loop waits for every subscriber to take a response.
func (s *Server) StreamHeaders(ch chan<- *p2p.HeadersResponse) event.Subscription {
	return s.headerFeed.Subscribe(ch)
}

// GetHeadersWithPriority implements p2p.HeadersClient.
func (s *Server) GetHeadersWithPriority(ctx context.Context, req p2p.HeadersRequest, priority p2p.Priority) (*p2p.HeadersResponse, error) {
	peer, err := s.selectPeer(priority)
	if err != nil {
		return nil, err
	}

	ch := make(chan *p2p.HeadersResponse, 16)
	sub := s.headerFeed.Subscribe(ch)
	defer sub.Unsubscribe()

	id := s.nextID.Add(1)
	packet := &wire.GetBlockHeadersPacket{RequestID: id, Message: headersQuery(req)}
	if err := s.send(peer, wire.GetBlockHeadersMsg, packet); err != nil {
		return nil, err
	}
	level.Debug(s.Logger).Log("msg", "requested headers", "peer", peer.ID(), "id", id, "req", req, "priority", priority)

	for {
		select {
		case res := <-ch:
			if res.RequestID == id && res.PeerID == peer.ID() {
				return res, nil
			}
		case err := <-sub.Err():
			return nil, err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// RequestPooledTransactions asks peer for the bodies of hashes and waits for
// its answer.
func (s *Server) RequestPooledTransactions(ctx context.Context, id p2p.PeerID, hashes []common.Hash) (*PooledTransactionsResponse, error) {
	peer, err := s.peer(id)
	if err != nil {
		return nil, err
	}

	ch := make(chan *PooledTransactionsResponse, 16)
	sub := s.txFeed.Subscribe(ch)
	defer sub.Unsubscribe()

	reqID := s.nextID.Add(1)
	packet := &wire.GetPooledTransactionsPacket{RequestID: reqID, Message: hashes}
	if err := s.send(peer, wire.GetPooledTransactionsMsg, packet); err != nil {
		return nil, err
	}
	for {
		select {
		case res := <-ch:
			if res.RequestID == reqID && res.PeerID == id {
				return res, nil
			}
		case err := <-sub.Err():
			return nil, err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// ReportBadMessage implements p2p.HeadersClient. A peer reaching
// MaxBadMessages reports is disconnected.
func (s *Server) ReportBadMessage(id p2p.PeerID) {
	s.metrics.badMessages.Inc()

	s.mu.Lock()
	peer, ok := s.peerMap[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	s.badMessages[id]++
	count := s.badMessages[id]
	s.mu.Unlock()

	level.Debug(s.Logger).Log("msg", "bad message reported", "peer", id, "count", count)
	if count >= s.MaxBadMessages {
		s.disconnect(peer, fmt.Errorf("%d bad messages", count))
	}
}

// BadMessages returns how often peer was reported.
func (s *Server) BadMessages(id p2p.PeerID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.badMessages[id]
}
