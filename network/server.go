// Package network connects the node to its peers over TCP and implements
// p2p.HeadersClient on top of the eth wire messages.
package network

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OCAX-labs/headersync/core/types"
	"github.com/OCAX-labs/headersync/p2p"
	"github.com/OCAX-labs/headersync/wire"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// MaxHeadersServe is the most headers answered to a single request.
	MaxHeadersServe = 1024
	// MaxTransactionsServe is the most pooled transactions answered to a
	// single request.
	MaxTransactionsServe = 256

	defaultMaxBadMessages = 3
	defaultDialTimeout    = 5 * time.Second
)

var (
	ErrGenesisMismatch  = errors.New("genesis mismatch")
	ErrNetworkMismatch  = errors.New("network id mismatch")
	ErrProtocolMismatch = errors.New("protocol version mismatch")
	ErrUnknownPeer      = errors.New("unknown peer")
)

// ChainReader is the local chain the server answers header queries from.
type ChainReader interface {
	Genesis() *types.SealedHeader
	CurrentHeader() *types.SealedHeader
	GetSealedHeader(id types.BlockHashOrNumber) *types.SealedHeader
	GetTd(hash common.Hash, number uint64) *big.Int
}

type ServerOptions struct {
	ID         string
	ListenAddr string
	SeedNodes  []string
	NetworkID  uint64

	Chain  ChainReader
	TxPool *TxPool

	Logger        log.Logger
	RPCDecodeFunc RPCDecodeFunc
	RPCProcessor  RPCProcessor
	Registerer    prometheus.Registerer

	// MaxBadMessages is how many reports a peer may collect before it is
	// disconnected.
	MaxBadMessages int
	DialTimeout    time.Duration
}

// Server runs the peer connections of a node. It answers header and pooled
// transaction queries from the local chain and pool, and delivers responses
// to the requests issued through its p2p.HeadersClient methods.
type Server struct {
	ServerOptions

	TCPTransport *TCPTransport
	peerCh       chan *TCPPeer
	rpcCh        chan RPC

	mu          sync.RWMutex
	peerMap     map[p2p.PeerID]*TCPPeer
	badMessages map[p2p.PeerID]int

	local    atomic.Pointer[wire.Status]
	nextID   atomic.Uint64
	rotation atomic.Uint64

	headerFeed event.Feed
	txFeed     event.Feed

	metrics *metrics

	wg       sync.WaitGroup
	quitCh   chan struct{}
	stopOnce sync.Once
}

var _ p2p.HeadersClient = (*Server)(nil)

func NewServer(options ServerOptions) (*Server, error) {
	if options.Chain == nil {
		return nil, errors.New("server needs a chain")
	}
	if options.RPCDecodeFunc == nil {
		options.RPCDecodeFunc = DefaultRPCDecodeFunc
	}
	if options.Logger == nil {
		options.Logger = log.NewLogfmtLogger(os.Stderr)
		options.Logger = log.With(options.Logger, "addr", options.ID)
	}
	if options.TxPool == nil {
		options.TxPool = NewTxPool(4096)
	}
	if options.MaxBadMessages == 0 {
		options.MaxBadMessages = defaultMaxBadMessages
	}
	if options.DialTimeout == 0 {
		options.DialTimeout = defaultDialTimeout
	}

	peerCh := make(chan *TCPPeer)
	rpcCh := make(chan RPC, 2048)
	s := &Server{
		ServerOptions: options,
		TCPTransport:  NewTCPTransport(options.ListenAddr, peerCh, rpcCh),
		peerCh:        peerCh,
		rpcCh:         rpcCh,
		peerMap:       make(map[p2p.PeerID]*TCPPeer),
		badMessages:   make(map[p2p.PeerID]int),
		metrics:       newMetrics(options.Registerer),
		quitCh:        make(chan struct{}),
	}
	if s.RPCProcessor == nil {
		s.RPCProcessor = s
	}
	head := options.Chain.CurrentHeader()
	td := options.Chain.GetTd(head.Hash(), head.Number())
	if td == nil {
		td = new(big.Int)
	}
	s.local.Store(&wire.Status{
		ProtocolVersion: wire.ProtocolVersion,
		NetworkID:       options.NetworkID,
		TD:              td,
		Head:            head.Hash(),
		Height:          head.Number(),
		Genesis:         options.Chain.Genesis().Hash(),
	})
	return s, nil
}

// Start opens the listener, dials the seed nodes and runs the message loop
// in the background.
func (s *Server) Start() error {
	if err := s.TCPTransport.Start(); err != nil {
		return err
	}
	level.Info(s.Logger).Log("msg", "accepting tcp", "addr", s.TCPTransport.Addr(), "id", s.ID)

	s.wg.Add(1)
	go s.loop()

	s.bootstrapNetwork()
	return nil
}

func (s *Server) bootstrapNetwork() {
	for _, addr := range s.SeedNodes {
		go func(addr string) {
			if err := s.Connect(addr); err != nil {
				level.Warn(s.Logger).Log("msg", "failed to dial seed", "seed", addr, "err", err)
			}
		}(addr)
	}
}

// Connect dials addr. The peer is usable once it answered the status
// handshake.
func (s *Server) Connect(addr string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.DialTimeout)
	defer cancel()
	_, err := s.TCPTransport.Dial(ctx, addr)
	return err
}

func (s *Server) loop() {
	defer s.wg.Done()
	for {
		select {
		case peer := <-s.peerCh:
			s.addPeer(peer)

		case rpc := <-s.rpcCh:
			if rpc.Msg == nil {
				s.removePeer(rpc.From, rpc.Err)
				continue
			}
			s.metrics.received.WithLabelValues(rpc.Msg.Code.String()).Inc()
			msg, err := s.RPCDecodeFunc(rpc)
			if err != nil {
				level.Debug(s.Logger).Log("msg", "undecodable message", "peer", rpc.From, "err", err)
				s.ReportBadMessage(rpc.From)
				continue
			}
			if err := s.RPCProcessor.ProcessMessage(msg); err != nil {
				level.Debug(s.Logger).Log("msg", "failed to process message", "peer", rpc.From, "code", msg.Code, "err", err)
			}

		case <-s.quitCh:
			return
		}
	}
}

func (s *Server) addPeer(peer *TCPPeer) {
	s.mu.Lock()
	s.peerMap[peer.ID()] = peer
	s.mu.Unlock()
	s.metrics.peers.Inc()

	level.Info(s.Logger).Log("msg", "new peer added", "outgoing", peer.Outgoing, "peer", peer.ID())
	if err := s.send(peer, wire.StatusMsg, s.local.Load()); err != nil {
		level.Warn(s.Logger).Log("msg", "status handshake failed", "peer", peer.ID(), "err", err)
		peer.Close()
	}
}

func (s *Server) removePeer(id p2p.PeerID, reason error) {
	s.mu.Lock()
	_, ok := s.peerMap[id]
	delete(s.peerMap, id)
	delete(s.badMessages, id)
	s.mu.Unlock()
	if ok {
		s.metrics.peers.Dec()
		level.Info(s.Logger).Log("msg", "peer removed", "peer", id, "reason", reason)
	}
}

func (s *Server) peer(id p2p.PeerID) (*TCPPeer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	peer, ok := s.peerMap[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, id)
	}
	return peer, nil
}

func (s *Server) send(peer *TCPPeer, code wire.MessageCode, val interface{}) error {
	if err := peer.SendPacket(code, val); err != nil {
		return err
	}
	s.metrics.sent.WithLabelValues(code.String()).Inc()
	return nil
}

// disconnect drops the peer. The transport reports the closed connection
// back through the message loop, which removes it from the peer set.
func (s *Server) disconnect(peer *TCPPeer, reason error) {
	s.metrics.disconnects.Inc()
	level.Warn(s.Logger).Log("msg", "disconnecting peer", "peer", peer.ID(), "reason", reason)
	peer.Close()
}

func (s *Server) ProcessMessage(msg *DecodeMessage) error {
	peer, err := s.peer(msg.From)
	if err != nil {
		return err
	}
	switch t := msg.Data.(type) {
	case *wire.Status:
		return s.processStatus(peer, t)
	case *wire.GetBlockHeadersPacket:
		return s.processGetBlockHeaders(peer, t)
	case *wire.BlockHeadersPacket:
		s.headerFeed.Send(&p2p.HeadersResponse{
			PeerID:    peer.ID(),
			RequestID: t.RequestID,
			Headers:   t.Message,
		})
	case *wire.GetPooledTransactionsPacket:
		return s.processGetPooledTransactions(peer, t)
	case *wire.PooledTransactionsPacket:
		s.txFeed.Send(&PooledTransactionsResponse{
			PeerID:       peer.ID(),
			RequestID:    t.RequestID,
			Transactions: t.Message,
		})
	default:
		return fmt.Errorf("unhandled message %T", t)
	}
	return nil
}

func (s *Server) processStatus(peer *TCPPeer, status *wire.Status) error {
	local := s.local.Load()
	var err error
	switch {
	case status.ProtocolVersion != local.ProtocolVersion:
		err = fmt.Errorf("%w: have %d, want %d", ErrProtocolMismatch, status.ProtocolVersion, local.ProtocolVersion)
	case status.NetworkID != local.NetworkID:
		err = fmt.Errorf("%w: have %d, want %d", ErrNetworkMismatch, status.NetworkID, local.NetworkID)
	case status.Genesis != local.Genesis:
		err = fmt.Errorf("%w: have %x, want %x", ErrGenesisMismatch, status.Genesis, local.Genesis)
	}
	if err != nil {
		s.disconnect(peer, err)
		return err
	}
	peer.setStatus(status)
	level.Debug(s.Logger).Log("msg", "peer status", "peer", peer.ID(), "height", status.Height, "head", status.Head)
	return nil
}

func (s *Server) processGetBlockHeaders(peer *TCPPeer, req *wire.GetBlockHeadersPacket) error {
	headers := s.serveHeaders(req.Message)
	return s.send(peer, wire.BlockHeadersMsg, &wire.BlockHeadersPacket{
		RequestID: req.RequestID,
		Message:   headers,
	})
}

// serveHeaders walks the canonical chain from the query origin. An unknown
// origin yields an empty answer.
func (s *Server) serveHeaders(query wire.GetBlockHeaders) wire.BlockHeaders {
	amount := query.Amount
	if amount > MaxHeadersServe {
		amount = MaxHeadersServe
	}
	headers := wire.BlockHeaders{}
	origin := s.Chain.GetSealedHeader(query.Origin)
	if origin == nil {
		return headers
	}
	step := query.Skip + 1
	if step == 0 {
		// skip overflowed
		return append(headers, origin.Unseal())
	}
	for number := origin.Number(); uint64(len(headers)) < amount; {
		header := s.Chain.GetSealedHeader(types.NumberID(number))
		if header == nil {
			break
		}
		headers = append(headers, header.Unseal())

		if query.Reverse {
			if number < step {
				break
			}
			number -= step
		} else {
			next := number + step
			if next <= number {
				break
			}
			number = next
		}
	}
	return headers
}

func (s *Server) processGetPooledTransactions(peer *TCPPeer, req *wire.GetPooledTransactionsPacket) error {
	hashes := req.Message
	if len(hashes) > MaxTransactionsServe {
		hashes = hashes[:MaxTransactionsServe]
	}
	return s.send(peer, wire.PooledTransactionsMsg, &wire.PooledTransactionsPacket{
		RequestID: req.RequestID,
		Message:   s.TxPool.GetMany(hashes),
	})
}

// Peers returns the connected peers that completed the status handshake.
func (s *Server) Peers() []*TCPPeer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	peers := make([]*TCPPeer, 0, len(s.peerMap))
	for _, p := range s.peerMap {
		if p.Status() != nil {
			peers = append(peers, p)
		}
	}
	return peers
}

// Addr is the address the server accepts peers on.
func (s *Server) Addr() string {
	return s.TCPTransport.Addr().String()
}

func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quitCh)
		s.TCPTransport.Stop()
		s.wg.Wait()
		level.Info(s.Logger).Log("msg", "server stopped")
	})
}
