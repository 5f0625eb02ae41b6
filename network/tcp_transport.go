package network

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OCAX-labs/headersync/p2p"
	"github.com/OCAX-labs/headersync/wire"
	"github.com/ethereum/go-ethereum/rlp"
)

var (
	writeTimeout = 20 * time.Second

	errPeerClosed = errors.New("peer closed")
)

// TCPPeer is a connection to a remote node. Messages are written as an RLP
// list of [code, payload], one after the other.
type TCPPeer struct {
	conn     net.Conn
	Outgoing bool

	status atomic.Pointer[wire.Status]

	writeMu sync.Mutex

	ctx        context.Context
	cancelFunc context.CancelFunc
}

func newTCPPeer(parent context.Context, conn net.Conn, outgoing bool) *TCPPeer {
	ctx, cancel := context.WithCancel(parent)
	return &TCPPeer{
		conn:       conn,
		Outgoing:   outgoing,
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// ID is the remote address of the connection.
func (p *TCPPeer) ID() p2p.PeerID {
	return p2p.PeerID(p.conn.RemoteAddr().String())
}

// Status is the last status the peer announced, or nil before the handshake.
func (p *TCPPeer) Status() *wire.Status {
	return p.status.Load()
}

func (p *TCPPeer) setStatus(status *wire.Status) {
	p.status.Store(status)
}

// Send writes msg to the connection.
func (p *TCPPeer) Send(msg *wire.Msg) error {
	select {
	case <-p.ctx.Done():
		return errPeerClosed
	default:
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := rlp.Encode(p.conn, msg); err != nil {
		return fmt.Errorf("send %v to %s: %w", msg.Code, p.ID(), err)
	}
	return nil
}

// SendPacket encodes val under code and writes it.
func (p *TCPPeer) SendPacket(code wire.MessageCode, val interface{}) error {
	msg, err := wire.NewMsg(code, val)
	if err != nil {
		return err
	}
	return p.Send(msg)
}

// Close tears the connection down. It is safe to call more than once.
func (p *TCPPeer) Close() {
	p.cancelFunc()
	p.conn.Close()
}

// readLoop decodes frames until the connection fails or the peer is closed.
// Frames larger than wire.MaxMessageSize end the connection.
func (p *TCPPeer) readLoop(rpcCh chan<- RPC) error {
	stream := rlp.NewStream(bufio.NewReader(p.conn), 0)
	for {
		_, size, err := stream.Kind()
		if err != nil {
			return err
		}
		if size > wire.MaxMessageSize {
			return fmt.Errorf("%w: %d > %d", wire.ErrMessageTooLarge, size, wire.MaxMessageSize)
		}
		msg := new(wire.Msg)
		if err := stream.Decode(msg); err != nil {
			return fmt.Errorf("%w: %v", wire.ErrDecode, err)
		}
		select {
		case rpcCh <- RPC{From: p.ID(), Msg: msg}:
		case <-p.ctx.Done():
			return errPeerClosed
		}
	}
}

// TCPTransport accepts and dials peers. Every connected peer is announced on
// peerCh; its messages, and finally its disconnection, arrive on rpcCh.
type TCPTransport struct {
	peerCh     chan *TCPPeer
	listenAddr string
	listener   net.Listener
	rpcCh      chan RPC

	activePeers map[*TCPPeer]struct{}
	peerMutex   sync.Mutex

	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
}

func NewTCPTransport(addr string, peerCh chan *TCPPeer, rpcCh chan RPC) *TCPTransport {
	ctx, cancel := context.WithCancel(context.Background())
	return &TCPTransport{
		peerCh:      peerCh,
		rpcCh:       rpcCh,
		listenAddr:  addr,
		ctx:         ctx,
		cancelFunc:  cancel,
		activePeers: make(map[*TCPPeer]struct{}),
	}
}

func (t *TCPTransport) Start() error {
	ln, err := net.Listen("tcp", t.listenAddr)
	if err != nil {
		return err
	}
	t.listener = ln

	t.wg.Add(1)
	go t.acceptLoop()
	return nil
}

// Addr is the bound listen address. Only valid after Start.
func (t *TCPTransport) Addr() net.Addr {
	return t.listener.Addr()
}

// Dial connects to addr and runs the peer like an accepted one.
func (t *TCPTransport) Dial(ctx context.Context, addr string) (*TCPPeer, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	peer := newTCPPeer(t.ctx, conn, true)
	if err := t.runPeer(peer); err != nil {
		return nil, err
	}
	return peer, nil
}

func (t *TCPTransport) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.ctx.Done():
				return
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return
		}
		t.runPeer(newTCPPeer(t.ctx, conn, false))
	}
}

func (t *TCPTransport) runPeer(peer *TCPPeer) error {
	t.AddPeer(peer)
	select {
	case t.peerCh <- peer:
	case <-t.ctx.Done():
		t.closePeer(peer)
		return errPeerClosed
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		err := peer.readLoop(t.rpcCh)
		t.closePeer(peer)
		select {
		case t.rpcCh <- RPC{From: peer.ID(), Err: err}:
		case <-t.ctx.Done():
		}
	}()
	return nil
}

func (t *TCPTransport) closePeer(p *TCPPeer) {
	t.RemovePeer(p)
	p.Close()
}

func (t *TCPTransport) AddPeer(peer *TCPPeer) {
	t.peerMutex.Lock()
	defer t.peerMutex.Unlock()
	t.activePeers[peer] = struct{}{}
}

func (t *TCPTransport) RemovePeer(peer *TCPPeer) {
	t.peerMutex.Lock()
	defer t.peerMutex.Unlock()
	delete(t.activePeers, peer)
}

func (t *TCPTransport) HasPeer(peer *TCPPeer) bool {
	t.peerMutex.Lock()
	defer t.peerMutex.Unlock()
	_, ok := t.activePeers[peer]
	return ok
}

// Stop closes the listener and every peer, then waits for the loops to
// exit.
func (t *TCPTransport) Stop() {
	t.cancelFunc()
	if t.listener != nil {
		t.listener.Close()
	}
	t.peerMutex.Lock()
	for p := range t.activePeers {
		p.Close()
	}
	t.peerMutex.Unlock()
	t.wg.Wait()
}
