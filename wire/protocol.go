// Package wire implements the eth/66 message codec used to exchange headers
// and pooled transactions with peers.
package wire

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// ProtocolVersion is the eth protocol version spoken on the wire.
const ProtocolVersion = 66

// MaxMessageSize is the maximum cap on the size of a protocol message.
const MaxMessageSize = 10 * 1024 * 1024

// MessageCode identifies the payload carried by a Msg.
type MessageCode uint64

const (
	StatusMsg                MessageCode = 0x00
	GetBlockHeadersMsg       MessageCode = 0x03
	BlockHeadersMsg          MessageCode = 0x04
	GetPooledTransactionsMsg MessageCode = 0x09
	PooledTransactionsMsg    MessageCode = 0x0a
)

func (c MessageCode) String() string {
	switch c {
	case StatusMsg:
		return "Status"
	case GetBlockHeadersMsg:
		return "GetBlockHeaders"
	case BlockHeadersMsg:
		return "BlockHeaders"
	case GetPooledTransactionsMsg:
		return "GetPooledTransactions"
	case PooledTransactionsMsg:
		return "PooledTransactions"
	default:
		return fmt.Sprintf("Unknown(%#x)", uint64(c))
	}
}

var (
	ErrUnknownMessage  = errors.New("unknown message code")
	ErrMessageTooLarge = errors.New("message too large")
	ErrDecode          = errors.New("invalid message")
)

// Msg is a framed protocol message: the code followed by the RLP payload.
type Msg struct {
	Code    MessageCode
	Payload rlp.RawValue
}

// RequestPair wraps a request or response payload with the id used to
// correlate the response with its request.
type RequestPair[T any] struct {
	RequestID uint64
	Message   T
}

// Status is exchanged once when peers connect and again whenever the local
// head changes.
type Status struct {
	ProtocolVersion uint32
	NetworkID       uint64
	TD              *big.Int
	Head            common.Hash
	Height          uint64
	Genesis         common.Hash
}

// EncodePair encodes msg wrapped in a request pair carrying id.
func EncodePair[T any](id uint64, msg T) ([]byte, error) {
	return rlp.EncodeToBytes(&RequestPair[T]{RequestID: id, Message: msg})
}

// DecodePair decodes a request pair carrying a T.
func DecodePair[T any](data []byte) (*RequestPair[T], error) {
	pair := new(RequestPair[T])
	if err := rlp.DecodeBytes(data, pair); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return pair, nil
}

// NewMsg frames val under code.
func NewMsg(code MessageCode, val interface{}) (*Msg, error) {
	payload, err := rlp.EncodeToBytes(val)
	if err != nil {
		return nil, err
	}
	if len(payload) > MaxMessageSize {
		return nil, fmt.Errorf("%w: %v > %v", ErrMessageTooLarge, len(payload), MaxMessageSize)
	}
	return &Msg{Code: code, Payload: payload}, nil
}

// Decode parses the payload of msg into the packet type registered for its
// code. The result is one of *Status, *GetBlockHeadersPacket,
// *BlockHeadersPacket, *GetPooledTransactionsPacket or
// *PooledTransactionsPacket.
func Decode(msg *Msg) (interface{}, error) {
	if len(msg.Payload) > MaxMessageSize {
		return nil, fmt.Errorf("%w: %v > %v", ErrMessageTooLarge, len(msg.Payload), MaxMessageSize)
	}
	var packet interface{}
	switch msg.Code {
	case StatusMsg:
		packet = new(Status)
	case GetBlockHeadersMsg:
		packet = new(GetBlockHeadersPacket)
	case BlockHeadersMsg:
		packet = new(BlockHeadersPacket)
	case GetPooledTransactionsMsg:
		packet = new(GetPooledTransactionsPacket)
	case PooledTransactionsMsg:
		packet = new(PooledTransactionsPacket)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownMessage, msg.Code)
	}
	if err := rlp.DecodeBytes(msg.Payload, packet); err != nil {
		return nil, fmt.Errorf("%w %v: %v", ErrDecode, msg.Code, err)
	}
	return packet, nil
}
