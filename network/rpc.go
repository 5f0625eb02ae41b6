package network

import (
	"fmt"

	"github.com/OCAX-labs/headersync/p2p"
	"github.com/OCAX-labs/headersync/wire"
	"github.com/sirupsen/logrus"
)

// RPC is a frame read from a peer. A nil Msg means the peer disconnected,
// with Err holding the reason.
type RPC struct {
	From p2p.PeerID
	Msg  *wire.Msg
	Err  error
}

// DecodeMessage is an RPC whose payload was decoded into its packet type.
type DecodeMessage struct {
	From p2p.PeerID
	Code wire.MessageCode
	Data any
}

type RPCDecodeFunc func(RPC) (*DecodeMessage, error)

func DefaultRPCDecodeFunc(rpc RPC) (*DecodeMessage, error) {
	packet, err := wire.Decode(rpc.Msg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode message from %s: %w", rpc.From, err)
	}

	logrus.WithFields(logrus.Fields{
		"from": rpc.From,
		"code": rpc.Msg.Code,
		"size": len(rpc.Msg.Payload),
	}).Debug(fmt.Sprintf("received message %v", rpc.Msg.Code))

	return &DecodeMessage{
		From: rpc.From,
		Code: rpc.Msg.Code,
		Data: packet,
	}, nil
}

type RPCProcessor interface {
	ProcessMessage(*DecodeMessage) error
}
