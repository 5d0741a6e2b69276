// Package transport selects between the transfer protocols measured by
// the experiment layer. MIDTP is the only variant with a state machine
// of its own; the stream variants delegate to an existing reliable
// transport and just move bytes.
package transport

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/minmunui/network-lab/shared/transfer"
	"github.com/minmunui/network-lab/stats"
)

const (
	MIDTP  = "midtp"
	TCP    = "tcp"
	TCPBBR = "tcp-bbr"
	QUIC   = "quic"
	UDT    = "udt"
	SCTP   = "sctp"
)

// ErrUnsupported marks protocols that ship as stubs only.
var ErrUnsupported = errors.New("protocol not supported in this build")

// Sender pushes one payload to a peer.
type Sender interface {
	Open(ctx context.Context) error
	Send(ctx context.Context, payload []byte) error
	Close() error
	Stats() stats.SenderStats
}

// Receiver accepts one payload from a peer.
type Receiver interface {
	Open(ctx context.Context) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
	Stats() stats.ReceiverStats
}

func NewSender(protocol string, cfg transfer.Config, logger *zap.Logger) (Sender, error) {
	switch protocol {
	case MIDTP:
		return newMIDTPSender(cfg, logger), nil
	case TCP:
		return newTCPSender(cfg, logger, ""), nil
	case TCPBBR:
		return newTCPSender(cfg, logger, "bbr"), nil
	case QUIC:
		return newQUICSender(cfg, logger), nil
	case UDT, SCTP:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, protocol)
	}
	return nil, fmt.Errorf("unknown protocol %q", protocol)
}

func NewReceiver(protocol string, cfg transfer.Config, logger *zap.Logger) (Receiver, error) {
	switch protocol {
	case MIDTP:
		return newMIDTPReceiver(cfg, logger), nil
	case TCP, TCPBBR:
		// Congestion control is a sender-side property; the receive
		// path is plain TCP either way.
		return newTCPReceiver(cfg, logger), nil
	case QUIC:
		return newQUICReceiver(cfg, logger), nil
	case UDT, SCTP:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, protocol)
	}
	return nil, fmt.Errorf("unknown protocol %q", protocol)
}
