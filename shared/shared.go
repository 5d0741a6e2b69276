package shared

import (
	"net"
	"time"

	"github.com/minmunui/network-lab/encoder"
	"github.com/minmunui/network-lab/message"
)

const (
	// MaxPayloadSize bounds a single DATA payload. One segment plus its
	// header must fit in a datagram the receiver is willing to read.
	MaxPayloadSize = 8192

	// MaxDatagramSize is the receive buffer size: the largest DATA
	// datagram the codec can produce.
	MaxDatagramSize = MaxPayloadSize + encoder.DataHeaderSize

	// ResponseTimeout bounds every blocking wait for a peer datagram.
	ResponseTimeout = 5 * time.Second
)

func SendPacket(pkt *message.Packet, conn net.Conn, e encoder.Encoder) (int, error) {
	b, err := e.Encode(pkt)
	if err != nil {
		return 0, err
	}
	return conn.Write(b)
}

// SendPacketTo is the unconnected-socket variant used by the receiver,
// which answers whichever peer opened the current session.
func SendPacketTo(pkt *message.Packet, conn *net.UDPConn, addr *net.UDPAddr, e encoder.Encoder) (int, error) {
	b, err := e.Encode(pkt)
	if err != nil {
		return 0, err
	}
	return conn.WriteToUDP(b, addr)
}
