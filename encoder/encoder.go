package encoder

import (
	"github.com/minmunui/network-lab/message"
)

type Encoder interface {
	Encode(pkt *message.Packet) ([]byte, error)
	Decode(data []byte) (*message.Packet, error)
}

// DecodeError marks a malformed or truncated datagram. Callers discard
// the datagram and keep waiting; it never crosses a session boundary.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "malformed datagram: " + e.Reason
}
